package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

const DefaultRedisKey = "learnwatch:snapshot"

// RedisStore keeps the snapshot document under a single key.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Save overwrites the key. SET replaces the value as a whole.
func (r *RedisStore) Save(ctx context.Context, s *snapshot.Snapshot) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key, raw, 0).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
