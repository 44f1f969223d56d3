package polling

import (
	"context"
	"time"

	"github.com/learnwatch/learnwatch/pkg/errkind"
)

// withTimeout runs fn under a deadline and stops waiting once it expires. fn
// keeps running in the background until it notices its context is done; its
// late result is dropped.
func withTimeout[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded && errkind.KindOf(r.err) != errkind.Timeout {
			r.err = errkind.E(errkind.Timeout, op, r.err)
		}
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, errkind.E(errkind.Timeout, op, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
