package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// ErrNoSnapshot is returned by Load when no baseline was stored yet.
var ErrNoSnapshot = errors.New("no stored snapshot")

// Encode serializes a snapshot the way every backend stores it.
func Encode(s *snapshot.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.MarshalIndent(s, "", "    ")
}

// Decode parses a stored document. Besides the object layout written by Encode it
// accepts a bare array of courses, which is what older data.json files contain;
// those get a zero CapturedAt.
func Decode(raw []byte) (*snapshot.Snapshot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrNoSnapshot
	}

	var s snapshot.Snapshot
	if raw[0] == '[' {
		var courses []snapshot.Course
		if err := json.Unmarshal(raw, &courses); err != nil {
			return nil, errkind.E(errkind.MalformedSnapshot, "decode snapshot", err)
		}
		s = snapshot.Snapshot{CapturedAt: time.Time{}, Courses: courses}
	} else if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errkind.E(errkind.MalformedSnapshot, "decode snapshot", err)
	}

	if s.Courses == nil {
		s.Courses = []snapshot.Course{}
	}
	if err := s.Validate(); err != nil {
		return nil, errkind.E(errkind.MalformedSnapshot, "validate snapshot", err)
	}
	return &s, nil
}
