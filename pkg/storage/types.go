package storage

import (
	"context"
	"time"

	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// Store persists the baseline snapshot as one document. Load returns
// ErrNoSnapshot when nothing was stored yet and an errkind.MalformedSnapshot
// error when the stored document cannot be decoded.
type Store interface {
	Load(ctx context.Context) (*snapshot.Snapshot, error)
	Save(ctx context.Context, s *snapshot.Snapshot) error
	Close() error
}

// ChangeLog is implemented by stores that keep an audit trail of changes.
type ChangeLog interface {
	LogChanges(ctx context.Context, records []ChangeRecord) error
}

// ChangeRecord captures a single change event for auditing or printing.
type ChangeRecord struct {
	ChangeID   string
	OccurredAt time.Time

	// Course info
	CourseID   string
	CourseName string

	Kind      string
	Subject   string
	Delivered bool
}

// CourseStats summarizes the change log of one course.
type CourseStats struct {
	CourseName  string
	Changes     int
	Undelivered int
}
