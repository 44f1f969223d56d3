package provider

import (
	"context"
	"errors"

	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// ErrSessionExpired is wrapped by providers when a call was rejected because the
// session is no longer valid.
var ErrSessionExpired = errors.New("session expired")

// Credentials carries login inputs.
type Credentials struct {
	Username string
	Password string
}

// CourseSummary is one entry of a semester's course list.
type CourseSummary struct {
	ID       string
	Name     string
	Semester string
	Teacher  string
}

// Provider abstracts the course-management service: session handling and the
// per-course resource listings. Failures are reported as errkind errors
// (Auth for rejected logins, Timeout for expired waits, Fetch otherwise).
type Provider interface {
	Name() string
	Login(ctx context.Context, creds Credentials) error
	ListCourses(ctx context.Context, semester string) ([]CourseSummary, error)
	ListFiles(ctx context.Context, courseID string) ([]snapshot.File, error)
	ListAnnouncements(ctx context.Context, courseID string) ([]snapshot.Announcement, error)
	ListAssignments(ctx context.Context, courseID string) ([]snapshot.Assignment, error)
}
