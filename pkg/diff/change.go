package diff

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnwatch/learnwatch/pkg/reminder"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// Kind classifies a detected difference.
type Kind string

const (
	NewCourse           Kind = "new_course"
	CourseRemoved       Kind = "course_removed"
	FileAdded           Kind = "file_added"
	AnnouncementAdded   Kind = "announcement_added"
	AssignmentAdded     Kind = "assignment_added"
	DeadlineChanged     Kind = "deadline_changed"
	DeadlineApproaching Kind = "deadline_approaching"
	DeadlineOverdue     Kind = "deadline_overdue"
	Submitted           Kind = "submitted"
	Graded              Kind = "graded"
)

// Kinds lists every change kind, in the order templates are declared.
var Kinds = []Kind{
	NewCourse, CourseRemoved, FileAdded, AnnouncementAdded, AssignmentAdded,
	DeadlineChanged, DeadlineApproaching, DeadlineOverdue, Submitted, Graded,
}

// Change is one detected difference between two snapshots. Exactly one of File,
// Announcement and Assignment is set for resource-level kinds; course-level
// kinds carry none of them.
type Change struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`

	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Semester   string `json:"semester,omitempty"`

	File         *snapshot.File         `json:"file,omitempty"`
	Announcement *snapshot.Announcement `json:"announcement,omitempty"`
	Assignment   *snapshot.Assignment   `json:"assignment,omitempty"`

	// PreviousDeadline is set for DeadlineChanged.
	PreviousDeadline time.Time `json:"previousDeadline,omitempty"`
	// Reminder is set for DeadlineApproaching.
	Reminder reminder.Label `json:"reminder,omitempty"`
}

// Subject is the title of the resource the change is about, or the course name.
func (c Change) Subject() string {
	switch {
	case c.File != nil:
		return c.File.Title
	case c.Announcement != nil:
		return c.Announcement.Title
	case c.Assignment != nil:
		return c.Assignment.Title
	}
	return c.CourseName
}
