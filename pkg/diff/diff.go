// Package diff compares two snapshots and classifies the differences as Changes.
//
// Resources are matched by id only, never by title or position, so provider
// reordering produces no changes.
package diff

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnwatch/learnwatch/pkg/reminder"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// DefaultRecency bounds how old a new file or announcement may be and still be
// announced. Older ones are backlog from a fresh baseline.
const DefaultRecency = 72 * time.Hour

// Differ holds the tunables of the comparison. The zero value is ready to use.
type Differ struct {
	Recency time.Duration
	NewID   func() uuid.UUID
}

// DiffCourse compares two views of the same course with default settings.
func DiffCourse(current, previous snapshot.Course, w reminder.Window) []Change {
	return Differ{}.Course(current, previous, w)
}

// DiffSnapshots compares a fresh pull against the stored baseline with default settings.
func DiffSnapshots(current, baseline *snapshot.Snapshot, w reminder.Window) []Change {
	return Differ{}.Snapshots(current, baseline, w)
}

func (d Differ) recency() time.Duration {
	if d.Recency <= 0 {
		return DefaultRecency
	}
	return d.Recency
}

func (d Differ) newChange(kind Kind, c snapshot.Course, now time.Time) Change {
	id := uuid.New
	if d.NewID != nil {
		id = d.NewID
	}
	return Change{
		ID:         id(),
		Kind:       kind,
		OccurredAt: now,
		CourseID:   c.ID,
		CourseName: c.Name,
		Semester:   c.Semester,
	}
}

// Snapshots diffs every course of current against the baseline. Courses new to
// the baseline yield a single NewCourse and are not diffed further. Courses that
// vanished from the pull yield CourseRemoved.
func (d Differ) Snapshots(current, baseline *snapshot.Snapshot, w reminder.Window) []Change {
	var changes []Change
	if current == nil {
		return nil
	}
	for _, course := range current.Courses {
		prev := baseline.FindCourse(course.ID)
		if prev == nil {
			changes = append(changes, d.newChange(NewCourse, course, w.Current))
			continue
		}
		changes = append(changes, d.Course(course, *prev, w)...)
	}
	if baseline != nil {
		for _, old := range baseline.Courses {
			if current.FindCourse(old.ID) == nil {
				changes = append(changes, d.newChange(CourseRemoved, old, w.Current))
			}
		}
	}
	return changes
}

// Course diffs two views of one course. Views of different courses are a caller
// error and produce no changes.
func (d Differ) Course(current, previous snapshot.Course, w reminder.Window) []Change {
	if current.ID != previous.ID {
		return nil
	}
	out := d.files(current, previous, w.Current)
	out = append(out, d.announcements(current, previous, w.Current)...)
	out = append(out, d.assignments(current, previous, w)...)
	return out
}

func (d Differ) files(current, previous snapshot.Course, now time.Time) []Change {
	known := make(map[string]bool, len(previous.Files))
	for _, f := range previous.Files {
		known[f.ID] = true
	}
	var out []Change
	for _, f := range current.Files {
		if known[f.ID] || now.Sub(f.UploadTime) >= d.recency() {
			continue
		}
		c := d.newChange(FileAdded, current, now)
		f := f
		c.File = &f
		out = append(out, c)
	}
	return out
}

func (d Differ) announcements(current, previous snapshot.Course, now time.Time) []Change {
	known := make(map[string]bool, len(previous.Announcements))
	for _, a := range previous.Announcements {
		known[a.ID] = true
	}
	var out []Change
	for _, a := range current.Announcements {
		if known[a.ID] || now.Sub(a.PublishTime) >= d.recency() {
			continue
		}
		c := d.newChange(AnnouncementAdded, current, now)
		a := a
		c.Announcement = &a
		out = append(out, c)
	}
	return out
}

func (d Differ) assignments(current, previous snapshot.Course, w reminder.Window) []Change {
	known := make(map[string]snapshot.Assignment, len(previous.Assignments))
	for _, a := range previous.Assignments {
		known[a.ID] = a
	}
	var out []Change
	for _, a := range current.Assignments {
		a := a
		emit := func(kind Kind) *Change {
			c := d.newChange(kind, current, w.Current)
			c.Assignment = &a
			out = append(out, c)
			return &out[len(out)-1]
		}

		old, ok := known[a.ID]
		if !ok {
			emit(AssignmentAdded)
			continue
		}

		if !a.Deadline.Equal(old.Deadline) {
			emit(DeadlineChanged).PreviousDeadline = old.Deadline
		} else if label := w.Label(a.Deadline); !a.Submitted && label != reminder.None {
			emit(DeadlineApproaching).Reminder = label
		} else if !a.Submitted && w.IsOverdue(a.Deadline) {
			emit(DeadlineOverdue)
		}

		if a.Submitted && !old.Submitted {
			emit(Submitted)
		}
		if gradeChanged(old, a) {
			emit(Graded)
		}
	}
	return out
}

func gradeChanged(old, cur snapshot.Assignment) bool {
	if !cur.Graded() {
		return false
	}
	return !old.Graded() || !cur.GradeTime.Equal(*old.GradeTime)
}
