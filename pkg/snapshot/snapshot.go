package snapshot

import (
	"fmt"
	"time"
)

// File is a course file as published by the provider.
type File struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"downloadUrl"`
	UploadTime  time.Time `json:"uploadTime"`
	Description string    `json:"description,omitempty"`
	Size        string    `json:"size,omitempty"`
}

// Announcement is a course notice. Content is plain text.
type Announcement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	PublishTime time.Time `json:"publishTime"`
	Publisher   string    `json:"publisher,omitempty"`
}

// Assignment is the only mutable resource: the deadline can be edited, Submitted
// flips to true once and the grade fields show up after scoring.
type Assignment struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Deadline     time.Time  `json:"deadline"`
	Submitted    bool       `json:"submitted"`
	GradeTime    *time.Time `json:"gradeTime,omitempty"`
	Grade        string     `json:"grade,omitempty"`
	GradeLevel   string     `json:"gradeLevel,omitempty"`
	GradeContent string     `json:"gradeContent,omitempty"`
}

// Graded reports whether the assignment carries a grading timestamp.
func (a Assignment) Graded() bool {
	return a.GradeTime != nil && !a.GradeTime.IsZero()
}

// Course groups the tracked resources of one enrolled course.
type Course struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Semester      string         `json:"semester"`
	Teacher       string         `json:"teacher,omitempty"`
	Files         []File         `json:"files"`
	Announcements []Announcement `json:"announcements"`
	Assignments   []Assignment   `json:"assignments"`
}

// Snapshot is the state of every tracked course at CapturedAt.
type Snapshot struct {
	CapturedAt time.Time `json:"capturedAt"`
	Courses    []Course  `json:"courses"`
}

// New builds a snapshot from courses captured at t.
func New(t time.Time, courses []Course) *Snapshot {
	if courses == nil {
		courses = []Course{}
	}
	return &Snapshot{CapturedAt: t, Courses: courses}
}

// FindCourse returns the course with the given id, or nil.
func (s *Snapshot) FindCourse(id string) *Course {
	if s == nil {
		return nil
	}
	for i := range s.Courses {
		if s.Courses[i].ID == id {
			return &s.Courses[i]
		}
	}
	return nil
}

// Stats holds resource counts, used by the snapshot command and debug logs.
type Stats struct {
	Courses       int
	Files         int
	Announcements int
	Assignments   int
	Pending       int
}

func (s *Snapshot) Stats(now time.Time) Stats {
	var st Stats
	if s == nil {
		return st
	}
	st.Courses = len(s.Courses)
	for _, c := range s.Courses {
		st.Files += len(c.Files)
		st.Announcements += len(c.Announcements)
		st.Assignments += len(c.Assignments)
		for _, a := range c.Assignments {
			if !a.Submitted && a.Deadline.After(now) {
				st.Pending++
			}
		}
	}
	return st
}

// Validate checks the uniqueness invariants: course ids are unique and every
// sub-resource id is unique within its class and course.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	seen := make(map[string]bool, len(s.Courses))
	for _, c := range s.Courses {
		if c.ID == "" {
			return fmt.Errorf("course %q has an empty id", c.Name)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate course id %s", c.ID)
		}
		seen[c.ID] = true
		if err := c.validate(); err != nil {
			return fmt.Errorf("course %s: %w", c.ID, err)
		}
	}
	return nil
}

func (c Course) validate() error {
	files := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, f.ID)
	}
	if err := checkUnique("file", files); err != nil {
		return err
	}
	anns := make([]string, 0, len(c.Announcements))
	for _, a := range c.Announcements {
		anns = append(anns, a.ID)
	}
	if err := checkUnique("announcement", anns); err != nil {
		return err
	}
	hws := make([]string, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		hws = append(hws, a.ID)
	}
	return checkUnique("assignment", hws)
}

func checkUnique(class string, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%s with empty id", class)
		}
		if seen[id] {
			return fmt.Errorf("duplicate %s id %s", class, id)
		}
		seen[id] = true
	}
	return nil
}
