package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sample() *Snapshot {
	graded := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	return New(time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC), []Course{
		{
			ID: "c1", Name: "Compilers", Semester: "2023-2024-2",
			Files:         []File{{ID: "f1", Title: "slides", UploadTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}},
			Announcements: []Announcement{{ID: "a1", Title: "welcome"}},
			Assignments: []Assignment{
				{ID: "h1", Title: "lab1", Deadline: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
				{ID: "h2", Title: "lab0", Deadline: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Submitted: true, GradeTime: &graded, Grade: "95"},
			},
		},
		{ID: "c2", Name: "Databases", Semester: "2023-2024-2"},
	})
}

func TestFindCourse(t *testing.T) {
	s := sample()
	if c := s.FindCourse("c2"); c == nil || c.Name != "Databases" {
		t.Fatalf("expected Databases, got %+v", c)
	}
	if c := s.FindCourse("missing"); c != nil {
		t.Fatalf("expected nil, got %+v", c)
	}
	var nilSnap *Snapshot
	if nilSnap.FindCourse("c1") != nil {
		t.Fatalf("nil snapshot must not find courses")
	}
}

func TestStats(t *testing.T) {
	st := sample().Stats(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	if st.Courses != 2 || st.Files != 1 || st.Announcements != 1 || st.Assignments != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Pending != 1 {
		t.Fatalf("expected 1 pending assignment, got %d", st.Pending)
	}
}

func TestValidate(t *testing.T) {
	if err := sample().Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	dupCourse := sample()
	dupCourse.Courses = append(dupCourse.Courses, Course{ID: "c1"})
	if err := dupCourse.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate course") {
		t.Fatalf("expected duplicate course error, got %v", err)
	}

	dupFile := sample()
	dupFile.Courses[0].Files = append(dupFile.Courses[0].Files, File{ID: "f1"})
	if err := dupFile.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate file") {
		t.Fatalf("expected duplicate file error, got %v", err)
	}

	// Ids are unique per class, so a file and an assignment may share one.
	shared := sample()
	shared.Courses[0].Files[0].ID = "h1"
	if err := shared.Validate(); err != nil {
		t.Fatalf("cross-class id reuse rejected: %v", err)
	}
}

func TestJSONLayout(t *testing.T) {
	raw, err := json.Marshal(sample())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"capturedAt"`, `"courses"`, `"downloadUrl"`, `"publishTime"`, `"gradeTime"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in serialized snapshot: %s", key, raw)
		}
	}
	var back Snapshot
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Courses[0].Assignments[1].Graded() || back.Courses[0].Assignments[0].Graded() {
		t.Fatalf("graded flags lost in round trip: %+v", back.Courses[0].Assignments)
	}
}
