package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

func sampleSnapshot() *snapshot.Snapshot {
	return snapshot.New(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC), []snapshot.Course{
		{
			ID: "c1", Name: "Signals", Semester: "2023-2024-2",
			Files:       []snapshot.File{{ID: "f1", Title: "notes", UploadTime: time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)}},
			Assignments: []snapshot.Assignment{{ID: "h1", Title: "hw1", Deadline: time.Date(2024, 4, 7, 23, 59, 0, 0, time.UTC)}},
		},
	})
}

func TestDecode(t *testing.T) {
	if _, err := Decode([]byte("  \n")); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot for empty document, got %v", err)
	}
	if _, err := Decode([]byte("{not json")); !errkind.Is(err, errkind.MalformedSnapshot) {
		t.Fatalf("expected malformed snapshot error, got %v", err)
	}
	if _, err := Decode([]byte(`{"courses":[{"id":"c1"},{"id":"c1"}]}`)); !errkind.Is(err, errkind.MalformedSnapshot) {
		t.Fatalf("expected duplicate ids to be rejected, got %v", err)
	}

	legacy := `[{"id":"c1","name":"Signals","files":[],"announcements":[],"assignments":[]}]`
	s, err := Decode([]byte(legacy))
	if err != nil {
		t.Fatalf("legacy array rejected: %v", err)
	}
	if !s.CapturedAt.IsZero() || len(s.Courses) != 1 || s.Courses[0].Name != "Signals" {
		t.Fatalf("unexpected legacy decode: %+v", s)
	}

	empty, err := Decode([]byte(`{"capturedAt":"2024-04-01T08:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if empty.Courses == nil {
		t.Fatalf("courses must never decode to nil")
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	fs := NewFileStore(path)

	if _, err := fs.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	want := sampleSnapshot()
	if err := fs.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.CapturedAt.Equal(want.CapturedAt) || got.Courses[0].Assignments[0].Title != "hw1" {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx); !errkind.Is(err, errkind.MalformedSnapshot) {
		t.Fatalf("expected malformed snapshot, got %v", err)
	}
}

func TestDBSnapshot(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "learnwatch.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	s := sampleSnapshot()
	if err := db.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.CapturedAt = s.CapturedAt.Add(time.Minute)
	s.Courses[0].Name = "Signals and Systems"
	if err := db.Save(ctx, s); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Courses[0].Name != "Signals and Systems" || !got.CapturedAt.Equal(s.CapturedAt) {
		t.Fatalf("expected the latest document, got %+v", got)
	}
}

func TestDBChangeLog(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "learnwatch.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	base := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	records := []ChangeRecord{
		{ChangeID: "a", OccurredAt: base, CourseID: "c1", CourseName: "Signals", Kind: "file_added", Subject: "notes", Delivered: true},
		{ChangeID: "b", OccurredAt: base.Add(time.Minute), CourseID: "c1", CourseName: "Signals", Kind: "graded", Subject: "hw1", Delivered: false},
		{ChangeID: "c", OccurredAt: base.Add(2 * time.Minute), CourseID: "c2", CourseName: "Algebra", Kind: "new_course"},
	}
	if err := db.LogChanges(ctx, records); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := db.LogChanges(ctx, records[:1]); err != nil {
		t.Fatalf("re-logging a change must be ignored: %v", err)
	}

	recent, err := db.ListRecentChanges(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].ChangeID != "c" || recent[1].ChangeID != "b" {
		t.Fatalf("unexpected order: %+v", recent)
	}
	if recent[1].Delivered || !recent[1].OccurredAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("fields not preserved: %+v", recent[1])
	}
	if recent[0].Subject != "" {
		t.Fatalf("expected empty subject, got %q", recent[0].Subject)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 courses, got %+v", stats)
	}
	if stats[1].CourseName != "Signals" || stats[1].Changes != 2 || stats[1].Undelivered != 1 {
		t.Fatalf("unexpected stats %+v", stats[1])
	}
}

func TestParseTime(t *testing.T) {
	if got := parseTime("2024-04-01 08:00:00"); !got.Equal(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("sqlite timestamp not parsed: %v", got)
	}
	if !parseTime("yesterday").IsZero() {
		t.Fatalf("garbage must parse to zero time")
	}
}
