package polling

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/provider"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
)

// DefaultConcurrency is the number of courses fetched in parallel.
const DefaultConcurrency = 5

// FetchCourses lists every course of the given semesters and fetches their
// resources concurrently. Any failure fails the whole fetch, since a partial
// pull would read as removed courses.
func FetchCourses(ctx context.Context, p provider.Provider, semesters []string, concurrency int, log logrus.FieldLogger) ([]snapshot.Course, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	log = utils.OrNop(log)

	var summaries []provider.CourseSummary
	for _, sem := range semesters {
		list, err := p.ListCourses(ctx, sem)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, list...)
	}
	summaries, dropped := uniqueByID(summaries, func(s provider.CourseSummary) string { return s.ID })
	if dropped > 0 {
		log.WithField("dropped", dropped).Warn("Ignoring courses with an empty or repeated id")
	}
	if len(summaries) == 0 {
		return []snapshot.Course{}, nil
	}

	courses := make([]snapshot.Course, len(summaries))
	idxChan := make(chan int, len(summaries))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var firstErr error

	var wg sync.WaitGroup
	for i := 0; i < concurrency && i < len(summaries); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range idxChan {
				if ctx.Err() != nil {
					continue
				}
				course, err := fetchOneCourse(ctx, p, summaries[idx], log)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					continue
				}
				log.WithField("course", course.Name).Debugf("files %d announcements %d assignments %d",
					len(course.Files), len(course.Announcements), len(course.Assignments))
				courses[idx] = course
			}
		}()
	}

	for i := range summaries {
		idxChan <- i
	}
	close(idxChan)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return courses, nil
}

// fetchOneCourse pulls the three resource lists of one course.
// Resources with an empty or repeated id are dropped, so the stored snapshot
// always passes Validate.
func fetchOneCourse(ctx context.Context, p provider.Provider, s provider.CourseSummary, log logrus.FieldLogger) (snapshot.Course, error) {
	course := snapshot.Course{ID: s.ID, Name: s.Name, Semester: s.Semester, Teacher: s.Teacher}

	files, err := p.ListFiles(ctx, s.ID)
	if err != nil {
		return course, fmt.Errorf("course %s: %w", s.Name, err)
	}
	announcements, err := p.ListAnnouncements(ctx, s.ID)
	if err != nil {
		return course, fmt.Errorf("course %s: %w", s.Name, err)
	}
	assignments, err := p.ListAssignments(ctx, s.ID)
	if err != nil {
		return course, fmt.Errorf("course %s: %w", s.Name, err)
	}

	var dropped [3]int
	course.Files, dropped[0] = uniqueByID(files, func(f snapshot.File) string { return f.ID })
	course.Announcements, dropped[1] = uniqueByID(announcements, func(a snapshot.Announcement) string { return a.ID })
	course.Assignments, dropped[2] = uniqueByID(assignments, func(a snapshot.Assignment) string { return a.ID })
	if dropped != [3]int{} {
		log.WithFields(logrus.Fields{
			"course":        s.Name,
			"files":         dropped[0],
			"announcements": dropped[1],
			"assignments":   dropped[2],
		}).Warn("Ignoring resources with an empty or repeated id")
	}
	return course, nil
}

// uniqueByID keeps the first item of every non-empty id and reports how many
// were dropped. The result is never nil.
func uniqueByID[T any](items []T, id func(T) string) ([]T, int) {
	out := make([]T, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		k := id(item)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return out, len(items) - len(out)
}
