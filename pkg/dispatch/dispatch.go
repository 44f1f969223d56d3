// Package dispatch delivers detected changes to every sink and mirrors
// assignment state onto the board.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/board"
	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/notify"
)

const (
	// DefaultConcurrency is the number of courses delivered in parallel.
	DefaultConcurrency = 5
	// DefaultTimeout bounds a single sink delivery or board update.
	DefaultTimeout = 30 * time.Second
)

// Dispatcher fans changes out to sinks. Changes of one course are delivered in
// order. Different courses are delivered concurrently.
type Dispatcher struct {
	Sinks       []notify.Sink
	Board       board.Board // optional
	Renderer    notify.Renderer
	Concurrency int           // defaults to DefaultConcurrency if <= 0
	Timeout     time.Duration // per delivery; defaults to DefaultTimeout if <= 0
	Log         logrus.FieldLogger
}

// Outcome is the delivery result of one change.
type Outcome struct {
	Change diff.Change
	Text   string
	// Delivered is true when at least one sink is configured and all of them
	// accepted the message.
	Delivered bool
	Errors    []error
}

// Report summarizes one Dispatch call. Outcomes follow the input order.
type Report struct {
	Delivered    int
	Failed       int
	Mirrored     int
	MirrorFailed int
	Outcomes     []Outcome
}

// Dispatch delivers changes and returns once every delivery has finished.
// Failures are logged and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, changes []diff.Change) Report {
	report := Report{Outcomes: make([]Outcome, len(changes))}
	if len(changes) == 0 {
		return report
	}
	log := utils.OrNop(d.Log)
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// Group indexes by course, keeping first-seen course order.
	var order []string
	groups := make(map[string][]int)
	for i, c := range changes {
		if _, ok := groups[c.CourseID]; !ok {
			order = append(order, c.CourseID)
		}
		groups[c.CourseID] = append(groups[c.CourseID], i)
	}

	courseChan := make(chan []int, len(order))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < concurrency && i < len(order); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idxs := range courseChan {
				for _, idx := range idxs {
					out, mirrored, mirrorErr := d.deliverOne(ctx, log, changes[idx])

					mu.Lock()
					report.Outcomes[idx] = out
					if out.Delivered {
						report.Delivered++
					} else {
						report.Failed++
					}
					if mirrored {
						if mirrorErr != nil {
							report.MirrorFailed++
						} else {
							report.Mirrored++
						}
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, id := range order {
		courseChan <- groups[id]
	}
	close(courseChan)
	wg.Wait()

	return report
}

// deliverOne sends c to every sink, then mirrors it to the board when the kind
// is mirrored. It reports whether a mirror was attempted and how it went.
func (d *Dispatcher) deliverOne(ctx context.Context, log logrus.FieldLogger, c diff.Change) (Outcome, bool, error) {
	text := d.Renderer.Render(c)
	out := Outcome{Change: c, Text: text}
	entry := log.WithFields(logrus.Fields{
		"course": c.CourseName,
		"kind":   c.Kind,
		"item":   c.Subject(),
	})
	entry.Info("Change detected")

	for _, s := range d.Sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout())
		err := notify.Deliver(sendCtx, s, c, text)
		cancel()
		if err != nil {
			if errkind.KindOf(err) != errkind.Delivery {
				err = errkind.E(errkind.Delivery, s.Name(), err)
			}
			out.Errors = append(out.Errors, err)
			entry.WithField("sink", s.Name()).WithError(err).Error("Delivery failed")
		}
	}
	out.Delivered = len(d.Sinks) > 0 && len(out.Errors) == 0

	card, ok := CardFor(c)
	if d.Board == nil || !ok {
		return out, false, nil
	}
	boardCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()
	err := d.Board.UpsertCard(boardCtx, card)
	if err != nil {
		entry.WithError(err).Error("Board update failed")
	}
	return out, true, err
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// CardFor maps an assignment change to its board card. Only new assignments,
// deadline edits and submissions are mirrored.
func CardFor(c diff.Change) (board.Card, bool) {
	if c.Assignment == nil {
		return board.Card{}, false
	}
	switch c.Kind {
	case diff.AssignmentAdded, diff.DeadlineChanged, diff.Submitted:
	default:
		return board.Card{}, false
	}
	return board.Card{
		List:      c.CourseName,
		Title:     c.Assignment.Title,
		Due:       c.Assignment.Deadline,
		Completed: c.Assignment.Submitted,
	}, true
}

// Broadcast sends a free-form message to every sink and returns how many
// accepted it.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) int {
	log := utils.OrNop(d.Log)
	sent := 0
	for _, s := range d.Sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout())
		err := s.Send(sendCtx, text)
		cancel()
		if err != nil {
			log.WithField("sink", s.Name()).WithError(err).Error("Broadcast failed")
			continue
		}
		sent++
	}
	return sent
}
