// Package polling runs the watch loop: log in, capture a baseline, then
// repeatedly fetch, diff, notify and persist.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/dispatch"
	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/notify"
	"github.com/learnwatch/learnwatch/pkg/provider"
	"github.com/learnwatch/learnwatch/pkg/reminder"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
	"github.com/learnwatch/learnwatch/pkg/storage"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

const (
	DefaultInterval         = 60 * time.Second
	DefaultCycleTimeout     = 120 * time.Second
	DefaultLoginTimeout     = 60 * time.Second
	DefaultLoginRetryDelay  = 30 * time.Second
	DefaultHeartbeatTimeout = 10 * time.Second
)

// State is the controller's position in the watch loop.
type State int

const (
	LoggingIn State = iota
	Bootstrapping
	Polling
	Recovering
)

func (s State) String() string {
	switch s {
	case LoggingIn:
		return "logging in"
	case Bootstrapping:
		return "bootstrapping"
	case Polling:
		return "polling"
	case Recovering:
		return "recovering"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds everything the controller needs.
type Config struct {
	Provider    provider.Provider
	Credentials provider.Credentials
	Semesters   []string
	Store       storage.Store
	Dispatcher  *dispatch.Dispatcher // nil = changes are only logged
	Differ      diff.Differ

	Interval        time.Duration // idle delay after a cycle
	CycleTimeout    time.Duration
	LoginTimeout    time.Duration
	LoginRetryDelay time.Duration
	Concurrency     int // defaults to 5 if <= 0

	// HeartbeatURL is fetched after every completed cycle.
	HeartbeatURL     string
	HeartbeatTimeout time.Duration
	HTTPClient       *retryablehttp.Client
	// AlertLoginFailure broadcasts the first rejected login of an outage.
	AlertLoginFailure bool

	Log   logrus.FieldLogger // optional; nil = no logging
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.LoginRetryDelay <= 0 {
		c.LoginRetryDelay = DefaultLoginRetryDelay
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	c.Log = utils.OrNop(c.Log)
}

// Validate checks the configuration. Two consecutive cycles must start less
// than one reminder threshold gap apart, otherwise reminders can be skipped.
func (c Config) Validate() error {
	if c.Provider == nil {
		return errors.New("no provider configured")
	}
	if c.Store == nil {
		return errors.New("no store configured")
	}
	if len(c.Semesters) == 0 {
		return errors.New("no semesters configured")
	}
	if c.Interval+c.CycleTimeout >= reminder.MinThresholdGap {
		return fmt.Errorf("poll interval (%s) plus cycle timeout (%s) must stay below %s",
			c.Interval, c.CycleTimeout, reminder.MinThresholdGap)
	}
	return nil
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Snapshot     *snapshot.Snapshot
	Bootstrapped bool
	Changes      []diff.Change
	Report       dispatch.Report
}

// Controller drives the watch loop. It is not safe for concurrent use.
type Controller struct {
	cfg Config
	log logrus.FieldLogger

	state    State
	loaded   bool
	baseline *snapshot.Snapshot
	window   reminder.Window

	authAlerted bool
}

// New validates cfg and builds a controller.
func New(cfg Config) (*Controller, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, log: cfg.Log, state: LoggingIn}, nil
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Baseline returns the snapshot the next cycle is diffed against.
func (c *Controller) Baseline() *snapshot.Snapshot { return c.baseline }

// Run loops until ctx is cancelled and then returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	if err := c.loadBaseline(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idle := c.step(ctx); idle {
			if err := c.cfg.Sleep(ctx, c.cfg.Interval); err != nil {
				return err
			}
		}
	}
}

// RunOnce logs in and performs a single cycle. Without a stored baseline the
// cycle bootstraps one and sends nothing.
func (c *Controller) RunOnce(ctx context.Context) (*CycleResult, error) {
	if err := c.loadBaseline(ctx); err != nil {
		return nil, err
	}
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	if c.baseline == nil {
		s, err := c.bootstrap(ctx)
		if err != nil {
			return nil, err
		}
		c.state = Polling
		return &CycleResult{Snapshot: s, Bootstrapped: true}, nil
	}
	c.state = Polling
	return c.cycle(ctx)
}

// step performs one transition and reports whether the idle delay is due.
func (c *Controller) step(ctx context.Context) bool {
	switch c.state {
	case LoggingIn, Recovering:
		recovering := c.state == Recovering
		if err := c.login(ctx); err != nil {
			c.handleLoginError(ctx, err)
			return false
		}
		if c.baseline == nil {
			c.state = Bootstrapping
		} else {
			c.state = Polling
		}
		// A failed cycle ends once the session is back.
		return recovering

	case Bootstrapping:
		if _, err := c.bootstrap(ctx); err != nil {
			c.handleCycleError(err)
			return c.state != Recovering
		}
		c.state = Polling
		return true

	case Polling:
		if _, err := c.cycle(ctx); err != nil {
			c.handleCycleError(err)
			return c.state != Recovering
		}
		return true
	}
	return true
}

func (c *Controller) loadBaseline(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	start := c.cfg.Now()
	s, err := c.cfg.Store.Load(ctx)
	switch {
	case err == nil:
		c.baseline = s
	case errors.Is(err, storage.ErrNoSnapshot):
		c.log.Info("No stored snapshot, a baseline will be captured")
	case errkind.Is(err, errkind.MalformedSnapshot):
		c.log.WithError(err).Warn("Stored snapshot is unreadable, a new baseline will be captured")
	default:
		return fmt.Errorf("could not load snapshot: %w", err)
	}

	c.window = reminder.Window{Current: start}
	if c.baseline != nil && !c.baseline.CapturedAt.IsZero() {
		c.window.Current = c.baseline.CapturedAt
	}
	c.loaded = true
	return nil
}

func (c *Controller) login(ctx context.Context) error {
	c.log.Info("Login...")
	_, err := withTimeout(ctx, "login", c.cfg.LoginTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.cfg.Provider.Login(ctx, c.cfg.Credentials)
	})
	if err != nil {
		return err
	}
	c.log.Info("Login successful.")
	c.authAlerted = false
	return nil
}

func (c *Controller) handleLoginError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	switch errkind.KindOf(err) {
	case errkind.Timeout:
		c.log.WithError(err).Error("Login timeout.")
		return
	case errkind.Auth:
		c.log.WithError(err).Error("Login rejected")
		if c.cfg.AlertLoginFailure && !c.authAlerted && c.cfg.Dispatcher != nil {
			c.cfg.Dispatcher.Broadcast(ctx, "Login failed: "+notify.EscapeMarkdown(err.Error()))
			c.authAlerted = true
		}
	default:
		c.log.WithError(err).Error("Login failed")
	}
	_ = c.cfg.Sleep(ctx, c.cfg.LoginRetryDelay)
}

func (c *Controller) handleCycleError(err error) {
	switch errkind.KindOf(err) {
	case errkind.Timeout:
		c.log.WithError(err).Error("Timeout.")
	default:
		c.log.WithError(err).Error("Cycle failed, logging in again")
		c.state = Recovering
	}
}

func (c *Controller) fetch(ctx context.Context) ([]snapshot.Course, error) {
	return withTimeout(ctx, "fetch", c.cfg.CycleTimeout, func(ctx context.Context) ([]snapshot.Course, error) {
		return FetchCourses(ctx, c.cfg.Provider, c.cfg.Semesters, c.cfg.Concurrency, c.log)
	})
}

// bootstrap captures and stores the first baseline without diffing.
func (c *Controller) bootstrap(ctx context.Context) (*snapshot.Snapshot, error) {
	now := c.cfg.Now()
	courses, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s := snapshot.New(now, courses)
	if err := s.Validate(); err != nil {
		return nil, errkind.E(errkind.Fetch, "validate pull", err)
	}
	if err := c.cfg.Store.Save(ctx, s); err != nil {
		c.log.WithError(err).Error("Could not save baseline")
	}
	c.log.WithField("courses", len(s.Courses)).Info("Baseline captured")
	c.baseline = s
	c.window = reminder.Window{Current: now}
	return s, nil
}

// cycle runs one poll cycle against the baseline. On error nothing is sent,
// stored or advanced.
func (c *Controller) cycle(ctx context.Context) (*CycleResult, error) {
	c.log.Debug("Start checking...")
	now := c.cfg.Now()
	courses, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	current := snapshot.New(now, courses)
	if err := current.Validate(); err != nil {
		return nil, errkind.E(errkind.Fetch, "validate pull", err)
	}
	w := c.window.Advance(now)
	changes := c.cfg.Differ.Snapshots(current, c.baseline, w)

	res := &CycleResult{Snapshot: current, Changes: changes}
	if c.cfg.Dispatcher != nil {
		res.Report = c.cfg.Dispatcher.Dispatch(ctx, changes)
	} else {
		res.Report = dispatch.Report{Failed: len(changes)}
		for _, ch := range changes {
			c.log.WithFields(logrus.Fields{"course": ch.CourseName, "kind": ch.Kind, "item": ch.Subject()}).Info("Change detected")
		}
	}

	if err := c.cfg.Store.Save(ctx, current); err != nil {
		c.log.WithError(err).Error("Could not save snapshot")
	}
	c.logChanges(ctx, changes, res.Report)

	c.baseline = current
	c.window = w
	c.log.WithField("changes", len(changes)).Debug("Checked.")

	c.heartbeat(ctx)
	return res, nil
}

func (c *Controller) logChanges(ctx context.Context, changes []diff.Change, report dispatch.Report) {
	cl, ok := c.cfg.Store.(storage.ChangeLog)
	if !ok || len(changes) == 0 {
		return
	}
	records := make([]storage.ChangeRecord, 0, len(changes))
	for i, ch := range changes {
		delivered := false
		if i < len(report.Outcomes) {
			delivered = report.Outcomes[i].Delivered
		}
		records = append(records, storage.ChangeRecord{
			ChangeID:   ch.ID.String(),
			OccurredAt: ch.OccurredAt,
			CourseID:   ch.CourseID,
			CourseName: ch.CourseName,
			Kind:       string(ch.Kind),
			Subject:    ch.Subject(),
			Delivered:  delivered,
		})
	}
	if err := cl.LogChanges(ctx, records); err != nil {
		c.log.WithError(err).Warn("Could not log changes")
	}
}

func (c *Controller) heartbeat(ctx context.Context) {
	if c.cfg.HeartbeatURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatTimeout)
	defer cancel()
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: c.cfg.HeartbeatURL}, c.cfg.HTTPClient)
	if err != nil {
		c.log.WithError(err).Debug("Heartbeat failed")
		return
	}
	c.log.WithField("status", res.StatusCode).Debug("Heartbeat sent")
}
