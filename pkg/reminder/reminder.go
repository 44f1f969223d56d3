// Package reminder decides when a deadline reminder or an overdue notice is due.
//
// There is no per-assignment "already sent" state. A threshold fires in the one
// cycle whose window [Previous, Current] crosses deadline-Δ, so every threshold
// fires at most once as long as consecutive cycles are less than MinThresholdGap
// apart. Longer gaps skip thresholds instead of repeating them.
package reminder

import "time"

// Label names a reminder threshold. The zero value means no reminder.
type Label string

const (
	None      Label = ""
	ThreeDays Label = "3 days"
	OneDay    Label = "1 day"
	SixHours  Label = "6 hours"
	OneHour   Label = "1 hour"
)

// Threshold is a fixed time-before-deadline boundary.
type Threshold struct {
	Before time.Duration
	Label  Label
}

// Thresholds are checked in descending order.
var Thresholds = []Threshold{
	{Before: 72 * time.Hour, Label: ThreeDays},
	{Before: 24 * time.Hour, Label: OneDay},
	{Before: 6 * time.Hour, Label: SixHours},
	{Before: time.Hour, Label: OneHour},
}

// MinThresholdGap is the largest cycle spacing for which no threshold is skipped.
const MinThresholdGap = time.Hour

// Window is the span covered by one poll cycle.
type Window struct {
	Previous time.Time
	Current  time.Time
}

// Advance returns the window of the next cycle, starting where w ended.
func (w Window) Advance(now time.Time) Window {
	return Window{Previous: w.Current, Current: now}
}

// Label returns the largest threshold crossed during the window, or None when
// nothing was crossed or the deadline is already at or behind Current.
func (w Window) Label(deadline time.Time) Label {
	if !deadline.After(w.Current) {
		return None
	}
	left := deadline.Sub(w.Current)
	leftBefore := deadline.Sub(w.Previous)
	for _, th := range Thresholds {
		if left < th.Before && leftBefore >= th.Before {
			return th.Label
		}
	}
	return None
}

// IsOverdue reports whether the deadline fell inside (Previous, Current].
func (w Window) IsOverdue(deadline time.Time) bool {
	return w.Previous.Before(deadline) && !deadline.After(w.Current)
}
