package cache

import (
	"fmt"
	"time"
)

// WindowState is the state of the scheduler's current window.
type WindowState uint8

const (
	WindowOpen WindowState = iota
	WindowClosing
	WindowFlushing
)

func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowClosing:
		return "closing"
	case WindowFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Scheduler tracks the refresh deadline and which windows are closed. All
// windows starting before ClosedBefore are closed and never reopened.
type Scheduler struct {
	basetime Basetime
	interval time.Duration
	offset   time.Duration
	retain   int

	started      bool
	state        WindowState
	deadline     time.Time
	closedBefore time.Time
	newest       time.Time
	lastActive   time.Time
}

// NewScheduler creates a scheduler. retain is the number of windows kept
// open in historical mode, including the newest one.
func NewScheduler(bt Basetime, interval, offset time.Duration, retain int) *Scheduler {
	if retain <= 0 {
		retain = 1
	}
	return &Scheduler{basetime: bt, interval: interval, offset: offset, retain: retain}
}

// Started reports whether the first record has been seen.
func (s *Scheduler) Started() bool { return s.started }

// Start initialises the deadline from the time of the first record.
func (s *Scheduler) Start(now time.Time) {
	s.started = true
	s.state = WindowOpen
	s.deadline = NextDeadline(now, s.interval, s.offset)
	if !s.basetime.Historical() {
		s.closedBefore = windowStart(now, s.interval, s.offset)
	}
}

// Deadline returns the next refresh deadline.
func (s *Scheduler) Deadline() time.Time { return s.deadline }

// ClosedBefore returns the start of the oldest window still accepting records.
func (s *Scheduler) ClosedBefore() time.Time { return s.closedBefore }

// State returns the current window state.
func (s *Scheduler) State() WindowState { return s.state }

// Assign returns the window for a record. A window that is already closed
// yields ErrLateRecord.
func (s *Scheduler) Assign(ts, now time.Time) (time.Time, error) {
	w := s.basetime.Eval(ts, now)
	if s.basetime.Cmp(w, s.closedBefore) < 0 {
		return w, ErrLateRecord
	}
	if s.newest.IsZero() || s.basetime.Cmp(w, s.newest) > 0 {
		s.newest = w
	}
	s.lastActive = now
	return w, nil
}

// Touch records that input arrived at now. The idle close in historical
// mode only fires after retain intervals without any input.
func (s *Scheduler) Touch(now time.Time) {
	if now.After(s.lastActive) {
		s.lastActive = now
	}
}

// oldestRetained is the start of the oldest window historical mode keeps open.
func (s *Scheduler) oldestRetained() time.Time {
	return s.newest.Add(-time.Duration(s.retain-1) * s.interval)
}

// Due reports whether a close cycle must run at now.
func (s *Scheduler) Due(now time.Time) bool {
	if !s.started {
		return false
	}
	if !now.Before(s.deadline) {
		return true
	}
	if s.basetime.Historical() && !s.newest.IsZero() {
		return s.basetime.Cmp(s.oldestRetained(), s.closedBefore) > 0
	}
	return false
}

// Close moves the open window to closing and returns the cutoff: every
// record with a basetime before it must be flushed.
func (s *Scheduler) Close(now time.Time) time.Time {
	s.state = WindowClosing
	var target time.Time
	if s.basetime.Historical() {
		if s.newest.IsZero() {
			target = s.closedBefore
		} else {
			target = s.oldestRetained()
			if now.Sub(s.lastActive) >= time.Duration(s.retain)*s.interval {
				// No input at all for retain intervals; close the newest window too.
				target = s.newest.Add(s.interval)
			}
		}
	} else {
		target = windowStart(now, s.interval, s.offset)
	}
	if s.basetime.Cmp(target, s.closedBefore) > 0 {
		s.closedBefore = target
	}
	if !now.Before(s.deadline) {
		s.deadline = NextDeadline(now, s.interval, s.offset)
	}
	return s.closedBefore
}

// BeginFlush moves a closing window to flushing.
func (s *Scheduler) BeginFlush() error {
	if s.state != WindowClosing {
		return fmt.Errorf("cannot flush a window in state %s", s.state)
	}
	s.state = WindowFlushing
	return nil
}

// EndFlush opens the next window.
func (s *Scheduler) EndFlush() {
	s.state = WindowOpen
}
