package cache

import (
	"time"
)

// Basetime decides which window a record belongs to. Wall-clock and
// historical accounting share the scheduler and differ only here.
type Basetime interface {
	Name() string
	// Eval returns the start of the window for a record with packet
	// timestamp ts that arrived at now.
	Eval(ts, now time.Time) time.Time
	// Cmp orders two basetimes strictly: -1, 0 or +1.
	Cmp(a, b time.Time) int
	// Historical reports whether windows follow packet timestamps.
	Historical() bool
}

// windowStart returns the greatest window boundary not after ts.
func windowStart(ts time.Time, interval, offset time.Duration) time.Time {
	iv := int64(interval)
	n := ts.UnixNano() - int64(offset)
	r := n % iv
	if r < 0 {
		r += iv
	}
	return time.Unix(0, n-r+int64(offset)).UTC()
}

// NextDeadline returns the smallest window boundary strictly after now.
func NextDeadline(now time.Time, interval, offset time.Duration) time.Time {
	return windowStart(now, interval, offset).Add(interval)
}

func cmpTime(a, b time.Time) int {
	return a.Compare(b)
}

type wallclockBasetime struct {
	interval time.Duration
	offset   time.Duration
}

// NewWallclockBasetime buckets records by arrival time.
func NewWallclockBasetime(interval, offset time.Duration) Basetime {
	return wallclockBasetime{interval: interval, offset: offset}
}

func (wallclockBasetime) Name() string           { return "wallclock" }
func (wallclockBasetime) Historical() bool       { return false }
func (wallclockBasetime) Cmp(a, b time.Time) int { return cmpTime(a, b) }
func (b wallclockBasetime) Eval(_, now time.Time) time.Time {
	return windowStart(now, b.interval, b.offset)
}

type historicalBasetime struct {
	interval time.Duration
	offset   time.Duration
}

// NewHistoricalBasetime buckets records by their own packet timestamp.
func NewHistoricalBasetime(interval, offset time.Duration) Basetime {
	return historicalBasetime{interval: interval, offset: offset}
}

func (historicalBasetime) Name() string           { return "historical" }
func (historicalBasetime) Historical() bool       { return true }
func (historicalBasetime) Cmp(a, b time.Time) int { return cmpTime(a, b) }
func (b historicalBasetime) Eval(ts, now time.Time) time.Time {
	if ts.IsZero() {
		ts = now
	}
	return windowStart(ts, b.interval, b.offset)
}
