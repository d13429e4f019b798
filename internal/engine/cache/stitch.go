package cache

import (
	"time"

	"Go2NetCache/internal/model"
)

// Stitch reconciles the start and end edges of a flow that may arrive as
// separate records, in either order, within one window.
type Stitch struct {
	Start    time.Time
	End      time.Time
	HasStart bool
	HasEnd   bool
	Duration time.Duration
}

func edgeTimes(m *Measurement) (start, end time.Time) {
	start, end = m.FlowStart, m.FlowEnd
	if start.IsZero() {
		start = m.Timestamp
	}
	if end.IsZero() {
		end = m.Timestamp
	}
	return start, end
}

func newStitch(m *Measurement) *Stitch {
	s := &Stitch{}
	start, end := edgeTimes(m)
	switch m.Edge {
	case model.EdgeStart:
		s.Start, s.HasStart = start, true
	case model.EdgeEnd:
		s.End, s.HasEnd = end, true
	default:
		s.Start, s.End = start, end
		if end.After(start) {
			s.Duration = end.Sub(start)
		}
	}
	return s
}

// Complete reports whether both edges have been seen.
func (s *Stitch) Complete() bool { return s.HasStart && s.HasEnd }

// update folds m into the stitch and reports whether m completed a pair.
func (s *Stitch) update(m *Measurement) bool {
	start, end := edgeTimes(m)
	wasComplete := s.Complete()

	switch m.Edge {
	case model.EdgeStart:
		if !s.HasStart || start.Before(s.Start) {
			s.Start = start
		}
		s.HasStart = true
	case model.EdgeEnd:
		if !s.HasEnd || end.After(s.End) {
			s.End = end
		}
		s.HasEnd = true
	default:
		if s.Start.IsZero() || start.Before(s.Start) {
			s.Start = start
		}
		if end.After(s.End) {
			s.End = end
		}
	}

	if s.Complete() || (!s.HasStart && !s.HasEnd) {
		if !s.End.Before(s.Start) {
			s.Duration = s.End.Sub(s.Start)
		}
	}
	return !wasComplete && s.Complete() && m.Edge != model.EdgeNone
}
