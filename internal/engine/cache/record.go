package cache

import (
	"time"

	"Go2NetCache/internal/model"
)

// State is the lifecycle state of a cache record.
type State uint8

const (
	StateFree      State = 0
	StateCommitted State = 1
	StateInUse     State = 2
	StateInvalid   State = 3
	StateError     State = 255
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateCommitted:
		return "committed"
	case StateInUse:
		return "inuse"
	case StateInvalid:
		return "invalid"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Ref is the arena index of a record. Chains link records by Ref, never by pointer.
type Ref int32

const nilRef Ref = -1

// Record is one aggregation bucket.
type Record struct {
	Key Key

	Bytes   uint64
	Packets uint64
	Flows   uint64

	FlowType uint8
	TCPFlags uint32

	// Basetime is the start of the window the record accumulates for.
	Basetime time.Time
	// StartTime and EndTime bound the packet timestamps merged so far.
	StartTime time.Time
	EndTime   time.Time

	Ext    model.Extensions
	Stitch *Stitch

	state  State
	marked bool
	bucket uint32
	seq    uint64
	ref    Ref
	next   Ref
}

// State returns the lifecycle state.
func (r *Record) State() State { return r.state }

// Ref returns the arena index of the record.
func (r *Record) Ref() Ref { return r.ref }

// Marked reports whether the record was marked for flush. Counters of a
// marked record never change again.
func (r *Record) Marked() bool { return r.marked }

// scrub wipes everything but the arena identity.
func (r *Record) scrub() {
	ref := r.ref
	*r = Record{ref: ref, next: nilRef}
}

// Measurement is one update applied to a bucket.
type Measurement struct {
	Basetime  time.Time
	Timestamp time.Time
	Bytes     uint64
	Packets   uint64
	Flows     uint64
	FlowType  uint8
	TCPFlags  uint32
	Ext       *model.Extensions

	// Edge data is only consulted when stitching is enabled.
	Edge      model.FlowEdge
	FlowStart time.Time
	FlowEnd   time.Time
}

func (r *Record) populate(key *Key, m *Measurement, stitching bool) {
	r.Key = *key
	r.Basetime = m.Basetime
	r.StartTime = m.Timestamp
	r.EndTime = m.Timestamp
	r.Bytes = m.Bytes
	r.Packets = m.Packets
	r.Flows = m.Flows
	r.FlowType = m.FlowType
	r.TCPFlags = m.TCPFlags
	if m.Ext != nil {
		r.Ext = *m.Ext
	}
	if stitching {
		r.Stitch = newStitch(m)
	}
}

// merge applies m to an in-use record. Counters are summed, the start time
// only moves backwards and attribute blocks are attached on first sight.
func (r *Record) merge(m *Measurement, stitching bool) {
	r.Bytes += m.Bytes
	r.Packets += m.Packets
	r.TCPFlags |= m.TCPFlags
	if m.Timestamp.Before(r.StartTime) {
		r.StartTime = m.Timestamp
	}
	if m.Timestamp.After(r.EndTime) {
		r.EndTime = m.Timestamp
	}
	if m.Ext != nil {
		r.Ext.Merge(m.Ext)
	}

	if stitching && r.Stitch != nil {
		if r.Stitch.update(m) {
			// The second edge of a flow is not a new flow.
			return
		}
	}
	r.Flows += m.Flows
}
