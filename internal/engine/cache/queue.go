package cache

import (
	"sort"
	"sync"
	"time"
)

// Batch is one flushed set of records handed to the writers. Its records
// stay valid, and unchanged, until the batch is acknowledged.
type Batch struct {
	Seq     uint64
	Cutoff  time.Time
	Records []*Record
	// Errors lists the keys of records excluded as corrupt while the batch was built.
	Errors []Key
}

// Window returns the earliest basetime in the batch.
func (b *Batch) Window() time.Time {
	var w time.Time
	for _, r := range b.Records {
		if w.IsZero() || r.Basetime.Before(w) {
			w = r.Basetime
		}
	}
	return w
}

// WindowRecords is the part of a batch that belongs to one window.
type WindowRecords struct {
	Basetime time.Time
	Records  []*Record
}

// Windows splits the batch by basetime, oldest window first. Records keep
// their batch order within a window. A batch built while writers held the
// previous one can span several windows.
func (b *Batch) Windows() []WindowRecords {
	var groups []WindowRecords
	index := make(map[int64]int)
	for _, r := range b.Records {
		bt := r.Basetime.UnixNano()
		i, ok := index[bt]
		if !ok {
			i = len(groups)
			index[bt] = i
			groups = append(groups, WindowRecords{Basetime: r.Basetime})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Basetime.Before(groups[j].Basetime) })
	return groups
}

// HandoffQueue is the double-buffered list between ingestion and writers.
// The producer appends to pending; SwapAndDrain exchanges the roles and
// hands the former pending side out as a batch. Only one batch may be
// outstanding: the next swap waits for its acknowledgement.
type HandoffQueue struct {
	ordered bool

	// producer side, touched only by the ingestion path
	pending []*Record
	errors  []Key
	cutoff  time.Time

	mu          sync.Mutex
	ready       []*Record
	outstanding *Batch
	acked       bool
	seq         uint64
	ackCh       chan struct{}
}

// NewHandoffQueue creates a queue with room for capacity records per side.
// When ordered is set, batches keep the order records were first created in.
func NewHandoffQueue(capacity int, ordered bool) *HandoffQueue {
	return &HandoffQueue{
		ordered: ordered,
		pending: make([]*Record, 0, capacity),
		ready:   make([]*Record, 0, capacity),
		ackCh:   make(chan struct{}, 1),
	}
}

// push appends a marked record to the pending side.
func (q *HandoffQueue) push(r *Record) {
	q.pending = append(q.pending, r)
}

func (q *HandoffQueue) pushError(k Key) {
	q.errors = append(q.errors, k)
}

// Pending returns the number of records waiting for the next swap.
func (q *HandoffQueue) Pending() int { return len(q.pending) }

// SwapAndDrain exchanges the pending and ready sides and returns the batch.
// It returns nil when nothing is pending, and ErrBatchNotReady while the
// previous batch is unacknowledged or not yet reclaimed.
func (q *HandoffQueue) SwapAndDrain() (*Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.outstanding != nil {
		return nil, ErrBatchNotReady
	}
	if len(q.pending) == 0 && len(q.errors) == 0 {
		return nil, nil
	}
	q.pending, q.ready = q.ready[:0], q.pending
	if q.ordered {
		sort.Slice(q.ready, func(i, j int) bool { return q.ready[i].seq < q.ready[j].seq })
	}

	q.seq++
	b := &Batch{Seq: q.seq, Cutoff: q.cutoff, Records: q.ready, Errors: q.errors}
	q.errors = nil
	q.outstanding = b
	q.acked = false
	return b, nil
}

// Ack is called by the consumer once every writer is done with b.
func (q *HandoffQueue) Ack(b *Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b == nil || b != q.outstanding || q.acked {
		return ErrUnknownBatch
	}
	q.acked = true
	select {
	case q.ackCh <- struct{}{}:
	default:
	}
	return nil
}

// reclaim returns the acknowledged batch, if any, and frees the ready side
// for the next swap. Only the producer calls it.
func (q *HandoffQueue) reclaim() *Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == nil || !q.acked {
		return nil
	}
	b := q.outstanding
	q.outstanding = nil
	q.acked = false
	return b
}

// Outstanding reports whether a batch is with the writers.
func (q *HandoffQueue) Outstanding() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding != nil
}

// Acked is signalled whenever a batch is acknowledged.
func (q *HandoffQueue) Acked() <-chan struct{} { return q.ackCh }
