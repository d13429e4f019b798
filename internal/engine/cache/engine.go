package cache

import (
	"errors"
	"time"

	"Go2NetCache/internal/metrics"
	"Go2NetCache/internal/model"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// endOfTime is a cutoff later than any window.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Options configures an Engine.
type Options struct {
	Buckets     int
	SlabRecords int
	MaxSlabs    int
	Strategy    Strategy
	Interval    time.Duration
	Offset      time.Duration
	Historical  bool
	// Retain is the number of windows kept open in historical mode.
	Retain    int
	Stitching bool
	Ordered   bool
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Strategy     string     `json:"strategy"`
	Basetime     string     `json:"basetime"`
	Buckets      int        `json:"buckets"`
	Records      int        `json:"records"`
	LongestChain int        `json:"longest_chain"`
	Arena        ArenaStats `json:"arena"`
	Window       string     `json:"window_state"`
	Deadline     time.Time  `json:"deadline"`
	ClosedBefore time.Time  `json:"closed_before"`
	Pending      int        `json:"pending"`
	Outstanding  bool       `json:"outstanding"`
	Inserted     uint64     `json:"inserted"`
	Partial      uint64     `json:"partial"`
	Created      uint64     `json:"created"`
	Merged       uint64     `json:"merged"`
	Late         uint64     `json:"late"`
	Invalid      uint64     `json:"invalid"`
	Errors       uint64     `json:"errors"`
	Cycles       uint64     `json:"cycles"`
	Batches      uint64     `json:"batches"`
	Flushed      uint64     `json:"flushed"`
}

type counters struct {
	inserted, partial, created, merged, late, invalid, errors uint64
	cycles, batches, flushed                                  uint64
	longest                                                   int
}

// Engine is the accounting cache: strategy, table, arena, scheduler and
// hand-off queue owned by a single ingestion path. Only Ack may be called
// from another goroutine.
type Engine struct {
	logger    *zap.Logger
	clock     clock.Clock
	arena     *Arena
	table     *Table
	strategy  Strategy
	sched     *Scheduler
	queue     *HandoffQueue
	stitching bool

	seq  uint64
	keys []Key
	c    counters
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Strategy == nil {
		return nil, errors.New("cache engine needs an aggregation strategy")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("cache engine needs a positive refresh interval")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Buckets <= 0 {
		opts.Buckets = 16411
	}
	if opts.SlabRecords <= 0 {
		opts.SlabRecords = opts.Buckets
	}

	var bt Basetime
	if opts.Historical {
		bt = NewHistoricalBasetime(opts.Interval, opts.Offset)
	} else {
		bt = NewWallclockBasetime(opts.Interval, opts.Offset)
	}

	arena := NewArena(opts.SlabRecords, opts.MaxSlabs)
	e := &Engine{
		logger:    opts.Logger.With(zap.String("component", "cache")),
		clock:     opts.Clock,
		arena:     arena,
		table:     NewTable(opts.Buckets, arena),
		strategy:  opts.Strategy,
		sched:     NewScheduler(bt, opts.Interval, opts.Offset, opts.Retain),
		queue:     NewHandoffQueue(opts.Buckets, opts.Ordered),
		stitching: opts.Stitching,
		keys:      make([]Key, 0, 2),
	}
	metrics.ArenaSlabs.Set(1)
	return e, nil
}

// Insert accounts one decoded record.
func (e *Engine) Insert(pkt *model.PacketInfo) error {
	now := e.clock.Now()
	if !e.sched.Started() {
		e.sched.Start(now)
	}
	e.sched.Touch(now)
	if e.sched.Due(now) {
		e.cycle(now)
	}

	window, err := e.sched.Assign(pkt.Timestamp, now)
	if err != nil {
		e.c.late++
		metrics.LateRecords.Inc()
		e.logger.Debug("Dropping late record",
			zap.Time("timestamp", pkt.Timestamp),
			zap.Time("window", window),
			zap.Time("closed_before", e.sched.ClosedBefore()))
		return err
	}
	// Historical windows move with the data, so the record itself can push
	// older windows out of retention.
	if e.sched.Due(now) {
		e.cycle(now)
	}

	ts := pkt.Timestamp
	if ts.IsZero() {
		ts = now
	}
	var length uint64
	if pkt.Length > 0 {
		length = uint64(pkt.Length)
	}
	m := Measurement{
		Basetime:  window,
		Timestamp: ts,
		Bytes:     length,
		Packets:   pkt.PacketCount(),
		Flows:     pkt.Flows,
		FlowType:  pkt.FlowType,
		TCPFlags:  uint32(pkt.TCPFlags),
		Ext:       &pkt.Ext,
		Edge:      pkt.Edge,
		FlowStart: pkt.FlowStart,
		FlowEnd:   pkt.FlowEnd,
	}

	// Keys are applied in order. When a later key fails, the earlier ones
	// keep the update; the record then counts as inserted and partial.
	e.keys = e.strategy.Project(pkt, e.keys[:0])
	for i := range e.keys {
		if _, err := e.InsertOrUpdate(&e.keys[i], &m); err != nil {
			if i > 0 {
				e.c.inserted++
				e.c.partial++
				metrics.RecordsInserted.Inc()
				e.logger.Warn("Record applied to some keys only",
					zap.Int("applied", i), zap.Int("keys", len(e.keys)), zap.Error(err))
			}
			return err
		}
	}
	e.c.inserted++
	metrics.RecordsInserted.Inc()
	return nil
}

// InsertOrUpdate merges m into the record for key in window m.Basetime.
func (e *Engine) InsertOrUpdate(k *Key, m *Measurement) (*Record, error) {
	r, created, err := e.table.InsertOrUpdate(k, m, e.stitching)
	if err != nil {
		if errors.Is(err, ErrArenaExhausted) {
			e.logger.Error("Arena exhausted, cannot store live counters", zap.Error(err))
		} else {
			e.c.errors++
			e.logger.Warn("Insert failed", zap.Stringer("key", k), zap.Error(err))
		}
		return nil, err
	}
	if created {
		e.seq++
		r.seq = e.seq
		e.c.created++
		metrics.BucketsCreated.Inc()
		metrics.ArenaSlabs.Set(float64(len(e.arena.slabs)))
	} else {
		e.c.merged++
		metrics.BucketsMerged.Inc()
	}
	return r, nil
}

// Find returns the live record for key in the window starting at basetime.
func (e *Engine) Find(k *Key, basetime time.Time) *Record {
	return e.table.Find(k, basetime)
}

// Modulo returns the bucket index of key.
func (e *Engine) Modulo(k *Key) uint32 { return e.table.Modulo(k) }

// Tick runs a close cycle if the refresh deadline has passed. It reports
// whether a cycle ran.
func (e *Engine) Tick() bool {
	now := e.clock.Now()
	if !e.sched.Due(now) {
		return false
	}
	e.cycle(now)
	return true
}

func (e *Engine) cycle(now time.Time) {
	cutoff := e.sched.Close(now)
	if err := e.sched.BeginFlush(); err != nil {
		e.logger.Warn("Scheduler out of step", zap.Error(err))
	}
	n := e.MarkFlush(cutoff)
	e.sched.EndFlush()
	e.c.cycles++
	metrics.FlushCycles.Inc()
	e.logger.Debug("Window closed",
		zap.Time("cutoff", cutoff),
		zap.Int("marked", n),
		zap.Time("next_deadline", e.sched.Deadline()))
}

// MarkFlush unlinks every record whose window starts before cutoff and
// queues it on the pending side. Corrupt records are reported and
// reclaimed; records that carry no traffic are invalid and reclaimed.
func (e *Engine) MarkFlush(cutoff time.Time) int {
	marked := 0
	e.queue.cutoff = cutoff
	res := e.table.sweep(
		func(r *Record) bool {
			return r.state != StateInUse || e.sched.basetime.Cmp(r.Basetime, cutoff) < 0
		},
		func(r *Record, corrupt bool) {
			switch {
			case corrupt:
				e.logger.Warn("Corrupt record excluded from flush",
					zap.Stringer("key", r.Key),
					zap.Uint32("bucket", r.bucket),
					zap.Stringer("state", r.state))
				r.state = StateError
				e.queue.pushError(r.Key)
				e.c.errors++
				metrics.Reclaimed.WithLabelValues(StateError.String()).Inc()
				e.release(r)
			case r.Packets == 0 && r.Flows == 0:
				r.state = StateInvalid
				e.c.invalid++
				metrics.Reclaimed.WithLabelValues(StateInvalid.String()).Inc()
				e.release(r)
			default:
				r.marked = true
				e.queue.push(r)
				marked++
			}
		})
	if res.cyclesBroke > 0 {
		e.c.errors += uint64(res.cyclesBroke)
		e.logger.Warn("Broke looping bucket chains", zap.Int("chains", res.cyclesBroke))
	}
	e.c.longest = res.longest
	return marked
}

// FlushAll marks every record regardless of its window. Used at shutdown.
func (e *Engine) FlushAll() int {
	if !e.sched.Started() {
		return 0
	}
	e.sched.Close(e.clock.Now())
	_ = e.sched.BeginFlush()
	n := e.MarkFlush(endOfTime)
	e.sched.EndFlush()
	return n
}

// SwapAndDrain reclaims an acknowledged batch, then swaps the queue sides
// and returns the new batch. It returns nil when nothing is pending and
// ErrBatchNotReady while writers still hold the previous batch.
func (e *Engine) SwapAndDrain() (*Batch, error) {
	e.Reclaim()
	b, err := e.queue.SwapAndDrain()
	if b != nil {
		e.c.batches++
		metrics.BatchRecords.Observe(float64(len(b.Records)))
	}
	return b, err
}

// Ack acknowledges that every writer consumed b. Safe to call from the
// consumer goroutine; the records are recycled by the next Reclaim.
func (e *Engine) Ack(b *Batch) error { return e.queue.Ack(b) }

// Acked is signalled whenever a batch is acknowledged.
func (e *Engine) Acked() <-chan struct{} { return e.queue.Acked() }

// Outstanding reports whether a batch is still with the writers.
func (e *Engine) Outstanding() bool { return e.queue.Outstanding() }

// Pending returns the number of records waiting for the next swap.
func (e *Engine) Pending() int { return e.queue.Pending() }

// Reclaim returns the records of an acknowledged batch to the arena.
func (e *Engine) Reclaim() int {
	b := e.queue.reclaim()
	if b == nil {
		return 0
	}
	for _, r := range b.Records {
		e.release(r)
	}
	e.c.flushed += uint64(len(b.Records))
	return len(b.Records)
}

func (e *Engine) release(r *Record) {
	if err := e.arena.Release(r); err != nil {
		e.c.errors++
		e.logger.Error("Failed to release record", zap.Error(err))
	}
	metrics.ArenaInUse.Set(float64(e.arena.inUse))
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	return Stats{
		Strategy:     e.strategy.Name(),
		Basetime:     e.sched.basetime.Name(),
		Buckets:      e.table.Size(),
		Records:      e.table.Len(),
		LongestChain: e.c.longest,
		Arena:        e.arena.Stats(),
		Window:       e.sched.State().String(),
		Deadline:     e.sched.Deadline(),
		ClosedBefore: e.sched.ClosedBefore(),
		Pending:      e.queue.Pending(),
		Outstanding:  e.queue.Outstanding(),
		Inserted:     e.c.inserted,
		Partial:      e.c.partial,
		Created:      e.c.created,
		Merged:       e.c.merged,
		Late:         e.c.late,
		Invalid:      e.c.invalid,
		Errors:       e.c.errors,
		Cycles:       e.c.cycles,
		Batches:      e.c.batches,
		Flushed:      e.c.flushed,
	}
}

// Close releases the arena. Outstanding batches must be reclaimed first.
func (e *Engine) Close() {
	e.arena.Close()
	metrics.ArenaSlabs.Set(0)
	metrics.ArenaInUse.Set(0)
}
