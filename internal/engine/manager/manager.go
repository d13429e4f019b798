package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/lookup"
	"Go2NetCache/internal/metrics"
	"Go2NetCache/internal/model"
	"Go2NetCache/internal/writer"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns the cache engine. A single ingestion goroutine inserts
// records and runs the refresh timer; a flusher goroutine hands each batch
// to the writers and acknowledges it.
type Manager struct {
	logger  *zap.Logger
	clock   clock.Clock
	engine  *cache.Engine
	tables  *lookup.Tables
	writers []writer.Writer
	trigger *writer.Trigger

	recvBudget    int
	writersNo     int
	checkInterval time.Duration

	input   chan *model.PacketInfo
	batches chan *cache.Batch
	quit    chan struct{}
	stopped chan struct{}

	ingestWg  sync.WaitGroup
	flusherWg sync.WaitGroup
	stopOnce  sync.Once

	stats atomic.Pointer[cache.Stats]
	errMu sync.Mutex
	fatal error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithWriters replaces the configured writers.
func WithWriters(writers ...writer.Writer) Option {
	return func(m *Manager) { m.writers = writers }
}

// NewManager builds the engine, lookup tables and writers from cfg.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	cc := &cfg.Cache
	m := &Manager{
		logger:        zap.NewNop(),
		clock:         clock.New(),
		recvBudget:    cc.RecvBudget,
		writersNo:     cc.WritersNo,
		checkInterval: cc.Check(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "manager"))
	if m.recvBudget <= 0 {
		m.recvBudget = config.DefaultRecvBudget
	}
	if m.writersNo <= 0 {
		m.writersNo = config.DefaultWritersNo
	}
	if m.checkInterval <= 0 {
		m.checkInterval = time.Second
	}

	refresh, err := cc.Refresh()
	if err != nil {
		return nil, err
	}
	offset, err := cc.Offset()
	if err != nil {
		return nil, err
	}

	m.tables, err = lookup.NewTables(cc.PortsFile, cc.ProtosFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load lookup tables: %w", err)
	}
	strategy, err := cache.NewStrategy(cc.Aggregate, cc.KeyFields, m.tables)
	if err != nil {
		return nil, err
	}

	m.engine, err = cache.New(cache.Options{
		Buckets:     cc.Entries,
		SlabRecords: cc.SlabRecords,
		MaxSlabs:    cc.MaxSlabs,
		Strategy:    strategy,
		Interval:    refresh,
		Offset:      offset,
		Historical:  cc.HistoricalAccounting,
		Retain:      cc.RetainWindows,
		Stitching:   cc.Stitching,
		Ordered:     cc.OrderedFlush,
		Clock:       m.clock,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, err
	}

	if m.writers == nil {
		for _, def := range cfg.Writers {
			if !def.Enabled {
				continue
			}
			w, err := writer.New(context.Background(), def, m.logger)
			if err != nil {
				_ = m.closeWriters()
				return nil, fmt.Errorf("failed to create %s writer: %w", def.Type, err)
			}
			m.writers = append(m.writers, w)
		}
	}
	m.trigger = writer.NewTrigger(cc.TriggerExec, cc.Trigger(), m.logger)

	m.input = make(chan *model.PacketInfo, cc.InputBuffer)
	m.batches = make(chan *cache.Batch, 1)
	m.quit = make(chan struct{})
	m.stopped = make(chan struct{})
	m.publishStats()
	return m, nil
}

// Start launches the ingestion loop and the flusher.
func (m *Manager) Start() {
	m.flusherWg.Add(1)
	go m.runFlusher()
	m.ingestWg.Add(1)
	go m.run()
	m.logger.Info("Manager started",
		zap.Int("writers", len(m.writers)),
		zap.Int("writers_no", m.writersNo),
		zap.Int("recv_budget", m.recvBudget))
}

// Submit queues a record for ingestion. It returns false once ingestion
// has stopped.
func (m *Manager) Submit(pkt *model.PacketInfo) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.input <- pkt:
		return true
	case <-m.stopped:
		return false
	}
}

// Done is closed when ingestion stops, after Stop or on a fatal error.
func (m *Manager) Done() <-chan struct{} { return m.stopped }

// Err returns the error that stopped ingestion, if any.
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.fatal
}

// Stats returns the latest engine snapshot.
func (m *Manager) Stats() cache.Stats {
	if s := m.stats.Load(); s != nil {
		return *s
	}
	return cache.Stats{}
}

// ReloadLookups re-reads the ports and protocols tables.
func (m *Manager) ReloadLookups() error {
	if err := m.tables.Reload(); err != nil {
		return err
	}
	ports, protos := m.tables.LoadedAt()
	m.logger.Info("Reloaded lookup tables", zap.Time("ports", ports), zap.Time("protos", protos))
	return nil
}

// Stop ingests what is already queued, flushes everything still cached, waits for the
// writers and releases the engine. It returns the fatal ingestion error,
// if any, combined with writer close errors.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		m.logger.Info("Manager stopping...")
		close(m.quit)
		m.ingestWg.Wait()
		close(m.batches)
		m.flusherWg.Wait()
		m.engine.Close()

		err := m.closeWriters()
		m.errMu.Lock()
		m.fatal = multierr.Append(m.fatal, err)
		m.errMu.Unlock()
		m.logger.Info("Manager stopped.")
	})
	return m.Err()
}

func (m *Manager) closeWriters() error {
	var errs error
	for _, w := range m.writers {
		errs = multierr.Append(errs, w.Close())
	}
	return errs
}

// run is the only goroutine that touches the engine, apart from Ack.
func (m *Manager) run() {
	defer m.ingestWg.Done()
	defer close(m.stopped)

	ticker := m.clock.Ticker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case pkt := <-m.input:
			if !m.receive(pkt) {
				m.drain()
				return
			}
		case <-m.quit:
			m.consumeQueued()
			m.drain()
			return
		case <-ticker.C:
			m.engine.Tick()
			m.handoff()
		case <-m.engine.Acked():
			m.handoff()
		}
	}
}

// receive inserts pkt and up to recvBudget-1 more queued records before
// returning to the timer. It returns false when ingestion must stop.
func (m *Manager) receive(pkt *model.PacketInfo) bool {
	if !m.insert(pkt) {
		return false
	}
	for i := 1; i < m.recvBudget; i++ {
		select {
		case next := <-m.input:
			if !m.insert(next) {
				return false
			}
		default:
			m.handoff()
			return true
		}
	}
	m.handoff()
	return true
}

// consumeQueued inserts every record still buffered at shutdown.
func (m *Manager) consumeQueued() {
	for {
		select {
		case pkt := <-m.input:
			if !m.insert(pkt) {
				return
			}
		default:
			return
		}
	}
}

func (m *Manager) insert(pkt *model.PacketInfo) bool {
	err := m.engine.Insert(pkt)
	if err == nil || !errors.Is(err, cache.ErrArenaExhausted) {
		// Late and corrupt records are counted by the engine.
		return true
	}
	m.logger.Error("Stopping ingestion", zap.Error(err))
	m.errMu.Lock()
	m.fatal = multierr.Append(m.fatal, err)
	m.errMu.Unlock()
	return false
}

// handoff passes the pending side to the flusher when the previous batch
// has been acknowledged.
func (m *Manager) handoff() {
	b, err := m.engine.SwapAndDrain()
	if err == nil && b != nil {
		m.batches <- b
	}
	m.publishStats()
}

// drain flushes every cached record and waits until the writers have
// consumed them.
func (m *Manager) drain() {
	n := m.engine.FlushAll()
	m.logger.Info("Final flush", zap.Int("records", n))
	for m.engine.Pending() > 0 || m.engine.Outstanding() {
		m.handoff()
		if m.engine.Outstanding() {
			<-m.engine.Acked()
		}
	}
	m.engine.Reclaim()
	m.publishStats()
}

func (m *Manager) publishStats() {
	s := m.engine.Stats()
	m.stats.Store(&s)
}

func (m *Manager) runFlusher() {
	defer m.flusherWg.Done()
	for b := range m.batches {
		if len(b.Errors) > 0 {
			m.logger.Warn("Batch excluded corrupt records", zap.Uint64("batch", b.Seq), zap.Int("excluded", len(b.Errors)))
		}
		if err := m.flush(b); err != nil {
			m.logger.Error("Failed to write batch", zap.Uint64("batch", b.Seq), zap.Error(err))
		}
		// Records are recycled whether or not every writer succeeded.
		if err := m.engine.Ack(b); err != nil {
			m.logger.Error("Failed to acknowledge batch", zap.Uint64("batch", b.Seq), zap.Error(err))
		}
	}
}

// flush fans b out to the writers, at most writersNo at a time, then runs
// the trigger.
func (m *Manager) flush(b *cache.Batch) error {
	ctx := context.Background()
	start := m.clock.Now()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(m.writersNo)
	for _, w := range m.writers {
		w := w
		g.Go(func() error {
			if err := w.Write(ctx, b); err != nil {
				metrics.WriterErrors.WithLabelValues(w.Name()).Inc()
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("writer %s: %w", w.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if m.trigger != nil && len(b.Records) > 0 {
		if err := m.trigger.Run(ctx, b); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	m.logger.Info("Flushed batch",
		zap.Uint64("batch", b.Seq),
		zap.Int("records", len(b.Records)),
		zap.Time("window", b.Window()),
		zap.Duration("took", m.clock.Now().Sub(start)))
	return errs
}
