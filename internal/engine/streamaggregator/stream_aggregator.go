package streamaggregator

import (
	"sync/atomic"

	"Go2NetCache/internal/model"
	"Go2NetCache/internal/probe"

	"go.uber.org/zap"
)

// Source delivers decoded records to a handler, typically a NATS subscriber.
type Source interface {
	Start(handler probe.PacketHandler) error
	Close()
}

// Sink accepts records for accounting.
type Sink interface {
	Submit(pkt *model.PacketInfo) bool
}

// StreamAggregator feeds records from a Source into a Sink.
type StreamAggregator struct {
	src    Source
	sink   Sink
	logger *zap.Logger

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewStreamAggregator creates a stream aggregator.
func NewStreamAggregator(src Source, sink Sink, logger *zap.Logger) *StreamAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamAggregator{
		src:    src,
		sink:   sink,
		logger: logger.With(zap.String("component", "stream_aggregator")),
	}
}

// Start begins consuming from the source.
func (sa *StreamAggregator) Start() error {
	sa.logger.Info("StreamAggregator starting")
	return sa.src.Start(sa.handlePacket)
}

// Stop closes the source. The sink is owned by the caller.
func (sa *StreamAggregator) Stop() {
	sa.src.Close()
	sa.logger.Info("StreamAggregator stopped",
		zap.Uint64("received", sa.received.Load()),
		zap.Uint64("rejected", sa.rejected.Load()))
}

// Counts returns the received and rejected totals.
func (sa *StreamAggregator) Counts() (received, rejected uint64) {
	return sa.received.Load(), sa.rejected.Load()
}

func (sa *StreamAggregator) handlePacket(pkt *model.PacketInfo) bool {
	sa.received.Add(1)
	if !sa.sink.Submit(pkt) {
		sa.rejected.Add(1)
		return false
	}
	return true
}
