// Package metrics exposes the Prometheus instruments of the accounting cache.
// Counters are global and label-free apart from small, fixed label sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecordsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ns_cache_records_inserted_total",
		Help: "Decoded records accepted by the cache",
	})
	BucketsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ns_cache_buckets_created_total",
		Help: "New aggregation buckets allocated from the arena",
	})
	BucketsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ns_cache_buckets_merged_total",
		Help: "Updates merged into an existing bucket",
	})
	LateRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ns_cache_late_records_total",
		Help: "Records dropped because their window was already closed",
	})
	// Reclaimed counts buckets that left the table without being flushed.
	Reclaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ns_cache_reclaimed_total",
		Help: "Buckets reclaimed without flush, by state",
	}, []string{"state"})
	FlushCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ns_cache_flush_cycles_total",
		Help: "Window close cycles run by the scheduler",
	})
	BatchRecords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ns_cache_batch_records",
		Help:    "Distribution of records per handed-off batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	WriterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ns_cache_writer_errors_total",
		Help: "Failed batch writes, by writer",
	}, []string{"writer"})
	ArenaSlabs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ns_cache_arena_slabs",
		Help: "Slabs currently owned by the arena",
	})
	ArenaInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ns_cache_arena_records_in_use",
		Help: "Arena records not on the free list",
	})
)

func init() {
	prometheus.MustRegister(
		RecordsInserted, BucketsCreated, BucketsMerged, LateRecords, Reclaimed,
		FlushCycles, BatchRecords, WriterErrors, ArenaSlabs, ArenaInUse,
	)
}
