package pixcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pixcache/cache"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    opened   *prometheus.CounterVec
//	    compares prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordCacheOpen(kind string, bytes int64) {
//	    p.opened.WithLabelValues(kind).Inc()
//	}
type MetricsCollector interface {
	// RecordCacheOpen is called after a pixel cache is allocated.
	// kind is the cache type (Memory, Mapped, Disk, DistributedProxy).
	RecordCacheOpen(kind string, bytes int64)

	// RecordEviction is called after a store is demoted out of memory.
	RecordEviction(from, to string, bytes int64)

	// RecordCompare is called after each distortion computation.
	RecordCompare(metric string, duration time.Duration, err error)

	// RecordSearch is called after each subimage search.
	// offsets is the number of placements scored.
	RecordSearch(offsets int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCacheOpen(string, int64)              {}
func (NoopMetricsCollector) RecordEviction(string, string, int64)       {}
func (NoopMetricsCollector) RecordCompare(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CacheOpenCount    atomic.Int64
	CacheOpenBytes    atomic.Int64
	MemoryCaches      atomic.Int64
	MappedCaches      atomic.Int64
	DiskCaches        atomic.Int64
	RemoteCaches      atomic.Int64
	EvictionCount     atomic.Int64
	EvictedBytes      atomic.Int64
	CompareCount      atomic.Int64
	CompareErrors     atomic.Int64
	CompareTotalNanos atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchOffsets     atomic.Int64
	SearchTotalNanos  atomic.Int64
}

// RecordCacheOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheOpen(kind string, bytes int64) {
	b.CacheOpenCount.Add(1)
	b.CacheOpenBytes.Add(bytes)
	switch kind {
	case cache.MemoryCache.String():
		b.MemoryCaches.Add(1)
	case cache.MapCache.String():
		b.MappedCaches.Add(1)
	case cache.DiskCache.String():
		b.DiskCaches.Add(1)
	case cache.DistributedCache.String():
		b.RemoteCaches.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(_, _ string, bytes int64) {
	b.EvictionCount.Add(1)
	b.EvictedBytes.Add(bytes)
}

// RecordCompare implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompare(_ string, duration time.Duration, err error) {
	b.CompareCount.Add(1)
	b.CompareTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CompareErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(offsets int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchOffsets.Add(int64(offsets))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// Stats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) Stats() BasicMetricsStats {
	return BasicMetricsStats{
		CacheOpenCount:  b.CacheOpenCount.Load(),
		CacheOpenBytes:  b.CacheOpenBytes.Load(),
		MemoryCaches:    b.MemoryCaches.Load(),
		MappedCaches:    b.MappedCaches.Load(),
		DiskCaches:      b.DiskCaches.Load(),
		RemoteCaches:    b.RemoteCaches.Load(),
		EvictionCount:   b.EvictionCount.Load(),
		EvictedBytes:    b.EvictedBytes.Load(),
		CompareCount:    b.CompareCount.Load(),
		CompareErrors:   b.CompareErrors.Load(),
		CompareAvgNanos: avg(b.CompareTotalNanos.Load(), b.CompareCount.Load()),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchOffsets:   b.SearchOffsets.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CacheOpenCount  int64
	CacheOpenBytes  int64
	MemoryCaches    int64
	MappedCaches    int64
	DiskCaches      int64
	RemoteCaches    int64
	EvictionCount   int64
	EvictedBytes    int64
	CompareCount    int64
	CompareErrors   int64
	CompareAvgNanos int64
	SearchCount     int64
	SearchErrors    int64
	SearchOffsets   int64
	SearchAvgNanos  int64
}

// observer forwards cache Manager events to the metrics collector and the
// logger.
type observer struct {
	metrics MetricsCollector
	logger  *Logger
}

var _ cache.Observer = observer{}

func (o observer) OnCacheOpen(t cache.Type, bytes int64) {
	o.metrics.RecordCacheOpen(t.String(), bytes)
}

func (o observer) OnCacheEvict(from, to cache.Type, bytes int64) {
	o.metrics.RecordEviction(from.String(), to.String(), bytes)
	o.logger.LogEviction(context.Background(), from, to, bytes)
}
