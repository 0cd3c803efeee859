package pmago

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordRemove is called after each remove operation. found reports
	// whether the key was present.
	RecordRemove(duration time.Duration, found bool)

	// RecordFind is called after each lookup. found reports whether the key
	// was present.
	RecordFind(duration time.Duration, found bool)

	// RecordLoad is called after each bulk load. count is the batch size,
	// err is nil if successful.
	RecordLoad(count int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)    {}
func (NoopMetricsCollector) RecordRemove(time.Duration, bool)     {}
func (NoopMetricsCollector) RecordFind(time.Duration, bool)       {}
func (NoopMetricsCollector) RecordLoad(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	RemoveCount      atomic.Int64
	RemoveMisses     atomic.Int64
	FindCount        atomic.Int64
	FindMisses       atomic.Int64
	LoadCount        atomic.Int64
	LoadItems        atomic.Int64
	LoadErrors       atomic.Int64
	LoadTotalNanos   atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, found bool) {
	b.RemoveCount.Add(1)
	if !found {
		b.RemoveMisses.Add(1)
	}
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(duration time.Duration, found bool) {
	b.FindCount.Add(1)
	if !found {
		b.FindMisses.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(count int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadItems.Add(int64(count))
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of a BasicMetricsCollector.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	RemoveCount    int64
	RemoveMisses   int64
	FindCount      int64
	FindMisses     int64
	LoadCount      int64
	LoadItems      int64
	LoadErrors     int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		InsertCount:  b.InsertCount.Load(),
		InsertErrors: b.InsertErrors.Load(),
		RemoveCount:  b.RemoveCount.Load(),
		RemoveMisses: b.RemoveMisses.Load(),
		FindCount:    b.FindCount.Load(),
		FindMisses:   b.FindMisses.Load(),
		LoadCount:    b.LoadCount.Load(),
		LoadItems:    b.LoadItems.Load(),
		LoadErrors:   b.LoadErrors.Load(),
	}
	if stats.InsertCount > 0 {
		stats.InsertAvgNanos = b.InsertTotalNanos.Load() / stats.InsertCount
	}
	return stats
}
