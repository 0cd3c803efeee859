package pmago

import (
	"log/slog"
)

type options struct {
	segmentCapacity  int
	pagesPerExtent   int
	logger           *Logger
	metricsCollector MetricsCollector
}

// Option configures Index construction.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		segmentCapacity: 64,
		pagesPerExtent:  16,
		logger:          NoopLogger(),
	}
}

// WithSegmentCapacity configures the number of elements per segment (B).
//
// The value is rounded up to a power of two and must end up in [32, 65535];
// in addition B*8 bytes must divide the OS page size, so on 4 KiB pages the
// usable range is 32..512. Smaller segments rebalance more often but move
// less data per rebalance; 64-128 is a good default for point-update heavy
// workloads, 256-512 for scan-heavy ones.
func WithSegmentCapacity(segmentCapacity int) Option {
	return func(o *options) {
		o.segmentCapacity = segmentCapacity
	}
}

// WithPagesPerExtent configures the extent granularity of the rewiring
// facility, in OS pages. Must be a power of two.
//
// Windows whose element arrays span at least one extent are rebalanced by
// remapping physical pages instead of copying. Larger extents amortize the
// remap syscalls over more data; 16 pages (64 KiB on 4 KiB pages) is a
// reasonable default, 512 (2 MiB) suits very large indexes.
func WithPagesPerExtent(pagesPerExtent int) Option {
	return func(o *options) {
		o.pagesPerExtent = pagesPerExtent
	}
}

// WithLogger configures structured logging for rebalance and resize
// decisions. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}
