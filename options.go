package warmgo

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/warmgo/archive"
	"github.com/hupe1980/warmgo/internal/fs"
)

const (
	// DefaultTickInterval is the scheduling heartbeat.
	DefaultTickInterval = 10 * time.Second

	// DefaultNamespace is used to restore the global-objects save-file
	// unless overridden.
	DefaultNamespace = "default"
)

type options struct {
	enabled          bool
	parallelRestore  bool
	maxParallel      int64
	defaultNamespace string
	tickInterval     time.Duration
	fetchRate        rate.Limit
	fetchBurst       int
	fsys             fs.FileSystem
	logger           *Logger
	metrics          MetricsCollector
	archiver         *archive.Archiver
}

// Option configures a Hibernator.
type Option func(*options)

// WithEnabled enables or disables the whole mechanism. The flag is
// consulted at startup (whether to schedule restores) and again at
// shutdown (whether to save), so the mechanism can be enabled via
// Reconfigure while the process runs and still produce save-files at
// shutdown. Default: enabled.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithParallelRestore allows dispatching a replay worker while the
// previous one is still running. Note that without
// WithMaxParallelRestores this does not bound total concurrency: the
// scheduler only remembers the most recently dispatched worker, so
// enabling parallelism merely stops it from waiting. Default: disabled.
func WithParallelRestore(parallel bool) Option {
	return func(o *options) {
		o.parallelRestore = parallel
	}
}

// WithMaxParallelRestores bounds the number of concurrently live replay
// workers when parallel restore is enabled. Zero (the default) leaves
// parallel dispatch unbounded.
func WithMaxParallelRestores(n int64) Option {
	return func(o *options) {
		o.maxParallel = n
	}
}

// WithDefaultNamespace sets the namespace used to restore the reserved
// global-objects save-file.
func WithDefaultNamespace(name string) Option {
	return func(o *options) {
		if name != "" {
			o.defaultNamespace = name
		}
	}
}

// WithTickInterval sets the scheduling heartbeat. Ticks also happen early
// on worker exits and reconfiguration.
func WithTickInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.tickInterval = interval
		}
	}
}

// WithFetchRate throttles each replay worker to this many block fetches
// per second. Zero means unthrottled.
func WithFetchRate(perSecond rate.Limit, burst int) Option {
	return func(o *options) {
		o.fetchRate = perSecond
		o.fetchBurst = burst
	}
}

// WithFileSystem substitutes the filesystem implementation. Intended for
// tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metrics = collector
	}
}

// WithArchive attaches a snapshot archive. At startup, if the snapshot
// directory holds no save-files, the latest archived generation is pulled
// before restore; after a successful shutdown save, the directory is
// pushed as a new generation.
func WithArchive(archiver *archive.Archiver) Option {
	return func(o *options) {
		o.archiver = archiver
	}
}

func defaultOptions() options {
	return options{
		enabled:          true,
		defaultNamespace: DefaultNamespace,
		tickInterval:     DefaultTickInterval,
		fetchBurst:       1,
		fsys:             fs.Default,
		logger:           NoopLogger(),
		metrics:          NoopMetricsCollector{},
	}
}
