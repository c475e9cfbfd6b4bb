package pixcache

import (
	"log/slog"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/internal/fs"
)

type options struct {
	config           Config
	metricsCollector MetricsCollector
	logger           *Logger
	logLevel         *slog.Level
	remote           cache.Remote
	fsys             fs.FileSystem
	seed             uint64
}

// Option configures a Runtime.
type Option func(*options)

// WithConfig replaces the default configuration snapshot.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithMetricsCollector configures a metrics collector for monitoring.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
//
// If nil is passed, logging is derived from the configuration.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel overrides the configured log level of the default logger.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logLevel = &level
	}
}

// WithRemote sets the backing used when local ceilings are exhausted. It
// takes precedence over the configured cache hosts.
func WithRemote(r cache.Remote) Option {
	return func(o *options) {
		o.remote = r
	}
}

// WithFileSystem routes scratch file IO through fsys.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithRandomSeed seeds the per-store generators behind the Random and Dither
// virtual pixel methods.
func WithRandomSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		config:           DefaultConfig(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		cfg := o.config
		if o.logLevel != nil {
			cfg.LogLevel = *o.logLevel
		}
		o.logger = cfg.NewLogger()
	}
	return o
}
