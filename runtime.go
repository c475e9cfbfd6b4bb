package pixcache

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/dpc"
	"github.com/hupe1980/pixcache/internal/resource"
)

// Runtime owns the process-wide pixel cache state: the resource accountant,
// the cache Manager and the ambient logger and metrics. Create one per
// process (tests may create several with tiny limits).
type Runtime struct {
	cfg     Config
	acct    *resource.Accountant
	mgr     *cache.Manager
	logger  *Logger
	metrics MetricsCollector
	closed  atomic.Bool
}

// New creates a Runtime.
func New(optFns ...Option) (*Runtime, error) {
	o := applyOptions(optFns)
	cfg := o.config
	if cfg.Threads < 0 {
		return nil, &ErrInvalidConfig{Key: "threads", Value: strconv.Itoa(cfg.Threads)}
	}
	if cfg.VirtualPixel == cache.UndefinedVirtualPixel {
		cfg.VirtualPixel = cache.EdgeVirtualPixel
	}

	acct := resource.NewAccountant(cfg.resourceConfig())

	remote := o.remote
	if remote == nil && len(cfg.Hosts) > 0 {
		remote = dpc.NewClient(cfg.Hosts, []byte(cfg.Secret),
			dpc.WithAccountant(acct),
			dpc.WithClientLogger(o.logger.Logger),
		)
	}

	mgrOpts := []cache.Option{
		cache.WithLogger(o.logger.Logger),
		cache.WithObserver(observer{metrics: o.metricsCollector, logger: o.logger}),
		cache.WithTempDir(cfg.TempDir),
		cache.WithRandomSeed(o.seed),
		cache.WithFileSystem(o.fsys),
	}
	if cfg.PageCache > 0 {
		mgrOpts = append(mgrOpts, cache.WithPageCache(cfg.PageCache))
	}
	if remote != nil {
		mgrOpts = append(mgrOpts, cache.WithRemote(remote))
	}

	rt := &Runtime{
		cfg:     cfg,
		acct:    acct,
		mgr:     cache.NewManager(acct, mgrOpts...),
		logger:  o.logger,
		metrics: o.metricsCollector,
	}
	rt.logger.Debug("runtime started",
		"threads", acct.Workers(),
		"memory_limit", cfg.MemoryLimit,
		"map_limit", cfg.MapLimit,
		"disk_limit", cfg.DiskLimit,
		"remote", remote != nil,
	)
	return rt, nil
}

// Config returns the configuration snapshot the runtime was built from.
func (rt *Runtime) Config() Config { return rt.cfg }

// Accountant returns the resource accountant.
func (rt *Runtime) Accountant() *resource.Accountant { return rt.acct }

// Manager returns the cache manager.
func (rt *Runtime) Manager() *cache.Manager { return rt.mgr }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *Logger { return rt.logger }

// Metrics returns the metrics collector.
func (rt *Runtime) Metrics() MetricsCollector { return rt.metrics }

// Close releases every pixel cache still open. Images must not be used
// afterwards.
func (rt *Runtime) Close(ctx context.Context) error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	return rt.mgr.Close(ctx)
}
