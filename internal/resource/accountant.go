package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrLimitExceeded is returned when a reservation would exceed a ceiling.
var ErrLimitExceeded = errors.New("resource limit exceeded")

// Kind names an accounted resource.
type Kind int

const (
	// Memory is heap memory held by in-process pixel caches and page caches.
	Memory Kind = iota
	// Map is address space held by memory-mapped scratch files.
	Map
	// Disk is space held by scratch files (mapped or not).
	Disk

	numKinds
)

func (k Kind) String() string {
	switch k {
	case Memory:
		return "memory"
	case Map:
		return "map"
	case Disk:
		return "disk"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LimitError reports which ceiling refused a reservation.
type LimitError struct {
	Kind      Kind
	Requested int64
	Used      int64
	Limit     int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: requested %d bytes, %d of %d in use", e.Kind, e.Requested, e.Used, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps bytes held by Memory caches.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MapLimitBytes caps bytes held by memory-mapped caches.
	// If 0, no hard limit is enforced.
	MapLimitBytes int64

	// DiskLimitBytes caps bytes held by scratch files.
	// If 0, no hard limit is enforced.
	DiskLimitBytes int64

	// WidthLimit and HeightLimit cap image dimensions in pixels.
	// If 0, unlimited.
	WidthLimit  int64
	HeightLimit int64

	// MaxWorkers bounds row-parallel work and server connections.
	// If 0, defaults to GOMAXPROCS.
	MaxWorkers int64

	// IOLimitBytesPerSec throttles scratch file and network IO.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Accountant is the process-wide ledger of pixel cache resources.
//
// Single-kind reservations are lock free; multi-kind reservations are made
// all-or-nothing under one lock so unrelated allocations never interleave.
type Accountant struct {
	cfg Config

	mu   sync.Mutex
	sems [numKinds]*semaphore.Weighted // nil if unlimited
	used [numKinds]atomic.Int64

	workers *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewAccountant creates a new resource accountant.
func NewAccountant(cfg Config) *Accountant {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = int64(runtime.GOMAXPROCS(0))
	}

	a := &Accountant{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	for k, limit := range a.limits() {
		if limit > 0 {
			a.sems[k] = semaphore.NewWeighted(limit)
		}
	}

	if cfg.IOLimitBytesPerSec > 0 {
		a.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return a
}

func (a *Accountant) limits() [numKinds]int64 {
	return [numKinds]int64{a.cfg.MemoryLimitBytes, a.cfg.MapLimitBytes, a.cfg.DiskLimitBytes}
}

// Config returns the configured limits.
func (a *Accountant) Config() Config {
	if a == nil {
		return Config{}
	}
	return a.cfg
}

// TryAcquire reserves bytes of one kind without blocking.
// Returns a *LimitError (matching ErrLimitExceeded) if the ceiling would be
// exceeded.
func (a *Accountant) TryAcquire(kind Kind, bytes int64) error {
	if a == nil || bytes <= 0 {
		return nil
	}
	if s := a.sems[kind]; s != nil && !s.TryAcquire(bytes) {
		return &LimitError{Kind: kind, Requested: bytes, Used: a.used[kind].Load(), Limit: a.limits()[kind]}
	}
	a.used[kind].Add(bytes)
	return nil
}

// TryAcquireAll reserves bytes against every listed kind, or none of them.
func (a *Accountant) TryAcquireAll(bytes int64, kinds ...Kind) error {
	if a == nil || bytes <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, k := range kinds {
		if err := a.TryAcquire(k, bytes); err != nil {
			for _, done := range kinds[:i] {
				a.Release(done, bytes)
			}
			return err
		}
	}
	return nil
}

// Release returns a reservation.
func (a *Accountant) Release(kind Kind, bytes int64) {
	if a == nil || bytes <= 0 {
		return
	}
	if s := a.sems[kind]; s != nil {
		s.Release(bytes)
	}
	a.used[kind].Add(-bytes)
}

// Usage returns the bytes currently reserved for kind.
func (a *Accountant) Usage(kind Kind) int64 {
	if a == nil {
		return 0
	}
	return a.used[kind].Load()
}

// Limit returns the ceiling for kind (0 if unlimited).
func (a *Accountant) Limit(kind Kind) int64 {
	if a == nil {
		return 0
	}
	return a.limits()[kind]
}

// Fits reports whether bytes could ever be admitted for kind, ignoring
// current usage.
func (a *Accountant) Fits(kind Kind, bytes int64) bool {
	limit := a.Limit(kind)
	return limit <= 0 || bytes <= limit
}

// CheckDimensions validates image dimensions against the width and height
// limits.
func (a *Accountant) CheckDimensions(columns, rows int64) error {
	if a == nil {
		return nil
	}
	if a.cfg.WidthLimit > 0 && columns > a.cfg.WidthLimit {
		return fmt.Errorf("%w: width %d exceeds limit %d", ErrLimitExceeded, columns, a.cfg.WidthLimit)
	}
	if a.cfg.HeightLimit > 0 && rows > a.cfg.HeightLimit {
		return fmt.Errorf("%w: height %d exceeds limit %d", ErrLimitExceeded, rows, a.cfg.HeightLimit)
	}
	return nil
}

// Workers returns the number of worker slots.
func (a *Accountant) Workers() int {
	if a == nil {
		return runtime.GOMAXPROCS(0)
	}
	return int(a.cfg.MaxWorkers)
}

// AcquireWorker reserves a worker slot, blocking while all are busy.
func (a *Accountant) AcquireWorker(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.workers.Acquire(ctx, 1)
}

// TryAcquireWorker reserves a worker slot without blocking.
func (a *Accountant) TryAcquireWorker() bool {
	if a == nil {
		return true
	}
	return a.workers.TryAcquire(1)
}

// ReleaseWorker releases a worker slot.
func (a *Accountant) ReleaseWorker() {
	if a == nil {
		return
	}
	a.workers.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are admitted in burst-sized steps.
func (a *Accountant) AcquireIO(ctx context.Context, bytes int) error {
	if a == nil || a.ioLimiter == nil {
		return nil
	}
	burst := a.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := a.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
func (a *Accountant) TryAcquireIO(bytes int) bool {
	if a == nil || a.ioLimiter == nil {
		return true
	}
	return a.ioLimiter.AllowN(time.Now(), bytes)
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	Memory      int64
	Map         int64
	Disk        int64
	MemoryLimit int64
	MapLimit    int64
	DiskLimit   int64
}

// Snapshot returns current usage and limits.
func (a *Accountant) Snapshot() Snapshot {
	return Snapshot{
		Memory:      a.Usage(Memory),
		Map:         a.Usage(Map),
		Disk:        a.Usage(Disk),
		MemoryLimit: a.Limit(Memory),
		MapLimit:    a.Limit(Map),
		DiskLimit:   a.Limit(Disk),
	}
}
