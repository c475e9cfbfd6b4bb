package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hupe1980/pixcache/exception"
	icache "github.com/hupe1980/pixcache/internal/cache"
	"github.com/hupe1980/pixcache/internal/conv"
	"github.com/hupe1980/pixcache/internal/fs"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/hupe1980/pixcache/pixel"
)

const (
	// DefaultPageSize is the target size of a faulted row page.
	DefaultPageSize = 64 << 10
	// DefaultPageCacheSize bounds the pages kept for disk and distributed
	// stores.
	DefaultPageCacheSize = 32 << 20
)

// Observer receives cache lifecycle events.
type Observer interface {
	OnCacheOpen(t Type, bytes int64)
	OnCacheEvict(from, to Type, bytes int64)
}

// NoopObserver discards events.
type NoopObserver struct{}

func (NoopObserver) OnCacheOpen(Type, int64)        {}
func (NoopObserver) OnCacheEvict(Type, Type, int64) {}

// Manager creates stores and enforces the accountant's ceilings across them.
type Manager struct {
	acct      *resource.Accountant
	fsys      fs.FileSystem
	tempDir   string
	remote    Remote
	logger    *slog.Logger
	observer  Observer
	seed      uint64
	pageBytes int
	pages     *icache.LRUBlockCache
	pageCap   int64

	nextID atomic.Uint64

	mu     sync.Mutex
	stores map[uint64]*Store
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFileSystem sets the file system used for scratch files.
func WithFileSystem(f fs.FileSystem) Option {
	return func(m *Manager) {
		if f != nil {
			m.fsys = f
		}
	}
}

// WithTempDir sets the directory of scratch files (default os.TempDir()).
func WithTempDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.tempDir = dir
		}
	}
}

// WithRemote enables the distributed backing as the last resort.
func WithRemote(r Remote) Option {
	return func(m *Manager) {
		m.remote = r
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithRandomSeed seeds the per-store generators of RandomVirtualPixel.
func WithRandomSeed(seed uint64) Option {
	return func(m *Manager) {
		m.seed = seed
	}
}

// WithPageCache sets the page cache capacity in bytes.
func WithPageCache(bytes int64) Option {
	return func(m *Manager) {
		m.pageCap = bytes
	}
}

// WithPageSize sets the target page size in bytes. A page always holds at
// least one row.
func WithPageSize(bytes int) Option {
	return func(m *Manager) {
		if bytes > 0 {
			m.pageBytes = bytes
		}
	}
}

// NewManager creates a manager. A nil accountant means unlimited.
func NewManager(acct *resource.Accountant, opts ...Option) *Manager {
	m := &Manager{
		acct:      acct,
		fsys:      fs.Default,
		tempDir:   os.TempDir(),
		logger:    slog.New(slog.DiscardHandler),
		observer:  NoopObserver{},
		pageBytes: DefaultPageSize,
		pageCap:   DefaultPageCacheSize,
		stores:    make(map[uint64]*Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pages = icache.NewLRUBlockCache(m.pageCap, acct)
	return m
}

// Accountant returns the resource accountant.
func (m *Manager) Accountant() *resource.Accountant { return m.acct }

// AcquireOptions tune a single Acquire.
type AcquireOptions struct {
	// Persist names a file that holds the pixels and survives Close.
	Persist string
	// Type forces a backing. UndefinedCache selects automatically.
	Type Type
	// VirtualPixel and Background seed the store's virtual pixel settings.
	VirtualPixel VirtualPixelMethod
	Background   pixel.Color
}

// Acquire creates a store for g, choosing the first backing the accountant
// admits: memory, then a mapped scratch file, then a plain scratch file,
// then the remote (if configured).
func (m *Manager) Acquire(ctx context.Context, g Geometry, optFns ...func(*AcquireOptions)) (*Store, error) {
	opts := AcquireOptions{VirtualPixel: EdgeVirtualPixel}
	for _, fn := range optFns {
		fn(&opts)
	}

	if g.Columns <= 0 || g.Rows <= 0 || g.Channels() == 0 {
		return nil, cacheError("NegativeOrZeroImageSize", fmt.Sprintf("%dx%d", g.Columns, g.Rows))
	}
	if err := m.acct.CheckDimensions(int64(g.Columns), int64(g.Rows)); err != nil {
		return nil, exception.Wrap(exception.ErrResourceLimit, "WidthOrHeightExceedsLimit", fmt.Sprintf("%dx%d", g.Columns, g.Rows), err)
	}
	bytes, err := conv.Extent(int64(g.Columns), int64(g.Rows), int64(g.Channels()), pixel.SampleSize)
	if err != nil {
		return nil, exception.Wrap(exception.ErrResourceLimit, "PixelCacheAllocationFailed", fmt.Sprintf("%dx%d", g.Columns, g.Rows), err)
	}

	id := m.nextID.Add(1)
	s := &Store{
		id:         id,
		mgr:        m,
		geom:       g,
		persist:    opts.Persist,
		dirty:      roaring.New(),
		method:     opts.VirtualPixel,
		background: opts.Background,
		rng:        &lockedRand{r: rand.New(rand.NewPCG(m.seed, id))},
	}

	b, err := m.open(ctx, s, bytes, opts)
	if err != nil {
		return nil, err
	}
	s.backing = b
	s.touch()

	m.mu.Lock()
	m.stores[id] = s
	m.mu.Unlock()

	m.observer.OnCacheOpen(b.kind(), bytes)
	m.logger.Debug("pixel cache opened",
		"id", id, "type", b.kind().String(),
		"geometry", fmt.Sprintf("%dx%d", g.Columns, g.Rows),
		"channels", g.Channels(), "bytes", humanize.IBytes(uint64(bytes)))
	return s, nil
}

func (m *Manager) open(ctx context.Context, s *Store, bytes int64, opts AcquireOptions) (backing, error) {
	allow := func(t Type) bool { return opts.Type == UndefinedCache || opts.Type == t }

	var errs []error
	if opts.Persist == "" && allow(MemoryCache) {
		if m.admitMemory(ctx, s.id, bytes) {
			return newMemoryBacking(s.geom, m.acct), nil
		}
		errs = append(errs, fmt.Errorf("memory: %w", resource.ErrLimitExceeded))
	}
	if allow(MapCache) {
		b, err := m.openMapped(s, bytes)
		if err == nil {
			return b, nil
		}
		errs = append(errs, fmt.Errorf("map: %w", err))
	}
	if allow(DiskCache) {
		b, err := m.openDisk(s, bytes)
		if err == nil {
			return b, nil
		}
		errs = append(errs, fmt.Errorf("disk: %w", err))
	}
	if opts.Persist == "" && allow(DistributedCache) && m.remote != nil {
		b, err := m.openRemote(ctx, s)
		if err == nil {
			return b, nil
		}
		errs = append(errs, fmt.Errorf("distributed: %w", err))
	}

	m.logger.Warn("pixel cache resources exhausted", "id", s.id, "bytes", humanize.IBytes(uint64(bytes)), "error", errors.Join(errs...))
	return nil, exception.Wrap(exception.ErrResourceLimit, "CacheResourcesExhausted",
		fmt.Sprintf("%dx%d", s.geom.Columns, s.geom.Rows), errors.Join(errs...))
}

// admitMemory reserves bytes against the memory ceiling, evicting
// unreferenced memory stores in least-recently-accessed order when the
// request alone would fit.
func (m *Manager) admitMemory(ctx context.Context, self uint64, bytes int64) bool {
	if m.acct.TryAcquire(resource.Memory, bytes) == nil {
		return true
	}
	if m.acct.Limit(resource.Memory) <= 0 || !m.acct.Fits(resource.Memory, bytes) {
		return false
	}

	for _, victim := range m.evictionCandidates(self) {
		ok, err := victim.Evict(ctx)
		if err != nil {
			m.logger.Warn("eviction failed", "id", victim.id, "error", err)
			continue
		}
		if ok && m.acct.TryAcquire(resource.Memory, bytes) == nil {
			return true
		}
	}

	// Cached pages are memory too.
	m.pages.Invalidate(func(icache.CacheKey) bool { return true })
	return m.acct.TryAcquire(resource.Memory, bytes) == nil
}

func (m *Manager) evictionCandidates(self uint64) []*Store {
	m.mu.Lock()
	out := make([]*Store, 0, len(m.stores))
	for id, s := range m.stores {
		if id != self && s.windows.Load() == 0 {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	out = slices.DeleteFunc(out, func(s *Store) bool { return s.Type() != MemoryCache })
	slices.SortFunc(out, func(a, b *Store) int {
		return int(min(max(a.lastAccess.Load()-b.lastAccess.Load(), -1), 1))
	})
	return out
}

// demote opens the backing a memory store moves to on eviction.
func (m *Manager) demote(_ context.Context, s *Store) (backing, error) {
	bytes := s.geom.Bytes()
	b, err := m.openMapped(s, bytes)
	if err == nil {
		return b, nil
	}
	b, derr := m.openDisk(s, bytes)
	if derr == nil {
		return b, nil
	}
	return nil, exception.Wrap(exception.ErrResourceLimit, "CacheResourcesExhausted",
		fmt.Sprintf("store %d", s.id), errors.Join(err, derr))
}

func (m *Manager) scratchPath(s *Store) (string, error) {
	if s.persist != "" {
		return s.persist, nil
	}
	if err := m.fsys.MkdirAll(m.tempDir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(m.tempDir, "pixcache-"+uuid.NewString()+".px"), nil
}

func (m *Manager) openScratch(s *Store, bytes int64, kinds ...resource.Kind) (scratch, error) {
	if err := m.acct.TryAcquireAll(bytes, kinds...); err != nil {
		return scratch{}, err
	}
	release := func() {
		for _, k := range kinds {
			m.acct.Release(k, bytes)
		}
	}
	path, err := m.scratchPath(s)
	if err != nil {
		release()
		return scratch{}, err
	}
	f, err := openScratch(m.fsys, path, bytes, s.persist != "")
	if err != nil {
		release()
		return scratch{}, err
	}
	return scratch{fsys: m.fsys, file: f, path: path, persist: s.persist != "", acct: m.acct, kinds: kinds, bytes: bytes}, nil
}

func (m *Manager) openMapped(s *Store, bytes int64) (backing, error) {
	if bytes > int64(int(^uint(0)>>1)) {
		return nil, resource.ErrLimitExceeded
	}
	sc, err := m.openScratch(s, bytes, resource.Map, resource.Disk)
	if err != nil {
		return nil, err
	}
	b, err := newMappedBacking(s.geom, sc)
	if err != nil {
		_ = sc.close()
		return nil, err
	}
	return b, nil
}

func (m *Manager) openDisk(s *Store, bytes int64) (backing, error) {
	sc, err := m.openScratch(s, bytes, resource.Disk)
	if err != nil {
		return nil, err
	}
	return m.paged(DiskCache, s, &diskDevice{scratch: sc, geom: s.geom}), nil
}

func (m *Manager) openRemote(ctx context.Context, s *Store) (backing, error) {
	sess, err := m.remote.Open(ctx, s.geom.Columns, s.geom.Rows, s.geom.Channels())
	if err != nil {
		return nil, err
	}
	return m.paged(DistributedCache, s, &remoteDevice{sess: sess, geom: s.geom}), nil
}

func (m *Manager) paged(t Type, s *Store, dev device) *pagedBacking {
	return &pagedBacking{
		typ:      t,
		geom:     s.geom,
		dev:      dev,
		pages:    m.pages,
		owner:    s.id,
		pageRows: m.pageRows(s.geom),
	}
}

func (m *Manager) pageRows(g Geometry) int {
	row := g.Columns * g.Channels() * pixel.SampleSize
	return max(1, m.pageBytes/max(row, 1))
}

func (m *Manager) evicted(s *Store, from, to Type) {
	bytes := s.geom.Bytes()
	m.observer.OnCacheEvict(from, to, bytes)
	m.logger.Debug("pixel cache evicted", "id", s.id, "from", from.String(), "to", to.String(), "bytes", humanize.IBytes(uint64(bytes)))
}

func (m *Manager) forget(s *Store) {
	m.mu.Lock()
	delete(m.stores, s.id)
	m.mu.Unlock()
	m.logger.Debug("pixel cache closed", "id", s.id)
}

// Stores returns the number of open stores.
func (m *Manager) Stores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// PageCacheStats returns page cache hits and misses.
func (m *Manager) PageCacheStats() (hits, misses int64) { return m.pages.Stats() }

// Close closes every open store and empties the page cache.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Store, 0, len(m.stores))
	for _, s := range m.stores {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.pages.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
