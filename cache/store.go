package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// Store is one image's pixel cache. Its backing (memory, mapped file, disk
// file or remote session) is chosen by the Manager and may be replaced by
// eviction; Generation changes whenever that happens.
//
// Transfers are safe for concurrent use. Authentic writers must keep to
// disjoint rows.
type Store struct {
	id      uint64
	mgr     *Manager
	geom    Geometry
	persist string

	mu      sync.RWMutex
	backing backing

	generation atomic.Uint64
	lastAccess atomic.Int64
	windows    atomic.Int32
	authentic  atomic.Int32

	dirtyMu sync.Mutex
	dirty   *roaring.Bitmap

	settingsMu sync.RWMutex
	method     VirtualPixelMethod
	background pixel.Color
	rng        *lockedRand
}

// ID returns the manager-unique id of the store.
func (s *Store) ID() uint64 { return s.id }

// Geometry returns the columns, rows and channel layout.
func (s *Store) Geometry() Geometry { return s.geom }

// Columns returns the image width.
func (s *Store) Columns() int { return s.geom.Columns }

// Rows returns the image height.
func (s *Store) Rows() int { return s.geom.Rows }

// Layout returns the channel layout.
func (s *Store) Layout() pixel.Layout { return s.geom.Layout }

// Type returns the current backing type (UndefinedCache once closed).
func (s *Store) Type() Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backing == nil {
		return UndefinedCache
	}
	return s.backing.kind()
}

// Generation returns the backing generation.
func (s *Store) Generation() uint64 { return s.generation.Load() }

// LastAccess returns the time of the most recent transfer.
func (s *Store) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// Persistent reports whether the store lives in a named file kept on close.
func (s *Store) Persistent() bool { return s.persist != "" }

// OpenWindows returns the number of open windows.
func (s *Store) OpenWindows() int { return int(s.windows.Load()) }

// SetVirtualPixelMethod sets the method used by virtual windows opened
// afterwards.
func (s *Store) SetVirtualPixelMethod(m VirtualPixelMethod) {
	s.settingsMu.Lock()
	s.method = m
	s.settingsMu.Unlock()
}

// VirtualPixelMethod returns the current method.
func (s *Store) VirtualPixelMethod() VirtualPixelMethod {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.method
}

// SetBackground sets the substitute color of background-like methods.
func (s *Store) SetBackground(c pixel.Color) {
	s.settingsMu.Lock()
	s.background = c
	s.settingsMu.Unlock()
}

// Background returns the background color.
func (s *Store) Background() pixel.Color {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.background
}

// Resolver returns a snapshot of the store's virtual pixel settings.
func (s *Store) Resolver() *Resolver {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return &Resolver{
		method:     s.method,
		columns:    s.geom.Columns,
		rows:       s.geom.Rows,
		background: s.background,
		rng:        s.rng,
	}
}

func (s *Store) touch() { s.lastAccess.Store(time.Now().UnixNano()) }

func (s *Store) check(r Region, have int) error {
	if r.Empty() {
		return cacheError("NoPixelsDefinedInCache", r.String())
	}
	if !r.Inside(s.geom.Columns, s.geom.Rows) {
		return cacheError("PixelsAreNotAuthentic", r.String())
	}
	if need := s.geom.Samples(r); have < need {
		return cacheError("UnableToGetPixelsFromCache", fmt.Sprintf("buffer holds %d of %d samples", have, need))
	}
	return nil
}

func (s *Store) closedError() error {
	return cacheError("PixelCacheIsNotOpen", fmt.Sprintf("store %d", s.id))
}

// ReadRows copies count whole rows starting at y0 into dst.
func (s *Store) ReadRows(ctx context.Context, y0, count int, dst []pixel.Quantum) error {
	return s.ReadRegion(ctx, Rect(0, y0, s.geom.Columns, count), dst)
}

// WriteRows copies count whole rows from src starting at y0.
func (s *Store) WriteRows(ctx context.Context, y0, count int, src []pixel.Quantum) error {
	return s.WriteRegion(ctx, Rect(0, y0, s.geom.Columns, count), src)
}

// ReadRegion copies the pixels of r into dst.
func (s *Store) ReadRegion(ctx context.Context, r Region, dst []pixel.Quantum) error {
	if err := s.check(r, len(dst)); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(ctx, r, dst)
}

func (s *Store) readLocked(ctx context.Context, r Region, dst []pixel.Quantum) error {
	if s.backing == nil {
		return s.closedError()
	}
	s.touch()
	if err := s.backing.read(ctx, r, dst); err != nil {
		return exception.Wrap(exception.ErrCache, "UnableToReadPixelCache", r.String(), err)
	}
	return nil
}

// WriteRegion copies src into the pixels of r.
func (s *Store) WriteRegion(ctx context.Context, r Region, src []pixel.Quantum) error {
	if err := s.check(r, len(src)); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backing == nil {
		return s.closedError()
	}
	s.touch()
	if err := s.backing.write(ctx, r, src); err != nil {
		return exception.Wrap(exception.ErrCache, "UnableToWritePixelCache", r.String(), err)
	}
	s.markDirty(r.Y, r.Height)
	return nil
}

// view returns a zero-copy slice for full-width regions of directly
// addressable backings, nil otherwise. The caller holds s.mu.
func (s *Store) view(r Region) []pixel.Quantum {
	if s.backing == nil || r.X != 0 || r.Width != s.geom.Columns || !r.Inside(s.geom.Columns, s.geom.Rows) {
		return nil
	}
	pix := s.backing.direct()
	if pix == nil {
		return nil
	}
	stride := s.geom.Columns * s.geom.Channels()
	return pix[r.Y*stride : (r.Y+r.Height)*stride : (r.Y+r.Height)*stride]
}

func (s *Store) markDirty(y0, count int) {
	s.dirtyMu.Lock()
	s.dirty.AddRange(uint64(y0), uint64(y0+count))
	s.dirtyMu.Unlock()
}

// DirtyRows returns the number of rows written since the last Sync.
func (s *Store) DirtyRows() int {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	return int(s.dirty.GetCardinality())
}

// Sync flushes written rows to the backing's storage (msync for mapped
// files, fsync for disk files) and clears the dirty set.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	if s.backing == nil {
		return s.closedError()
	}
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	if s.dirty.IsEmpty() {
		return nil
	}
	if err := s.backing.sync(ctx); err != nil {
		return exception.Wrap(exception.ErrCache, "UnableToSyncPixelCache", fmt.Sprintf("store %d", s.id), err)
	}
	s.dirty.Clear()
	return nil
}

// Evict reduces the store's memory footprint. It refuses (false) while an
// authentic window is open or after Close.
//
// Memory stores are demoted to a mapped or disk scratch file and the
// generation is bumped. Mapped and disk stores are flushed and drop their
// resident pages; distributed stores drop cached pages.
func (s *Store) Evict(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backing == nil || s.authentic.Load() > 0 {
		return false, nil
	}

	old := s.backing
	switch old.kind() {
	case MemoryCache:
		nb, err := s.mgr.demote(ctx, s)
		if err != nil {
			return false, err
		}
		whole := Rect(0, 0, s.geom.Columns, s.geom.Rows)
		if pix := nb.direct(); pix != nil {
			copy(pix, old.direct())
		} else if err := nb.write(ctx, whole, old.direct()); err != nil {
			_ = nb.close(ctx)
			return false, exception.Wrap(exception.ErrCache, "UnableToWritePixelCache", whole.String(), err)
		}
		_ = old.close(ctx)
		s.backing = nb
		s.generation.Add(1)
		s.mgr.evicted(s, MemoryCache, nb.kind())
	case MapCache, DiskCache:
		if err := s.syncLocked(ctx); err != nil {
			return false, err
		}
		old.release()
		s.mgr.evicted(s, old.kind(), old.kind())
	default:
		old.release()
		s.mgr.evicted(s, old.kind(), old.kind())
	}
	return true, nil
}

// Clone acquires a new store with the same geometry and settings through
// the manager and copies the pixels page by page.
func (s *Store) Clone(ctx context.Context) (*Store, error) {
	c, err := s.mgr.Acquire(ctx, s.geom)
	if err != nil {
		return nil, err
	}
	s.settingsMu.RLock()
	c.method, c.background = s.method, s.background
	s.settingsMu.RUnlock()

	step := s.mgr.pageRows(s.geom)
	buf := make([]pixel.Quantum, step*s.geom.Columns*s.geom.Channels())
	for y := 0; y < s.geom.Rows; y += step {
		n := min(step, s.geom.Rows-y)
		chunk := buf[:n*s.geom.Columns*s.geom.Channels()]
		if err := s.ReadRows(ctx, y, n, chunk); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		if err := c.WriteRows(ctx, y, n, chunk); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}
	return c, nil
}

// Close relinquishes the backing and its resource reservations. Persistent
// files are flushed and kept. Close is idempotent.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	b := s.backing
	s.backing = nil
	var err error
	if b != nil {
		if s.persist != "" {
			err = b.sync(ctx)
		}
		if cerr := b.close(ctx); err == nil {
			err = cerr
		}
		s.generation.Add(1)
	}
	s.mu.Unlock()

	if b != nil {
		s.mgr.forget(s)
	}
	return err
}
