package cache

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/internal/fs"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/hupe1980/pixcache/pixel"
)

var rgb = pixel.NewLayout(pixel.SRGB, false, false)

func geometry(columns, rows int) Geometry {
	return Geometry{Columns: columns, Rows: rows, Layout: rgb}
}

func newTestManager(t *testing.T, cfg resource.Config, opts ...Option) (*Manager, *resource.Accountant) {
	t.Helper()
	acct := resource.NewAccountant(cfg)
	opts = append([]Option{WithTempDir(t.TempDir())}, opts...)
	m := NewManager(acct, opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, acct
}

func forceType(t Type) func(*AcquireOptions) {
	return func(o *AcquireOptions) { o.Type = t }
}

func pattern(g Geometry, seed int) []pixel.Quantum {
	pix := make([]pixel.Quantum, g.Columns*g.Rows*g.Channels())
	for i := range pix {
		pix[i] = pixel.Quantum((i*131 + seed*7919) % 65536)
	}
	return pix
}

func reason(err error) string {
	var e *exception.Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func TestManager_AcquireMemory(t *testing.T) {
	ctx := t.Context()
	m, acct := newTestManager(t, resource.Config{})

	s, err := m.Acquire(ctx, geometry(10, 10))
	require.NoError(t, err)
	assert.Equal(t, MemoryCache, s.Type())
	assert.Equal(t, int64(600), acct.Usage(resource.Memory))
	assert.Equal(t, 1, m.Stores())

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int64(0), acct.Usage(resource.Memory))
	assert.Equal(t, UndefinedCache, s.Type())
	assert.Equal(t, 0, m.Stores())
	require.NoError(t, s.Close(ctx))
}

func TestManager_InvalidGeometry(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{WidthLimit: 100})

	_, err := m.Acquire(ctx, geometry(0, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrCache))

	_, err = m.Acquire(ctx, geometry(101, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrResourceLimit))
	assert.Equal(t, "WidthOrHeightExceedsLimit", reason(err))
}

func TestManager_SelectionOrder(t *testing.T) {
	tests := []struct {
		name string
		cfg  resource.Config
		want Type
	}{
		{"memory", resource.Config{}, MemoryCache},
		{"map", resource.Config{MemoryLimitBytes: 100}, MapCache},
		{"disk", resource.Config{MemoryLimitBytes: 100, MapLimitBytes: 100}, DiskCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			m, acct := newTestManager(t, tt.cfg)

			s, err := m.Acquire(ctx, geometry(10, 10))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Type())

			switch tt.want {
			case MapCache:
				assert.Equal(t, int64(600), acct.Usage(resource.Map))
				assert.Equal(t, int64(600), acct.Usage(resource.Disk))
			case DiskCache:
				assert.Equal(t, int64(0), acct.Usage(resource.Map))
				assert.Equal(t, int64(600), acct.Usage(resource.Disk))
			}

			require.NoError(t, s.Close(ctx))
			assert.Equal(t, resource.Snapshot{
				MemoryLimit: tt.cfg.MemoryLimitBytes,
				MapLimit:    tt.cfg.MapLimitBytes,
			}, acct.Snapshot())
		})
	}
}

func TestManager_ResourcesExhausted(t *testing.T) {
	ctx := t.Context()
	m, acct := newTestManager(t, resource.Config{MemoryLimitBytes: 100, MapLimitBytes: 100, DiskLimitBytes: 100})

	_, err := m.Acquire(ctx, geometry(10, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrResourceLimit))
	assert.Equal(t, "CacheResourcesExhausted", reason(err))
	assert.Equal(t, int64(0), acct.Usage(resource.Disk))
	assert.Equal(t, 0, m.Stores())
}

func TestManager_DiskFull(t *testing.T) {
	ctx := t.Context()
	faulty := fs.NewFaultyFS(nil)
	faulty.SetLimit(100)
	m, acct := newTestManager(t, resource.Config{MemoryLimitBytes: 100}, WithFileSystem(faulty))

	_, err := m.Acquire(ctx, geometry(10, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrResourceLimit))
	assert.True(t, errors.Is(err, fs.ErrInjected))
	assert.Equal(t, int64(0), acct.Usage(resource.Map))
	assert.Equal(t, int64(0), acct.Usage(resource.Disk))

	entries, err := os.ReadDir(m.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed scratch files are removed")
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := t.Context()
	m, acct := newTestManager(t, resource.Config{MemoryLimitBytes: 1200})
	g := geometry(10, 10)

	a, err := m.Acquire(ctx, g)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, g)
	require.NoError(t, err)

	want := pattern(g, 3)
	require.NoError(t, b.WriteRows(ctx, 0, g.Rows, want))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, a.ReadRows(ctx, 0, 1, make([]pixel.Quantum, 30)))

	c, err := m.Acquire(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, MemoryCache, a.Type())
	assert.Equal(t, MapCache, b.Type())
	assert.Equal(t, MemoryCache, c.Type())
	assert.Equal(t, uint64(1), b.Generation())
	assert.Equal(t, int64(1200), acct.Usage(resource.Memory))

	got := make([]pixel.Quantum, len(want))
	require.NoError(t, b.ReadRows(ctx, 0, g.Rows, got))
	assert.Equal(t, want, got)
}

func TestManager_EvictionSkipsStoresInUse(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{MemoryLimitBytes: 1200})
	g := geometry(10, 10)

	a, err := m.Acquire(ctx, g)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Acquire(ctx, g)
	require.NoError(t, err)

	w, err := a.OpenWindow(Rect(0, 0, 10, 10), Virtual)
	require.NoError(t, err)
	defer func() { _ = w.Close(ctx) }()

	_, err = m.Acquire(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, MemoryCache, a.Type())
	assert.Equal(t, MapCache, b.Type())
}

func TestStore_RowTransfer(t *testing.T) {
	for _, typ := range []Type{MemoryCache, MapCache, DiskCache} {
		t.Run(typ.String(), func(t *testing.T) {
			ctx := t.Context()
			m, _ := newTestManager(t, resource.Config{}, WithPageSize(64))
			g := geometry(7, 5)

			s, err := m.Acquire(ctx, g, forceType(typ))
			require.NoError(t, err)
			require.Equal(t, typ, s.Type())

			want := pattern(g, 1)
			require.NoError(t, s.WriteRows(ctx, 0, g.Rows, want))
			assert.Equal(t, 5, s.DirtyRows())

			got := make([]pixel.Quantum, len(want))
			require.NoError(t, s.ReadRows(ctx, 0, g.Rows, got))
			assert.Equal(t, want, got)

			// Overwrite a 2x2 block and read a region straddling it.
			patch := []pixel.Quantum{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4}
			require.NoError(t, s.WriteRegion(ctx, Rect(3, 2, 2, 2), patch))
			region := make([]pixel.Quantum, 3*3*3)
			require.NoError(t, s.ReadRegion(ctx, Rect(2, 1, 3, 3), region))
			assert.Equal(t, []pixel.Quantum{1, 1, 1, 2, 2, 2}, region[3*3+3:3*3+9])
			assert.Equal(t, []pixel.Quantum{3, 3, 3, 4, 4, 4}, region[6*3+3:6*3+9])
			assert.Equal(t, want[(1*7+2)*3:(1*7+5)*3], region[:9])

			require.NoError(t, s.Sync(ctx))
			assert.Equal(t, 0, s.DirtyRows())
		})
	}
}

func TestRegion_Inside(t *testing.T) {
	tests := []struct {
		r    Region
		want bool
	}{
		{Rect(0, 0, 8, 8), true},
		{Rect(7, 7, 1, 1), true},
		{Rect(8, 0, 0, 1), true},
		{Rect(7, 0, 2, 1), false},
		{Rect(-1, 0, 1, 1), false},
		{Rect(0, 0, -1, 1), false},
		{Rect(math.MaxInt-5, 0, 10, 1), false},
		{Rect(0, math.MaxInt-5, 1, 10), false},
		{Rect(1, 0, math.MaxInt, 1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.r.Inside(8, 8), tt.r.String())
	}
}

func TestStore_RegionChecks(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{})
	s, err := m.Acquire(ctx, geometry(4, 4))
	require.NoError(t, err)

	err = s.ReadRegion(ctx, Rect(2, 2, 3, 1), make([]pixel.Quantum, 9))
	assert.True(t, errors.Is(err, exception.ErrCache))

	err = s.ReadRegion(ctx, Rect(0, 0, 0, 1), nil)
	assert.True(t, errors.Is(err, exception.ErrCache))

	// Coordinates near the int limit must not wrap into range.
	buf := make([]pixel.Quantum, 30)
	err = s.ReadRegion(ctx, Rect(math.MaxInt-5, 0, 10, 1), buf)
	assert.Equal(t, "PixelsAreNotAuthentic", reason(err))
	err = s.WriteRegion(ctx, Rect(0, math.MaxInt-5, 1, 10), buf)
	assert.Equal(t, "PixelsAreNotAuthentic", reason(err))
	_, err = s.OpenWindow(Rect(math.MaxInt-1, 0, 2, 1), Authentic)
	assert.True(t, errors.Is(err, exception.ErrCache))

	err = s.WriteRows(ctx, 0, 1, make([]pixel.Quantum, 3))
	assert.True(t, errors.Is(err, exception.ErrCache))

	require.NoError(t, s.Close(ctx))
	err = s.ReadRows(ctx, 0, 1, make([]pixel.Quantum, 12))
	assert.Equal(t, "PixelCacheIsNotOpen", reason(err))
}

func TestStore_DiskPageCache(t *testing.T) {
	ctx := t.Context()
	g := geometry(8, 8)
	rowBytes := g.Columns * g.Channels() * pixel.SampleSize
	m, acct := newTestManager(t, resource.Config{}, WithPageSize(2*rowBytes))

	s, err := m.Acquire(ctx, g, forceType(DiskCache))
	require.NoError(t, err)
	want := pattern(g, 9)
	require.NoError(t, s.WriteRows(ctx, 0, g.Rows, want))

	got := make([]pixel.Quantum, 2*g.Columns*g.Channels())
	require.NoError(t, s.ReadRows(ctx, 2, 2, got))
	require.NoError(t, s.ReadRows(ctx, 2, 2, got))
	hits, misses := m.PageCacheStats()
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2*rowBytes), acct.Usage(resource.Memory))

	// Writes patch cached pages.
	row := make([]pixel.Quantum, g.Columns*g.Channels())
	require.NoError(t, s.WriteRows(ctx, 3, 1, row))
	require.NoError(t, s.ReadRows(ctx, 2, 2, got))
	assert.Equal(t, want[2*len(row):3*len(row)], got[:len(row)])
	assert.Equal(t, row, got[len(row):])

	ok, err := s.Evict(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), acct.Usage(resource.Memory))
	assert.Equal(t, 0, s.DirtyRows())
}

func TestStore_EvictRefusedWithAuthenticWindow(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{})
	s, err := m.Acquire(ctx, geometry(4, 4))
	require.NoError(t, err)

	w, err := s.OpenWindow(Rect(0, 0, 4, 1), Authentic)
	require.NoError(t, err)

	ok, err := s.Evict(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, MemoryCache, s.Type())

	require.NoError(t, w.Close(ctx))
	ok, err = s.Evict(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, MapCache, s.Type())
}

func TestStore_Clone(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{}, WithPageSize(1))
	g := geometry(5, 6)

	s, err := m.Acquire(ctx, g)
	require.NoError(t, err)
	s.SetVirtualPixelMethod(TileVirtualPixel)
	want := pattern(g, 4)
	require.NoError(t, s.WriteRows(ctx, 0, g.Rows, want))

	c, err := s.Clone(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), c.ID())
	assert.Equal(t, TileVirtualPixel, c.VirtualPixelMethod())

	got := make([]pixel.Quantum, len(want))
	require.NoError(t, c.ReadRows(ctx, 0, g.Rows, got))
	assert.Equal(t, want, got)
}

func TestStore_Persist(t *testing.T) {
	ctx := t.Context()
	m, _ := newTestManager(t, resource.Config{})
	g := geometry(6, 3)
	path := filepath.Join(t.TempDir(), "persist.px")
	persist := func(o *AcquireOptions) { o.Persist = path }

	s, err := m.Acquire(ctx, g, persist)
	require.NoError(t, err)
	assert.True(t, s.Persistent())
	assert.Equal(t, MapCache, s.Type())
	want := pattern(g, 2)
	require.NoError(t, s.WriteRows(ctx, 0, g.Rows, want))
	require.NoError(t, s.Close(ctx))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, g.Bytes(), fi.Size())

	s, err = m.Acquire(ctx, g, persist)
	require.NoError(t, err)
	got := make([]pixel.Quantum, len(want))
	require.NoError(t, s.ReadRows(ctx, 0, g.Rows, got))
	assert.Equal(t, want, got)
}

// memRemote is an in-process Remote.
type memRemote struct {
	mu       sync.Mutex
	sessions int
}

type memSession struct {
	remote *memRemote
	store  *Store
}

func (r *memRemote) Open(ctx context.Context, columns, rows, channels int) (RemoteSession, error) {
	l := pixel.NewLayout(pixel.SRGB, channels > 3, false)
	s, err := NewManager(nil).Acquire(ctx, Geometry{Columns: columns, Rows: rows, Layout: l})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()
	return &memSession{remote: r, store: s}, nil
}

func (s *memSession) ReadRegion(ctx context.Context, r Region, dst []pixel.Quantum) error {
	return s.store.ReadRegion(ctx, r, dst)
}

func (s *memSession) WriteRegion(ctx context.Context, r Region, src []pixel.Quantum) error {
	return s.store.WriteRegion(ctx, r, src)
}

func (s *memSession) Close(ctx context.Context) error {
	s.remote.mu.Lock()
	s.remote.sessions--
	s.remote.mu.Unlock()
	return s.store.Close(ctx)
}

func TestManager_RemoteLastResort(t *testing.T) {
	ctx := t.Context()
	remote := &memRemote{}
	m, _ := newTestManager(t, resource.Config{MemoryLimitBytes: 10, MapLimitBytes: 10, DiskLimitBytes: 10}, WithRemote(remote))
	g := geometry(4, 4)

	s, err := m.Acquire(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, DistributedCache, s.Type())
	assert.Equal(t, 1, remote.sessions)

	want := pattern(g, 5)
	require.NoError(t, s.WriteRows(ctx, 0, g.Rows, want))
	got := make([]pixel.Quantum, len(want))
	require.NoError(t, s.ReadRows(ctx, 0, g.Rows, got))
	assert.Equal(t, want, got)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 0, remote.sessions)
}

type countingObserver struct {
	opens, evictions int
}

func (o *countingObserver) OnCacheOpen(Type, int64)        { o.opens++ }
func (o *countingObserver) OnCacheEvict(Type, Type, int64) { o.evictions++ }

func TestManager_Observer(t *testing.T) {
	ctx := t.Context()
	obs := &countingObserver{}
	m, _ := newTestManager(t, resource.Config{}, WithObserver(obs))

	s, err := m.Acquire(ctx, geometry(2, 2))
	require.NoError(t, err)
	_, err = s.Evict(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.opens)
	assert.Equal(t, 1, obs.evictions)
}
