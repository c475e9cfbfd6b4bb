package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/hupe1980/pixcache/pixel"
)

var gray = pixel.NewLayout(pixel.GrayColorspace, false, false)

// grayStore returns a 3x3 gray store holding 1..9 in row-major order.
func grayStore(t *testing.T, typ Type) *Store {
	t.Helper()
	m, _ := newTestManager(t, resource.Config{}, WithPageSize(1))
	s, err := m.Acquire(t.Context(), Geometry{Columns: 3, Rows: 3, Layout: gray}, forceType(typ))
	require.NoError(t, err)
	require.NoError(t, s.WriteRows(t.Context(), 0, 3, []pixel.Quantum{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	return s
}

func TestWindow_VirtualEdge(t *testing.T) {
	for _, typ := range []Type{MemoryCache, DiskCache} {
		t.Run(typ.String(), func(t *testing.T) {
			ctx := t.Context()
			s := grayStore(t, typ)

			w, err := s.OpenWindow(Rect(-1, -1, 5, 2), Virtual)
			require.NoError(t, err)
			defer func() { _ = w.Close(ctx) }()

			pix, err := w.Pixels(ctx)
			require.NoError(t, err)
			assert.Equal(t, []pixel.Quantum{
				1, 1, 2, 3, 3,
				1, 1, 2, 3, 3,
			}, pix)
		})
	}
}

func TestWindow_VirtualTileAndBackground(t *testing.T) {
	ctx := t.Context()
	s := grayStore(t, MemoryCache)

	s.SetVirtualPixelMethod(TileVirtualPixel)
	w, err := s.OpenWindow(Rect(2, 2, 2, 2), Virtual)
	require.NoError(t, err)
	pix, err := w.Pixels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pixel.Quantum{9, 7, 3, 1}, pix)
	require.NoError(t, w.Close(ctx))

	s.SetVirtualPixelMethod(BackgroundVirtualPixel)
	s.SetBackground(pixel.Color{Red: 42, Alpha: pixel.QuantumRange})
	w, err = s.OpenWindow(Rect(2, 2, 2, 2), Virtual)
	require.NoError(t, err)
	pix, err = w.Pixels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pixel.Quantum{9, 42, 42, 42}, pix)
	require.NoError(t, w.Close(ctx))
}

func TestWindow_ZeroCopy(t *testing.T) {
	ctx := t.Context()
	s := grayStore(t, MemoryCache)

	w1, err := s.OpenWindow(Rect(0, 1, 3, 2), Virtual)
	require.NoError(t, err)
	w2, err := s.OpenWindow(Rect(0, 1, 3, 2), Virtual)
	require.NoError(t, err)

	p1, err := w1.Pixels(ctx)
	require.NoError(t, err)
	p2, err := w2.Pixels(ctx)
	require.NoError(t, err)
	assert.Same(t, &p1[0], &p2[0])
	assert.Equal(t, 2, s.OpenWindows())

	require.NoError(t, w1.Close(ctx))
	require.NoError(t, w2.Close(ctx))
	assert.Equal(t, 0, s.OpenWindows())
}

func TestWindow_AuthenticWriteBack(t *testing.T) {
	for _, typ := range []Type{MemoryCache, MapCache, DiskCache} {
		t.Run(typ.String(), func(t *testing.T) {
			ctx := t.Context()
			s := grayStore(t, typ)
			require.NoError(t, s.Sync(ctx))

			// Partial-width windows never alias.
			w, err := s.OpenWindow(Rect(1, 1, 2, 1), Authentic)
			require.NoError(t, err)
			buf, err := w.Buffer()
			require.NoError(t, err)
			assert.Equal(t, []pixel.Quantum{0, 0}, buf)
			buf[0], buf[1] = 50, 60
			require.NoError(t, w.Close(ctx))

			// Full-width windows read current pixels.
			w, err = s.OpenWindow(Rect(0, 2, 3, 1), Authentic)
			require.NoError(t, err)
			pix, err := w.Pixels(ctx)
			require.NoError(t, err)
			assert.Equal(t, []pixel.Quantum{7, 8, 9}, pix)
			pix[2] = 90
			require.NoError(t, w.Close(ctx))

			got := make([]pixel.Quantum, 9)
			require.NoError(t, s.ReadRows(ctx, 0, 3, got))
			assert.Equal(t, []pixel.Quantum{1, 2, 3, 4, 50, 60, 7, 8, 90}, got)
			assert.Equal(t, 2, s.DirtyRows())
		})
	}
}

func TestWindow_OpenErrors(t *testing.T) {
	s := grayStore(t, MemoryCache)

	_, err := s.OpenWindow(Rect(0, 0, 0, 3), Virtual)
	assert.True(t, errors.Is(err, exception.ErrCache))

	_, err = s.OpenWindow(Rect(-1, 0, 2, 2), Authentic)
	assert.True(t, errors.Is(err, exception.ErrCache))

	w, err := s.OpenWindow(Rect(-1, 0, 2, 2), Virtual)
	require.NoError(t, err)
	_, err = w.Buffer()
	assert.True(t, errors.Is(err, exception.ErrCache))
	require.NoError(t, w.Close(t.Context()))
}

func TestWindow_StaleAfterEviction(t *testing.T) {
	ctx := t.Context()
	s := grayStore(t, MemoryCache)

	w, err := s.OpenWindow(Rect(0, 0, 3, 3), Virtual)
	require.NoError(t, err)
	defer func() { _ = w.Close(ctx) }()

	ok, err := s.Evict(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, w.Stale())
	_, err = w.Pixels(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleWindow))
	assert.True(t, errors.Is(err, exception.ErrCache))

	require.NoError(t, w.Reopen())
	pix, err := w.Pixels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pixel.Quantum{1, 2, 3, 4, 5, 6, 7, 8, 9}, pix)
}
