package cache

import (
	"context"

	"github.com/hupe1980/pixcache/pixel"
)

// Window is a short-lived view of a region of a Store.
//
// Virtual windows are read-only and may extend outside the image; pixels
// outside are produced by the store's VirtualPixelResolver. Authentic
// windows are read-write, must lie inside the image and write their buffer
// back on Close. A Window is not safe for concurrent use.
type Window struct {
	store  *Store
	region Region
	mode   Mode
	gen    uint64
	res    *Resolver

	buf    []pixel.Quantum
	loaded bool
	alias  bool
	closed bool
}

// OpenWindow opens a window on r. Nothing is copied until Pixels or Buffer
// is called.
func (s *Store) OpenWindow(r Region, mode Mode) (*Window, error) {
	if r.Empty() {
		return nil, cacheError("NoPixelsDefinedInCache", r.String())
	}
	if mode == Authentic && !r.Inside(s.geom.Columns, s.geom.Rows) {
		return nil, cacheError("PixelsAreNotAuthentic", r.String())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backing == nil {
		return nil, s.closedError()
	}

	w := &Window{store: s, region: r, mode: mode, gen: s.generation.Load()}
	if mode == Virtual {
		w.res = s.Resolver()
	}
	s.windows.Add(1)
	if mode == Authentic {
		s.authentic.Add(1)
	}
	return w, nil
}

// Region returns the window's region.
func (w *Window) Region() Region { return w.region }

// Mode returns the window's mode.
func (w *Window) Mode() Mode { return w.mode }

// Stale reports whether the store replaced its backing since the window
// was opened.
func (w *Window) Stale() bool { return w.store.generation.Load() != w.gen }

func (w *Window) usable() error {
	if w.closed {
		return cacheError("PixelCacheIsNotOpen", "window closed")
	}
	if w.Stale() {
		return staleError(w.region)
	}
	return nil
}

// Pixels returns the region's samples in row-major order, NumChannels per
// pixel. In-bounds full-width regions of memory and mapped stores are
// returned without copying.
//
// For authentic windows the returned slice is the write buffer.
func (w *Window) Pixels(ctx context.Context) ([]pixel.Quantum, error) {
	if err := w.usable(); err != nil {
		return nil, err
	}
	if w.mode == Authentic && w.loaded {
		return w.buf, nil
	}

	s := w.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.generation.Load() != w.gen {
		return nil, staleError(w.region)
	}

	if v := s.view(w.region); v != nil {
		s.touch()
		w.buf, w.alias, w.loaded = v, true, true
		return v, nil
	}

	w.ensure()
	if w.region.Inside(s.geom.Columns, s.geom.Rows) {
		if err := s.readLocked(ctx, w.region, w.buf); err != nil {
			return nil, err
		}
	} else if err := w.resolve(ctx); err != nil {
		return nil, err
	}
	w.loaded = true
	return w.buf, nil
}

func (w *Window) ensure() {
	need := w.store.geom.Samples(w.region)
	if w.alias || cap(w.buf) < need {
		w.buf = make([]pixel.Quantum, need)
		w.alias = false
	}
	w.buf = w.buf[:need]
}

// resolve fills a virtual window that extends outside the image. The
// caller holds the store's read lock.
func (w *Window) resolve(ctx context.Context) error {
	s := w.store
	g := s.geom
	n := g.Channels()
	stride := g.Columns * n
	r := w.region

	pix := s.backing.direct()
	rows := make(map[int][]pixel.Quantum)
	row := func(y int) ([]pixel.Quantum, error) {
		if pix != nil {
			return pix[y*stride : (y+1)*stride], nil
		}
		if cached, ok := rows[y]; ok {
			return cached, nil
		}
		buf := make([]pixel.Quantum, stride)
		if err := s.readLocked(ctx, Rect(0, y, g.Columns, 1), buf); err != nil {
			return nil, err
		}
		rows[y] = buf
		return buf, nil
	}

	for v := 0; v < r.Height; v++ {
		y := r.Y + v
		out := w.buf[v*r.Width*n : (v+1)*r.Width*n]
		for u := 0; u < r.Width; {
			x := r.X + u
			if y >= 0 && y < g.Rows && x >= 0 && x < g.Columns {
				span := min(g.Columns-x, r.Width-u)
				src, err := row(y)
				if err != nil {
					return err
				}
				copy(out[u*n:(u+span)*n], src[x*n:(x+span)*n])
				u += span
				continue
			}
			dst := out[u*n : (u+1)*n]
			res := w.res.Resolve(x, y)
			if res.Substitute {
				res.Color.Store(dst, g.Layout)
			} else {
				src, err := row(res.Y)
				if err != nil {
					return err
				}
				copy(dst, src[res.X*n:(res.X+1)*n])
			}
			u++
		}
	}
	s.touch()
	return nil
}

// Buffer returns the authentic window's write buffer without reading the
// current pixels. Unwritten samples are zero unless the buffer aliases the
// store.
func (w *Window) Buffer() ([]pixel.Quantum, error) {
	if w.mode != Authentic {
		return nil, cacheError("PixelsAreNotAuthentic", w.region.String())
	}
	if err := w.usable(); err != nil {
		return nil, err
	}
	if w.buf != nil {
		return w.buf, nil
	}

	s := w.store
	s.mu.RLock()
	v := s.view(w.region)
	s.mu.RUnlock()
	if v != nil {
		w.buf, w.alias = v, true
	} else {
		w.ensure()
	}
	w.loaded = true
	return w.buf, nil
}

// Close releases the window. Authentic windows write their buffer back and
// mark the rows dirty. Close is idempotent.
func (w *Window) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	s := w.store
	s.windows.Add(-1)
	if w.mode != Authentic {
		return nil
	}
	defer s.authentic.Add(-1)

	if w.buf == nil {
		return nil
	}
	if w.Stale() {
		return staleError(w.region)
	}
	if w.alias {
		s.touch()
		s.markDirty(w.region.Y, w.region.Height)
		return nil
	}
	return s.WriteRegion(ctx, w.region, w.buf)
}

// Reopen re-resolves a stale window against the store's current backing.
// Pending writes of an authentic window are kept and written on Close.
func (w *Window) Reopen() error {
	if w.closed {
		return cacheError("PixelCacheIsNotOpen", "window closed")
	}
	s := w.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backing == nil {
		return s.closedError()
	}
	w.gen = s.generation.Load()
	if w.mode == Virtual {
		w.res = s.Resolver()
		w.loaded = false
	}
	if w.alias {
		// The old alias points at the replaced backing; detach it.
		w.buf = append([]pixel.Quantum(nil), w.buf...)
		w.alias = false
		if w.mode == Authentic {
			w.loaded = true
		}
	}
	return nil
}
