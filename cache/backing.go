package cache

import (
	"context"
	"errors"
	"os"

	icache "github.com/hupe1980/pixcache/internal/cache"
	"github.com/hupe1980/pixcache/internal/fs"
	"github.com/hupe1980/pixcache/internal/mmap"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/hupe1980/pixcache/pixel"
)

// backing holds the pixels of one Store. Transfers are bounds-checked by
// the Store before they reach a backing.
type backing interface {
	kind() Type
	// direct returns the whole pixel buffer when it is addressable in
	// process memory, nil otherwise.
	direct() []pixel.Quantum
	read(ctx context.Context, r Region, dst []pixel.Quantum) error
	write(ctx context.Context, r Region, src []pixel.Quantum) error
	sync(ctx context.Context) error
	// release drops cached pages or resident memory without losing pixels.
	release()
	close(ctx context.Context) error
}

func copyOut(pix []pixel.Quantum, g Geometry, r Region, dst []pixel.Quantum) {
	n := g.Channels()
	stride := g.Columns * n
	span := r.Width * n
	if r.X == 0 && r.Width == g.Columns {
		copy(dst[:span*r.Height], pix[r.Y*stride:(r.Y+r.Height)*stride])
		return
	}
	for row := 0; row < r.Height; row++ {
		off := (r.Y+row)*stride + r.X*n
		copy(dst[row*span:(row+1)*span], pix[off:off+span])
	}
}

func copyIn(pix []pixel.Quantum, g Geometry, r Region, src []pixel.Quantum) {
	n := g.Channels()
	stride := g.Columns * n
	span := r.Width * n
	if r.X == 0 && r.Width == g.Columns {
		copy(pix[r.Y*stride:(r.Y+r.Height)*stride], src[:span*r.Height])
		return
	}
	for row := 0; row < r.Height; row++ {
		off := (r.Y+row)*stride + r.X*n
		copy(pix[off:off+span], src[row*span:(row+1)*span])
	}
}

// memoryBacking keeps pixels on the Go heap.
type memoryBacking struct {
	geom  Geometry
	pix   []pixel.Quantum
	acct  *resource.Accountant
	bytes int64
}

func newMemoryBacking(g Geometry, acct *resource.Accountant) *memoryBacking {
	return &memoryBacking{
		geom:  g,
		pix:   make([]pixel.Quantum, g.Columns*g.Rows*g.Channels()),
		acct:  acct,
		bytes: g.Bytes(),
	}
}

func (b *memoryBacking) kind() Type                 { return MemoryCache }
func (b *memoryBacking) direct() []pixel.Quantum    { return b.pix }
func (b *memoryBacking) sync(context.Context) error { return nil }

func (b *memoryBacking) release() {}

func (b *memoryBacking) read(_ context.Context, r Region, dst []pixel.Quantum) error {
	copyOut(b.pix, b.geom, r, dst)
	return nil
}

func (b *memoryBacking) write(_ context.Context, r Region, src []pixel.Quantum) error {
	copyIn(b.pix, b.geom, r, src)
	return nil
}

func (b *memoryBacking) close(context.Context) error {
	if b.pix != nil {
		b.pix = nil
		b.acct.Release(resource.Memory, b.bytes)
	}
	return nil
}

// scratch is an open scratch file and the reservations it holds.
type scratch struct {
	fsys    fs.FileSystem
	file    fs.File
	path    string
	persist bool
	acct    *resource.Accountant
	kinds   []resource.Kind
	bytes   int64
}

func openScratch(fsys fs.FileSystem, path string, size int64, persist bool) (fs.File, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err == nil && fi.Size() < size {
		err = f.Truncate(size)
	}
	if err != nil {
		_ = f.Close()
		if !persist {
			_ = fsys.Remove(path)
		}
		return nil, err
	}
	return f, nil
}

func (s *scratch) close() error {
	err := s.file.Close()
	if !s.persist {
		if rerr := s.fsys.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	for _, k := range s.kinds {
		s.acct.Release(k, s.bytes)
	}
	return err
}

// mappedBacking maps a scratch file into the address space.
type mappedBacking struct {
	scratch
	geom Geometry
	m    *mmap.Mapping
	pix  []pixel.Quantum
}

func newMappedBacking(g Geometry, s scratch) (*mappedBacking, error) {
	m, err := mmap.Map(s.file, int(s.bytes), true)
	if err != nil {
		return nil, err
	}
	_ = m.Advise(mmap.AccessSequential)
	return &mappedBacking{scratch: s, geom: g, m: m, pix: mmap.Slice[pixel.Quantum](m)}, nil
}

func (b *mappedBacking) kind() Type              { return MapCache }
func (b *mappedBacking) direct() []pixel.Quantum { return b.pix }

func (b *mappedBacking) read(_ context.Context, r Region, dst []pixel.Quantum) error {
	copyOut(b.pix, b.geom, r, dst)
	return nil
}

func (b *mappedBacking) write(_ context.Context, r Region, src []pixel.Quantum) error {
	copyIn(b.pix, b.geom, r, src)
	return nil
}

func (b *mappedBacking) sync(context.Context) error { return b.m.Sync() }

func (b *mappedBacking) release() {
	_ = b.m.Advise(mmap.AccessDontNeed)
}

func (b *mappedBacking) close(context.Context) error {
	b.pix = nil
	err := b.m.Close()
	if cerr := b.scratch.close(); err == nil {
		err = cerr
	}
	return err
}

// device is row storage behind a page cache.
type device interface {
	readRows(ctx context.Context, y0, count int, dst []pixel.Quantum) error
	writeRegion(ctx context.Context, r Region, src []pixel.Quantum) error
	sync(ctx context.Context) error
	close(ctx context.Context) error
}

// diskDevice stores rows in a plain scratch file.
type diskDevice struct {
	scratch
	geom Geometry
}

func (d *diskDevice) offset(x, y int) int64 {
	return (int64(y)*int64(d.geom.Columns) + int64(x)) * int64(d.geom.Channels()) * pixel.SampleSize
}

func (d *diskDevice) readRows(ctx context.Context, y0, count int, dst []pixel.Quantum) error {
	p := asBytes(dst)
	if err := d.acct.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	_, err := d.file.ReadAt(p, d.offset(0, y0))
	return err
}

func (d *diskDevice) writeRegion(ctx context.Context, r Region, src []pixel.Quantum) error {
	p := asBytes(src[:d.geom.Samples(r)])
	if err := d.acct.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	if r.X == 0 && r.Width == d.geom.Columns {
		_, err := d.file.WriteAt(p, d.offset(0, r.Y))
		return err
	}
	span := r.Width * d.geom.Channels() * pixel.SampleSize
	for row := 0; row < r.Height; row++ {
		if _, err := d.file.WriteAt(p[row*span:(row+1)*span], d.offset(r.X, r.Y+row)); err != nil {
			return err
		}
	}
	return nil
}

func (d *diskDevice) sync(context.Context) error  { return d.file.Sync() }
func (d *diskDevice) close(context.Context) error { return d.scratch.close() }

// remoteDevice forwards rows to a remote cache session.
type remoteDevice struct {
	sess RemoteSession
	geom Geometry
}

func (d *remoteDevice) readRows(ctx context.Context, y0, count int, dst []pixel.Quantum) error {
	return d.sess.ReadRegion(ctx, Rect(0, y0, d.geom.Columns, count), dst)
}

func (d *remoteDevice) writeRegion(ctx context.Context, r Region, src []pixel.Quantum) error {
	return d.sess.WriteRegion(ctx, r, src)
}

func (d *remoteDevice) sync(context.Context) error      { return nil }
func (d *remoteDevice) close(ctx context.Context) error { return d.sess.Close(ctx) }

// pagedBacking faults rows from a device in pages of pageRows rows, keeping
// recently used pages in the manager's block cache. Writes go through to
// the device and patch cached pages without touching their recency.
type pagedBacking struct {
	typ      Type
	geom     Geometry
	dev      device
	pages    *icache.LRUBlockCache
	owner    uint64
	pageRows int
}

func (b *pagedBacking) kind() Type              { return b.typ }
func (b *pagedBacking) direct() []pixel.Quantum { return nil }

func (b *pagedBacking) key(page int) icache.CacheKey {
	return icache.CacheKey{Kind: icache.CacheKindRows, Owner: b.owner, Offset: uint64(page)}
}

func (b *pagedBacking) page(ctx context.Context, page int) ([]pixel.Quantum, error) {
	if raw, ok := b.pages.Get(ctx, b.key(page)); ok {
		return asQuanta(raw), nil
	}
	y0 := page * b.pageRows
	count := min(b.pageRows, b.geom.Rows-y0)
	buf := make([]pixel.Quantum, count*b.geom.Columns*b.geom.Channels())
	if err := b.dev.readRows(ctx, y0, count, buf); err != nil {
		return nil, err
	}
	b.pages.Set(ctx, b.key(page), asBytes(buf))
	return buf, nil
}

func (b *pagedBacking) read(ctx context.Context, r Region, dst []pixel.Quantum) error {
	n := b.geom.Channels()
	stride := b.geom.Columns * n
	span := r.Width * n
	for row := 0; row < r.Height; {
		y := r.Y + row
		p := y / b.pageRows
		pg, err := b.page(ctx, p)
		if err != nil {
			return err
		}
		last := min((p+1)*b.pageRows, r.Y+r.Height)
		for ; y < last; y++ {
			off := (y-p*b.pageRows)*stride + r.X*n
			copy(dst[row*span:(row+1)*span], pg[off:off+span])
			row++
		}
	}
	return nil
}

func (b *pagedBacking) write(ctx context.Context, r Region, src []pixel.Quantum) error {
	if err := b.dev.writeRegion(ctx, r, src); err != nil {
		return err
	}
	n := b.geom.Channels()
	stride := b.geom.Columns * n
	span := r.Width * n
	for p := r.Y / b.pageRows; p*b.pageRows < r.Y+r.Height; p++ {
		b.pages.Patch(b.key(p), func(raw []byte) []byte {
			pg := append([]pixel.Quantum(nil), asQuanta(raw)...)
			y0 := max(r.Y, p*b.pageRows)
			y1 := min(r.Y+r.Height, (p+1)*b.pageRows)
			for y := y0; y < y1; y++ {
				off := (y-p*b.pageRows)*stride + r.X*n
				s := (y - r.Y) * span
				copy(pg[off:off+span], src[s:s+span])
			}
			return asBytes(pg)
		})
	}
	return nil
}

func (b *pagedBacking) sync(ctx context.Context) error { return b.dev.sync(ctx) }

func (b *pagedBacking) release() {
	b.pages.InvalidateGroup(b.key(0))
}

func (b *pagedBacking) close(ctx context.Context) error {
	b.release()
	return b.dev.close(ctx)
}
