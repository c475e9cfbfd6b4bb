package cache

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// Type identifies the backing of a Store.
type Type uint8

const (
	UndefinedCache Type = iota
	MemoryCache
	MapCache
	DiskCache
	DistributedCache
)

func (t Type) String() string {
	switch t {
	case MemoryCache:
		return "memory"
	case MapCache:
		return "map"
	case DiskCache:
		return "disk"
	case DistributedCache:
		return "distributed"
	default:
		return "undefined"
	}
}

// Mode selects how a Window relates to the store.
type Mode uint8

const (
	// Virtual windows are read-only and may extend outside the image.
	Virtual Mode = iota
	// Authentic windows are read-write and must lie inside the image.
	Authentic
)

func (m Mode) String() string {
	if m == Authentic {
		return "authentic"
	}
	return "virtual"
}

// Region is a rectangle in pixel coordinates.
type Region struct {
	X, Y          int
	Width, Height int
}

// Rect returns a Region.
func Rect(x, y, width, height int) Region {
	return Region{X: x, Y: y, Width: width, Height: height}
}

// Empty reports whether the region has no pixels.
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Area returns the number of pixels in the region.
func (r Region) Area() int { return r.Width * r.Height }

// Inside reports whether r lies within a columns×rows image. Coordinates
// near the int limits do not wrap.
func (r Region) Inside(columns, rows int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 &&
		r.X <= columns-r.Width && r.Y <= rows-r.Height
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d%+d%+d", r.Width, r.Height, r.X, r.Y)
}

// Geometry describes the pixels of a store.
type Geometry struct {
	Columns int
	Rows    int
	Layout  pixel.Layout
}

// Channels returns the samples per pixel.
func (g Geometry) Channels() int { return g.Layout.NumChannels() }

// Bytes returns the size of the pixel buffer.
func (g Geometry) Bytes() int64 {
	return int64(g.Columns) * int64(g.Rows) * int64(g.Channels()) * pixel.SampleSize
}

// Samples returns the number of quanta in r.
func (g Geometry) Samples(r Region) int { return r.Area() * g.Channels() }

// ErrStaleWindow is returned by a window whose store replaced its backing.
var ErrStaleWindow = errors.New("cache: stale window")

func cacheError(reason, description string) error {
	return exception.New(exception.ErrCache, reason, description)
}

func staleError(r Region) error {
	return exception.Wrap(exception.ErrCache, "PixelCacheIsStale", r.String(), ErrStaleWindow)
}

func asBytes(q []pixel.Quantum) []byte {
	if len(q) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&q[0])), len(q)*pixel.SampleSize)
}

func asQuanta(b []byte) []pixel.Quantum {
	if len(b) < pixel.SampleSize {
		return nil
	}
	return unsafe.Slice((*pixel.Quantum)(unsafe.Pointer(&b[0])), len(b)/pixel.SampleSize)
}
