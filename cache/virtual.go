package cache

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// VirtualPixelMethod decides what a virtual window sees outside the image.
type VirtualPixelMethod uint8

const (
	UndefinedVirtualPixel VirtualPixelMethod = iota
	BackgroundVirtualPixel
	ConstantVirtualPixel
	DitherVirtualPixel
	EdgeVirtualPixel
	MirrorVirtualPixel
	RandomVirtualPixel
	TileVirtualPixel
	TransparentVirtualPixel
	MaskVirtualPixel
	BlackVirtualPixel
	GrayVirtualPixel
	WhiteVirtualPixel
	HorizontalTileVirtualPixel
	VerticalTileVirtualPixel
	HorizontalTileEdgeVirtualPixel
	VerticalTileEdgeVirtualPixel
	CheckerTileVirtualPixel
)

var virtualPixelNames = [...]string{
	"Undefined", "Background", "Constant", "Dither", "Edge", "Mirror", "Random",
	"Tile", "Transparent", "Mask", "Black", "Gray", "White", "HorizontalTile",
	"VerticalTile", "HorizontalTileEdge", "VerticalTileEdge", "CheckerTile",
}

func (m VirtualPixelMethod) String() string {
	if int(m) < len(virtualPixelNames) {
		return virtualPixelNames[m]
	}
	return "Undefined"
}

// ParseVirtualPixelMethod parses a method name. Matching ignores case,
// dashes and underscores. Undefined is not a selectable method.
func ParseVirtualPixelMethod(s string) (VirtualPixelMethod, error) {
	key := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for i, name := range virtualPixelNames {
		if i != int(UndefinedVirtualPixel) && strings.ToLower(name) == key {
			return VirtualPixelMethod(i), nil
		}
	}
	return UndefinedVirtualPixel, exception.New(exception.ErrOption, "UnrecognizedVirtualPixelMethod", s)
}

// ditherMatrix is the 8x8 ordered dither table used by DitherVirtualPixel.
var ditherMatrix = [64]int{
	0, 48, 12, 60, 3, 51, 15, 63,
	32, 16, 44, 28, 35, 19, 47, 31,
	8, 56, 4, 52, 11, 59, 7, 55,
	40, 24, 36, 20, 43, 27, 39, 23,
	2, 50, 14, 62, 1, 49, 13, 61,
	34, 18, 46, 30, 33, 17, 45, 29,
	10, 58, 6, 54, 9, 57, 5, 53,
	42, 26, 38, 22, 41, 25, 37, 21,
}

// Resolution is the outcome of resolving one coordinate: either an in-bounds
// source pixel or a substitute color.
type Resolution struct {
	X, Y       int
	Substitute bool
	Color      pixel.Color
}

// Resolver maps arbitrary coordinates onto a columns×rows image.
//
// A Resolver is a snapshot; it is safe for concurrent use.
type Resolver struct {
	method     VirtualPixelMethod
	columns    int
	rows       int
	background pixel.Color
	rng        *lockedRand
}

// NewResolver creates a resolver. rng may be nil unless the method is
// RandomVirtualPixel, in which case a fixed-seed generator is used.
func NewResolver(method VirtualPixelMethod, columns, rows int, background pixel.Color, rng *rand.Rand) *Resolver {
	r := &Resolver{method: method, columns: columns, rows: rows, background: background}
	if rng == nil && method == RandomVirtualPixel {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	if rng != nil {
		r.rng = &lockedRand{r: rng}
	}
	return r
}

// Method returns the resolver's method.
func (r *Resolver) Method() VirtualPixelMethod { return r.method }

// Resolve maps (x, y). In-bounds coordinates always resolve to themselves.
func (r *Resolver) Resolve(x, y int) Resolution {
	if r.columns <= 0 || r.rows <= 0 {
		return Resolution{Substitute: true, Color: r.background}
	}
	if x >= 0 && x < r.columns && y >= 0 && y < r.rows {
		return Resolution{X: x, Y: y}
	}

	switch r.method {
	case BackgroundVirtualPixel, ConstantVirtualPixel:
		return r.substitute(r.background)
	case BlackVirtualPixel:
		return r.substitute(pixel.BlackColor)
	case GrayVirtualPixel:
		return r.substitute(pixel.Color{
			Red: pixel.QuantumRange / 2, Green: pixel.QuantumRange / 2, Blue: pixel.QuantumRange / 2,
			Black: pixel.QuantumRange / 2, Alpha: pixel.QuantumRange,
		})
	case WhiteVirtualPixel, MaskVirtualPixel:
		return r.substitute(pixel.Color{
			Red: pixel.QuantumRange, Green: pixel.QuantumRange, Blue: pixel.QuantumRange,
			Black: pixel.QuantumRange, Alpha: pixel.QuantumRange,
		})
	case TransparentVirtualPixel:
		return r.substitute(pixel.TransparentColor)
	case RandomVirtualPixel:
		return r.rng.point(r.columns, r.rows)
	case DitherVirtualPixel:
		return Resolution{X: clamp(x+ditherMatrix[x&7]-32, r.columns), Y: clamp(y+ditherMatrix[y&7]-32, r.rows)}
	case TileVirtualPixel:
		_, mx := modulo(x, r.columns)
		_, my := modulo(y, r.rows)
		return Resolution{X: mx, Y: my}
	case MirrorVirtualPixel:
		return Resolution{X: mirror(x, r.columns), Y: mirror(y, r.rows)}
	case HorizontalTileVirtualPixel:
		if y < 0 || y >= r.rows {
			return r.substitute(r.background)
		}
		_, mx := modulo(x, r.columns)
		return Resolution{X: mx, Y: y}
	case VerticalTileVirtualPixel:
		if x < 0 || x >= r.columns {
			return r.substitute(r.background)
		}
		_, my := modulo(y, r.rows)
		return Resolution{X: x, Y: my}
	case HorizontalTileEdgeVirtualPixel:
		_, mx := modulo(x, r.columns)
		return Resolution{X: mx, Y: clamp(y, r.rows)}
	case VerticalTileEdgeVirtualPixel:
		_, my := modulo(y, r.rows)
		return Resolution{X: clamp(x, r.columns), Y: my}
	case CheckerTileVirtualPixel:
		qx, mx := modulo(x, r.columns)
		qy, my := modulo(y, r.rows)
		if (qx^qy)&1 != 0 {
			return r.substitute(r.background)
		}
		return Resolution{X: mx, Y: my}
	default: // Edge, Undefined
		return Resolution{X: clamp(x, r.columns), Y: clamp(y, r.rows)}
	}
}

func (r *Resolver) substitute(c pixel.Color) Resolution {
	return Resolution{Substitute: true, Color: c}
}

func clamp(v, extent int) int {
	if v < 0 {
		return 0
	}
	if v >= extent {
		return extent - 1
	}
	return v
}

// modulo is a floored division: 0 <= remainder < extent.
func modulo(offset, extent int) (quotient, remainder int) {
	quotient = offset / extent
	remainder = offset % extent
	if remainder < 0 {
		quotient--
		remainder += extent
	}
	return quotient, remainder
}

func mirror(v, extent int) int {
	q, m := modulo(v, extent)
	if q&1 != 0 {
		return extent - m - 1
	}
	return m
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) point(columns, rows int) Resolution {
	l.mu.Lock()
	defer l.mu.Unlock()
	x := int(float64(columns) * l.r.Float64())
	y := int(float64(rows) * l.r.Float64())
	return Resolution{X: x, Y: y}
}
