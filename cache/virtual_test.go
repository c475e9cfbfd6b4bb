package cache

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

func TestParseVirtualPixelMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    VirtualPixelMethod
		wantErr bool
	}{
		{"edge", EdgeVirtualPixel, false},
		{"Mirror", MirrorVirtualPixel, false},
		{"Horizontal-Tile", HorizontalTileVirtualPixel, false},
		{"checker_tile", CheckerTileVirtualPixel, false},
		{"VerticalTileEdge", VerticalTileEdgeVirtualPixel, false},
		{"undefined", UndefinedVirtualPixel, true},
		{"bogus", UndefinedVirtualPixel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVirtualPixelMethod(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, exception.ErrOption))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Mapping(t *testing.T) {
	bg := pixel.Color{Red: 1, Green: 2, Blue: 3, Alpha: pixel.QuantumRange}
	at := func(x, y int) Resolution { return Resolution{X: x, Y: y} }
	sub := func(c pixel.Color) Resolution { return Resolution{Substitute: true, Color: c} }

	tests := []struct {
		name   string
		method VirtualPixelMethod
		x, y   int
		want   Resolution
	}{
		{"edge top-left", EdgeVirtualPixel, -1, -1, at(0, 0)},
		{"edge right", EdgeVirtualPixel, 10, 1, at(3, 1)},
		{"undefined as edge", UndefinedVirtualPixel, -7, 9, at(0, 2)},
		{"tile left", TileVirtualPixel, -1, 0, at(3, 0)},
		{"tile wrap", TileVirtualPixel, 4, 3, at(0, 0)},
		{"tile floored", TileVirtualPixel, -5, -4, at(3, 2)},
		{"mirror -1", MirrorVirtualPixel, -1, 0, at(0, 0)},
		{"mirror n", MirrorVirtualPixel, 4, 3, at(3, 2)},
		{"mirror -5", MirrorVirtualPixel, -5, 1, at(3, 1)},
		{"dither", DitherVirtualPixel, 9, -1, at(3, 2)},
		{"dither negative", DitherVirtualPixel, -10, 0, at(0, 0)},
		{"background", BackgroundVirtualPixel, -1, 0, sub(bg)},
		{"constant", ConstantVirtualPixel, 0, 99, sub(bg)},
		{"black", BlackVirtualPixel, -1, 0, sub(pixel.BlackColor)},
		{"transparent", TransparentVirtualPixel, -1, 0, sub(pixel.TransparentColor)},
		{"gray", GrayVirtualPixel, -1, 0, sub(pixel.Color{
			Red: pixel.QuantumRange / 2, Green: pixel.QuantumRange / 2, Blue: pixel.QuantumRange / 2,
			Black: pixel.QuantumRange / 2, Alpha: pixel.QuantumRange,
		})},
		{"white", WhiteVirtualPixel, -1, 0, sub(pixel.Color{
			Red: pixel.QuantumRange, Green: pixel.QuantumRange, Blue: pixel.QuantumRange,
			Black: pixel.QuantumRange, Alpha: pixel.QuantumRange,
		})},
		{"horizontal tile", HorizontalTileVirtualPixel, 5, 1, at(1, 1)},
		{"horizontal tile off rows", HorizontalTileVirtualPixel, 0, -1, sub(bg)},
		{"vertical tile", VerticalTileVirtualPixel, 1, 4, at(1, 1)},
		{"vertical tile off columns", VerticalTileVirtualPixel, -1, 0, sub(bg)},
		{"horizontal tile edge", HorizontalTileEdgeVirtualPixel, 5, -3, at(1, 0)},
		{"vertical tile edge", VerticalTileEdgeVirtualPixel, -3, 5, at(0, 2)},
		{"checker odd", CheckerTileVirtualPixel, 4, 0, sub(bg)},
		{"checker even", CheckerTileVirtualPixel, 4, 3, at(0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.method, 4, 3, bg, nil)
			assert.Equal(t, tt.want, r.Resolve(tt.x, tt.y))
		})
	}
}

func TestResolver_InBoundsIdentity(t *testing.T) {
	for m := UndefinedVirtualPixel; m <= CheckerTileVirtualPixel; m++ {
		r := NewResolver(m, 5, 4, pixel.WhiteColor, nil)
		for y := 0; y < 4; y++ {
			for x := 0; x < 5; x++ {
				require.Equal(t, Resolution{X: x, Y: y}, r.Resolve(x, y), "method %s", m)
			}
		}
	}
}

func TestResolver_Total(t *testing.T) {
	for m := UndefinedVirtualPixel; m <= CheckerTileVirtualPixel; m++ {
		r := NewResolver(m, 3, 7, pixel.BlackColor, rand.New(rand.NewPCG(1, 2)))
		for y := -40; y <= 40; y++ {
			for x := -40; x <= 40; x++ {
				res := r.Resolve(x, y)
				if res.Substitute {
					continue
				}
				require.True(t, res.X >= 0 && res.X < 3 && res.Y >= 0 && res.Y < 7,
					"method %s mapped (%d,%d) to (%d,%d)", m, x, y, res.X, res.Y)
			}
		}
	}
}

func TestResolver_EmptyImage(t *testing.T) {
	bg := pixel.Color{Red: 7, Alpha: pixel.QuantumRange}
	r := NewResolver(TileVirtualPixel, 0, 5, bg, nil)
	assert.Equal(t, Resolution{Substitute: true, Color: bg}, r.Resolve(0, 0))
}

func TestResolver_RandomIsReproducible(t *testing.T) {
	seq := func() []Resolution {
		r := NewResolver(RandomVirtualPixel, 10, 10, pixel.BlackColor, rand.New(rand.NewPCG(42, 7)))
		out := make([]Resolution, 0, 16)
		for i := 0; i < 16; i++ {
			out = append(out, r.Resolve(-1-i, -1))
		}
		return out
	}
	assert.Equal(t, seq(), seq())
}
