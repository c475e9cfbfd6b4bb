package compare

import (
	"context"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/pixel"
)

// Highlight defaults of the difference image.
const (
	DefaultHighlightColor = "#f1001ecc"
	DefaultLowlightColor  = "#ffffffcc"
)

func colorArtifact(img *pixcache.Image, key, fallback string) (pixel.Color, error) {
	if v, ok := img.Artifact(key); ok {
		return pixel.ParseColor(v)
	}
	return pixel.ParseColor(fallback)
}

// DifferenceImage renders where b differs from a. The result is an opaque
// sRGB copy of a, sized to CompareBounds, with a layer of highlight pixels
// where any compared channel differs by more than the fuzz and lowlight
// pixels elsewhere composited over it using a's compose operator. The
// artifacts highlight-color and lowlight-color of a override the layer
// colors.
func (e *Engine) DifferenceImage(ctx context.Context, a, b *pixcache.Image) (*pixcache.Image, error) {
	highlight, err := colorArtifact(a, "highlight-color", DefaultHighlightColor)
	if err != nil {
		return nil, err
	}
	lowlight, err := colorArtifact(a, "lowlight-color", DefaultLowlightColor)
	if err != nil {
		return nil, err
	}

	columns, rows := CompareBounds(a, b)
	diff, err := pixcache.NewImage(e.rt, columns, rows)
	if err != nil {
		return nil, err
	}
	layer, err := pixcache.NewImage(e.rt, columns, rows, func(o *pixcache.ImageOptions) {
		o.Alpha = true
	})
	if err != nil {
		_ = diff.Close(ctx)
		return nil, err
	}
	defer layer.Close(ctx)

	if err := e.paintDifference(ctx, a, b, diff, layer, highlight, lowlight); err != nil {
		_ = diff.Close(ctx)
		return nil, err
	}
	if err := pixcache.CompositeImage(ctx, diff, layer, a.Compose(), true, 0, 0); err != nil {
		_ = diff.Close(ctx)
		return nil, err
	}
	return diff, nil
}

func (e *Engine) paintDifference(ctx context.Context, a, b, diff, layer *pixcache.Image, highlight, lowlight pixel.Color) error {
	p := newPair(a, b, diff.Columns(), diff.Rows())
	p.serial = true
	fuzz2 := p.fuzz2()

	la, ld, ll := a.StorageLayout(), diff.StorageLayout(), layer.StorageLayout()
	na, nb := la.NumChannels(), b.Channels()
	nd, nl := ld.NumChannels(), ll.NumChannels()
	cs := a.Colorspace()

	bands := e.bands(p, 0)
	return e.forBands(ctx, p, bands, 0, func(i int, pa, pb []pixel.Quantum) error {
		n := len(pa) / na
		opaque := make([]pixel.Quantum, n*nd)
		marks := make([]pixel.Quantum, n*nl)
		va, vb := make([]float64, len(p.channels)), make([]float64, len(p.channels))
		for j := 0; j < n; j++ {
			qa, qb := pa[j*na:(j+1)*na], pb[j*nb:(j+1)*nb]
			c := pixel.Load(qa, la).RGB(cs)
			c.Alpha = pixel.QuantumRange
			c.Store(opaque[j*nd:(j+1)*nd], ld)

			p.values(qa, qb, va, vb)
			mark := lowlight
			for k := range va {
				if d := va[k] - vb[k]; d*d > fuzz2 {
					mark = highlight
					break
				}
			}
			mark.Store(marks[j*nl:(j+1)*nl], ll)
		}
		r := cache.Rect(0, bands[i].y, p.columns, bands[i].rows)
		if err := diff.WritePixels(ctx, r, opaque); err != nil {
			return err
		}
		return layer.WritePixels(ctx, r, marks)
	})
}
