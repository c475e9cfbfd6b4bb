package pixcache

import (
	"context"
	"image"
	"strings"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// CompositeOperator selects how a source image is combined with a
// destination.
type CompositeOperator uint8

const (
	UndefinedCompositeOp CompositeOperator = iota
	// OverCompositeOp blends the source over the destination (Porter-Duff
	// over).
	OverCompositeOp
	// CopyCompositeOp replaces the destination with the source, alpha
	// included.
	CopyCompositeOp
	// CopyGreenCompositeOp replaces only the green channel.
	CopyGreenCompositeOp
	// SrcCompositeOp is CopyCompositeOp that also clears the destination
	// outside the source unless clipped to self.
	SrcCompositeOp
)

var compositeNames = [...]string{"Undefined", "Over", "Copy", "CopyGreen", "Src"}

func (op CompositeOperator) String() string {
	if int(op) < len(compositeNames) {
		return compositeNames[op]
	}
	return "Undefined"
}

// ParseCompositeOperator parses an operator name, ignoring case and dashes.
func ParseCompositeOperator(s string) (CompositeOperator, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
	for i, name := range compositeNames {
		if i != int(UndefinedCompositeOp) && strings.ToLower(name) == key {
			return CompositeOperator(i), nil
		}
	}
	return UndefinedCompositeOp, exception.New(exception.ErrOption, "UnrecognizedComposeOperator", s)
}

// CompositeImage combines src into dst with its top-left corner at (x, y).
// Only the overlap is touched, except for SrcCompositeOp without
// clipToSelf, which clears the rest of dst to transparent.
func CompositeImage(ctx context.Context, dst, src *Image, op CompositeOperator, clipToSelf bool, x, y int) error {
	if dst == nil || src == nil {
		return exception.New(exception.ErrImage, "ImageSequenceRequired", "composite")
	}
	if op == UndefinedCompositeOp {
		op = OverCompositeOp
	}
	overlap := dst.Bounds().Intersect(src.Bounds().Add(image.Pt(x, y)))
	if op == SrcCompositeOp && !clipToSelf {
		if err := clearOutside(ctx, dst, overlap); err != nil {
			return err
		}
	}
	if overlap.Empty() {
		return nil
	}

	dl, sl := dst.StorageLayout(), src.StorageLayout()
	dn, sn := dl.NumChannels(), sl.NumChannels()
	width := overlap.Dx()
	band := rowsPerBand(width, max(dn, sn))
	indexOffset, hasIndex := dl.Offset(pixel.Index)

	for y0 := overlap.Min.Y; y0 < overlap.Max.Y; y0 += band {
		rows := min(band, overlap.Max.Y-y0)
		srcPx, err := src.ReadPixels(ctx, cache.Rect(overlap.Min.X-x, y0-y, width, rows))
		if err != nil {
			return err
		}
		w, err := dst.OpenWindow(ctx, cache.Rect(overlap.Min.X, y0, width, rows), cache.Authentic)
		if err != nil {
			return err
		}
		dstPx, err := w.Pixels(ctx)
		if err != nil {
			_ = w.Close(ctx)
			return err
		}
		for i := 0; i < width*rows; i++ {
			d := dstPx[i*dn : (i+1)*dn]
			s := pixel.Load(srcPx[i*sn:(i+1)*sn], sl)
			var index pixel.Quantum
			if hasIndex {
				index = d[indexOffset]
			}
			blend(op, pixel.Load(d, dl), s).Store(d, dl)
			if hasIndex {
				d[indexOffset] = index
			}
		}
		if err := w.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

func blend(op CompositeOperator, d, s pixel.Color) pixel.Color {
	switch op {
	case CopyCompositeOp, SrcCompositeOp:
		return s
	case CopyGreenCompositeOp:
		d.Green = s.Green
		return d
	}

	sa := pixel.QuantumScale * s.Alpha
	da := pixel.QuantumScale * d.Alpha
	gamma := sa + da - sa*da
	if gamma < pixel.MagickEpsilon {
		return pixel.TransparentColor
	}
	over := func(sc, dc float64) float64 {
		return (sa*sc + da*dc*(1-sa)) / gamma
	}
	return pixel.Color{
		Red:   over(s.Red, d.Red),
		Green: over(s.Green, d.Green),
		Blue:  over(s.Blue, d.Blue),
		Black: over(s.Black, d.Black),
		Alpha: pixel.QuantumRange * gamma,
	}
}

// clearOutside sets every pixel of img outside keep to transparent.
func clearOutside(ctx context.Context, img *Image, keep image.Rectangle) error {
	l := img.StorageLayout()
	n := l.NumChannels()
	blank := make([]pixel.Quantum, n)
	pixel.TransparentColor.Store(blank, l)

	band := rowsPerBand(img.Columns(), n)
	for y0 := 0; y0 < img.Rows(); y0 += band {
		rows := min(band, img.Rows()-y0)
		w, err := img.OpenWindow(ctx, cache.Rect(0, y0, img.Columns(), rows), cache.Authentic)
		if err != nil {
			return err
		}
		px, err := w.Pixels(ctx)
		if err != nil {
			_ = w.Close(ctx)
			return err
		}
		for y := y0; y < y0+rows; y++ {
			for x := 0; x < img.Columns(); x++ {
				if image.Pt(x, y).In(keep) {
					continue
				}
				i := ((y-y0)*img.Columns() + x) * n
				copy(px[i:i+n], blank)
			}
		}
		if err := w.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}
