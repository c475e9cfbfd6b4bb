package pixcache

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
	"github.com/natefinch/atomic"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ReadImage decodes the image file at path (PNG, JPEG, GIF, BMP, TIFF or
// WebP) into a new Image. "-" reads standard input.
func ReadImage(ctx context.Context, rt *Runtime, path string) (*Image, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, translateReadError(path, err)
		}
		defer f.Close()
		r = f
	}
	return DecodeImage(ctx, rt, r, path)
}

// DecodeImage decodes r into a new Image named name.
func DecodeImage(ctx context.Context, rt *Runtime, r io.Reader, name string) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, translateReadError(name, err)
	}
	img, err := FromImage(ctx, rt, src)
	if err != nil {
		return nil, err
	}
	img.Filename = name
	img.SetArtifact("format", format)
	rt.logger.DebugContext(ctx, "image decoded",
		"image", name,
		"format", format,
		"columns", img.columns,
		"rows", img.rows,
	)
	return img, nil
}

// FromImage copies src into a new Image. Gray and CMYK sources keep their
// colorspace; everything else becomes sRGB, with alpha unless src is
// opaque.
func FromImage(ctx context.Context, rt *Runtime, src image.Image) (*Image, error) {
	b := src.Bounds()
	cs := pixel.SRGB
	alpha := true
	switch src.(type) {
	case *image.Gray, *image.Gray16:
		cs, alpha = pixel.GrayColorspace, false
	case *image.CMYK:
		cs, alpha = pixel.CMYK, false
	default:
		if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
			alpha = false
		}
	}

	img, err := NewImage(rt, b.Dx(), b.Dy(), func(o *ImageOptions) {
		o.Colorspace = cs
		o.Alpha = alpha
	})
	if err != nil {
		return nil, exception.Wrap(exception.ErrImage, "UnableToReadImage", "empty image", err)
	}

	l := img.layout
	n := l.NumChannels()
	band := rowsPerBand(img.columns, n)
	buf := make([]pixel.Quantum, band*img.columns*n)
	for y := 0; y < img.rows; y += band {
		rows := min(band, img.rows-y)
		px := buf[:rows*img.columns*n]
		i := 0
		for v := 0; v < rows; v++ {
			for u := 0; u < img.columns; u++ {
				fromColor(src.At(b.Min.X+u, b.Min.Y+y+v), cs).Store(px[i:i+n], l)
				i += n
			}
		}
		if err := img.WritePixels(ctx, cache.Rect(0, y, img.columns, rows), px); err != nil {
			_ = img.Close(ctx)
			return nil, err
		}
	}
	return img, nil
}

func fromColor(c color.Color, cs pixel.Colorspace) pixel.Color {
	switch cs {
	case pixel.GrayColorspace:
		g := color.Gray16Model.Convert(c).(color.Gray16)
		v := float64(g.Y)
		return pixel.Color{Red: v, Green: v, Blue: v, Alpha: pixel.QuantumRange}
	case pixel.CMYK:
		k := color.CMYKModel.Convert(c).(color.CMYK)
		return pixel.Color{
			Red:   float64(pixel.ScaleCharToQuantum(k.C)),
			Green: float64(pixel.ScaleCharToQuantum(k.M)),
			Blue:  float64(pixel.ScaleCharToQuantum(k.Y)),
			Black: float64(pixel.ScaleCharToQuantum(k.K)),
			Alpha: pixel.QuantumRange,
		}
	}
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	return pixel.Color{Red: float64(n.R), Green: float64(n.G), Blue: float64(n.B), Alpha: float64(n.A)}
}

// ToNRGBA64 renders img as a standard library image. CMYK pixels are
// converted to RGB.
func ToNRGBA64(ctx context.Context, img *Image) (*image.NRGBA64, error) {
	s, err := img.Store(ctx)
	if err != nil {
		return nil, err
	}
	out := image.NewNRGBA64(img.Bounds())
	l := img.layout
	n := l.NumChannels()
	row := make([]pixel.Quantum, img.columns*n)
	for y := 0; y < img.rows; y++ {
		if err := s.ReadRows(ctx, y, 1, row); err != nil {
			return nil, err
		}
		for x := 0; x < img.columns; x++ {
			c := pixel.Load(row[x*n:(x+1)*n], l).RGB(img.cs)
			out.SetNRGBA64(x, y, color.NRGBA64{
				R: uint16(pixel.ClampToQuantum(c.Red)),
				G: uint16(pixel.ClampToQuantum(c.Green)),
				B: uint16(pixel.ClampToQuantum(c.Blue)),
				A: uint16(pixel.ClampToQuantum(c.Alpha)),
			})
		}
	}
	return out, nil
}

// EncodeImage writes img to w as PNG, or JPEG when format is "jpeg".
func EncodeImage(ctx context.Context, w io.Writer, img *Image, format string) error {
	m, err := ToNRGBA64(ctx, img)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		err = jpeg.Encode(w, m, &jpeg.Options{Quality: 92})
	default:
		err = png.Encode(w, m)
	}
	if err != nil {
		return exception.Wrap(exception.ErrImage, "UnableToWriteImage", img.Filename, err)
	}
	return nil
}

// WriteImage encodes img to path, choosing JPEG for .jpg/.jpeg and PNG
// otherwise. The file is replaced atomically. "-" writes PNG to standard
// output.
func WriteImage(ctx context.Context, img *Image, path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if path == "-" {
		return EncodeImage(ctx, os.Stdout, img, "png")
	}
	var buf bytes.Buffer
	if err := EncodeImage(ctx, &buf, img, format); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return exception.Wrap(exception.ErrImage, "UnableToOpenBlob", path, err)
	}
	return nil
}
