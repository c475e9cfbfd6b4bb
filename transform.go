package pixcache

import (
	"context"
	"image"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
)

// Clone returns an independent copy of img: same settings and artifacts,
// pixels copied into a new store.
func (img *Image) Clone(ctx context.Context) (*Image, error) {
	out, err := NewImage(img.rt, img.columns, img.rows, img.like)
	if err != nil {
		return nil, err
	}
	img.copySettings(out)
	out.Filename = img.Filename

	s, err := img.Store(ctx)
	if err != nil {
		return nil, err
	}
	clone, err := s.Clone(ctx)
	if err != nil {
		return nil, err
	}
	out.store = clone
	return out, nil
}

// Crop returns the part of img inside r. r is clipped to the image; an r
// that misses the image entirely is an error.
func (img *Image) Crop(ctx context.Context, r image.Rectangle) (*Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, exception.New(exception.ErrImage, "GeometryDoesNotContainImage", r.String())
	}
	out, err := NewImage(img.rt, r.Dx(), r.Dy(), img.like)
	if err != nil {
		return nil, err
	}
	img.copySettings(out)
	out.SetPage(img.Page().Add(r.Min))

	band := rowsPerBand(r.Dx(), img.Channels())
	for y := r.Min.Y; y < r.Max.Y; y += band {
		rows := min(band, r.Max.Y-y)
		px, err := img.ReadPixels(ctx, cache.Rect(r.Min.X, y, r.Dx(), rows))
		if err != nil {
			_ = out.Close(ctx)
			return nil, err
		}
		if err := out.WritePixels(ctx, cache.Rect(0, y-r.Min.Y, r.Dx(), rows), px); err != nil {
			_ = out.Close(ctx)
			return nil, err
		}
	}
	return out, nil
}

func (img *Image) copySettings(out *Image) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	out.mask = img.mask
	out.page = img.page
	out.fuzz = img.fuzz
	out.compose = img.compose
	for k, v := range img.artifacts {
		out.artifacts[k] = v
	}
}
