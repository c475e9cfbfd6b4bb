package compare

import (
	"context"
	"errors"
	"image"
	"math"
	"strconv"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// Request describes one comparison.
type Request struct {
	// Metric defaults to NCC.
	Metric Metric
	// SubimageSearch locates the reconstruction inside the reference before
	// measuring.
	SubimageSearch bool
	// Search overrides DefaultSearchOptions. The artifacts
	// compare:similarity-threshold and compare:dissimilarity-threshold of
	// the reference take precedence over both.
	Search *SearchOptions
	// Difference requests the highlighted difference image.
	Difference bool
	// Engine configures the distortion engine.
	Engine []func(o *Options)
}

// Report is the outcome of Compare.
type Report struct {
	Metric     Metric
	Distortion pixel.ChannelDistortion
	// Channels are the compared channels, in the reference's order.
	Channels   []pixel.Channel
	Colorspace pixel.Colorspace
	// Scale converts the normalized distortion to display units.
	Scale    float64
	Filename string
	// ErrorStatistics are set by MEPP.
	ErrorStatistics pixcache.ErrorStatistics

	Subimage   bool
	Offset     image.Point
	Similarity float64
	// Sans is the distortion of the matched region alone, compared without
	// virtual pixels.
	Sans *pixel.ChannelDistortion

	Difference    *pixcache.Image
	SimilarityMap *pixcache.Image
}

// Similar reports whether the aggregate distortion equals the metric's
// identical value.
func (r *Report) Similar() bool {
	return math.Abs(r.Distortion[pixel.Composite]-r.Metric.Identical()) < pixel.MagickEpsilon
}

// Close releases the images held by the report.
func (r *Report) Close(ctx context.Context) error {
	var errs []error
	for _, img := range []*pixcache.Image{r.Difference, r.SimilarityMap} {
		if img != nil {
			errs = append(errs, img.Close(ctx))
		}
	}
	return errors.Join(errs...)
}

// Compare measures reconstruction b against reference a. With
// SubimageSearch, b is first located inside a and the distortion is
// measured between a and a copy of a with b pasted at the match.
//
// When the result is not similar the artifact compare:dissimilar=true is
// set on a. Warnings are recorded on exc, which may be nil.
func Compare(ctx context.Context, rt *pixcache.Runtime, a, b *pixcache.Image, req Request, exc *exception.Collector) (*Report, error) {
	if a == nil || b == nil {
		return nil, exception.New(exception.ErrImage, "NoImagesDefined", "")
	}
	metric := req.Metric
	if metric == UndefinedMetric {
		metric = NCC
	}
	opts := DefaultSearchOptions()
	if req.Search != nil {
		opts = *req.Search
	}
	if err := thresholdArtifacts(a, &opts); err != nil {
		return nil, err
	}

	engine := NewEngine(rt, req.Engine...)
	rep := &Report{
		Metric:     metric,
		Channels:   a.Layout().UpdateChannels(b.Layout()),
		Colorspace: a.Colorspace(),
		Filename:   a.Filename,
	}

	var err error
	if req.SubimageSearch {
		err = compareSubimage(ctx, engine, a, b, metric, opts, req.Difference, rep, exc)
	} else {
		err = compareDirect(ctx, engine, a, b, metric, req.Difference, rep, exc)
	}
	if err != nil {
		_ = rep.Close(ctx)
		return nil, err
	}

	if metric == MEPP {
		rep.ErrorStatistics = a.ErrorStatistics()
	}
	if !rep.Similar() {
		a.SetArtifact("compare:dissimilar", "true")
	}
	return rep, nil
}

func compareDirect(ctx context.Context, engine *Engine, a, b *pixcache.Image, metric Metric, difference bool, rep *Report, exc *exception.Collector) error {
	d, err := engine.Distortion(ctx, a, b, metric, exc)
	if err != nil {
		return err
	}
	rep.Distortion = *d
	columns, rows := CompareBounds(a, b)
	rep.Scale = metric.Scale(float64(columns) * float64(rows))
	if difference {
		rep.Difference, err = engine.DifferenceImage(ctx, a, b)
	}
	return err
}

func compareSubimage(ctx context.Context, engine *Engine, a, b *pixcache.Image, metric Metric, opts SearchOptions, difference bool, rep *Report, exc *exception.Collector) error {
	search := NewSearch(engine, func(o *SearchOptions) { *o = opts })
	res, simMap, err := search.Locate(ctx, a, b, metric, exc)
	if err != nil {
		return err
	}
	rep.Subimage = true
	rep.Offset = res.Offset
	rep.Similarity = res.Metric
	rep.SimilarityMap = simMap

	if b.Columns() == a.Columns() && b.Rows() == a.Rows() {
		return compareDirect(ctx, engine, a, b, metric, difference, rep, exc)
	}

	pasted, err := a.Clone(ctx)
	if err != nil {
		return err
	}
	defer pasted.Close(ctx)
	if err := pixcache.CompositeImage(ctx, pasted, b, pixcache.CopyCompositeOp, false, res.Offset.X, res.Offset.Y); err != nil {
		return err
	}
	d, err := engine.distortion(ctx, a, pasted, metric, exc, true)
	if err != nil {
		return err
	}
	rep.Distortion = *d
	rep.Scale = metric.Scale(float64(a.Columns()) * float64(a.Rows()))

	match := image.Rectangle{Min: res.Offset, Max: res.Offset.Add(image.Pt(b.Columns(), b.Rows()))}
	crop, err := a.Crop(ctx, match)
	if err != nil {
		return err
	}
	defer crop.Close(ctx)
	crop.SetArtifact("compare:virtual-pixels", "false")
	if rep.Sans, err = engine.distortion(ctx, crop, b, metric, exc, true); err != nil {
		return err
	}

	if difference {
		if rep.Difference, err = engine.DifferenceImage(ctx, a, pasted); err != nil {
			return err
		}
		rep.Difference.SetPage(res.Offset)
	}
	return nil
}

// thresholdArtifacts applies the search threshold artifacts of img.
func thresholdArtifacts(img *pixcache.Image, opts *SearchOptions) error {
	for key, dst := range map[string]*float64{
		"compare:similarity-threshold":    &opts.SimilarityThreshold,
		"compare:dissimilarity-threshold": &opts.DissimilarityThreshold,
	} {
		v, ok := img.Artifact(key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return exception.Wrap(exception.ErrOption, "InvalidArgument", key+"="+v, err)
		}
		*dst = f
	}
	return nil
}
