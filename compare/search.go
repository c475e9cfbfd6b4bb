package compare

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// EarlyExit decides when a search may stop before visiting every offset.
type EarlyExit uint8

const (
	// FirstAcceptable stops at the first offset whose score is at or below
	// the similarity threshold.
	FirstAcceptable EarlyExit = iota
	// Exhaustive visits every offset; the threshold only marks acceptance.
	Exhaustive
)

func (e EarlyExit) String() string {
	if e == Exhaustive {
		return "exhaustive"
	}
	return "first"
}

// ParseEarlyExit parses "first" or "exhaustive".
func ParseEarlyExit(s string) (EarlyExit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "firstacceptable", "first-acceptable":
		return FirstAcceptable, nil
	case "exhaustive", "all":
		return Exhaustive, nil
	}
	return FirstAcceptable, exception.New(exception.ErrOption, "UnrecognizedEarlyExit", s)
}

// SearchOptions configure a Search.
type SearchOptions struct {
	// SimilarityThreshold is the score at or below which a match is
	// acceptable. Negative means unset.
	SimilarityThreshold float64
	// DissimilarityThreshold is the best score above which the images are
	// reported as too dissimilar.
	DissimilarityThreshold float64
	EarlyExit              EarlyExit
	// SimilarityMap requests a gray image of the score at every offset.
	SimilarityMap bool
}

// DefaultSearchOptions returns the options used when none are given.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		SimilarityThreshold:    -1,
		DissimilarityThreshold: DefaultDissimilarityThreshold,
		EarlyExit:              FirstAcceptable,
	}
}

// SimilarityResult is the best match of a search. Metric is the raw metric
// value at Offset.
type SimilarityResult struct {
	Offset image.Point
	Metric float64
}

// Search locates a reconstruction inside a larger reference.
type Search struct {
	engine *Engine
	opts   SearchOptions
}

// NewSearch returns a search that scores offsets with engine.
func NewSearch(engine *Engine, optFns ...func(o *SearchOptions)) *Search {
	opts := DefaultSearchOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Search{engine: engine, opts: opts}
}

// Options returns the search configuration.
func (s *Search) Options() SearchOptions { return s.opts }

// Locate scores every placement of reconstruction inside reference, in
// row-major order, and returns the best one. Ties keep the first offset.
// The similarity map is nil unless requested.
func (s *Search) Locate(ctx context.Context, reference, reconstruction *pixcache.Image, metric Metric, exc *exception.Collector) (SimilarityResult, *pixcache.Image, error) {
	if metric == UndefinedMetric {
		metric = NCC
	}
	start := time.Now()
	res, simMap, offsets, err := s.locate(ctx, reference, reconstruction, metric, exc)

	rt := s.engine.rt
	rt.Metrics().RecordSearch(offsets, time.Since(start), err)
	rt.Logger().LogSearch(ctx, metric.String(), res.Offset, res.Metric, err)
	return res, simMap, err
}

func (s *Search) locate(ctx context.Context, ref, rec *pixcache.Image, metric Metric, exc *exception.Collector) (SimilarityResult, *pixcache.Image, int, error) {
	if ref == nil || rec == nil {
		return SimilarityResult{}, nil, 0, exception.New(exception.ErrImage, "NoImagesDefined", "")
	}
	if !metric.valid() {
		return SimilarityResult{}, nil, 0, exception.New(exception.ErrOption, "UnrecognizedMetric", metric.String())
	}
	if rec.Columns() > ref.Columns() || rec.Rows() > ref.Rows() {
		return SimilarityResult{}, nil, 0, exception.New(exception.ErrImage, "GeometryDoesNotContainImage",
			fmt.Sprintf("%dx%d in %dx%d", rec.Columns(), rec.Rows(), ref.Columns(), ref.Rows()))
	}
	if rec.Columns() == ref.Columns() && rec.Rows() == ref.Rows() && (metric == PAE || metric == PHash) {
		exc.Warn(exception.ErrImage, "SubimageSearchMetricUnreliable", metric.String())
	}

	cols := ref.Columns() - rec.Columns() + 1
	rows := ref.Rows() - rec.Rows() + 1
	scores := make([]float64, cols*rows)
	for i := range scores {
		scores[i] = 1
	}

	var (
		best    SimilarityResult
		offsets int
		err     error
	)
	if metric == Phase {
		best, offsets, err = s.phaseSurface(ctx, ref, rec, cols, rows, scores)
	} else {
		best, offsets, err = s.scan(ctx, ref, rec, metric, cols, rows, scores)
	}
	if err != nil {
		return SimilarityResult{}, nil, offsets, err
	}

	if score := metric.Dissimilarity(best.Metric); score > s.opts.DissimilarityThreshold {
		exc.Warn(exception.ErrImage, "ImagesTooDissimilar", fmt.Sprintf("%s %g > %g", metric, score, s.opts.DissimilarityThreshold))
	}

	if !s.opts.SimilarityMap {
		return best, nil, offsets, nil
	}
	simMap, err := similarityMap(ctx, ref.Runtime(), cols, rows, scores)
	return best, simMap, offsets, err
}

// scan visits offsets row by row. The offsets of one row are scored in
// parallel and then examined in order.
func (s *Search) scan(ctx context.Context, ref, rec *pixcache.Image, metric Metric, cols, rows int, scores []float64) (SimilarityResult, int, error) {
	best := SimilarityResult{Metric: math.NaN()}
	bestScore := math.Inf(1)
	offsets := 0
	row := make([]float64, cols)
	workers := max(1, s.engine.rt.Accountant().Workers())

	for y := 0; y < rows; y++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for x := 0; x < cols; x++ {
			g.Go(func() error {
				v, err := s.score(gctx, ref, rec, metric, x, y)
				row[x] = v
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return best, offsets, err
		}

		for x, v := range row {
			offsets++
			score := metric.Dissimilarity(v)
			scores[y*cols+x] = score
			if score < bestScore {
				bestScore = score
				best = SimilarityResult{Offset: image.Pt(x, y), Metric: v}
			}
			if s.acceptable(bestScore) && s.opts.EarlyExit == FirstAcceptable {
				return best, offsets, nil
			}
		}
	}
	return best, offsets, nil
}

func (s *Search) acceptable(score float64) bool {
	return s.opts.SimilarityThreshold >= 0 && score <= s.opts.SimilarityThreshold
}

// score measures rec against the part of ref at (x, y). Metrics that look
// beyond a pixel compare against a crop so that the border is resolved the
// same way as for a direct comparison.
func (s *Search) score(ctx context.Context, ref, rec *pixcache.Image, metric Metric, x, y int) (float64, error) {
	w, h := rec.Columns(), rec.Rows()
	var p *pair
	switch metric {
	case SSIM, DSSIM, PHash:
		crop, err := ref.Crop(ctx, image.Rect(x, y, x+w, y+h))
		if err != nil {
			return 0, err
		}
		defer crop.Close(ctx)
		p = newPair(crop, rec, w, h)
	default:
		p = newPair(ref, rec, w, h)
		p.origin = image.Pt(x, y)
	}
	p.serial = true
	d, err := s.engine.measurePair(ctx, p, metric)
	if err != nil {
		return 0, err
	}
	return d[pixel.Composite], nil
}

// phaseSurface finds the peak of the phase correlation between the whole
// reference and the zero padded reconstruction. The surface only locates
// the match: its height shrinks with the overlap, so the best offset is
// scored again against the matched region.
func (s *Search) phaseSurface(ctx context.Context, ref, rec *pixcache.Image, cols, rows int, scores []float64) (SimilarityResult, int, error) {
	w, h := nextPow2(ref.Columns()), nextPow2(ref.Rows())
	la, lb := ref.Layout(), rec.Layout()
	chans := la.UpdateChannels(lb)

	fa, err := s.spectra(ctx, ref, chans, w, h)
	if err != nil {
		return SimilarityResult{}, 0, err
	}
	fb, err := s.spectra(ctx, rec, chans, w, h)
	if err != nil {
		return SimilarityResult{}, 0, err
	}

	surface := make([]float64, w*h)
	for k := range chans {
		for i, c := range crossPower(fa[k], fb[k], w, h) {
			surface[i] += real(c)
		}
	}
	n := float64(max(len(chans), 1))

	best := SimilarityResult{Metric: math.NaN()}
	bestScore := math.Inf(1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := surface[y*w+x] / n
			score := Phase.Dissimilarity(v)
			scores[y*cols+x] = score
			if score < bestScore {
				bestScore = score
				best = SimilarityResult{Offset: image.Pt(x, y), Metric: v}
			}
		}
	}

	v, err := s.score(ctx, ref, rec, Phase, best.Offset.X, best.Offset.Y)
	if err != nil {
		return SimilarityResult{}, cols * rows, err
	}
	best.Metric = v
	scores[best.Offset.Y*cols+best.Offset.X] = Phase.Dissimilarity(v)
	return best, cols * rows, nil
}

// spectra returns the forward transforms of the given channels of img,
// alpha weighted and zero padded to w x h.
func (s *Search) spectra(ctx context.Context, img *pixcache.Image, chans []pixel.Channel, w, h int) ([][]complex128, error) {
	l := img.StorageLayout()
	n := l.NumChannels()
	alpha, hasAlpha := l.Offset(pixel.Alpha)
	out := make([][]complex128, len(chans))
	for k := range out {
		out[k] = make([]complex128, w*h)
	}
	for y := 0; y < img.Rows(); y++ {
		px, err := img.ReadPixels(ctx, cache.Rect(0, y, img.Columns(), 1))
		if err != nil {
			return nil, err
		}
		for x := 0; x < img.Columns(); x++ {
			q := px[x*n : (x+1)*n]
			sa := 1.0
			if hasAlpha {
				sa = pixel.Normalize(q[alpha])
			}
			for k, ch := range chans {
				o, _ := l.Offset(ch)
				v := pixel.Normalize(q[o])
				if ch != pixel.Alpha {
					v *= sa
				}
				out[k][y*w+x] = complex(v, 0)
			}
		}
	}
	for k := range out {
		fft2(out[k], w, h, false)
	}
	return out, nil
}

// similarityMap renders scores as a gray image, white where the match is
// perfect.
func similarityMap(ctx context.Context, rt *pixcache.Runtime, cols, rows int, scores []float64) (*pixcache.Image, error) {
	img, err := pixcache.NewImage(rt, cols, rows, func(o *pixcache.ImageOptions) {
		o.Colorspace = pixel.GrayColorspace
	})
	if err != nil {
		return nil, err
	}
	px := make([]pixel.Quantum, len(scores))
	for i, v := range scores {
		px[i] = pixel.ClampToQuantum(pixel.QuantumRange * (1 - v))
	}
	if err := img.WritePixels(ctx, img.Region(), px); err != nil {
		_ = img.Close(ctx)
		return nil, err
	}
	return img, nil
}
