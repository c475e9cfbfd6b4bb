package compare

import (
	"context"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// Options configure an Engine.
type Options struct {
	// BandRows is the number of rows a worker compares at a time. Zero sizes
	// bands to roughly 1MiB of samples.
	BandRows int
}

// Engine computes distortion metrics between images of one Runtime.
//
// The compared region is split into row bands. Bands run on an errgroup
// limited to the accountant's worker count; each band reads through its own
// virtual windows and partial sums are reduced in band order, so results do
// not depend on scheduling.
type Engine struct {
	rt   *pixcache.Runtime
	opts Options
}

// NewEngine returns an engine bound to rt.
func NewEngine(rt *pixcache.Runtime, optFns ...func(o *Options)) *Engine {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{rt: rt, opts: opts}
}

// Distortion measures how far b is from a. Warnings are recorded on exc,
// which may be nil.
//
// UndefinedMetric measures NCC.
func (e *Engine) Distortion(ctx context.Context, a, b *pixcache.Image, metric Metric, exc *exception.Collector) (*pixel.ChannelDistortion, error) {
	return e.distortion(ctx, a, b, metric, exc, false)
}

// Distortions measures several metrics between the same pair of images.
func (e *Engine) Distortions(ctx context.Context, a, b *pixcache.Image, metrics ...Metric) ([]*pixel.ChannelDistortion, error) {
	out := make([]*pixel.ChannelDistortion, 0, len(metrics))
	for _, m := range metrics {
		d, err := e.Distortion(ctx, a, b, m, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (e *Engine) distortion(ctx context.Context, a, b *pixcache.Image, metric Metric, exc *exception.Collector, subimage bool) (*pixel.ChannelDistortion, error) {
	if metric == UndefinedMetric {
		metric = NCC
	}
	start := time.Now()
	d, err := e.measure(ctx, a, b, metric, exc, subimage)

	e.rt.Metrics().RecordCompare(metric.String(), time.Since(start), err)
	var v float64
	if d != nil {
		v = d[pixel.Composite]
	}
	e.rt.Logger().LogCompare(ctx, metric.String(), v, err)
	return d, err
}

func (e *Engine) measure(ctx context.Context, a, b *pixcache.Image, metric Metric, exc *exception.Collector, subimage bool) (*pixel.ChannelDistortion, error) {
	if a == nil || b == nil {
		return nil, exception.New(exception.ErrImage, "NoImagesDefined", "")
	}
	if !metric.valid() {
		return nil, exception.New(exception.ErrOption, "UnrecognizedMetric", metric.String())
	}
	if metric.correlation() && !subimage {
		constant, err := b.IsConstant(ctx)
		if err != nil {
			return nil, err
		}
		if constant {
			exc.Warn(exception.ErrImage, "SearchMetricUnreliable", metric.String())
		}
	}

	columns, rows := CompareBounds(a, b)
	p := newPair(a, b, columns, rows)
	p.record = true
	return e.measurePair(ctx, p, metric)
}

func (e *Engine) measurePair(ctx context.Context, p *pair, metric Metric) (*pixel.ChannelDistortion, error) {
	switch metric {
	case NCC:
		return e.ncc(ctx, p)
	case Phase:
		return e.phase(ctx, p)
	case PHash:
		return e.phash(ctx, p)
	case SSIM, DSSIM:
		return e.ssim(ctx, p, metric)
	}
	return e.pixelwise(ctx, p, metric)
}

// CompareBounds returns the size of the region two images are compared
// over: the larger extent of each dimension, or the smaller one when either
// image sets the artifact compare:virtual-pixels to false.
func CompareBounds(a, b *pixcache.Image) (columns, rows int) {
	if virtualPixels(a) && virtualPixels(b) {
		return max(a.Columns(), b.Columns()), max(a.Rows(), b.Rows())
	}
	return min(a.Columns(), b.Columns()), min(a.Rows(), b.Rows())
}

func virtualPixels(img *pixcache.Image) bool {
	v, ok := img.Artifact("compare:virtual-pixels")
	if !ok {
		return true
	}
	return !falsy(v)
}

func falsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "off", "no", "0":
		return true
	}
	return false
}

// pair is the compared region of two images. origin shifts the region
// inside a; b is always read from (0,0).
type pair struct {
	a, b     *pixcache.Image
	origin   image.Point
	columns  int
	rows     int
	channels []pixel.Channel
	offA     []int
	offB     []int
	alphaA   int
	alphaB   int

	// serial runs bands on the calling goroutine.
	serial bool
	// record stores side results such as error statistics on a.
	record bool
}

func newPair(a, b *pixcache.Image, columns, rows int) *pair {
	la, lb := a.Layout(), b.Layout()
	p := &pair{
		a:        a,
		b:        b,
		columns:  columns,
		rows:     rows,
		channels: la.UpdateChannels(lb),
		alphaA:   -1,
		alphaB:   -1,
	}
	for _, ch := range p.channels {
		oa, _ := la.Offset(ch)
		ob, _ := lb.Offset(ch)
		p.offA = append(p.offA, oa)
		p.offB = append(p.offB, ob)
	}
	if o, ok := la.Offset(pixel.Alpha); ok {
		p.alphaA = o
	}
	if o, ok := lb.Offset(pixel.Alpha); ok {
		p.alphaB = o
	}
	return p
}

func (p *pair) area() float64 { return float64(p.columns) * float64(p.rows) }

// values loads the compared channels of one pixel of each image in quantum
// units. Color channels are weighted by their own pixel's alpha; alpha is
// taken as is.
func (p *pair) values(qa, qb []pixel.Quantum, va, vb []float64) {
	sa, da := 1.0, 1.0
	if p.alphaA >= 0 {
		sa = pixel.QuantumScale * float64(qa[p.alphaA])
	}
	if p.alphaB >= 0 {
		da = pixel.QuantumScale * float64(qb[p.alphaB])
	}
	for k, ch := range p.channels {
		x, y := float64(qa[p.offA[k]]), float64(qb[p.offB[k]])
		if ch != pixel.Alpha {
			x *= sa
			y *= da
		}
		va[k], vb[k] = x, y
	}
}

// fuzz2 is the squared distance, in quantum units, two samples must exceed
// to count as different.
func (p *pair) fuzz2() float64 {
	return max(p.a.Fuzz(), pixel.MagickSQ1_2) * max(p.b.Fuzz(), pixel.MagickSQ1_2)
}

// band is a run of rows of the compared region.
type band struct {
	y    int
	rows int
}

func (e *Engine) bands(p *pair, halo int) []band {
	n := e.opts.BandRows
	if n <= 0 {
		per := (p.columns + 2*halo) * max(p.a.Channels(), p.b.Channels()) * pixel.SampleSize
		n = max(1, (1<<20)/max(1, per))
	}
	out := make([]band, 0, (p.rows+n-1)/n)
	for y := 0; y < p.rows; y += n {
		out = append(out, band{y: y, rows: min(n, p.rows-y)})
	}
	return out
}

// forBands calls fn for every band with the samples of both images. The
// windows cover the band grown by halo pixels on each side; coordinates
// outside an image are resolved by its virtual pixel method.
func (e *Engine) forBands(ctx context.Context, p *pair, bands []band, halo int, fn func(i int, pa, pb []pixel.Quantum) error) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := 1
	if !p.serial {
		limit = max(1, e.rt.Accountant().Workers())
	}
	g.SetLimit(limit)

	for i, b := range bands {
		g.Go(func() error {
			width, height := p.columns+2*halo, b.rows+2*halo
			ra := cache.Rect(p.origin.X-halo, p.origin.Y+b.y-halo, width, height)
			rb := cache.Rect(-halo, b.y-halo, width, height)
			return withPixels(gctx, p.a, ra, func(pa []pixel.Quantum) error {
				return withPixels(gctx, p.b, rb, func(pb []pixel.Quantum) error {
					return fn(i, pa, pb)
				})
			})
		})
	}
	return g.Wait()
}

// withPixels calls fn with the samples of r. The slice is only valid inside
// fn.
func withPixels(ctx context.Context, img *pixcache.Image, r cache.Region, fn func([]pixel.Quantum) error) error {
	w, err := img.OpenWindow(ctx, r, cache.Virtual)
	if err != nil {
		return err
	}
	px, err := w.Pixels(ctx)
	if err == nil {
		err = fn(px)
	}
	if cerr := w.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
