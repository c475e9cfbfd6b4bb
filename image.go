package pixcache

import (
	"context"
	"fmt"
	"image"
	"maps"
	"sync"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// ErrorStatistics are the side results of the MEPP metric.
type ErrorStatistics struct {
	MeanErrorPerPixel      float64
	NormalizedMeanError    float64
	NormalizedMaximumError float64
}

// ImageOptions describe a new image.
type ImageOptions struct {
	Colorspace pixel.Colorspace
	Alpha      bool
	Index      bool
	// Background is the substitute of the Background and Constant virtual
	// pixel methods.
	Background pixel.Color
	// VirtualPixel defaults to the runtime configuration.
	VirtualPixel cache.VirtualPixelMethod
}

// Image is a raster whose pixels live in exactly one pixel cache store. The
// store is acquired on first access and relinquished by Close.
//
// Settings and artifacts are safe for concurrent use. Pixel access goes
// through cache windows, which follow the store's concurrency rules.
type Image struct {
	rt      *Runtime
	columns int
	rows    int
	layout  pixel.Layout
	cs      pixel.Colorspace

	// Filename is the path the image was read from.
	Filename string

	mu           sync.RWMutex
	mask         pixel.ChannelMask
	page         image.Point
	virtualPixel cache.VirtualPixelMethod
	background   pixel.Color
	fuzz         float64
	compose      CompositeOperator
	artifacts    map[string]string
	errStats     ErrorStatistics
	store        *cache.Store
	closed       bool
}

// NewImage describes a columns x rows image. No pixel memory is acquired
// until the pixels are first accessed; a fresh store reads as zero.
func NewImage(rt *Runtime, columns, rows int, optFns ...func(*ImageOptions)) (*Image, error) {
	if rt == nil {
		return nil, exception.New(exception.ErrImage, "NoRuntime", "")
	}
	if columns <= 0 || rows <= 0 {
		return nil, exception.New(exception.ErrCache, "NegativeOrZeroImageSize", fmt.Sprintf("%dx%d", columns, rows))
	}
	opts := ImageOptions{
		Colorspace:   pixel.SRGB,
		Background:   pixel.WhiteColor,
		VirtualPixel: rt.cfg.VirtualPixel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Colorspace == pixel.UndefinedColorspace {
		opts.Colorspace = pixel.SRGB
	}
	if opts.VirtualPixel == cache.UndefinedVirtualPixel {
		opts.VirtualPixel = cache.EdgeVirtualPixel
	}
	return &Image{
		rt:           rt,
		columns:      columns,
		rows:         rows,
		layout:       pixel.NewLayout(opts.Colorspace, opts.Alpha, opts.Index),
		cs:           opts.Colorspace,
		mask:         pixel.AllChannels,
		virtualPixel: opts.VirtualPixel,
		background:   opts.Background,
		compose:      OverCompositeOp,
		artifacts:    make(map[string]string),
	}, nil
}

func (img *Image) Runtime() *Runtime            { return img.rt }
func (img *Image) Columns() int                 { return img.columns }
func (img *Image) Rows() int                    { return img.rows }
func (img *Image) Colorspace() pixel.Colorspace { return img.cs }
func (img *Image) HasAlpha() bool               { return img.layout.Has(pixel.Alpha) }
func (img *Image) Bounds() image.Rectangle      { return image.Rect(0, 0, img.columns, img.rows) }
func (img *Image) Region() cache.Region         { return cache.Rect(0, 0, img.columns, img.rows) }
func (img *Image) StorageLayout() pixel.Layout  { return img.layout }

// Layout returns the channel map with the channel mask applied.
func (img *Image) Layout() pixel.Layout {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.layout.WithMask(img.mask)
}

// Channels returns the number of samples per pixel.
func (img *Image) Channels() int { return img.layout.NumChannels() }

func (img *Image) like(o *ImageOptions) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	o.Colorspace = img.cs
	o.Alpha = img.layout.Has(pixel.Alpha)
	o.Index = img.layout.Has(pixel.Index)
	o.Background = img.background
	o.VirtualPixel = img.virtualPixel
}

// ChannelMask returns the channels operations apply to.
func (img *Image) ChannelMask() pixel.ChannelMask {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.mask
}

// SetChannelMask restricts the channels operations apply to.
func (img *Image) SetChannelMask(m pixel.ChannelMask) {
	img.mu.Lock()
	img.mask = m
	img.mu.Unlock()
}

// Page returns the page offset.
func (img *Image) Page() image.Point {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.page
}

// SetPage sets the page offset.
func (img *Image) SetPage(p image.Point) {
	img.mu.Lock()
	img.page = p
	img.mu.Unlock()
}

// VirtualPixelMethod returns the out-of-bounds policy.
func (img *Image) VirtualPixelMethod() cache.VirtualPixelMethod {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.virtualPixel
}

// SetVirtualPixelMethod changes the out-of-bounds policy. Open windows keep
// the policy they were opened with.
func (img *Image) SetVirtualPixelMethod(m cache.VirtualPixelMethod) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.virtualPixel = m
	if img.store != nil {
		img.store.SetVirtualPixelMethod(m)
	}
}

// Background returns the background color.
func (img *Image) Background() pixel.Color {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.background
}

// SetBackground sets the background color.
func (img *Image) SetBackground(c pixel.Color) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.background = c
	if img.store != nil {
		img.store.SetBackground(c)
	}
}

// Fuzz returns the color distance, in quantum units, under which two
// samples compare equal.
func (img *Image) Fuzz() float64 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.fuzz
}

// SetFuzz sets the comparison fuzz in quantum units.
func (img *Image) SetFuzz(fuzz float64) {
	img.mu.Lock()
	img.fuzz = max(fuzz, 0)
	img.mu.Unlock()
}

// Compose returns the operator used to overlay highlight layers.
func (img *Image) Compose() CompositeOperator {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.compose
}

// SetCompose sets the overlay operator.
func (img *Image) SetCompose(op CompositeOperator) {
	img.mu.Lock()
	img.compose = op
	img.mu.Unlock()
}

// Artifact returns the artifact stored under key.
func (img *Image) Artifact(key string) (string, bool) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	v, ok := img.artifacts[key]
	return v, ok
}

// SetArtifact stores a key/value side-channel setting such as
// "compare:virtual-pixels".
func (img *Image) SetArtifact(key, value string) {
	img.mu.Lock()
	img.artifacts[key] = value
	img.mu.Unlock()
}

// DeleteArtifact removes key.
func (img *Image) DeleteArtifact(key string) {
	img.mu.Lock()
	delete(img.artifacts, key)
	img.mu.Unlock()
}

// Artifacts returns a copy of all artifacts.
func (img *Image) Artifacts() map[string]string {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return maps.Clone(img.artifacts)
}

// ErrorStatistics returns the statistics recorded by the last MEPP
// comparison.
func (img *Image) ErrorStatistics() ErrorStatistics {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.errStats
}

// SetErrorStatistics records MEPP side results.
func (img *Image) SetErrorStatistics(s ErrorStatistics) {
	img.mu.Lock()
	img.errStats = s
	img.mu.Unlock()
}

// Store returns the image's pixel cache, acquiring it on first use.
func (img *Image) Store(ctx context.Context) (*cache.Store, error) {
	img.mu.RLock()
	s, closed := img.store, img.closed
	img.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if closed || img.rt.closed.Load() {
		return nil, ErrClosed
	}

	img.mu.Lock()
	defer img.mu.Unlock()
	if img.store != nil {
		return img.store, nil
	}
	if img.closed {
		return nil, ErrClosed
	}
	g := cache.Geometry{Columns: img.columns, Rows: img.rows, Layout: img.layout}
	s, err := img.rt.mgr.Acquire(ctx, g, func(o *cache.AcquireOptions) {
		o.VirtualPixel = img.virtualPixel
		o.Background = img.background
	})
	log := img.rt.logger.WithImage(img.Filename, img.columns, img.rows)
	if err != nil {
		log.LogCacheOpen(ctx, g, cache.UndefinedCache, err)
		return nil, err
	}
	log.LogCacheOpen(ctx, g, s.Type(), nil)
	img.store = s
	return s, nil
}

// OpenWindow opens a cache window on the image's store.
func (img *Image) OpenWindow(ctx context.Context, r cache.Region, mode cache.Mode) (*cache.Window, error) {
	s, err := img.Store(ctx)
	if err != nil {
		return nil, err
	}
	return s.OpenWindow(r, mode)
}

// ReadPixels returns a private copy of the samples of r. Coordinates outside
// the image are resolved by the virtual pixel method.
func (img *Image) ReadPixels(ctx context.Context, r cache.Region) ([]pixel.Quantum, error) {
	w, err := img.OpenWindow(ctx, r, cache.Virtual)
	if err != nil {
		return nil, err
	}
	defer w.Close(ctx)
	px, err := w.Pixels(ctx)
	if err != nil {
		return nil, err
	}
	return append([]pixel.Quantum(nil), px...), nil
}

// WritePixels replaces the samples of r, which must lie inside the image.
func (img *Image) WritePixels(ctx context.Context, r cache.Region, src []pixel.Quantum) error {
	w, err := img.OpenWindow(ctx, r, cache.Authentic)
	if err != nil {
		return err
	}
	buf, err := w.Buffer()
	if err != nil {
		_ = w.Close(ctx)
		return err
	}
	if len(src) != len(buf) {
		_ = w.Close(ctx)
		return exception.New(exception.ErrCache, "UnableToSetPixelsInCache",
			fmt.Sprintf("%d samples for %s", len(src), r))
	}
	copy(buf, src)
	return w.Close(ctx)
}

// Pixel returns the color at (x, y), resolving virtual pixels.
func (img *Image) Pixel(ctx context.Context, x, y int) (pixel.Color, error) {
	px, err := img.ReadPixels(ctx, cache.Rect(x, y, 1, 1))
	if err != nil {
		return pixel.Color{}, err
	}
	return pixel.Load(px, img.layout), nil
}

// SetPixel stores c at (x, y).
func (img *Image) SetPixel(ctx context.Context, x, y int, c pixel.Color) error {
	px := make([]pixel.Quantum, img.layout.NumChannels())
	c.Store(px, img.layout)
	return img.WritePixels(ctx, cache.Rect(x, y, 1, 1), px)
}

// Fill sets every pixel to c.
func (img *Image) Fill(ctx context.Context, c pixel.Color) error {
	s, err := img.Store(ctx)
	if err != nil {
		return err
	}
	n := img.layout.NumChannels()
	rows := rowsPerBand(img.columns, n)
	buf := make([]pixel.Quantum, rows*img.columns*n)
	for i := 0; i < len(buf); i += n {
		c.Store(buf[i:i+n], img.layout)
	}
	for y := 0; y < img.rows; y += rows {
		count := min(rows, img.rows-y)
		if err := s.WriteRows(ctx, y, count, buf[:count*img.columns*n]); err != nil {
			return err
		}
	}
	return nil
}

// Close relinquishes the pixel cache. Settings stay readable.
func (img *Image) Close(ctx context.Context) error {
	img.mu.Lock()
	s := img.store
	img.store = nil
	img.closed = true
	img.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close(ctx)
}

// rowsPerBand picks a row count whose samples fill roughly 1MiB.
func rowsPerBand(columns, channels int) int {
	const target = 1 << 20
	return max(1, target/max(1, columns*channels*pixel.SampleSize))
}
