package compare

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

var allMetrics = []Metric{AE, Fuzz, MAE, MEPP, MSE, RMSE, PAE, PSNR, NCC, DPC, Phase, PHash, SSIM, DSSIM}

func newTestRuntime(t *testing.T) *pixcache.Runtime {
	t.Helper()
	cfg := pixcache.DefaultConfig()
	cfg.TempDir = t.TempDir()
	rt, err := pixcache.New(pixcache.WithConfig(cfg), pixcache.WithLogger(pixcache.NoopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func newFilled(t *testing.T, rt *pixcache.Runtime, columns, rows int, c pixel.Color, optFns ...func(*pixcache.ImageOptions)) *pixcache.Image {
	t.Helper()
	img, err := pixcache.NewImage(rt, columns, rows, optFns...)
	require.NoError(t, err)
	require.NoError(t, img.Fill(t.Context(), c))
	return img
}

// newNoise returns an sRGB image of uniformly random samples.
func newNoise(t *testing.T, rt *pixcache.Runtime, columns, rows int, seed uint64) *pixcache.Image {
	t.Helper()
	img, err := pixcache.NewImage(rt, columns, rows)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	px := make([]pixel.Quantum, columns*rows*img.Channels())
	for i := range px {
		px[i] = pixel.Quantum(rng.IntN(int(pixel.QuantumRange) + 1))
	}
	require.NoError(t, img.WritePixels(t.Context(), img.Region(), px))
	return img
}

var approx = cmpopts.EquateApprox(1e-9, 1e-12)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in   string
		want Metric
	}{
		{"RMSE", RMSE},
		{"rmse", RMSE},
		{"fuzz", Fuzz},
		{"Phase", Phase},
		{"PHASH", PHash},
		{"RootMeanSquaredError", RMSE},
		{"normalized-cross-correlation", NCC},
		{"StructuralDissimilarity", DSSIM},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMetric("closeness")
	assert.ErrorIs(t, err, exception.ErrOption)
	_, err = ParseMetric("Undefined")
	assert.Error(t, err)
}

func TestMetric_Scale(t *testing.T) {
	assert.Equal(t, 12.0, AE.Scale(12))
	assert.Equal(t, SafePSNRReciprocal, PSNR.Scale(12))
	assert.Equal(t, pixel.QuantumRange, RMSE.Scale(12))
	assert.Equal(t, 1.0, SSIM.Scale(12))
	assert.Equal(t, 0.25, NCC.Dissimilarity(0.75))
	assert.Equal(t, 0.75, MSE.Dissimilarity(0.75))
}

func TestDistortion_Identical(t *testing.T) {
	rt := newTestRuntime(t)
	a := newNoise(t, rt, 9, 7, 1)
	e := NewEngine(rt)

	for _, m := range allMetrics {
		t.Run(m.String(), func(t *testing.T) {
			d, err := e.Distortion(t.Context(), a, a, m, nil)
			require.NoError(t, err)
			assert.InDelta(t, m.Identical(), d[pixel.Composite], 1e-9)
			for _, ch := range []pixel.Channel{pixel.Red, pixel.Green, pixel.Blue} {
				assert.InDelta(t, m.Identical(), d[ch], 1e-9, ch.String())
			}
		})
	}
}

func TestDistortion_Symmetric(t *testing.T) {
	rt := newTestRuntime(t)
	a := newNoise(t, rt, 8, 8, 1)
	b := newNoise(t, rt, 8, 8, 2)
	e := NewEngine(rt)

	for _, m := range []Metric{MSE, MAE, RMSE, NCC, Phase, PSNR} {
		t.Run(m.String(), func(t *testing.T) {
			ab, err := e.Distortion(t.Context(), a, b, m, nil)
			require.NoError(t, err)
			ba, err := e.Distortion(t.Context(), b, a, m, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(*ab, *ba, approx); diff != "" {
				t.Errorf("distortion not symmetric (-ab +ba):\n%s", diff)
			}
		})
	}
}

func TestDistortion_BlackWhite(t *testing.T) {
	rt := newTestRuntime(t)
	black := newFilled(t, rt, 2, 2, pixel.BlackColor)
	white := newFilled(t, rt, 2, 2, pixel.WhiteColor)
	e := NewEngine(rt)

	tests := []struct {
		metric Metric
		want   pixel.ChannelDistortion
	}{
		{MAE, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{MSE, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{RMSE, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{PAE, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{AE, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{Fuzz, pixel.ChannelDistortion{1, 1, 1, 0, 0, 0, 1}},
		{MEPP, pixel.ChannelDistortion{pixel.QuantumRange, pixel.QuantumRange, pixel.QuantumRange, 0, 0, 0, 3 * pixel.QuantumRange}},
		{PSNR, pixel.ChannelDistortion{}},
		{Phase, pixel.ChannelDistortion{}},
	}
	for _, tt := range tests {
		t.Run(tt.metric.String(), func(t *testing.T) {
			d, err := e.Distortion(t.Context(), black, white, tt.metric, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, *d, approx); diff != "" {
				t.Errorf("unexpected distortion (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("ErrorStatistics", func(t *testing.T) {
		_, err := e.Distortion(t.Context(), black, white, MEPP, nil)
		require.NoError(t, err)
		stats := black.ErrorStatistics()
		assert.InDelta(t, pixel.QuantumRange, stats.MeanErrorPerPixel, 1e-9)
		assert.InDelta(t, 1, stats.NormalizedMeanError, 1e-12)
		assert.InDelta(t, 1, stats.NormalizedMaximumError, 1e-12)
	})
}

func TestDistortion_Alpha(t *testing.T) {
	rt := newTestRuntime(t)
	red := newFilled(t, rt, 2, 2, pixel.Color{Red: pixel.QuantumRange}, func(o *pixcache.ImageOptions) { o.Alpha = true })
	black := newFilled(t, rt, 2, 2, pixel.TransparentColor, func(o *pixcache.ImageOptions) { o.Alpha = true })
	e := NewEngine(rt)

	d, err := e.Distortion(t.Context(), red, black, MAE, nil)
	require.NoError(t, err)
	// fully transparent red weighs nothing
	assert.Zero(t, d[pixel.Red])
	assert.Zero(t, d[pixel.Alpha])
	assert.Zero(t, d[pixel.Composite])
}

func TestDistortion_Fuzz(t *testing.T) {
	rt := newTestRuntime(t)
	a := newFilled(t, rt, 4, 4, pixel.GrayColor)
	b := newFilled(t, rt, 4, 4, pixel.GrayColor)
	require.NoError(t, b.SetPixel(t.Context(), 1, 1, pixel.Color{Red: pixel.GrayColor.Red + 100, Green: pixel.GrayColor.Green, Blue: pixel.GrayColor.Blue}))
	e := NewEngine(rt)

	d, err := e.Distortion(t.Context(), a, b, AE, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/16, d[pixel.Composite], 1e-12)
	assert.InDelta(t, 1.0/16, d[pixel.Red], 1e-12)
	assert.Zero(t, d[pixel.Green])

	a.SetFuzz(200)
	b.SetFuzz(200)
	d, err = e.Distortion(t.Context(), a, b, AE, nil)
	require.NoError(t, err)
	assert.Zero(t, d[pixel.Composite])
}

func TestDistortion_ChannelMask(t *testing.T) {
	rt := newTestRuntime(t)
	a := newFilled(t, rt, 2, 2, pixel.Color{Red: pixel.QuantumRange, Alpha: pixel.QuantumRange})
	b := newFilled(t, rt, 2, 2, pixel.BlackColor)
	a.SetChannelMask(pixel.GreenMask | pixel.BlueMask)
	e := NewEngine(rt)

	d, err := e.Distortion(t.Context(), a, b, MAE, nil)
	require.NoError(t, err)
	assert.Zero(t, d[pixel.Red])
	assert.Zero(t, d[pixel.Composite])
}

func TestDistortion_Bands(t *testing.T) {
	rt := newTestRuntime(t)
	a := newNoise(t, rt, 11, 13, 3)
	b := newNoise(t, rt, 11, 13, 4)

	whole := NewEngine(rt)
	banded := NewEngine(rt, func(o *Options) { o.BandRows = 2 })
	for _, m := range allMetrics {
		t.Run(m.String(), func(t *testing.T) {
			want, err := whole.Distortion(t.Context(), a, b, m, nil)
			require.NoError(t, err)
			got, err := banded.Distortion(t.Context(), a, b, m, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(*want, *got, approx); diff != "" {
				t.Errorf("band size changed the result (-whole +banded):\n%s", diff)
			}
		})
	}
}

func TestDistortion_ConstantWarning(t *testing.T) {
	rt := newTestRuntime(t)
	black := newFilled(t, rt, 5, 5, pixel.BlackColor)
	white := newFilled(t, rt, 5, 5, pixel.WhiteColor)
	e := NewEngine(rt)

	exc := exception.NewCollector()
	d, err := e.Distortion(t.Context(), black, white, NCC, exc)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(d[pixel.Composite]))
	assert.False(t, math.IsInf(d[pixel.Composite], 0))

	warnings := exc.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "SearchMetricUnreliable", warnings[0].Reason)

	exc = exception.NewCollector()
	_, err = e.Distortion(t.Context(), black, white, MSE, exc)
	require.NoError(t, err)
	assert.Empty(t, exc.Warnings())

	// An empty plane has no phase to correlate with.
	exc = exception.NewCollector()
	d, err = e.Distortion(t.Context(), black, white, Phase, exc)
	require.NoError(t, err)
	assert.InDelta(t, 0, d[pixel.Composite], 1e-9)
	assert.Less(t, d[pixel.Composite], Phase.Identical()-pixel.MagickEpsilon)
	require.Len(t, exc.Warnings(), 1)
	assert.Equal(t, "SearchMetricUnreliable", exc.Warnings()[0].Reason)

	d, err = e.Distortion(t.Context(), black, black, Phase, nil)
	require.NoError(t, err)
	assert.InDelta(t, Phase.Identical(), d[pixel.Composite], 1e-9)
}

func TestDistortion_Errors(t *testing.T) {
	rt := newTestRuntime(t)
	a := newFilled(t, rt, 2, 2, pixel.BlackColor)
	e := NewEngine(rt)

	d, err := e.Distortion(t.Context(), a, nil, MSE, nil)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, exception.ErrImage)

	_, err = e.Distortion(t.Context(), a, a, Metric(200), nil)
	assert.ErrorIs(t, err, exception.ErrOption)

	a.SetArtifact("compare:ssim-sigma", "wide")
	_, err = e.Distortion(t.Context(), a, a, SSIM, nil)
	assert.ErrorIs(t, err, exception.ErrOption)

	a.SetArtifact("compare:ssim-sigma", "1.5")
	for _, r := range []string{"1000000000", "3"} {
		a.SetArtifact("compare:ssim-radius", r)
		_, err = e.Distortion(t.Context(), a, a, SSIM, nil)
		assert.ErrorIs(t, err, exception.ErrOption, r)
	}
	a.SetArtifact("compare:ssim-radius", "2")
	d, err = e.Distortion(t.Context(), a, a, SSIM, nil)
	require.NoError(t, err)
	assert.InDelta(t, SSIM.Identical(), d[pixel.Composite], 1e-9)
}

func TestDistortions(t *testing.T) {
	rt := newTestRuntime(t)
	black := newFilled(t, rt, 2, 2, pixel.BlackColor)
	white := newFilled(t, rt, 2, 2, pixel.WhiteColor)

	ds, err := NewEngine(rt).Distortions(t.Context(), black, white, MAE, PSNR)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.InDelta(t, 1, ds[0][pixel.Composite], 1e-12)
	assert.InDelta(t, 0, ds[1][pixel.Composite], 1e-12)
}

func TestCompareBounds(t *testing.T) {
	rt := newTestRuntime(t)
	a := newFilled(t, rt, 4, 4, pixel.BlackColor)
	b := newFilled(t, rt, 2, 2, pixel.BlackColor)

	columns, rows := CompareBounds(a, b)
	assert.Equal(t, 4, columns)
	assert.Equal(t, 4, rows)

	b.SetArtifact("compare:virtual-pixels", "false")
	columns, rows = CompareBounds(a, b)
	assert.Equal(t, 2, columns)
	assert.Equal(t, 2, rows)
}

func TestDistortion_VirtualPixels(t *testing.T) {
	rt := newTestRuntime(t)
	a := newFilled(t, rt, 4, 4, pixel.BlackColor)
	b := newFilled(t, rt, 2, 2, pixel.BlackColor)
	e := NewEngine(rt)

	// edge virtual pixels extend black
	d, err := e.Distortion(t.Context(), a, b, MSE, nil)
	require.NoError(t, err)
	assert.Zero(t, d[pixel.Composite])

	require.NoError(t, a.Fill(t.Context(), pixel.WhiteColor))
	d, err = e.Distortion(t.Context(), a, b, AE, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1, d[pixel.Composite], 1e-12)
}

func TestDistortion_SSIMArtifacts(t *testing.T) {
	rt := newTestRuntime(t)
	a := newNoise(t, rt, 8, 8, 5)
	b := newNoise(t, rt, 8, 8, 6)
	e := NewEngine(rt)

	ssim, err := e.Distortion(t.Context(), a, b, SSIM, nil)
	require.NoError(t, err)
	dssim, err := e.Distortion(t.Context(), a, b, DSSIM, nil)
	require.NoError(t, err)
	assert.InDelta(t, (1-ssim[pixel.Composite])/2, dssim[pixel.Composite], 1e-12)
	assert.Less(t, ssim[pixel.Composite], 1.0)

	a.SetArtifact("compare:ssim-radius", "2")
	narrow, err := e.Distortion(t.Context(), a, b, SSIM, nil)
	require.NoError(t, err)
	assert.NotEqual(t, ssim[pixel.Composite], narrow[pixel.Composite])
}

func TestFFT(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{0, 1}, {1, 1}, {2, 2}, {3, 4}, {9, 16}, {16, 16}} {
		assert.Equal(t, tt.want, nextPow2(tt.in))
	}

	in := []complex128{1, 2, 3, 4, 0, -1, 5, 2}
	a := append([]complex128(nil), in...)
	fft(a, false)
	assert.InDelta(t, 16, real(a[0]), 1e-12)
	fft(a, true)
	for i := range in {
		assert.InDelta(t, real(in[i]), real(a[i]), 1e-12)
		assert.InDelta(t, 0, imag(a[i]), 1e-12)
	}
}

func TestHuMoments_Translation(t *testing.T) {
	square := func(x0, y0 int) []float64 {
		plane := make([]float64, 16*16)
		for y := y0; y < y0+4; y++ {
			for x := x0; x < x0+3; x++ {
				plane[y*16+x] = 1
			}
		}
		return plane
	}
	a := huMoments(square(2, 2), 16, 16)
	b := huMoments(square(9, 7), 16, 16)
	assert.InDelta(t, 0, hashDistance(a, b), 1e-9)

	kernel := gaussianKernel(5, 1.5)
	var sum float64
	for _, k := range kernel {
		sum += k
	}
	assert.Len(t, kernel, 11)
	assert.InDelta(t, 1, sum, 1e-12)
}
