package compare

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

func TestSearch_Locate(t *testing.T) {
	rt := newTestRuntime(t)
	ref := newNoise(t, rt, 10, 10, 7)
	patch, err := ref.Crop(t.Context(), image.Rect(4, 5, 7, 8))
	require.NoError(t, err)
	e := NewEngine(rt)

	for _, m := range []Metric{MSE, RMSE, MAE, NCC, PSNR, SSIM, Phase} {
		t.Run(m.String(), func(t *testing.T) {
			exc := exception.NewCollector()
			res, simMap, err := NewSearch(e).Locate(t.Context(), ref, patch, m, exc)
			require.NoError(t, err)
			assert.Nil(t, simMap)
			assert.Equal(t, image.Pt(4, 5), res.Offset)
			assert.InDelta(t, m.Identical(), res.Metric, 1e-9)
			assert.Empty(t, exc.Warnings())
		})
	}

	t.Run("Exhaustive", func(t *testing.T) {
		s := NewSearch(e, func(o *SearchOptions) {
			o.EarlyExit = Exhaustive
			o.SimilarityThreshold = 0.5
		})
		res, _, err := s.Locate(t.Context(), ref, patch, MSE, nil)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(4, 5), res.Offset)
	})

	for _, tt := range []struct {
		name    string
		exit    EarlyExit
		offsets int64
	}{
		{"FirstAcceptable", FirstAcceptable, 5*8 + 5},
		{"ExhaustiveCount", Exhaustive, 8 * 8},
	} {
		t.Run(tt.name, func(t *testing.T) {
			mc := &pixcache.BasicMetricsCollector{}
			cfg := pixcache.DefaultConfig()
			cfg.TempDir = t.TempDir()
			rt, err := pixcache.New(pixcache.WithConfig(cfg), pixcache.WithMetricsCollector(mc), pixcache.WithLogger(pixcache.NoopLogger()))
			require.NoError(t, err)
			defer rt.Close(t.Context())

			ref := newNoise(t, rt, 10, 10, 7)
			patch, err := ref.Crop(t.Context(), image.Rect(4, 5, 7, 8))
			require.NoError(t, err)

			s := NewSearch(NewEngine(rt), func(o *SearchOptions) {
				o.SimilarityThreshold = 0
				o.EarlyExit = tt.exit
			})
			res, _, err := s.Locate(t.Context(), ref, patch, MSE, nil)
			require.NoError(t, err)
			assert.Equal(t, image.Pt(4, 5), res.Offset)

			stats := mc.Stats()
			assert.Equal(t, int64(1), stats.SearchCount)
			assert.Equal(t, tt.offsets, stats.SearchOffsets)
		})
	}
}

func TestSearch_SimilarityMap(t *testing.T) {
	rt := newTestRuntime(t)
	ref := newNoise(t, rt, 6, 5, 8)
	patch, err := ref.Crop(t.Context(), image.Rect(2, 1, 4, 3))
	require.NoError(t, err)

	s := NewSearch(NewEngine(rt), func(o *SearchOptions) { o.SimilarityMap = true })
	res, simMap, err := s.Locate(t.Context(), ref, patch, RMSE, nil)
	require.NoError(t, err)
	require.NotNil(t, simMap)
	defer simMap.Close(t.Context())

	assert.Equal(t, image.Pt(2, 1), res.Offset)
	assert.Equal(t, 5, simMap.Columns())
	assert.Equal(t, 4, simMap.Rows())
	assert.Equal(t, pixel.GrayColorspace, simMap.Colorspace())

	best, err := simMap.Pixel(t.Context(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, pixel.QuantumRange, best.Red)
	other, err := simMap.Pixel(t.Context(), 0, 0)
	require.NoError(t, err)
	assert.Less(t, other.Red, pixel.QuantumRange)
}

func TestSearch_Errors(t *testing.T) {
	rt := newTestRuntime(t)
	small := newFilled(t, rt, 2, 2, pixel.BlackColor)
	large := newFilled(t, rt, 4, 4, pixel.BlackColor)
	s := NewSearch(NewEngine(rt))

	_, _, err := s.Locate(t.Context(), small, large, MSE, nil)
	assert.ErrorIs(t, err, exception.ErrImage)

	_, _, err = s.Locate(t.Context(), nil, large, MSE, nil)
	assert.ErrorIs(t, err, exception.ErrImage)
}

func TestSearch_Warnings(t *testing.T) {
	rt := newTestRuntime(t)
	a := newNoise(t, rt, 4, 4, 9)
	b := newNoise(t, rt, 4, 4, 10)
	s := NewSearch(NewEngine(rt))

	t.Run("EqualSize", func(t *testing.T) {
		exc := exception.NewCollector()
		_, _, err := s.Locate(t.Context(), a, a, PAE, exc)
		require.NoError(t, err)
		require.Len(t, exc.Warnings(), 1)
		assert.Equal(t, "SubimageSearchMetricUnreliable", exc.Warnings()[0].Reason)
	})

	t.Run("TooDissimilar", func(t *testing.T) {
		black := newFilled(t, rt, 4, 4, pixel.BlackColor)
		white := newFilled(t, rt, 2, 2, pixel.WhiteColor)
		exc := exception.NewCollector()
		res, _, err := s.Locate(t.Context(), black, white, MAE, exc)
		require.NoError(t, err)
		assert.InDelta(t, 1, res.Metric, 1e-12)
		require.Len(t, exc.Warnings(), 1)
		assert.Equal(t, "ImagesTooDissimilar", exc.Warnings()[0].Reason)
	})

	t.Run("Similar", func(t *testing.T) {
		exc := exception.NewCollector()
		_, _, err := s.Locate(t.Context(), a, b, MSE, exc)
		require.NoError(t, err)
		assert.Empty(t, exc.Warnings())
	})
}

func TestParseEarlyExit(t *testing.T) {
	e, err := ParseEarlyExit("Exhaustive")
	require.NoError(t, err)
	assert.Equal(t, Exhaustive, e)

	e, err = ParseEarlyExit("first")
	require.NoError(t, err)
	assert.Equal(t, FirstAcceptable, e)

	_, err = ParseEarlyExit("never")
	assert.ErrorIs(t, err, exception.ErrOption)
}
