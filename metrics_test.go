package pixcache

import (
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/pixcache/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicMetricsCollector(t *testing.T) {
	var m BasicMetricsCollector
	m.RecordCompare("RMSE", 2*time.Millisecond, nil)
	m.RecordCompare("RMSE", 4*time.Millisecond, errors.New("boom"))
	m.RecordSearch(25, time.Millisecond, nil)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.CompareCount)
	assert.Equal(t, int64(1), stats.CompareErrors)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), stats.CompareAvgNanos)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(25), stats.SearchOffsets)
}

func TestObserver(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.MemoryLimit = 1000
	rt, err := New(WithConfig(cfg), WithMetricsCollector(metrics))
	require.NoError(t, err)
	defer rt.Close(t.Context())

	first := newFilled(t, rt, 10, 10, pixel.WhiteColor)
	stats := metrics.Stats()
	assert.Equal(t, int64(1), stats.CacheOpenCount)
	assert.Equal(t, int64(1), stats.MemoryCaches)
	assert.Equal(t, int64(600), stats.CacheOpenBytes)

	// The second store only fits once the first is demoted.
	newFilled(t, rt, 10, 10, pixel.BlackColor)
	stats = metrics.Stats()
	assert.Equal(t, int64(2), stats.MemoryCaches)
	assert.Equal(t, int64(1), stats.EvictionCount)
	assert.Equal(t, int64(600), stats.EvictedBytes)

	c, err := first.Pixel(t.Context(), 9, 9)
	require.NoError(t, err)
	assert.Equal(t, pixel.WhiteColor, c)
}
