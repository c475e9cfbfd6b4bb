package pixcache

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"unlimited", 0},
		{"0", 0},
		{"1048576", 1 << 20},
		{"256MiB", 256 << 20},
		{"2GB", 2_000_000_000},
		{"64 KiB", 64 << 10},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSize("lots")
	assert.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	t.Run("HuJSON", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`{
			// ceilings
			"memory_limit": "256MiB",
			"disk_limit": 1073741824,
			"threads": 4,
			"virtual_pixel": "mirror",
			"hosts": ["a:6668", "b:6668"],
			"log_level": "debug",
			"log_format": "json", // trailing comma below
		}`))
		require.NoError(t, err)
		assert.Equal(t, int64(256<<20), cfg.MemoryLimit)
		assert.Equal(t, int64(1<<30), cfg.DiskLimit)
		assert.Equal(t, 4, cfg.Threads)
		assert.Equal(t, cache.MirrorVirtualPixel, cfg.VirtualPixel)
		assert.Equal(t, []string{"a:6668", "b:6668"}, cfg.Hosts)
		assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, int64(cache.DefaultPageCacheSize), cfg.PageCache)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"memroy_limit": 1}`))
		assert.Error(t, err)
	})

	t.Run("BadVirtualPixel", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"virtual_pixel": "sideways"}`))
		var invalid *ErrInvalidConfig
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "virtual_pixel", invalid.Key)
		assert.ErrorIs(t, err, exception.ErrOption)
	})

	t.Run("BadLogFormat", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"log_format": "xml"}`))
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixcache.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{"memory_limit": "1MiB", "threads": 2}`), 0o600))

	t.Run("FileThenEnv", func(t *testing.T) {
		cfg, err := LoadConfig(path, envMap(map[string]string{
			EnvMemoryLimit: "4MiB",
			EnvHosts:       "h1:1, h2:2",
			EnvSecret:      "s3cret",
		}))
		require.NoError(t, err)
		assert.Equal(t, int64(4<<20), cfg.MemoryLimit)
		assert.Equal(t, 2, cfg.Threads)
		assert.Equal(t, []string{"h1:1", "h2:2"}, cfg.Hosts)
		assert.Equal(t, "s3cret", cfg.Secret)
	})

	t.Run("BadEnv", func(t *testing.T) {
		_, err := LoadConfig("", envMap(map[string]string{
			EnvDiskLimit: "plenty",
			EnvThreads:   "-1",
		}))
		require.Error(t, err)
		var invalid *ErrInvalidConfig
		assert.True(t, errors.As(err, &invalid))
		assert.Contains(t, err.Error(), EnvDiskLimit)
		assert.Contains(t, err.Error(), EnvThreads)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope"), envMap(nil))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestConfig_SetLimit(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetLimit("memory", "2MiB"))
	require.NoError(t, cfg.SetLimit("Map", "unlimited"))
	require.NoError(t, cfg.SetLimit("disk", "1GB"))
	require.NoError(t, cfg.SetLimit("throttle", "10MB"))
	require.NoError(t, cfg.SetLimit("width", "8192"))
	require.NoError(t, cfg.SetLimit("thread", "3"))

	assert.Equal(t, int64(2<<20), cfg.MemoryLimit)
	assert.Zero(t, cfg.MapLimit)
	assert.Equal(t, int64(1_000_000_000), cfg.DiskLimit)
	assert.Equal(t, int64(10_000_000), cfg.IOLimit)
	assert.Equal(t, int64(8192), cfg.WidthLimit)
	assert.Equal(t, 3, cfg.Threads)

	assert.Error(t, cfg.SetLimit("area", "1"))
	assert.Error(t, cfg.SetLimit("height", "-5"))
	assert.Error(t, cfg.SetLimit("memory", "heaps"))
}
