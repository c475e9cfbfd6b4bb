package pixcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/tailscale/hujson"
)

// Environment variables consulted by LoadConfig.
const (
	EnvMemoryLimit = "PIXCACHE_MEMORY_LIMIT"
	EnvMapLimit    = "PIXCACHE_MAP_LIMIT"
	EnvDiskLimit   = "PIXCACHE_DISK_LIMIT"
	EnvThreads     = "PIXCACHE_THREADS"
	EnvTempDir     = "PIXCACHE_TMPDIR"
	EnvHosts       = "PIXCACHE_HOSTS"
	EnvSecret      = "PIXCACHE_SECRET"
)

// Config is an immutable snapshot of runtime settings. Zero limits mean no
// ceiling.
type Config struct {
	MemoryLimit int64
	MapLimit    int64
	DiskLimit   int64
	WidthLimit  int64
	HeightLimit int64
	// Threads bounds row-parallel work. Zero selects GOMAXPROCS.
	Threads int
	// IOLimit throttles scratch file and remote IO in bytes per second.
	IOLimit int64
	// PageCache bounds the row pages cached for disk and remote stores.
	PageCache    int64
	TempDir      string
	VirtualPixel cache.VirtualPixelMethod
	// Hosts and Secret select the distributed pixel cache.
	Hosts  []string
	Secret string
	// Remote is a blob store URL (file://, memory://, s3://, minio://) used
	// as the remote backing when Hosts is empty.
	Remote    string
	LogLevel  slog.Level
	LogFormat string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PageCache:    cache.DefaultPageCacheSize,
		VirtualPixel: cache.EdgeVirtualPixel,
		LogLevel:     slog.LevelWarn,
		LogFormat:    "text",
	}
}

func (c Config) resourceConfig() resource.Config {
	return resource.Config{
		MemoryLimitBytes:   c.MemoryLimit,
		MapLimitBytes:      c.MapLimit,
		DiskLimitBytes:     c.DiskLimit,
		WidthLimit:         c.WidthLimit,
		HeightLimit:        c.HeightLimit,
		MaxWorkers:         int64(c.Threads),
		IOLimitBytesPerSec: c.IOLimit,
	}
}

// ParseSize parses a byte size such as "256MiB", "2GB" or "1048576".
// "unlimited", "none" and "" yield zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "unlimited", "none", "0":
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %s overflows int64", s)
	}
	return int64(n), nil
}

// size decodes a JSON number or a humanized string.
type size int64

func (s *size) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		n, err := ParseSize(str)
		if err != nil {
			return err
		}
		*s = size(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative size %d", n)
	}
	*s = size(n)
	return nil
}

type fileConfig struct {
	MemoryLimit  *size    `json:"memory_limit"`
	MapLimit     *size    `json:"map_limit"`
	DiskLimit    *size    `json:"disk_limit"`
	WidthLimit   *int64   `json:"width_limit"`
	HeightLimit  *int64   `json:"height_limit"`
	Threads      *int     `json:"threads"`
	IOLimit      *size    `json:"io_limit"`
	PageCache    *size    `json:"page_cache"`
	TempDir      *string  `json:"temp_dir"`
	VirtualPixel *string  `json:"virtual_pixel"`
	Hosts        []string `json:"hosts"`
	Secret       *string  `json:"secret"`
	Remote       *string  `json:"remote"`
	LogLevel     *string  `json:"log_level"`
	LogFormat    *string  `json:"log_format"`
}

// LoadConfig builds a Config from defaults, the HuJSON file at path (skipped
// when path is empty) and environment overrides. lookup defaults to
// os.LookupEnv.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.merge(data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfig applies a HuJSON document on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.merge(data); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	var fc fileConfig
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	setSize := func(dst *int64, v *size) {
		if v != nil {
			*dst = int64(*v)
		}
	}
	setSize(&c.MemoryLimit, fc.MemoryLimit)
	setSize(&c.MapLimit, fc.MapLimit)
	setSize(&c.DiskLimit, fc.DiskLimit)
	setSize(&c.IOLimit, fc.IOLimit)
	setSize(&c.PageCache, fc.PageCache)
	if fc.WidthLimit != nil {
		c.WidthLimit = *fc.WidthLimit
	}
	if fc.HeightLimit != nil {
		c.HeightLimit = *fc.HeightLimit
	}
	if fc.Threads != nil {
		c.Threads = *fc.Threads
	}
	if fc.TempDir != nil {
		c.TempDir = *fc.TempDir
	}
	if fc.VirtualPixel != nil {
		m, err := cache.ParseVirtualPixelMethod(*fc.VirtualPixel)
		if err != nil {
			return &ErrInvalidConfig{Key: "virtual_pixel", Value: *fc.VirtualPixel, cause: err}
		}
		c.VirtualPixel = m
	}
	if fc.Hosts != nil {
		c.Hosts = fc.Hosts
	}
	if fc.Secret != nil {
		c.Secret = *fc.Secret
	}
	if fc.Remote != nil {
		c.Remote = *fc.Remote
	}
	if fc.LogLevel != nil {
		if err := c.LogLevel.UnmarshalText([]byte(*fc.LogLevel)); err != nil {
			return &ErrInvalidConfig{Key: "log_level", Value: *fc.LogLevel, cause: err}
		}
	}
	if fc.LogFormat != nil {
		if err := c.setLogFormat(*fc.LogFormat); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, e := range []struct {
		key string
		dst *int64
	}{
		{EnvMemoryLimit, &c.MemoryLimit},
		{EnvMapLimit, &c.MapLimit},
		{EnvDiskLimit, &c.DiskLimit},
	} {
		v, ok := lookup(e.key)
		if !ok {
			continue
		}
		n, err := ParseSize(v)
		if err != nil {
			errs = append(errs, &ErrInvalidConfig{Key: e.key, Value: v, cause: err})
			continue
		}
		*e.dst = n
	}
	if v, ok := lookup(EnvThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, &ErrInvalidConfig{Key: EnvThreads, Value: v, cause: err})
		} else {
			c.Threads = n
		}
	}
	if v, ok := lookup(EnvTempDir); ok {
		c.TempDir = v
	}
	if v, ok := lookup(EnvHosts); ok {
		c.Hosts = splitHosts(v)
	}
	if v, ok := lookup(EnvSecret); ok {
		c.Secret = v
	}
	return errors.Join(errs...)
}

// SetLimit applies a resource limit by its command line name: memory, map,
// disk, width, height, thread or throttle.
func (c *Config) SetLimit(kind, value string) error {
	invalid := func(err error) error {
		return &ErrInvalidConfig{Key: kind, Value: value, cause: err}
	}
	switch strings.ToLower(kind) {
	case "memory", "map", "disk", "throttle":
		n, err := ParseSize(value)
		if err != nil {
			return invalid(err)
		}
		switch strings.ToLower(kind) {
		case "memory":
			c.MemoryLimit = n
		case "map":
			c.MapLimit = n
		case "disk":
			c.DiskLimit = n
		default:
			c.IOLimit = n
		}
	case "width", "height":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return invalid(err)
		}
		if strings.EqualFold(kind, "width") {
			c.WidthLimit = n
		} else {
			c.HeightLimit = n
		}
	case "thread", "threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return invalid(err)
		}
		c.Threads = n
	default:
		return invalid(errors.New("unknown resource"))
	}
	return nil
}

func (c *Config) setLogFormat(format string) error {
	switch f := strings.ToLower(format); f {
	case "text", "json":
		c.LogFormat = f
		return nil
	default:
		return &ErrInvalidConfig{Key: "log_format", Value: format}
	}
}

// NewLogger returns the logger described by LogLevel and LogFormat.
func (c Config) NewLogger() *Logger {
	return newLogger(os.Stderr, c.LogFormat, c.LogLevel)
}

func splitHosts(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
