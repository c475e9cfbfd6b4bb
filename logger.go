package pixcache

import (
	"context"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/pixcache/cache"
)

// Logger is the slog.Logger of a Runtime with helpers for the events the
// pixel cache and the compare engine report.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler; nil logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines at level or above to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "json", level)
}

// NewTextLogger logs logfmt lines at level or above to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "text", level)
}

func newLogger(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return NewLogger(slog.NewJSONHandler(w, opts))
	}
	return NewLogger(slog.NewTextHandler(w, opts))
}

// NoopLogger discards everything.
func NoopLogger() *Logger { return NewLogger(slog.DiscardHandler) }

// WithImage tags records with an image name and its size.
func (l *Logger) WithImage(name string, columns, rows int) *Logger {
	return &Logger{Logger: l.With(slog.Group("image", "name", name, "columns", columns, "rows", rows))}
}

func byteSize(bytes int64) string { return humanize.IBytes(uint64(max(bytes, 0))) }

// LogCacheOpen reports the pixel cache acquired for an image, or why none
// could be.
func (l *Logger) LogCacheOpen(ctx context.Context, g cache.Geometry, t cache.Type, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pixel cache unavailable", "size", byteSize(g.Bytes()), "error", err)
		return
	}
	l.DebugContext(ctx, "pixel cache opened", "type", t.String(), "channels", g.Channels(), "size", byteSize(g.Bytes()))
}

// LogEviction reports a store demoted to a slower cache type.
func (l *Logger) LogEviction(ctx context.Context, from, to cache.Type, bytes int64) {
	l.InfoContext(ctx, "pixel cache demoted", "from", from.String(), "to", to.String(), "size", byteSize(bytes))
}

// LogCompare reports a distortion computation.
func (l *Logger) LogCompare(ctx context.Context, metric string, distortion float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compare failed", "metric", metric, "error", err)
		return
	}
	l.DebugContext(ctx, "compare done", "metric", metric, "distortion", distortion)
}

// LogSearch reports the outcome of a subimage search.
func (l *Logger) LogSearch(ctx context.Context, metric string, offset image.Point, similarity float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "subimage search failed", "metric", metric, "error", err)
		return
	}
	l.DebugContext(ctx, "subimage search done", "metric", metric, "x", offset.X, "y", offset.Y, "similarity", similarity)
}
