package pixcache

import (
	"errors"
	"fmt"
	"image"
	"io/fs"

	"github.com/hupe1980/pixcache/exception"
)

var (
	// ErrClosed is returned when a closed Runtime or Image is used.
	ErrClosed = errors.New("pixcache: closed")

	// ErrUnsupportedFormat is returned when no decoder recognizes an input.
	ErrUnsupportedFormat = errors.New("pixcache: unsupported image format")
)

// ErrInvalidConfig indicates a configuration value that cannot be parsed.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidConfig struct {
	Key   string
	Value string
	cause error
}

func (e *ErrInvalidConfig) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid config %s=%q: %v", e.Key, e.Value, e.cause)
	}
	return fmt.Sprintf("invalid config %s=%q", e.Key, e.Value)
}

func (e *ErrInvalidConfig) Unwrap() error { return e.cause }

// Is reports configuration errors as option errors.
func (e *ErrInvalidConfig) Is(target error) bool { return target == exception.ErrOption }

// translateReadError maps decoding boundary failures onto the exception
// taxonomy while keeping the original error in the chain.
func translateReadError(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, image.ErrFormat) {
		return exception.Wrap(exception.ErrImage, "NoDecodeDelegateForThisImageFormat", path,
			fmt.Errorf("%w: %w", ErrUnsupportedFormat, err))
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return exception.Wrap(exception.ErrImage, "UnableToOpenBlob", path, err)
	}
	return exception.Wrap(exception.ErrImage, "UnableToReadImage", path, err)
}
