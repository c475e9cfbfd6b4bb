package blobcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/hupe1980/pixcache/blobstore"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	internalcache "github.com/hupe1980/pixcache/internal/cache"
	"github.com/hupe1980/pixcache/internal/compress"
	"github.com/hupe1980/pixcache/pixel"
)

// session is one blob-backed pixel cache. Chunk i holds rows
// [i*chunkRows, (i+1)*chunkRows) as little-endian samples.
type session struct {
	remote   *Remote
	id       string
	owner    uint64
	columns  int
	rows     int
	channels int
	rowBytes int

	mu      sync.Mutex
	written map[int]struct{}
	closed  bool
}

func (s *session) chunkName(i int) string {
	return path.Join(s.remote.prefix, s.id, fmt.Sprintf("%d.px", i))
}

func (s *session) chunkKey(i int) internalcache.CacheKey {
	return internalcache.CacheKey{Kind: internalcache.CacheKindChunk, Owner: s.owner, Offset: uint64(i)}
}

// chunkLen returns the byte size of chunk i; the last chunk may be short.
func (s *session) chunkLen(i int) int {
	first := i * s.remote.chunkRows
	return min(s.remote.chunkRows, s.rows-first) * s.rowBytes
}

func (s *session) check(r cache.Region, n int) error {
	if s.closed {
		return exception.New(exception.ErrCache, "PixelCacheIsNotOpen", s.id)
	}
	if r.Empty() || !r.Inside(s.columns, s.rows) {
		return exception.New(exception.ErrCache, "UnableToGetPixelsFromCache", r.String())
	}
	if want := r.Area() * s.channels; n != want {
		return exception.New(exception.ErrCache, "UnableToGetPixelsFromCache",
			fmt.Sprintf("buffer holds %d samples, region needs %d", n, want))
	}
	return nil
}

// load returns a private copy of chunk i. Missing chunks read as zeros.
func (s *session) load(ctx context.Context, i int) ([]byte, error) {
	size := s.chunkLen(i)
	if c := s.remote.chunks; c != nil {
		if data, ok := c.Get(ctx, s.chunkKey(i)); ok {
			return append([]byte(nil), data...), nil
		}
	}

	frame, err := blobstore.ReadAll(ctx, s.remote.store, s.chunkName(i))
	if errors.Is(err, blobstore.ErrNotFound) {
		return make([]byte, size), nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.remote.acct.AcquireIO(ctx, len(frame)); err != nil {
		return nil, err
	}
	raw, err := compress.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", s.chunkName(i), err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("chunk %s: %w: %d bytes, want %d", s.chunkName(i), compress.ErrCorrupt, len(raw), size)
	}
	if c := s.remote.chunks; c != nil {
		c.Set(ctx, s.chunkKey(i), append([]byte(nil), raw...))
	}
	return raw, nil
}

func (s *session) store(ctx context.Context, i int, raw []byte) error {
	frame, err := compress.Encode(raw, s.remote.codec)
	if err != nil {
		return err
	}
	if err := s.remote.acct.AcquireIO(ctx, len(frame)); err != nil {
		return err
	}
	if err := s.remote.store.Put(ctx, s.chunkName(i), frame); err != nil {
		return err
	}
	if s.written == nil {
		s.written = make(map[int]struct{})
	}
	s.written[i] = struct{}{}
	if c := s.remote.chunks; c != nil {
		c.Set(ctx, s.chunkKey(i), append([]byte(nil), raw...))
	}
	return nil
}

// chunks calls fn for every chunk overlapping r with the rows of r that fall
// inside it.
func (s *session) chunks(r cache.Region, fn func(i, firstRow, lastRow int) error) error {
	cr := s.remote.chunkRows
	for i := r.Y / cr; i <= (r.Y+r.Height-1)/cr; i++ {
		first := max(r.Y, i*cr)
		last := min(r.Y+r.Height, (i+1)*cr) - 1
		if err := fn(i, first, last); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) ReadRegion(ctx context.Context, r cache.Region, dst []pixel.Quantum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(r, len(dst)); err != nil {
		return err
	}

	span := r.Width * s.channels
	err := s.chunks(r, func(i, first, last int) error {
		raw, err := s.load(ctx, i)
		if err != nil {
			return err
		}
		for y := first; y <= last; y++ {
			src := raw[s.offset(i, r.X, y):]
			out := dst[(y-r.Y)*span : (y-r.Y+1)*span]
			for k := range out {
				out[k] = pixel.Quantum(binary.LittleEndian.Uint16(src[2*k:]))
			}
		}
		return nil
	})
	if err != nil {
		return exception.Wrap(exception.ErrCache, "UnableToReadPixelCache", s.id, err)
	}
	return nil
}

// WriteRegion is a read-modify-write of every chunk r touches. Chunks fully
// covered by r are not fetched.
func (s *session) WriteRegion(ctx context.Context, r cache.Region, src []pixel.Quantum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(r, len(src)); err != nil {
		return err
	}

	span := r.Width * s.channels
	err := s.chunks(r, func(i, first, last int) error {
		var raw []byte
		covered := r.X == 0 && r.Width == s.columns &&
			first == i*s.remote.chunkRows && (last-first+1)*s.rowBytes == s.chunkLen(i)
		if covered {
			raw = make([]byte, s.chunkLen(i))
		} else {
			var err error
			if raw, err = s.load(ctx, i); err != nil {
				return err
			}
		}
		for y := first; y <= last; y++ {
			out := raw[s.offset(i, r.X, y):]
			in := src[(y-r.Y)*span : (y-r.Y+1)*span]
			for k, q := range in {
				binary.LittleEndian.PutUint16(out[2*k:], uint16(q))
			}
		}
		return s.store(ctx, i, raw)
	})
	if err != nil {
		return exception.Wrap(exception.ErrCache, "UnableToWritePixelCache", s.id, err)
	}
	return nil
}

// offset is the byte offset of pixel (x, y) inside chunk i.
func (s *session) offset(i, x, y int) int {
	return (y-i*s.remote.chunkRows)*s.rowBytes + x*s.channels*2
}

// Close deletes every chunk of the session and releases its lease.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if c := s.remote.chunks; c != nil {
		c.InvalidateGroup(s.chunkKey(0))
	}

	var errs []error
	if err := blobstore.DeletePrefix(ctx, s.remote.store, path.Join(s.remote.prefix, s.id)+"/"); err != nil {
		errs = append(errs, err)
	}
	if err := s.remote.registry.Release(ctx, s.id, s.remote.owner); err != nil {
		errs = append(errs, err)
	}
	s.remote.logger.DebugContext(ctx, "blob cache session closed",
		"session", s.id,
		"chunks_written", len(s.written),
	)
	return errors.Join(errs...)
}
