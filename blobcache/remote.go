package blobcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hupe1980/pixcache/blobstore"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	internalcache "github.com/hupe1980/pixcache/internal/cache"
	"github.com/hupe1980/pixcache/internal/compress"
	"github.com/hupe1980/pixcache/internal/conv"
	"github.com/hupe1980/pixcache/internal/resource"
)

// DefaultChunkRows is the number of pixel rows stored per blob.
const DefaultChunkRows = 64

// DefaultPrefix is the blob name prefix of all sessions.
const DefaultPrefix = "pixcache"

// Remote opens pixel caches whose rows live in a BlobStore. It implements
// cache.Remote.
type Remote struct {
	store     blobstore.BlobStore
	prefix    string
	chunkRows int
	codec     compress.Codec
	registry  Registry
	owner     string
	chunks    internalcache.BlockCache
	acct      *resource.Accountant
	logger    *slog.Logger
}

var _ cache.Remote = (*Remote)(nil)

// Option configures a Remote.
type Option func(*Remote)

// WithPrefix sets the blob name prefix.
func WithPrefix(prefix string) Option {
	return func(r *Remote) {
		r.prefix = prefix
	}
}

// WithChunkRows sets the rows per chunk blob.
func WithChunkRows(n int) Option {
	return func(r *Remote) {
		if n > 0 {
			r.chunkRows = n
		}
	}
}

// WithCodec selects the chunk compression. compress.None stores raw frames.
func WithCodec(c compress.Codec) Option {
	return func(r *Remote) {
		r.codec = c
	}
}

// WithRegistry sets the session lease registry.
func WithRegistry(reg Registry) Option {
	return func(r *Remote) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithOwner sets the lease owner name. It defaults to host:pid.
func WithOwner(owner string) Option {
	return func(r *Remote) {
		r.owner = owner
	}
}

// WithChunkCache keeps decoded chunks in c, saving a fetch and a decode on
// repeated reads.
func WithChunkCache(c internalcache.BlockCache) Option {
	return func(r *Remote) {
		r.chunks = c
	}
}

// WithAccountant applies the accountant's IO rate limit to chunk transfers.
func WithAccountant(a *resource.Accountant) Option {
	return func(r *Remote) {
		r.acct = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Remote on store.
func New(store blobstore.BlobStore, opts ...Option) *Remote {
	host, _ := os.Hostname()
	r := &Remote{
		store:     store,
		prefix:    DefaultPrefix,
		chunkRows: DefaultChunkRows,
		codec:     compress.ZSTD,
		registry:  NewMemoryRegistry(),
		owner:     fmt.Sprintf("%s:%d", host, os.Getpid()),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open leases a fresh session id and returns an all-zero pixel cache.
// No blob is written until the first write.
func (r *Remote) Open(ctx context.Context, columns, rows, channels int) (cache.RemoteSession, error) {
	if columns <= 0 || rows <= 0 || channels <= 0 {
		return nil, exception.New(exception.ErrCache, "NegativeOrZeroImageSize",
			fmt.Sprintf("%dx%dx%d", columns, rows, channels))
	}
	rowBytes, err := conv.Extent(int64(columns), int64(channels), 2)
	if err != nil {
		return nil, exception.Wrap(exception.ErrCache, "PixelCacheAllocationFailed", "blob", err)
	}

	u := uuid.New()
	id := u.String()
	if err := r.registry.Acquire(ctx, id, r.owner); err != nil {
		return nil, exception.Wrap(exception.ErrCache, "UnableToOpenPixelCache", id, err)
	}

	s := &session{
		remote:   r,
		id:       id,
		owner:    binary.LittleEndian.Uint64(u[:8]),
		columns:  columns,
		rows:     rows,
		channels: channels,
		rowBytes: int(rowBytes),
	}
	r.logger.DebugContext(ctx, "blob cache session opened",
		"session", id,
		"columns", columns,
		"rows", rows,
		"channels", channels,
		"chunk", humanize.IBytes(uint64(rowBytes)*uint64(r.chunkRows)),
		"codec", r.codec.String(),
	)
	return s, nil
}
