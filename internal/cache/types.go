package cache

import "context"

// CacheKind separates the key spaces sharing one cache.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindRows              // faulted row pages of disk and remote pixel caches
	CacheKindChunk             // decoded row chunks of blob-backed caches
	CacheKindBlob              // fixed-size blocks of blob store objects
)

// CacheKey identifies one cached block. Blocks sharing Kind, Owner and Path
// form a group that is dropped together when its pixel cache or blob goes
// away.
type CacheKey struct {
	Kind CacheKind
	// Owner is the pixel cache or session id.
	Owner uint64
	// Offset is the page, chunk or block index within the group.
	Offset uint64
	// Path names the source blob, if any.
	Path string
}

func (k CacheKey) group() groupKey {
	return groupKey{kind: k.Kind, owner: k.Owner, path: k.Path}
}

type groupKey struct {
	kind  CacheKind
	owner uint64
	path  string
}

// BlockCache holds immutable byte blocks. Returned slices are read-only.
type BlockCache interface {
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set may retain b.
	Set(ctx context.Context, key CacheKey, b []byte)
	// InvalidateGroup drops every block in key's group; key.Offset is
	// ignored.
	InvalidateGroup(key CacheKey)
	// Invalidate drops the blocks matching predicate.
	Invalidate(predicate func(key CacheKey) bool)
	Close() error
	Stats() (hits, misses int64)
}
