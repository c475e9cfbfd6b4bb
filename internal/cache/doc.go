// Package cache provides an LRU cache for byte blocks.
//
// # Block Cache
//
// LRUBlockCache holds recently faulted row pages of disk and remote pixel
// caches and decoded row chunks of blob-backed caches. Keys carry a
// CacheKind so the key spaces never collide, and an Owner so a single
// store's blocks can be dropped with Invalidate.
//
// Key features:
//   - Capacity bound in bytes, least recently used blocks evicted first
//   - Integrated with the resource Accountant: cached bytes count against
//     the memory ceiling and a denied reservation just skips caching
//   - Returned slices are shared and must be treated as read-only
package cache
