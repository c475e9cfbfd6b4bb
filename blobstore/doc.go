// Package blobstore provides the object storage abstraction behind
// blob-backed pixel caches.
//
// A BlobStore is a flat namespace of byte blobs. Implementations must be safe
// for concurrent use and report missing blobs with an error satisfying
// errors.Is(err, ErrNotFound).
//
// # Implementations
//
//   - LocalStore: a local directory; reads are memory mapped, writes are
//     atomic renames
//   - MemoryStore: process memory, used by tests and single-host caches
//   - CachingStore: wraps any store with an LRU of fixed-size blocks
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
//
// Remote blobs implement ReadRange so partial reads do not fetch whole
// objects:
//
//	b, err := store.Open(ctx, "cache/6f1c.../3.px")
//	rc, err := b.ReadRange(ctx, 0, 13) // frame header only
package blobstore
