// Package blobcache stores remote pixel caches in a blobstore.BlobStore.
//
// A session's pixels are cut into chunks of whole rows and written as
// `<prefix>/<session>/<chunk>.px`. Each chunk is a compress frame (zstd by
// default, raw when compression does not pay), so a sparse or flat image
// costs little storage. Chunks that were never written read as zeros.
//
// Remote implements cache.Remote and is wired into a cache.Manager as the
// last-resort backing:
//
//	remote := blobcache.New(minioStore,
//	    blobcache.WithPrefix("pixcache"),
//	    blobcache.WithRegistry(s3.NewDDBRegistry(ddb, "pixcache-sessions", 0)),
//	)
//	mgr := cache.NewManager(acct, cache.WithRemote(remote))
//
// Every session id is leased from a Registry for its lifetime. Closing a
// session deletes its chunks and releases the lease.
package blobcache
