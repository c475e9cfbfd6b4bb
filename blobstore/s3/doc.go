// Package s3 provides an Amazon S3 BlobStore and a DynamoDB session registry
// for blob-backed pixel caches.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "pixcache/")
//	reg := s3.NewDDBRegistry(dynamodb.NewFromConfig(cfg), "pixcache-sessions", 0)
//	remote := blobcache.New(store, blobcache.WithRegistry(reg))
//
// Ranged GetObject calls serve partial reads; Create streams through the
// multipart upload manager; Put and PutIfNotExists carry CRC32C checksums.
package s3
