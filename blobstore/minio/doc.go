// Package minio provides a BlobStore on MinIO and other S3-compatible
// servers (Ceph, Garage, SeaweedFS) through the MinIO Go client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "pixels", "pixcache/")
//	remote := blobcache.New(store, blobcache.WithPrefix("sessions"))
//	rt, err := pixcache.New(pixcache.WithRemote(remote))
package minio
