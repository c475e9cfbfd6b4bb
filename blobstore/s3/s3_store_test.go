package s3

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache/blobstore"
)

// TestStore_Bucket runs against the bucket named by PIXCACHE_S3_BUCKET with
// the default AWS credential chain.
func TestStore_Bucket(t *testing.T) {
	bucket := os.Getenv("PIXCACHE_S3_BUCKET")
	if bucket == "" {
		t.Skip("PIXCACHE_S3_BUCKET not set")
	}
	ctx := t.Context()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	store := NewStore(s3.NewFromConfig(cfg), bucket, fmt.Sprintf("pixcache-test-%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = blobstore.DeletePrefix(ctx, store, "") })

	rows := bytes.Repeat([]byte{0x12, 0x34}, 3<<20)
	w, err := store.Create(ctx, "s/rows")
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(rows))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "s/rows")
	require.NoError(t, err)
	assert.Equal(t, int64(len(rows)), b.Size())
	buf := make([]byte, 64)
	_, err = b.ReadAt(ctx, buf, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, rows[1<<20:1<<20+64], buf)

	require.NoError(t, store.PutIfNotExists(ctx, "s/lease", []byte("a")))
	assert.ErrorIs(t, store.PutIfNotExists(ctx, "s/lease", []byte("b")), blobstore.ErrConflict)

	names, err := store.List(ctx, "s/")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/lease", "s/rows"}, names)

	require.NoError(t, blobstore.DeletePrefix(ctx, store, "s/"))
	_, err = store.Open(ctx, "s/rows")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
