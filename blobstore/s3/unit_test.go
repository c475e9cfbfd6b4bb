package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pixcache/blobstore"
)

type mockClient struct {
	mock.Mock
}

func result[T any](args mock.Arguments) (*T, error) {
	out, _ := args.Get(0).(*T)
	return out, args.Error(1)
}

func (m *mockClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return result[s3.HeadObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return result[s3.GetObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return result[s3.PutObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return result[s3.DeleteObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return result[s3.DeleteObjectsOutput](m.Called(ctx, in))
}

func (m *mockClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return result[s3.ListObjectsV2Output](m.Called(ctx, in))
}

func (m *mockClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return result[s3.UploadPartOutput](m.Called(ctx, in))
}

func (m *mockClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return result[s3.CreateMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return result[s3.CompleteMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return result[s3.AbortMultipartUploadOutput](m.Called(ctx, in))
}

func TestStore_Open(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "/cache/")

	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/missing"
	})).Return(nil, &types.NotFound{}).Once()
	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Bucket) == "pixels" && aws.ToString(in.Key) == "cache/s1/rows"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(4096)}, nil).Once()
	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/denied"
	})).Return(nil, &smithy.GenericAPIError{Code: "AccessDenied"}).Once()

	_, err := store.Open(t.Context(), "s1/missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	b, err := store.Open(t.Context(), "s1/rows")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), b.Size())

	_, err = store.Open(t.Context(), "s1/denied")
	require.Error(t, err)
	assert.NotErrorIs(t, err, blobstore.ErrNotFound)
	c.AssertExpectations(t)
}

func TestStore_Delete(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache")

	c.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/rows"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()
	c.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/gone"
	})).Return(nil, &types.NoSuchKey{}).Once()

	assert.NoError(t, store.Delete(t.Context(), "s1/rows"))
	assert.NoError(t, store.Delete(t.Context(), "s1/gone"))
	c.AssertExpectations(t)
}

func TestStore_DeletePrefix(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache")

	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "cache/s1/"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("cache/s1/a")}, {Key: aws.String("cache/s1/b")}},
	}, nil).Once()
	c.On("DeleteObjects", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectsInput) bool {
		return len(in.Delete.Objects) == 2 && aws.ToString(in.Delete.Objects[1].Key) == "cache/s1/b"
	})).Return(&s3.DeleteObjectsOutput{
		Errors: []types.Error{{Key: aws.String("cache/s1/b"), Message: aws.String("AccessDenied")}},
	}, nil).Once()

	err := blobstore.DeletePrefix(t.Context(), store, "s1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache/s1/b")
	c.AssertExpectations(t)
}

func TestStore_List(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache/")

	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil && aws.ToString(in.Prefix) == "cache/s1/"
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("cache/s1/chunk-1")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
	}, nil).Once()
	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("cache/s1/chunk-0")}},
	}, nil).Once()

	names, err := store.List(t.Context(), "s1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1/chunk-0", "s1/chunk-1"}, names)
	c.AssertExpectations(t)
}

func TestObject_Reads(t *testing.T) {
	c := new(mockClient)
	o := &object{client: c, bucket: "pixels", key: "k", size: 10}
	ranged := func(r, body string) {
		c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
			return aws.ToString(in.Range) == r
		})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil).Once()
	}

	ranged("bytes=0-4", "quant")
	buf := make([]byte, 5)
	n, err := o.ReadAt(t.Context(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "quant", string(buf[:n]))

	ranged("bytes=8-9", "um")
	n, err = o.ReadAt(t.Context(), buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "um", string(buf[:n]))

	_, err = o.ReadAt(t.Context(), buf, 10)
	assert.ErrorIs(t, err, io.EOF)

	ranged("bytes=7-9", "xyz")
	rc, err := o.ReadRange(t.Context(), 7, 50)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "xyz", string(got))

	rc, err = o.ReadRange(t.Context(), 12, 1)
	require.NoError(t, err)
	got, _ = io.ReadAll(rc)
	assert.Empty(t, got)
	c.AssertExpectations(t)
}

func TestStore_Put(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache")

	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/chunk-0" &&
			aws.ToString(in.ChecksumCRC32C) == checksumCRC32C([]byte("rows")) &&
			in.IfNoneMatch == nil
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(t.Context(), "s1/chunk-0", []byte("rows")))
	c.AssertExpectations(t)

	plain := NewStore(c, "pixels", "", func(o *Options) { o.Upload.EnableChecksum = false })
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "s1" && in.ChecksumCRC32C == nil
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	require.NoError(t, plain.Put(t.Context(), "s1", nil))
}

func TestStore_PutIfNotExists(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache")

	conditional := mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.IfNoneMatch) == "*"
	})
	c.On("PutObject", mock.Anything, conditional).Return(&s3.PutObjectOutput{}, nil).Once()
	c.On("PutObject", mock.Anything, conditional).
		Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}).Once()
	c.On("PutObject", mock.Anything, conditional).
		Return(nil, &smithy.GenericAPIError{Code: "SlowDown"}).Once()

	require.NoError(t, store.PutIfNotExists(t.Context(), "leases/s1", []byte("a")))
	assert.ErrorIs(t, store.PutIfNotExists(t.Context(), "leases/s1", []byte("b")), blobstore.ErrConflict)
	err := store.PutIfNotExists(t.Context(), "leases/s1", []byte("c"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, blobstore.ErrConflict)
}

func TestStore_Create(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "pixels", "cache")

	var uploaded string
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "cache/s1/chunk-2"
	})).Run(func(args mock.Arguments) {
		b, _ := io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
		uploaded = string(b)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	w, err := store.Create(t.Context(), "s1/chunk-2")
	require.NoError(t, err)
	_, err = w.Write([]byte("quantum rows"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, "quantum rows", uploaded)

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
