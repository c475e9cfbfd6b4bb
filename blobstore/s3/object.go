package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// object is an S3 object opened for ranged reads. Every read is one
// GetObject with a Range header.
type object struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

// span clips [off, off+length) to the object and returns the inclusive end.
func (o *object) span(off, length int64) (int64, int64, bool) {
	if off < 0 || off >= o.size || length <= 0 {
		return 0, 0, false
	}
	return off, min(off+length, o.size) - 1, true
}

func (o *object) get(ctx context.Context, off, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", o.key, err)
	}
	return out.Body, nil
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	off, end, ok := o.span(off, int64(len(p)))
	if !ok {
		return 0, io.EOF
	}
	body, err := o.get(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:end-off+1])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	off, end, ok := o.span(off, length)
	if !ok {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return o.get(ctx, off, end)
}
