package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/pixcache/blobstore"
)

var errWriterClosed = errors.New("minio: writer closed")

// Store keeps blobs as objects under a key prefix of one bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a store rooted at prefix (for example "pixcache/") in
// bucket.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// listKey keeps a trailing slash so "s1/" does not match "s10/".
func (s *Store) listKey(prefix string) string {
	k := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func (s *Store) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrap("stat", name, err)
	}
	return &object{store: s, key: s.key(name), size: info.Size}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return s.wrap("put", name, err)
}

// Create streams the blob through a pipe into a single PutObject call of
// unknown length; the object appears when Close returns nil.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	w := &writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1,
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		pr.CloseWithError(err)
		w.done <- s.wrap("put", name, err)
	}()
	return w, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if notFound(err) {
		return nil
	}
	return s.wrap("remove", name, err)
}

// DeletePrefix removes the objects under prefix with batched delete
// requests.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.listKey(prefix), Recursive: true})
	var errs []error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if !notFound(rerr.Err) {
			errs = append(errs, fmt.Errorf("minio: remove %s: %w", rerr.ObjectName, rerr.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.listKey(prefix), Recursive: true}) {
		if obj.Err != nil {
			return nil, s.wrap("list", prefix, obj.Err)
		}
		if n := s.name(obj.Key); n != "" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) wrap(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case notFound(err):
		return fmt.Errorf("minio: %s %s: %w", op, name, blobstore.ErrNotFound)
	default:
		return fmt.Errorf("minio: %s %s/%s: %w", op, s.bucket, s.key(name), err)
	}
}

func notFound(err error) bool {
	if err == nil {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchObject":
		return true
	}
	return false
}

type object struct {
	store *Store
	key   string
	size  int64
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

// span returns the inclusive byte range [off, end] clipped to the object.
func (o *object) span(off, length int64) (int64, int64, bool) {
	if off < 0 || off >= o.size || length <= 0 {
		return 0, 0, false
	}
	return off, min(off+length, o.size) - 1, true
}

func (o *object) get(ctx context.Context, off, end int64) (*minio.Object, error) {
	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	obj, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return nil, o.store.wrap("get", o.store.name(o.key), err)
	}
	return obj, nil
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	off, end, ok := o.span(off, int64(len(p)))
	if !ok {
		return 0, io.EOF
	}
	obj, err := o.get(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off+1])
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
	obj, err := o.get(ctx, off, end)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

type writer struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	return w.pw.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true
	_ = w.pw.Close()
	return <-w.done
}

func (w *writer) Sync() error { return nil }
