package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/hupe1980/localagg/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/octet-stream"

// Options configure Dial.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string

	Bucket string
	// Prefix scopes every key of the store, e.g. "runs/cifar".
	Prefix string
	// CreateBucket makes Dial create a missing bucket.
	CreateBucket bool
}

// Store keeps checkpoints as objects of one bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ blobstore.BlobStore = (*Store)(nil)

// NewStore wraps an existing client. prefix may be empty.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Dial connects with static credentials and returns a Store.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("minio: bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: connect %s: %w", opts.Endpoint, err)
	}

	if opts.CreateBucket {
		ok, err := client.BucketExists(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("minio: bucket %s: %w", opts.Bucket, err)
		}
		if !ok {
			if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
				return nil, fmt.Errorf("minio: create bucket %s: %w", opts.Bucket, err)
			}
		}
	}
	return NewStore(client, opts.Bucket, opts.Prefix), nil
}

func (s *Store) key(name string) string { return s.prefix + name }

func notFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func mapErr(err error) error {
	if notFound(err) {
		return blobstore.ErrNotFound
	}
	return err
}

// Open stats the object and returns a ranged reader over it.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return nil, mapErr(err)
	}
	return &object{store: s, key: s.key(name), size: info.Size, etag: info.ETag}, nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Create buffers writes and uploads them with Put on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &upload{ctx: ctx, store: s, name: name}, nil
}

// Delete removes the object; a missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names below prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(obj.Key, s.prefix); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type object struct {
	store *Store
	key   string
	size  int64
	etag  string
}

// fetch reads [off, end] and pins the version seen by Open.
func (o *object) fetch(ctx context.Context, off, end int64) (*minio.Object, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	if o.etag != "" {
		if err := opts.SetMatchETag(o.etag); err != nil {
			return nil, err
		}
	}
	return o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), o.size-off)
	r, err := o.fetch(ctx, off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	n, err := io.ReadFull(r, p[:want])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= o.size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return o.fetch(ctx, off, min(off+length, o.size)-1)
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

type upload struct {
	ctx    context.Context
	store  *Store
	name   string
	buf    bytes.Buffer
	closed bool
}

func (u *upload) Write(p []byte) (int, error) {
	if u.closed {
		return 0, os.ErrClosed
	}
	return u.buf.Write(p)
}

func (u *upload) Sync() error { return nil }

func (u *upload) Close() error {
	if u.closed {
		return os.ErrClosed
	}
	u.closed = true
	return u.store.Put(u.ctx, u.name, u.buf.Bytes())
}
