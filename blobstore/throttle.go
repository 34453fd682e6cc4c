package blobstore

import (
	"context"
	"io"

	"github.com/hupe1980/localagg/internal/resource"
)

// ThrottledStore rate limits the bytes moved through an inner store using
// the IO budget of a resource.Controller. A nil controller disables throttling.
type ThrottledStore struct {
	inner BlobStore
	rc    *resource.Controller
}

// NewThrottledStore wraps inner.
func NewThrottledStore(inner BlobStore, rc *resource.Controller) *ThrottledStore {
	return &ThrottledStore{inner: inner, rc: rc}
}

// Open opens a blob whose reads are charged against the IO budget.
func (s *ThrottledStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledBlob{Blob: b, rc: s.rc}, nil
}

// Create creates a blob whose writes are charged against the IO budget.
func (s *ThrottledStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledWriter{WritableBlob: w, ctx: ctx, rc: s.rc}, nil
}

// Put waits for IO budget and writes the blob.
func (s *ThrottledStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.rc.WaitIO(ctx, len(data)); err != nil {
		return err
	}
	return s.inner.Put(ctx, name, data)
}

// Delete removes a blob.
func (s *ThrottledStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *ThrottledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type throttledBlob struct {
	Blob
	rc *resource.Controller
}

func (b *throttledBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := b.rc.WaitIO(ctx, len(p)); err != nil {
		return 0, err
	}
	return b.Blob.ReadAt(ctx, p, off)
}

func (b *throttledBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if remaining := b.Size() - off; length > remaining {
		length = max(remaining, 0)
	}
	if err := b.rc.WaitIO(ctx, int(length)); err != nil {
		return nil, err
	}
	return b.Blob.ReadRange(ctx, off, length)
}

type throttledWriter struct {
	WritableBlob
	ctx context.Context
	rc  *resource.Controller
}

func (w *throttledWriter) Write(p []byte) (int, error) {
	if err := w.rc.WaitIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.WritableBlob.Write(p)
}
