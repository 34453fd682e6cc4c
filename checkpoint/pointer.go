package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/localagg/blobstore"
	"github.com/hupe1980/localagg/codec"
)

// Pointer records which checkpoint is the latest of a run.
// s3.DDBPointer is a DynamoDB backed implementation.
type Pointer interface {
	// Latest returns the latest checkpoint name and its version, or
	// blobstore.ErrNotFound before the first commit.
	Latest(ctx context.Context) (string, uint64, error)
	// Commit records name as latest and returns the new version.
	// Returns blobstore.ErrConflict if a concurrent commit won.
	Commit(ctx context.Context, name string) (uint64, error)
}

// DefaultPointerName is the blob BlobPointer writes to.
const DefaultPointerName = "LATEST"

// BlobPointer keeps the latest checkpoint name in a small blob next to the
// checkpoints. It suits a single trainer per run; concurrent trainers sharing
// a run should use a pointer with conditional writes.
type BlobPointer struct {
	store blobstore.BlobStore
	name  string
}

// NewBlobPointer stores the pointer as name in store (DefaultPointerName if empty).
func NewBlobPointer(store blobstore.BlobStore, name string) *BlobPointer {
	if name == "" {
		name = DefaultPointerName
	}
	return &BlobPointer{store: store, name: name}
}

type pointerRecord struct {
	Checkpoint string `json:"checkpoint"`
	Version    uint64 `json:"version"`
}

// Latest implements Pointer.
func (p *BlobPointer) Latest(ctx context.Context) (string, uint64, error) {
	data, err := blobstore.ReadAll(ctx, p.store, p.name)
	if err != nil {
		return "", 0, err
	}
	var rec pointerRecord
	if err := codec.Default.Unmarshal(data, &rec); err != nil {
		return "", 0, fmt.Errorf("%w: pointer %s: %v", ErrCorrupt, p.name, err)
	}
	return rec.Checkpoint, rec.Version, nil
}

// Commit implements Pointer.
func (p *BlobPointer) Commit(ctx context.Context, name string) (uint64, error) {
	_, version, err := p.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return 0, err
	}
	rec := pointerRecord{Checkpoint: name, Version: version + 1}
	data, err := codec.Default.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := p.store.Put(ctx, p.name, data); err != nil {
		return 0, err
	}
	return rec.Version, nil
}
