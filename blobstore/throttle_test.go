package blobstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/hupe1980/localagg/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottledStore_PassThrough(t *testing.T) {
	store := NewThrottledStore(NewMemoryStore(), nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "x", []byte("payload")))

	w, err := store.Create(ctx, "y")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	blob, err := store.Open(ctx, "y")
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "str", string(buf))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)
	require.NoError(t, store.Delete(ctx, "x"))
}

func TestThrottledStore_RespectsContext(t *testing.T) {
	rc := resource.NewController(resource.Limits{CheckpointBytesPerSec: 8})
	store := NewThrottledStore(NewMemoryStore(), rc)

	// Drain the bucket.
	require.NoError(t, store.Put(context.Background(), "a", make([]byte, 8)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.Put(ctx, "b", make([]byte, 64))
	assert.Error(t, err)

	_, err = store.Open(context.Background(), "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThrottledStore_ReadRangeClampsToSize(t *testing.T) {
	rc := resource.NewController(resource.Limits{CheckpointBytesPerSec: 1 << 20})
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(context.Background(), "a", []byte("abc")))

	store := NewThrottledStore(inner, rc)
	blob, err := store.Open(context.Background(), "a")
	require.NoError(t, err)

	r, err := blob.ReadRange(context.Background(), 1, 1<<40)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(got))
}
