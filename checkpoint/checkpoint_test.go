package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/localagg/blobstore"
	"github.com/hupe1980/localagg/codec"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/metrics"
	"github.com/hupe1980/localagg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encoderState(t *testing.T) nn.StateDict {
	t.Helper()
	enc, err := nn.NewLinearEncoder(64, 8, nn.WithEncoderSeed(3))
	require.NoError(t, err)
	return enc.StateDict()
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "model.tar", Filename("model"))
	assert.Equal(t, "model.tar", Filename("model.tar"))
	assert.Equal(t, "runs/a/model_in_training.tar", Filename("runs/a/model_in_training"))
}

func TestManager_RoundTrip(t *testing.T) {
	ctx := context.Background()
	state := encoderState(t)

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
			t.Run(fmt.Sprintf("%s/%s", c.Name(), comp), func(t *testing.T) {
				m, err := NewManager(blobstore.NewMemoryStore(), WithCodec(c), WithCompression(comp))
				require.NoError(t, err)

				meta := Metadata{Label: "run", Epoch: 3, Loss: 1.25, Dim: 8, SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
				name, err := m.Save(ctx, "model", state, meta)
				require.NoError(t, err)
				assert.Equal(t, "model.tar", name)

				cp, err := m.Load(ctx, "model")
				require.NoError(t, err)
				assert.Equal(t, "model.tar", cp.Name)
				assert.Equal(t, c.Name(), cp.Codec)
				assert.False(t, cp.Autoencoder)
				assert.Equal(t, state, cp.State)
				assert.Equal(t, meta, cp.Meta)
			})
		}
	}
}

func TestManager_LoadIntoEncoder(t *testing.T) {
	ctx := context.Background()
	src, err := nn.NewLinearEncoder(16, 4, nn.WithEncoderSeed(1))
	require.NoError(t, err)
	dst, err := nn.NewLinearEncoder(16, 4, nn.WithEncoderSeed(2))
	require.NoError(t, err)

	m, err := NewManager(blobstore.NewLocalStore(t.TempDir()))
	require.NoError(t, err)

	_, err = m.Save(ctx, "enc.tar", src.StateDict(), Metadata{})
	require.NoError(t, err)

	cp, err := m.Load(ctx, "enc.tar")
	require.NoError(t, err)
	require.NoError(t, dst.LoadStateDict(cp.State))
	assert.Equal(t, src.StateDict(), dst.StateDict())
	assert.False(t, cp.Meta.SavedAt.IsZero(), "save time is filled in")
}

func TestManager_AutoencoderStripping(t *testing.T) {
	ctx := context.Background()
	enc := encoderState(t)

	ae := nn.StateDict{
		"encoder.weight": enc["weight"],
		"encoder.bias":   enc["bias"],
		"decoder.weight": nn.NewTensor(64, 8),
		"decoder.bias":   nn.NewTensor(64),
	}

	m, err := NewManager(blobstore.NewMemoryStore())
	require.NoError(t, err)
	_, err = m.Save(ctx, "ae", ae, Metadata{})
	require.NoError(t, err)

	cp, err := m.Load(ctx, "ae")
	require.NoError(t, err)
	assert.True(t, cp.Autoencoder)
	assert.Equal(t, enc, cp.State)
}

func TestStripAutoencoder_PassThrough(t *testing.T) {
	sd := nn.StateDict{"weight": nn.NewTensor(1), "encoder.bias": nn.NewTensor(1)}
	assert.Equal(t, sd, StripAutoencoder(sd), "without a decoder nothing is renamed")
}

func TestManager_Pointer(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	ptr := NewBlobPointer(store, "")

	m, err := NewManager(store, WithPointer(ptr))
	require.NoError(t, err)

	_, err = m.LoadLatest(ctx)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	state := encoderState(t)
	for epoch := 1; epoch <= 3; epoch++ {
		_, err := m.Save(ctx, fmt.Sprintf("epoch-%d", epoch), state, Metadata{Epoch: epoch})
		require.NoError(t, err)
	}

	name, version, err := ptr.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "epoch-3.tar", name)
	assert.Equal(t, uint64(3), version)

	cp, err := m.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Meta.Epoch)

	names, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"epoch-1.tar", "epoch-2.tar", "epoch-3.tar"}, names, "the pointer blob is not a checkpoint")

	require.NoError(t, m.Delete(ctx, "epoch-1"))
	names, err = m.List(ctx, "epoch-1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

type conflictingPointer struct {
	failures int
	calls    int
}

func (p *conflictingPointer) Latest(context.Context) (string, uint64, error) {
	return "", 0, blobstore.ErrNotFound
}

func (p *conflictingPointer) Commit(context.Context, string) (uint64, error) {
	p.calls++
	if p.calls <= p.failures {
		return 0, blobstore.ErrConflict
	}
	return uint64(p.calls), nil
}

func TestManager_PointerConflictRetries(t *testing.T) {
	ctx := context.Background()

	ptr := &conflictingPointer{failures: 2}
	m, err := NewManager(blobstore.NewMemoryStore(), WithPointer(ptr))
	require.NoError(t, err)
	_, err = m.Save(ctx, "a", encoderState(t), Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 3, ptr.calls)

	ptr = &conflictingPointer{failures: 10}
	m, err = NewManager(blobstore.NewMemoryStore(), WithPointer(ptr))
	require.NoError(t, err)
	_, err = m.Save(ctx, "a", encoderState(t), Metadata{})
	assert.ErrorIs(t, err, blobstore.ErrConflict)
	assert.Equal(t, commitAttempts, ptr.calls)
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewManager(nil)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewManager(blobstore.NewMemoryStore(), WithCompression(Compression(9)))
	assert.ErrorIs(t, err, lagerr.ErrConfig)

	store := blobstore.NewMemoryStore()
	m, err := NewManager(store)
	require.NoError(t, err)

	_, err = m.Save(ctx, "", encoderState(t), Metadata{})
	assert.ErrorIs(t, err, lagerr.ErrValue)
	_, err = m.Save(ctx, "x", nil, Metadata{})
	assert.ErrorIs(t, err, lagerr.ErrValue)

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	_, err = m.LoadLatest(ctx)
	assert.ErrorIs(t, err, lagerr.ErrState)
}

func TestManager_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	m, err := NewManager(store)
	require.NoError(t, err)

	_, err = m.Save(ctx, "good", encoderState(t), Metadata{})
	require.NoError(t, err)
	good, err := blobstore.ReadAll(ctx, store, "good.tar")
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     {},
		"magic":     append([]byte("NOPE"), good[4:]...),
		"version":   append(append(bytes.Clone(good[:4]), 9), good[5:]...),
		"truncated": good[:len(good)/2],
		"flipped":   append(bytes.Clone(good[:len(good)-1]), good[len(good)-1]^0xff),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "bad.tar", data))
			_, err := m.Load(ctx, "bad")
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestManager_Metrics(t *testing.T) {
	ctx := context.Background()
	mc := &metrics.Basic{}
	m, err := NewManager(blobstore.NewMemoryStore(), WithMetrics(mc))
	require.NoError(t, err)

	_, err = m.Save(ctx, "a", encoderState(t), Metadata{})
	require.NoError(t, err)
	_, err = m.Load(ctx, "a")
	require.NoError(t, err)
	_, err = m.Load(ctx, "b")
	require.Error(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(3), stats.CheckpointCount)
	assert.Equal(t, int64(1), stats.CheckpointErrors)
	assert.Positive(t, stats.CheckpointBytes)
}

func TestParseCompression(t *testing.T) {
	for s, want := range map[string]Compression{"": CompressionZstd, "zstd": CompressionZstd, "LZ4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestCompress_IncompressibleLZ4FallsBack(t *testing.T) {
	data := []byte{0x01, 0x7f, 0x33}
	out, applied, err := compress(data, CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, applied)
	assert.Equal(t, data, out)
}
