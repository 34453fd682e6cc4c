package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hupe1980/localagg/blobstore"
	"github.com/hupe1980/localagg/codec"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/metrics"
	"github.com/hupe1980/localagg/nn"
)

// commitAttempts bounds pointer commits that lose to a concurrent writer.
const commitAttempts = 3

type options struct {
	codec       codec.Codec
	compression Compression
	pointer     Pointer
	metrics     metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*options)

// WithCodec sets the codec for new checkpoints.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression sets the compression for new checkpoints.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithPointer records every saved checkpoint as the latest one.
func WithPointer(p Pointer) Option {
	return func(o *options) { o.pointer = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) { o.metrics = metrics.OrNoop(c) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Checkpoint is a loaded checkpoint.
type Checkpoint struct {
	// Name is the blob name including the suffix.
	Name string
	// State holds the encoder weights, already stripped of any decoder.
	State nn.StateDict
	// Meta is the metadata stored at save time.
	Meta Metadata
	// Autoencoder reports whether the stored state carried decoder weights.
	Autoencoder bool
	// Codec is the name of the codec the file was written with.
	Codec string
}

// Manager saves and loads checkpoints in a blob store.
type Manager struct {
	store blobstore.BlobStore
	opts  options
}

// NewManager creates a manager writing to store.
func NewManager(store blobstore.BlobStore, optFns ...Option) (*Manager, error) {
	if store == nil {
		return nil, lagerr.Configf("checkpoint store is nil")
	}
	opts := options{
		codec:       codec.Default,
		compression: CompressionZstd,
		metrics:     metrics.Noop{},
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.compression > CompressionZstd {
		return nil, lagerr.Configf("unknown checkpoint compression %v", opts.compression)
	}
	return &Manager{store: store, opts: opts}, nil
}

// Store returns the underlying blob store.
func (m *Manager) Store() blobstore.BlobStore { return m.store }

// Save writes state under Filename(name) and returns the blob name.
// With a pointer configured, the checkpoint also becomes the latest one.
func (m *Manager) Save(ctx context.Context, name string, state nn.StateDict, meta Metadata) (string, error) {
	start := time.Now()
	blobName := Filename(name)

	var size int64
	err := func() error {
		if name == "" || name == Suffix {
			return lagerr.Valuef("empty checkpoint name")
		}
		if state == nil {
			return lagerr.Valuef("nil state dict")
		}
		if meta.SavedAt.IsZero() {
			meta.SavedAt = m.opts.now().UTC()
		}

		data, err := encode(&document{ModelStateDict: state, Meta: meta}, m.opts.codec, m.opts.compression)
		if err != nil {
			return err
		}
		size = int64(len(data))

		if err := m.store.Put(ctx, blobName, data); err != nil {
			return fmt.Errorf("checkpoint: put %s: %w", blobName, err)
		}
		return m.commit(ctx, blobName)
	}()

	m.opts.metrics.RecordCheckpoint("save", size, time.Since(start), err)
	if err != nil {
		return "", err
	}
	m.opts.logger.Debug("checkpoint saved",
		slog.String("name", blobName),
		slog.Int64("bytes", size),
		slog.Int("epoch", meta.Epoch),
		slog.String("codec", m.opts.codec.Name()),
		slog.String("compression", m.opts.compression.String()),
	)
	return blobName, nil
}

func (m *Manager) commit(ctx context.Context, blobName string) error {
	if m.opts.pointer == nil {
		return nil
	}
	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		if _, err = m.opts.pointer.Commit(ctx, blobName); !errors.Is(err, blobstore.ErrConflict) {
			break
		}
		m.opts.logger.Warn("checkpoint pointer conflict, retrying", slog.String("name", blobName), slog.Int("attempt", attempt+1))
	}
	if err != nil {
		return fmt.Errorf("checkpoint: commit pointer: %w", err)
	}
	return nil
}

// Load reads Filename(name). Autoencoder states are reduced to the encoder.
func (m *Manager) Load(ctx context.Context, name string) (*Checkpoint, error) {
	start := time.Now()
	blobName := Filename(name)

	var size int64
	cp, err := func() (*Checkpoint, error) {
		data, err := blobstore.ReadAll(ctx, m.store, blobName)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read %s: %w", blobName, err)
		}
		size = int64(len(data))

		doc, codecName, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", blobName, err)
		}
		return &Checkpoint{
			Name:        blobName,
			State:       StripAutoencoder(doc.ModelStateDict),
			Meta:        doc.Meta,
			Autoencoder: IsAutoencoder(doc.ModelStateDict),
			Codec:       codecName,
		}, nil
	}()

	m.opts.metrics.RecordCheckpoint("load", size, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	m.opts.logger.Debug("checkpoint loaded",
		slog.String("name", blobName),
		slog.Int64("bytes", size),
		slog.Bool("autoencoder", cp.Autoencoder),
	)
	return cp, nil
}

// LoadLatest loads the checkpoint the pointer refers to.
func (m *Manager) LoadLatest(ctx context.Context) (*Checkpoint, error) {
	if m.opts.pointer == nil {
		return nil, lagerr.Statef("no checkpoint pointer configured")
	}
	name, _, err := m.opts.pointer.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: latest: %w", err)
	}
	return m.Load(ctx, name)
}

// List returns the checkpoint blob names with the given prefix.
func (m *Manager) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, Suffix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Delete removes Filename(name).
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.Delete(ctx, Filename(name))
}
