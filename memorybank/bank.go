package memorybank

import (
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/math32"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/metrics"
)

// Bank is the single-writer table of current sample embeddings.
//
// Update is the only mutator. All reads copy under a read lock, so a
// Snapshot never observes a half-applied update.
type Bank struct {
	mu      sync.RWMutex
	data    []float32
	n       int
	dim     int
	version uint64
	closed  bool

	mixingRate float32
	release    func()
	metrics    metrics.Collector
	logger     *slog.Logger
}

// New allocates an n×dim bank and fills every row with a random unit vector.
func New(n, dim int, optFns ...Option) (*Bank, error) {
	if n <= 0 {
		return nil, lagerr.Configf("memory bank size must be positive, got %d", n)
	}
	if dim <= 0 {
		return nil, lagerr.Configf("memory bank dimension must be positive, got %d", dim)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := validateMixingRate(opts.mixingRate); err != nil {
		return nil, err
	}

	release, err := opts.controller.ReserveBank(n, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: memory bank %dx%d: %w", lagerr.ErrConfig, n, dim, err)
	}

	b := &Bank{
		data:       make([]float32, n*dim),
		n:          n,
		dim:        dim,
		mixingRate: opts.mixingRate,
		release:    release,
		metrics:    opts.metrics,
		logger:     opts.logger,
	}

	if err := b.fill(opts); err != nil {
		release()
		return nil, err
	}

	b.logger.Debug("memory bank initialized", "n", n, "dimension", dim, "mixing_rate", opts.mixingRate)

	return b, nil
}

func (b *Bank) fill(opts options) error {
	if opts.initialData != nil {
		if len(opts.initialData) != b.n*b.dim {
			return lagerr.Valuef("initial data has %d values, want %d", len(opts.initialData), b.n*b.dim)
		}
		copy(b.data, opts.initialData)
		for id := range b.n {
			if !normalizeRow(b.row(id)) {
				return lagerr.Valuef("initial row %d is zero or non-finite", id)
			}
		}
		return nil
	}

	rng := rand.New(rand.NewSource(opts.seed))
	for id := range b.n {
		row := b.row(id)
		// A Gaussian draw of all zeros is practically impossible; retry anyway.
		for attempt := 0; ; attempt++ {
			opts.init(rng, id, row)
			if normalizeRow(row) {
				break
			}
			if attempt >= 8 {
				return lagerr.Configf("initializer produced a degenerate vector for row %d", id)
			}
		}
	}
	return nil
}

func (b *Bank) row(id int) []float32 {
	off := id * b.dim
	return b.data[off : off+b.dim : off+b.dim]
}

// Len returns the number of samples N.
func (b *Bank) Len() int { return b.n }

// Dim returns the embedding dimension D.
func (b *Bank) Dim() int { return b.dim }

// MixingRate returns the rate used by Mix.
func (b *Bank) MixingRate() float32 { return b.mixingRate }

// Version returns the number of successful updates applied so far.
func (b *Bank) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Get returns copies of the rows for ids.
func (b *Bank) Get(ids []uint32) ([][]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, lagerr.Statef("memory bank is closed")
	}
	if err := b.checkIDs(ids); err != nil {
		return nil, err
	}

	backing := make([]float32, len(ids)*b.dim)
	out := make([][]float32, len(ids))
	for i, id := range ids {
		dst := backing[i*b.dim : (i+1)*b.dim : (i+1)*b.dim]
		copy(dst, b.row(int(id)))
		out[i] = dst
	}
	return out, nil
}

// All returns a row-major copy of the full table.
func (b *Bank) All() ([]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, lagerr.Statef("memory bank is closed")
	}
	return slices.Clone(b.data), nil
}

// Snapshot returns an immutable copy of the current table.
func (b *Bank) Snapshot() (*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, lagerr.Statef("memory bank is closed")
	}
	return &Snapshot{
		data:    slices.Clone(b.data),
		n:       b.n,
		dim:     b.dim,
		version: b.version,
	}, nil
}

// Mix is Update with the bank's configured mixing rate.
func (b *Bank) Mix(ids []uint32, fresh [][]float32) error {
	return b.Update(ids, fresh, b.mixingRate)
}

// Update mixes fresh into the rows of ids and renormalizes them:
//
//	row = normalize(m*row + (1-m)*fresh)
//
// The whole call is validated before any row changes. Repeated ids are
// applied in order. If a mix cancels out to the zero vector the row takes
// the normalized fresh vector.
func (b *Bank) Update(ids []uint32, fresh [][]float32, m float32) (err error) {
	start := time.Now()
	defer func() {
		b.metrics.RecordBankUpdate(len(ids), time.Since(start), err)
	}()

	if err := validateMixingRate(m); err != nil {
		return err
	}
	if len(ids) != len(fresh) {
		return lagerr.Valuef("got %d ids and %d vectors", len(ids), len(fresh))
	}
	for i, v := range fresh {
		if len(v) != b.dim {
			return fmt.Errorf("vector %d: %w", i, &lagerr.DimensionMismatchError{Expected: b.dim, Actual: len(v)})
		}
		if !distance.IsFinite(v) {
			return lagerr.Valuef("vector %d is not finite", i)
		}
		if distance.IsZero(v) {
			return lagerr.Valuef("vector %d is all zero", i)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return lagerr.Statef("memory bank is closed")
	}
	if err := b.checkIDs(ids); err != nil {
		return err
	}

	for i, id := range ids {
		row := b.row(int(id))
		math32.ScaleInPlace(row, m)
		math32.Axpy(1-m, fresh[i], row)
		if !distance.Normalize(row) {
			copy(row, fresh[i])
			distance.Normalize(row)
		}
	}
	b.version++

	return nil
}

// Close releases the reserved memory. Further reads and updates fail with ErrState.
func (b *Bank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.data = nil
	b.release()
	return nil
}

func (b *Bank) checkIDs(ids []uint32) error {
	for _, id := range ids {
		if int64(id) >= int64(b.n) {
			return &lagerr.IndexError{ID: uint64(id), Len: b.n}
		}
	}
	return nil
}

func validateMixingRate(m float32) error {
	if !(m >= 0 && m <= 1) {
		return lagerr.Configf("mixing rate must be in [0, 1], got %v", m)
	}
	return nil
}
