package dataset

import (
	"context"
	"iter"
	"math/rand"

	"github.com/hupe1980/localagg/lagerr"
)

// Batch is a group of samples with their dataset ids.
type Batch struct {
	Inputs  [][]float32
	Indices []uint32
	Labels  []int
}

// Len returns the batch size.
func (b Batch) Len() int { return len(b.Indices) }

type loaderOptions struct {
	shuffle  bool
	seed     int64
	dropLast bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

// WithShuffle visits samples in a new random order every epoch.
// The order is a pure function of seed and the epoch count.
func WithShuffle(seed int64) LoaderOption {
	return func(o *loaderOptions) {
		o.shuffle = true
		o.seed = seed
	}
}

// WithDropLast skips a trailing batch smaller than the batch size.
func WithDropLast() LoaderOption {
	return func(o *loaderOptions) { o.dropLast = true }
}

// Loader splits a dataset into batches.
type Loader struct {
	ds        Dataset
	batchSize int
	opts      loaderOptions
	epoch     int64
}

// NewLoader creates a loader.
func NewLoader(ds Dataset, batchSize int, optFns ...LoaderOption) (*Loader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, lagerr.Configf("loader needs a non-empty dataset")
	}
	if batchSize <= 0 {
		return nil, lagerr.Configf("batch size must be positive, got %d", batchSize)
	}
	l := &Loader{ds: ds, batchSize: batchSize}
	for _, fn := range optFns {
		fn(&l.opts)
	}
	if l.opts.dropLast && ds.Len() < batchSize {
		return nil, lagerr.Configf("batch size %d exceeds dataset size %d with drop-last", batchSize, ds.Len())
	}
	return l, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset { return l.ds }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	n := l.ds.Len() / l.batchSize
	if !l.opts.dropLast && l.ds.Len()%l.batchSize != 0 {
		n++
	}
	return n
}

func (l *Loader) order() []int {
	n := l.ds.Len()
	if !l.opts.shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(l.opts.seed + l.epoch)) // nolint gosec
	return rng.Perm(n)
}

// Batches yields one epoch of batches. Each call starts a new epoch.
// Iteration stops after the first error, which is yielded with a zero Batch.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	order := l.order()
	l.epoch++

	return func(yield func(Batch, error) bool) {
		for lo := 0; lo < len(order); lo += l.batchSize {
			hi := min(lo+l.batchSize, len(order))
			if hi-lo < l.batchSize && l.opts.dropLast {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Batch{}, err)
				return
			}

			b := Batch{
				Inputs:  make([][]float32, 0, hi-lo),
				Indices: make([]uint32, 0, hi-lo),
				Labels:  make([]int, 0, hi-lo),
			}
			for _, id := range order[lo:hi] {
				s, err := l.ds.Get(id)
				if err != nil {
					yield(Batch{}, err)
					return
				}
				b.Inputs = append(b.Inputs, s.Input)
				b.Indices = append(b.Indices, uint32(id))
				b.Labels = append(b.Labels, s.Label)
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
