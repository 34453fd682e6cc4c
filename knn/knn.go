package knn

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/queue"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/memorybank"
	"github.com/hupe1980/localagg/metrics"
)

// maxBlockValues caps the similarity matrix of one query block (16 MiB of float32).
const maxBlockValues = 1 << 22

// NoExclude marks a vector query that may return any row.
const NoExclude = -1

// Neighbours is the neighbour set of one query.
type Neighbours struct {
	// Query is the query id (KNearest) or the query position (KNearestVectors).
	Query uint32
	// IDs are ordered by descending similarity, ties to the lower id.
	IDs []uint32
	// Similarities[i] is the similarity of IDs[i].
	Similarities []float32
}

// Bitmap returns the neighbour ids as a set.
func (n Neighbours) Bitmap() *roaring.Bitmap {
	return roaring.BitmapOf(n.IDs...)
}

type options struct {
	blockSize   int
	concurrency int
	metrics     metrics.Collector
	logger      *slog.Logger
}

// Option configures a search.
type Option func(*options)

// WithBlockSize sets the number of queries scored per GEMM call.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithConcurrency sets the number of query blocks scored in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		o.metrics = metrics.OrNoop(c)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(optFns []Option) options {
	o := options{
		blockSize:   256,
		concurrency: runtime.GOMAXPROCS(0),
		metrics:     metrics.Noop{},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// KNearest returns the k nearest rows of every query id, excluding the id itself.
// It fails with ErrConfig unless 0 < k < snap.Len().
func KNearest(ctx context.Context, snap *memorybank.Snapshot, queryIDs []uint32, k int, optFns ...Option) (res []Neighbours, err error) {
	opts := buildOptions(optFns)

	start := time.Now()
	defer func() {
		opts.metrics.RecordNeighbours(len(queryIDs), k, time.Since(start), err)
	}()

	if snap == nil {
		return nil, lagerr.Statef("knn: nil snapshot")
	}
	if k <= 0 || k >= snap.Len() {
		return nil, lagerr.Configf("knn: k must be in [1, %d), got %d", snap.Len(), k)
	}

	dim := snap.Dim()
	queries := make([]float32, len(queryIDs)*dim)
	exclude := make([]int, len(queryIDs))
	for i, id := range queryIDs {
		if err := snap.CheckID(id); err != nil {
			return nil, err
		}
		copy(queries[i*dim:(i+1)*dim], snap.Row(id))
		exclude[i] = int(id)
	}

	res, err = search(ctx, snap, queries, exclude, k, opts)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Query = queryIDs[i]
	}
	return res, nil
}

// KNearestVectors returns the k rows most similar to each query vector.
// exclude may be nil; otherwise exclude[i] is a row id hidden from query i,
// or NoExclude.
func KNearestVectors(ctx context.Context, snap *memorybank.Snapshot, queries [][]float32, exclude []int, k int, optFns ...Option) (res []Neighbours, err error) {
	opts := buildOptions(optFns)

	start := time.Now()
	defer func() {
		opts.metrics.RecordNeighbours(len(queries), k, time.Since(start), err)
	}()

	if snap == nil {
		return nil, lagerr.Statef("knn: nil snapshot")
	}
	if exclude != nil && len(exclude) != len(queries) {
		return nil, lagerr.Valuef("knn: got %d queries and %d exclusions", len(queries), len(exclude))
	}
	if exclude == nil {
		exclude = make([]int, len(queries))
		for i := range exclude {
			exclude[i] = NoExclude
		}
	}

	dim := snap.Dim()
	flat := make([]float32, len(queries)*dim)
	for i, q := range queries {
		if len(q) != dim {
			return nil, fmt.Errorf("knn: query %d: %w", i, &lagerr.DimensionMismatchError{Expected: dim, Actual: len(q)})
		}
		if !distance.IsFinite(q) {
			return nil, lagerr.Valuef("knn: query %d is not finite", i)
		}
		candidates := snap.Len()
		if exclude[i] != NoExclude {
			if exclude[i] < 0 || exclude[i] >= snap.Len() {
				return nil, &lagerr.IndexError{ID: uint64(exclude[i]), Len: snap.Len()}
			}
			candidates--
		}
		if k <= 0 || k > candidates {
			return nil, lagerr.Configf("knn: k must be in [1, %d], got %d", candidates, k)
		}
		copy(flat[i*dim:(i+1)*dim], q)
	}

	res, err = search(ctx, snap, flat, exclude, k, opts)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Query = uint32(i)
	}
	return res, nil
}

// search scores the row-major queries against snap block by block.
func search(ctx context.Context, snap *memorybank.Snapshot, queries []float32, exclude []int, k int, opts options) ([]Neighbours, error) {
	dim := snap.Dim()
	n := snap.Len()
	numQueries := len(exclude)
	out := make([]Neighbours, numQueries)
	if numQueries == 0 {
		return out, nil
	}

	block := min(opts.blockSize, max(1, maxBlockValues/n))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	bank := blas32.General{Rows: n, Cols: dim, Stride: dim, Data: snap.Data()}

	for lo := 0; lo < numQueries; lo += block {
		hi := min(lo+block, numQueries)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rows := hi - lo
			q := blas32.General{Rows: rows, Cols: dim, Stride: dim, Data: queries[lo*dim : hi*dim]}
			sims := blas32.General{Rows: rows, Cols: n, Stride: n, Data: make([]float32, rows*n)}
			blas32.Gemm(blas.NoTrans, blas.Trans, 1, q, bank, 0, sims)

			top := queue.NewTopK(k)
			for r := range rows {
				top.Reset()
				row := sims.Data[r*n : (r+1)*n]
				skip := exclude[lo+r]
				for j, s := range row {
					if j == skip {
						continue
					}
					top.Offer(queue.Item{ID: uint32(j), Score: s})
				}

				items := top.Sorted()
				nb := Neighbours{
					IDs:          make([]uint32, len(items)),
					Similarities: make([]float32, len(items)),
				}
				for i, it := range items {
					nb.IDs[i] = it.ID
					nb.Similarities[i] = it.Score
				}
				out[lo+r] = nb
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts.logger.Debug("knn search completed", "queries", numQueries, "k", k, "rows", n)

	return out, nil
}
