package loss

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/knn"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/memorybank"
	"github.com/hupe1980/localagg/metrics"
)

// LocalAggregation evaluates the Local Aggregation loss against one memory bank.
type LocalAggregation struct {
	bank      *memorybank.Bank
	cfg       Config
	refresher *cluster.Refresher
	knnOpts   []knn.Option
	metrics   metrics.Collector
	logger    *slog.Logger
}

// Result is the outcome of one loss evaluation.
type Result struct {
	// Loss is the mean per-sample loss.
	Loss float64
	// PerSample holds loss_i in batch order.
	PerSample []float64
	// Grad[i] is ∂Loss/∂embeddings[i].
	Grad [][]float32
	// IDs are the batch sample ids.
	IDs []uint32
	// Embeddings are detached copies of the batch embeddings, used by Commit.
	Embeddings [][]float32
	// Background holds the k nearest snapshot neighbours of every sample.
	Background []*roaring.Bitmap
	// Positives holds the background neighbours sharing a cluster with the sample.
	Positives []*roaring.Bitmap
	// EmptyPositives counts samples whose positive set was empty.
	EmptyPositives int
	// SnapshotVersion is the bank version the loss was computed against.
	SnapshotVersion uint64
}

// New creates the loss for bank.
func New(bank *memorybank.Bank, cfg Config, optFns ...Option) (*LocalAggregation, error) {
	if bank == nil {
		return nil, lagerr.Statef("memory bank is not initialized")
	}
	if err := cfg.Validate(bank.Len()); err != nil {
		return nil, err
	}

	opts := options{
		seed:    1,
		metrics: metrics.Noop{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	refresher := opts.refresher
	if refresher == nil {
		clusterOpts := []cluster.Option{
			cluster.WithSeed(opts.seed),
			cluster.WithController(opts.controller),
			cluster.WithMetrics(opts.metrics),
			cluster.WithLogger(opts.logger),
		}
		if opts.concurrency > 0 {
			clusterOpts = append(clusterOpts, cluster.WithConcurrency(opts.concurrency))
		}
		r, err := cluster.NewRefresher(cfg.Centroids, cfg.Repeats, opts.factory, clusterOpts...)
		if err != nil {
			return nil, err
		}
		refresher = r
	} else if refresher.Centroids() != cfg.Centroids || refresher.Repeats() != cfg.Repeats {
		return nil, lagerr.Configf("refresher produces %d repeats of %d labels, config wants %d of %d",
			refresher.Repeats(), refresher.Centroids(), cfg.Repeats, cfg.Centroids)
	}

	knnOpts := []knn.Option{knn.WithMetrics(opts.metrics), knn.WithLogger(opts.logger)}
	if opts.concurrency > 0 {
		knnOpts = append(knnOpts, knn.WithConcurrency(opts.concurrency))
	}

	opts.logger.Info("local aggregation loss initialized",
		"samples", bank.Len(),
		"dimension", bank.Dim(),
		"temperature", cfg.Temperature,
		"k", cfg.K,
		"centroids", cfg.Centroids,
		"repeats", cfg.Repeats,
		"mixing_rate", cfg.MixingRate,
	)

	return &LocalAggregation{
		bank:      bank,
		cfg:       cfg,
		refresher: refresher,
		knnOpts:   knnOpts,
		metrics:   opts.metrics,
		logger:    opts.logger,
	}, nil
}

// Config returns the hyperparameters.
func (la *LocalAggregation) Config() Config { return la.cfg }

// Bank returns the memory bank.
func (la *LocalAggregation) Bank() *memorybank.Bank { return la.bank }

// Assignment returns the current cluster assignment, or nil if none was computed yet.
func (la *LocalAggregation) Assignment() *cluster.Assignment { return la.refresher.Current() }

// SetAssignment replaces the current cluster assignment.
func (la *LocalAggregation) SetAssignment(a *cluster.Assignment) error {
	if a == nil {
		return lagerr.Valuef("nil assignment")
	}
	if a.Len() != la.bank.Len() || a.Centroids() != la.cfg.Centroids || a.Repeats() != la.cfg.Repeats {
		return lagerr.Configf("assignment shape (n=%d, c=%d, r=%d) does not match loss (n=%d, c=%d, r=%d)",
			a.Len(), a.Centroids(), a.Repeats(), la.bank.Len(), la.cfg.Centroids, la.cfg.Repeats)
	}
	la.refresher.Set(a)
	return nil
}

// RefreshClusters reclusters the current bank state synchronously.
func (la *LocalAggregation) RefreshClusters(ctx context.Context) error {
	snap, err := la.bank.Snapshot()
	if err != nil {
		return err
	}
	_, err = la.refresher.Refresh(ctx, snap)
	return err
}

// RefreshClustersAsync reclusters the current bank state in the background.
// It reports false when a refresh is already running or no worker slot is free.
func (la *LocalAggregation) RefreshClustersAsync(ctx context.Context) (bool, error) {
	snap, err := la.bank.Snapshot()
	if err != nil {
		return false, err
	}
	return la.refresher.RefreshAsync(ctx, snap), nil
}

// WaitClusters waits for a background refresh and returns its error.
func (la *LocalAggregation) WaitClusters() error {
	return la.refresher.Wait()
}

// Compute evaluates the loss of a batch and its gradient. The bank is not modified.
func (la *LocalAggregation) Compute(ctx context.Context, embeddings [][]float32, ids []uint32) (res *Result, err error) {
	start := time.Now()
	defer func() {
		var l float64
		var empty int
		if res != nil {
			l, empty = res.Loss, res.EmptyPositives
		}
		la.metrics.RecordLoss(len(ids), l, empty, time.Since(start), err)
	}()

	if err := la.validate(embeddings, ids); err != nil {
		return nil, err
	}

	snap, err := la.bank.Snapshot()
	if err != nil {
		return nil, err
	}

	background, err := knn.KNearest(ctx, snap, ids, la.cfg.K, la.knnOpts...)
	if err != nil {
		return nil, fmt.Errorf("background neighbours: %w", err)
	}

	assignment := la.refresher.Current()
	if assignment == nil {
		la.logger.Debug("no cluster assignment yet, clustering synchronously")
		if assignment, err = la.refresher.Refresh(ctx, snap); err != nil {
			return nil, fmt.Errorf("initial clustering: %w", err)
		}
	}
	if assignment.Len() != snap.Len() {
		return nil, lagerr.Statef("cluster assignment covers %d samples, bank has %d", assignment.Len(), snap.Len())
	}

	batch := len(ids)
	dim := snap.Dim()
	res = &Result{
		PerSample:       make([]float64, batch),
		Grad:            make([][]float32, batch),
		IDs:             slices.Clone(ids),
		Embeddings:      make([][]float32, batch),
		Background:      make([]*roaring.Bitmap, batch),
		Positives:       make([]*roaring.Bitmap, batch),
		SnapshotVersion: snap.Version(),
	}

	gradBacking := make([]float32, batch*dim)
	embBacking := make([]float32, batch*dim)
	scale := 1 / (float64(batch) * la.cfg.Temperature)

	var total float64
	for i, id := range ids {
		res.Embeddings[i] = embBacking[i*dim : (i+1)*dim : (i+1)*dim]
		copy(res.Embeddings[i], embeddings[i])
		res.Grad[i] = gradBacking[i*dim : (i+1)*dim : (i+1)*dim]

		bg := background[i].Bitmap()
		clusterNeighbours, err := assignment.Neighbours(id)
		if err != nil {
			return nil, err
		}
		pos := roaring.And(bg, clusterNeighbours)
		res.Background[i] = bg
		res.Positives[i] = pos

		if pos.IsEmpty() {
			res.EmptyPositives++
			continue
		}

		l := la.sample(embeddings[i], snap, background[i].IDs, pos, scale, res.Grad[i])
		res.PerSample[i] = l
		total += l
	}
	res.Loss = total / float64(batch)

	if res.EmptyPositives > 0 {
		la.logger.Debug("samples without positives", "count", res.EmptyPositives, "batch", batch)
	}

	return res, nil
}

// sample returns loss_i and adds its share of the batch loss gradient to grad.
// scale is 1/(batch·τ).
func (la *LocalAggregation) sample(e []float32, snap *memorybank.Snapshot, bg []uint32, pos *roaring.Bitmap, scale float64, grad []float32) float64 {
	tau := la.cfg.Temperature

	logits := make([]float64, len(bg))
	inPos := make([]bool, len(bg))
	maxB, maxP := math.Inf(-1), math.Inf(-1)
	for j, id := range bg {
		logits[j] = float64(distance.Dot(e, snap.Row(id))) / tau
		maxB = max(maxB, logits[j])
		if pos.Contains(id) {
			inPos[j] = true
			maxP = max(maxP, logits[j])
		}
	}

	// Each sum is shifted by its own maximum, so both are at least 1 and
	// the positive term never underflows however far it trails the
	// background.
	var sumB, sumP float64
	for j := range bg {
		sumB += math.Exp(logits[j] - maxB)
		if inPos[j] {
			sumP += math.Exp(logits[j] - maxP)
		}
	}
	sumB = max(sumB, la.cfg.Epsilon)

	loss := (maxB + math.Log(sumB)) - (maxP + math.Log(sumP))

	for j, id := range bg {
		coef := math.Exp(logits[j]-maxB) / sumB
		if inPos[j] {
			coef -= math.Exp(logits[j]-maxP) / sumP
		}
		if coef == 0 {
			continue
		}
		row := snap.Row(id)
		c := coef * scale
		for d := range grad {
			grad[d] += float32(c * float64(row[d]))
		}
	}

	return loss
}

func (la *LocalAggregation) validate(embeddings [][]float32, ids []uint32) error {
	if len(embeddings) != len(ids) {
		return lagerr.Valuef("got %d embeddings and %d ids", len(embeddings), len(ids))
	}
	if len(ids) == 0 {
		return lagerr.Valuef("empty batch")
	}

	n := la.bank.Len()
	dim := la.bank.Dim()
	seen := bitset.New(uint(n))
	for i, id := range ids {
		if int64(id) >= int64(n) {
			return &lagerr.IndexError{ID: uint64(id), Len: n}
		}
		if seen.Test(uint(id)) {
			return lagerr.Valuef("id %d appears more than once in the batch", id)
		}
		seen.Set(uint(id))

		e := embeddings[i]
		if len(e) != dim {
			return fmt.Errorf("embedding %d: %w", i, &lagerr.DimensionMismatchError{Expected: dim, Actual: len(e)})
		}
		if !distance.IsFinite(e) {
			return lagerr.Valuef("embedding %d is not finite", i)
		}
		if distance.IsZero(e) {
			return lagerr.Valuef("embedding %d is all zero", i)
		}
	}
	return nil
}

// Commit mixes the batch embeddings of r into the bank.
func (la *LocalAggregation) Commit(r *Result) error {
	if r == nil {
		return lagerr.Valuef("nil result")
	}
	return la.bank.Update(r.IDs, r.Embeddings, la.cfg.MixingRate)
}

// UpdateMemory mixes detached copies of embeddings into the bank rows of ids.
func (la *LocalAggregation) UpdateMemory(ids []uint32, embeddings [][]float32) error {
	detached := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		detached[i] = slices.Clone(e)
	}
	return la.bank.Update(ids, detached, la.cfg.MixingRate)
}
