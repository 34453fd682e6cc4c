package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/localagg"
	"github.com/hupe1980/localagg/checkpoint"
	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/dataset"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/loss"
	"github.com/hupe1980/localagg/memorybank"
	"github.com/hupe1980/localagg/metrics"
	"github.com/hupe1980/localagg/nn"
	"github.com/hupe1980/localagg/optim"
)

// Encoder maps input batches to unit codes and back-propagates code gradients.
type Encoder interface {
	// Forward encodes a batch and caches what Backward needs.
	Forward(batch [][]float32) ([][]float32, error)
	// Backward accumulates parameter gradients for the last Forward.
	Backward(gradOut [][]float32) error
	Params() []*nn.Param
	StateDict() nn.StateDict
	LoadStateDict(sd nn.StateDict) error
	// Dim returns the code dimension.
	Dim() int
}

// EpochStats summarizes one training epoch.
type EpochStats struct {
	Epoch          int
	MeanLoss       float64
	LR             float64
	Batches        int
	EmptyPositives int
	Duration       time.Duration
}

// Trainer runs Local Aggregation training of one encoder.
type Trainer struct {
	cfg     Config
	encoder Encoder
	loader  *dataset.Loader
	bank    *memorybank.Bank
	loss    *loss.LocalAggregation
	opt     *optim.SGD
	sched   *optim.StepLR
	opts    options
	logger  *localagg.Logger

	epoch    int
	step     int
	lastLoss float64
}

// New creates a trainer. The memory bank gets one row per dataset sample.
func New(encoder Encoder, loader *dataset.Loader, cfg Config, optFns ...Option) (*Trainer, error) {
	if encoder == nil {
		return nil, lagerr.Configf("encoder is nil")
	}
	if loader == nil {
		return nil, lagerr.Configf("loader is nil")
	}

	opts := options{
		metrics: metrics.Noop{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	n, err := cfg.validate(loader.Dataset().Len())
	if err != nil {
		return nil, err
	}

	bank, err := memorybank.New(n, encoder.Dim(),
		memorybank.WithSeed(cfg.Seed),
		memorybank.WithMixingRate(cfg.Loss.MixingRate),
		memorybank.WithController(opts.controller),
		memorybank.WithMetrics(opts.metrics),
		memorybank.WithLogger(opts.logger),
	)
	if err != nil {
		return nil, err
	}

	lossOpts := []loss.Option{
		loss.WithSeed(cfg.Seed),
		loss.WithController(opts.controller),
		loss.WithMetrics(opts.metrics),
		loss.WithLogger(opts.logger),
	}
	if opts.factory != nil {
		lossOpts = append(lossOpts, loss.WithClusterFactory(opts.factory))
	}
	if opts.concurrency > 0 {
		lossOpts = append(lossOpts, loss.WithConcurrency(opts.concurrency))
	}
	la, err := loss.New(bank, cfg.Loss, lossOpts...)
	if err != nil {
		_ = bank.Close()
		return nil, err
	}

	opt, err := optim.NewSGD(cfg.LR, cfg.Momentum, cfg.WeightDecay)
	if err != nil {
		_ = bank.Close()
		return nil, err
	}
	sched, err := optim.NewStepLR(opt, cfg.StepSize, cfg.Gamma)
	if err != nil {
		_ = bank.Close()
		return nil, err
	}

	t := &Trainer{
		cfg:     cfg,
		encoder: encoder,
		loader:  loader,
		bank:    bank,
		loss:    la,
		opt:     opt,
		sched:   sched,
		opts:    opts,
		logger:  localagg.FromSlog(opts.logger).WithRun(cfg.RunLabel),
	}
	t.logInputs()
	return t, nil
}

func (t *Trainer) logInputs() {
	t.logger.Info("learner inputs",
		slog.Int64("seed", t.cfg.Seed),
		slog.Int("batch_size", t.loader.BatchSize()),
		slog.Int("batches", t.loader.NumBatches()),
		slog.Float64("lr", t.cfg.LR),
		slog.Float64("momentum", t.cfg.Momentum),
		slog.Float64("weight_decay", t.cfg.WeightDecay),
		slog.Int("scheduler_step_size", t.cfg.StepSize),
		slog.Float64("scheduler_gamma", t.cfg.Gamma),
		slog.Int("k", t.cfg.Loss.K),
		slog.Int("repeats", t.cfg.Loss.Repeats),
		slog.Int("centroids", t.cfg.Loss.Centroids),
		slog.Float64("temperature", t.cfg.Loss.Temperature),
		slog.Float64("memory_mixing", float64(t.cfg.Loss.MixingRate)),
		slog.Int("n_samples", t.bank.Len()),
		slog.Int("code_dim", t.encoder.Dim()),
		slog.String("refresh_policy", t.cfg.RefreshPolicy.String()),
		slog.Bool("async_refresh", t.cfg.AsyncRefresh),
		slog.String("save_tmp_name", t.cfg.SaveTmpName),
		slog.Bool("show_batch_progress", t.cfg.ShowBatchProgress),
		slog.Bool("checkpoints", t.opts.checkpoints != nil),
	)
}

// Config returns the hyperparameters.
func (t *Trainer) Config() Config { return t.cfg }

// Bank returns the memory bank.
func (t *Trainer) Bank() *memorybank.Bank { return t.bank }

// Loss returns the loss.
func (t *Trainer) Loss() *loss.LocalAggregation { return t.loss }

// Encoder returns the encoder being trained.
func (t *Trainer) Encoder() Encoder { return t.encoder }

// Epoch returns the number of completed epochs.
func (t *Trainer) Epoch() int { return t.epoch }

// LR returns the current learning rate.
func (t *Trainer) LR() float64 { return t.opt.LR() }

// Close waits for background clustering and releases the memory bank.
func (t *Trainer) Close() error {
	werr := t.loss.WaitClusters()
	if err := t.bank.Close(); err != nil {
		return err
	}
	return werr
}

// ComputeLoss encodes batch and evaluates the loss of its codes.
// Neither the encoder parameters nor the memory bank are modified.
func (t *Trainer) ComputeLoss(ctx context.Context, batch dataset.Batch) (*loss.Result, error) {
	if batch.Len() == 0 {
		return nil, lagerr.Valuef("empty batch")
	}
	codes, err := t.encoder.Forward(batch.Inputs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return t.loss.Compute(ctx, codes, batch.Indices)
}

// Train runs epochs training epochs and returns their statistics.
func (t *Trainer) Train(ctx context.Context, epochs int) ([]EpochStats, error) {
	if epochs < 0 {
		return nil, lagerr.Configf("epochs must be non-negative, got %d", epochs)
	}

	stats := make([]EpochStats, 0, epochs)
	for range epochs {
		s, err := t.trainEpoch(ctx)
		if err != nil {
			_ = t.loss.WaitClusters()
			return stats, err
		}
		stats = append(stats, s)
	}

	if err := t.loss.WaitClusters(); err != nil {
		return stats, fmt.Errorf("background clustering: %w", err)
	}
	return stats, nil
}

func (t *Trainer) trainEpoch(ctx context.Context) (EpochStats, error) {
	start := time.Now()
	s := EpochStats{Epoch: t.epoch, LR: t.opt.LR()}
	numBatches := t.loader.NumBatches()

	var total float64
	for batch, err := range t.loader.Batches(ctx) {
		if err != nil {
			return s, fmt.Errorf("epoch %d: load batch: %w", t.epoch, err)
		}
		if err := t.maybeRefresh(ctx, s.Batches == 0); err != nil {
			return s, err
		}

		res, err := t.trainStep(ctx, batch)
		if err != nil {
			return s, fmt.Errorf("epoch %d batch %d: %w", t.epoch, s.Batches, err)
		}

		total += res.Loss
		s.EmptyPositives += res.EmptyPositives
		s.Batches++
		t.step++

		if t.cfg.ShowBatchProgress {
			t.logger.LogBatch(ctx, t.epoch, s.Batches, numBatches, res.Loss)
		}
	}

	if s.Batches > 0 {
		s.MeanLoss = total / float64(s.Batches)
	}
	t.lastLoss = s.MeanLoss
	t.sched.Step()
	t.epoch++
	s.Duration = time.Since(start)

	t.opts.metrics.RecordEpoch(s.Epoch, s.MeanLoss, s.LR, s.Duration)
	t.logger.LogEpoch(ctx, s.Epoch, s.MeanLoss, s.LR, s.EmptyPositives)

	if t.opts.checkpoints != nil {
		if _, err := t.SaveModel(ctx, t.cfg.SaveTmpName); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (t *Trainer) trainStep(ctx context.Context, batch dataset.Batch) (*loss.Result, error) {
	res, err := t.ComputeLoss(ctx, batch)
	if err != nil {
		return nil, err
	}

	params := t.encoder.Params()
	t.opt.ZeroGrad(params)
	if err := t.encoder.Backward(res.Grad); err != nil {
		return nil, fmt.Errorf("backward: %w", err)
	}
	t.opt.Step(params)

	if err := t.loss.Commit(res); err != nil {
		return nil, fmt.Errorf("update memory bank: %w", err)
	}
	return res, nil
}

func (t *Trainer) maybeRefresh(ctx context.Context, epochStart bool) error {
	if !t.cfg.RefreshPolicy.Due(t.step, epochStart) {
		return nil
	}

	// The first assignment is always computed synchronously.
	if t.cfg.AsyncRefresh && t.loss.Assignment() != nil {
		started, err := t.loss.RefreshClustersAsync(ctx)
		if err == nil && !started {
			t.logger.Debug("cluster refresh skipped, previous refresh still running", "step", t.step)
			return nil
		}
		t.logger.LogClusterRefresh(ctx, t.step, true, err)
		return err
	}

	err := t.loss.RefreshClusters(ctx)
	t.logger.LogClusterRefresh(ctx, t.step, false, err)
	if err != nil {
		return fmt.Errorf("refresh clusters: %w", err)
	}
	return nil
}

// Codes holds the codes of the samples a loader yielded, ordered by id.
type Codes struct {
	// IDs lists the encoded samples in ascending order.
	IDs []uint32
	// Vectors holds len(IDs) codes row-major; row i belongs to IDs[i].
	Vectors []float32
	Dim     int
}

// Row returns the code of IDs[i].
func (c *Codes) Row(i int) []float32 { return c.Vectors[i*c.Dim : (i+1)*c.Dim] }

// Evaluation pairs eval cluster labels with the samples they belong to.
type Evaluation struct {
	IDs    []uint32
	Labels []int
}

// Encode returns the codes of every sample the loader yields. Samples the
// loader skips, for example with drop-last, are absent from the result.
func (t *Trainer) Encode(ctx context.Context, loader *dataset.Loader) (*Codes, error) {
	if loader == nil {
		loader = t.loader
	}
	dim := t.encoder.Dim()
	n := loader.Dataset().Len()
	dense := make([]float32, n*dim)
	seen := bitset.New(uint(n))

	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, err
		}
		codes, err := t.encoder.Forward(batch.Inputs)
		if err != nil {
			return nil, fmt.Errorf("encode batch: %w", err)
		}
		for i, id := range batch.Indices {
			if seen.Test(uint(id)) {
				return nil, lagerr.Valuef("loader yielded sample %d twice", id)
			}
			seen.Set(uint(id))
			copy(dense[int(id)*dim:], codes[i])
		}
	}

	out := &Codes{
		IDs:     make([]uint32, 0, seen.Count()),
		Vectors: make([]float32, 0, int(seen.Count())*dim),
		Dim:     dim,
	}
	for id, ok := seen.NextSet(0); ok; id, ok = seen.NextSet(id + 1) {
		out.IDs = append(out.IDs, uint32(id))
		out.Vectors = append(out.Vectors, dense[int(id)*dim:(int(id)+1)*dim]...)
	}
	return out, nil
}

// Eval encodes the data of loader, or of the training loader when loader is
// nil, and clusters the codes with clusterer. Only samples the loader
// yielded are clustered.
func (t *Trainer) Eval(ctx context.Context, clusterer cluster.Clusterer, loader *dataset.Loader) (*Evaluation, error) {
	if clusterer == nil {
		return nil, lagerr.Configf("clusterer is nil")
	}
	codes, err := t.Encode(ctx, loader)
	if err != nil {
		return nil, err
	}
	if len(codes.IDs) == 0 {
		return nil, lagerr.Valuef("loader yielded no samples")
	}
	labels, err := clusterer.Cluster(ctx, codes.Vectors, codes.Dim)
	if err != nil {
		return nil, fmt.Errorf("eval clustering: %w", err)
	}
	if len(labels) != len(codes.IDs) {
		return nil, lagerr.Statef("clusterer returned %d labels for %d codes", len(labels), len(codes.IDs))
	}
	return &Evaluation{IDs: codes.IDs, Labels: labels}, nil
}

// SaveModel writes the encoder weights to the checkpoint store under
// name + ".tar" and returns the blob name.
func (t *Trainer) SaveModel(ctx context.Context, name string) (string, error) {
	if t.opts.checkpoints == nil {
		return "", lagerr.Statef("no checkpoint manager configured")
	}
	blob, err := t.opts.checkpoints.Save(ctx, name, t.encoder.StateDict(), checkpoint.Metadata{
		Label: t.cfg.RunLabel,
		Epoch: t.epoch,
		Loss:  t.lastLoss,
		Dim:   t.encoder.Dim(),
	})
	t.logger.LogCheckpoint(ctx, "save", checkpoint.Filename(name), err)
	return blob, err
}

// LoadModel loads encoder weights saved under name. Autoencoder checkpoints
// are reduced to their encoder.
func (t *Trainer) LoadModel(ctx context.Context, name string) (*checkpoint.Checkpoint, error) {
	if t.opts.checkpoints == nil {
		return nil, lagerr.Statef("no checkpoint manager configured")
	}
	cp, err := t.opts.checkpoints.Load(ctx, name)
	if err == nil {
		err = t.encoder.LoadStateDict(cp.State)
	}
	t.logger.LogCheckpoint(ctx, "load", checkpoint.Filename(name), err)
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// LoadLatest loads the checkpoint the checkpoint pointer refers to.
func (t *Trainer) LoadLatest(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if t.opts.checkpoints == nil {
		return nil, lagerr.Statef("no checkpoint manager configured")
	}
	cp, err := t.opts.checkpoints.LoadLatest(ctx)
	if err == nil {
		err = t.encoder.LoadStateDict(cp.State)
	}
	if err != nil {
		t.logger.LogCheckpoint(ctx, "load", "latest", err)
		return nil, err
	}
	t.logger.LogCheckpoint(ctx, "load", cp.Name, nil)
	return cp, nil
}
