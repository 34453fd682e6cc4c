package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/localagg"
	"github.com/hupe1980/localagg/blobstore"
	"github.com/hupe1980/localagg/blobstore/minio"
	"github.com/hupe1980/localagg/blobstore/s3"
	"github.com/hupe1980/localagg/checkpoint"
	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/codec"
	"github.com/hupe1980/localagg/config"
	"github.com/hupe1980/localagg/dataset"
	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/loss"
	"github.com/hupe1980/localagg/metrics"
	promcollector "github.com/hupe1980/localagg/metrics/prometheus"
	"github.com/hupe1980/localagg/nn"
	"github.com/hupe1980/localagg/trainer"
)

// loadConfig resolves file, environment and flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("run-label") {
		cfg.RunLabel, _ = flags.GetString("run-label")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Checkpoint.Dir, _ = flags.GetString("checkpoint-dir")
	}
	if flags.Changed("checkpoint-backend") {
		cfg.Checkpoint.Backend, _ = flags.GetString("checkpoint-backend")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("epochs") {
		cfg.Epochs, _ = flags.GetInt("epochs")
	}
	if flags.Changed("lr") {
		cfg.Optimizer.LR, _ = flags.GetFloat64("lr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *localagg.Logger {
	return localagg.NewLogger(os.Stderr, localagg.LogFormat(strings.ToLower(cfg.Format)), cfg.SlogLevel())
}

// newMetrics returns a Prometheus collector served on addr, or a Noop
// collector when addr is empty.
func newMetrics(addr string, logger *localagg.Logger) (metrics.Collector, func(), error) {
	if addr == "" {
		return metrics.Noop{}, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	collector, err := promcollector.New(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return collector, stop, nil
}

func newDataset(cfg config.DataConfig) (dataset.Dataset, error) {
	switch cfg.Source {
	case "images":
		opts := []dataset.ImageOption{dataset.WithSize(cfg.Width, cfg.Height)}
		if cfg.Root != "" {
			opts = append(opts, dataset.WithRoot(cfg.Root))
		}
		if cfg.PathColumn != "" {
			opts = append(opts, dataset.WithPathColumn(cfg.PathColumn))
		}
		if cfg.LabelColumn != "" {
			opts = append(opts, dataset.WithLabelColumn(cfg.LabelColumn))
		}
		if len(cfg.ISelector) > 0 {
			opts = append(opts, dataset.WithIndexSelector(cfg.ISelector...))
		}
		for column, values := range cfg.Selector {
			opts = append(opts, dataset.WithSelector(column, values...))
		}
		return dataset.NewImageFolder(cfg.TOC, opts...)
	default:
		return dataset.NewSynthetic(cfg.Samples, cfg.Dim, cfg.Clusters, cfg.Spread, 1)
	}
}

func newStore(ctx context.Context, cfg config.CheckpointConfig) (blobstore.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Endpoint, true))
		}
		return s3.New(ctx, cfg.Bucket, opts...)
	case "minio":
		return minio.Dial(ctx, minio.Options{
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Secure:       cfg.Secure,
			Region:       cfg.Region,
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			CreateBucket: true,
		})
	default:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
		return blobstore.NewLocalStore(cfg.Dir), nil
	}
}

func newPointer(ctx context.Context, cfg *config.Config, store blobstore.BlobStore) (checkpoint.Pointer, error) {
	if cfg.Checkpoint.PointerTable == "" {
		return checkpoint.NewBlobPointer(store, ""), nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Checkpoint.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Checkpoint.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewDDBPointer(dynamodb.NewFromConfig(awsCfg), cfg.Checkpoint.PointerTable, cfg.RunLabel), nil
}

func newCheckpoints(ctx context.Context, cfg *config.Config, rc *resource.Controller, collector metrics.Collector, logger *slog.Logger) (*checkpoint.Manager, error) {
	store, err := newStore(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Checkpoint.IOLimit > 0 {
		store = blobstore.NewThrottledStore(store, rc)
	}

	comp, err := checkpoint.ParseCompression(cfg.Checkpoint.Compression)
	if err != nil {
		return nil, err
	}
	cdc, err := codec.Parse(cfg.Checkpoint.Codec)
	if err != nil {
		return nil, err
	}
	pointer, err := newPointer(ctx, cfg, store)
	if err != nil {
		return nil, err
	}

	return checkpoint.NewManager(store,
		checkpoint.WithCodec(cdc),
		checkpoint.WithCompression(comp),
		checkpoint.WithPointer(pointer),
		checkpoint.WithMetrics(collector),
		checkpoint.WithLogger(logger),
	)
}

// session is everything a train or eval run needs.
type session struct {
	cfg     *config.Config
	logger  *localagg.Logger
	trainer *trainer.Trainer
	data    dataset.Dataset
	stop    func()
}

func (s *session) Close() error {
	defer s.stop()
	return s.trainer.Close()
}

func newSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log)

	collector, stop, err := newMetrics(cfg.MetricsAddr, logger)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			stop()
		}
	}()

	rc := resource.NewController(resource.Limits{CheckpointBytesPerSec: cfg.Checkpoint.IOLimit})

	ds, err := newDataset(cfg.Data)
	if err != nil {
		return nil, err
	}
	loaderOpts := []dataset.LoaderOption{}
	if cfg.Data.Shuffle {
		loaderOpts = append(loaderOpts, dataset.WithShuffle(cfg.Seed))
	}
	loader, err := dataset.NewLoader(ds, cfg.BatchSize, loaderOpts...)
	if err != nil {
		return nil, err
	}

	merger, err := nn.ParseMerger(cfg.Encoder.Merger)
	if err != nil {
		return nil, err
	}
	enc, err := nn.NewLinearEncoder(ds.Dim(), cfg.Encoder.Dim,
		nn.WithPatches(cfg.Encoder.Patches),
		nn.WithMerger(merger),
		nn.WithEncoderSeed(cfg.Seed),
	)
	if err != nil {
		return nil, err
	}

	mgr, err := newCheckpoints(ctx, cfg, rc, collector, logger.Logger)
	if err != nil {
		return nil, err
	}

	policy, err := cluster.ParsePolicy(cfg.Loss.RefreshPolicy)
	if err != nil {
		return nil, err
	}
	tcfg := trainer.Config{
		RunLabel:    cfg.RunLabel,
		Seed:        cfg.Seed,
		LR:          cfg.Optimizer.LR,
		Momentum:    cfg.Optimizer.Momentum,
		WeightDecay: cfg.Optimizer.WeightDecay,
		StepSize:    cfg.Optimizer.StepSize,
		Gamma:       cfg.Optimizer.Gamma,
		Loss: loss.Config{
			Temperature: cfg.Loss.Temperature,
			K:           cfg.Loss.K,
			Centroids:   cfg.Loss.Centroids,
			Repeats:     cfg.Loss.Repeats,
			MixingRate:  cfg.Loss.MixingRate,
			Epsilon:     loss.DefaultConfig().Epsilon,
		},
		NSamples:          cfg.Loss.NSamples,
		RefreshPolicy:     policy,
		AsyncRefresh:      cfg.Loss.AsyncRefresh,
		SaveTmpName:       cfg.SaveTmpName,
		ShowBatchProgress: cfg.ShowBatchProgress,
	}

	tr, err := trainer.New(enc, loader, tcfg,
		trainer.WithCheckpoints(mgr),
		trainer.WithController(rc),
		trainer.WithMetrics(collector),
		trainer.WithLogger(logger.Logger),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return &session{cfg: cfg, logger: logger, trainer: tr, data: ds, stop: stop}, nil
}
