package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/memorybank"
	"github.com/hupe1980/localagg/metrics"
)

type options struct {
	seed        int64
	concurrency int
	controller  *resource.Controller
	metrics     metrics.Collector
	logger      *slog.Logger
}

// Option configures Run and Refresher.
type Option func(*options)

// WithSeed sets the base seed. Repeat r of a run uses seed+r.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithConcurrency sets how many repeats run in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithController bounds background refreshes by the controller's worker slots.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
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
		seed:        1,
		concurrency: runtime.GOMAXPROCS(0),
		metrics:     metrics.Noop{},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// Run clusters snap repeats times into c labels, each repeat with its own
// seed. A nil factory means DefaultFactory.
func Run(ctx context.Context, snap *memorybank.Snapshot, c, repeats int, factory Factory, optFns ...Option) (*Assignment, error) {
	return run(ctx, snap, c, repeats, factory, buildOptions(optFns))
}

func run(ctx context.Context, snap *memorybank.Snapshot, c, repeats int, factory Factory, opts options) (a *Assignment, err error) {
	start := time.Now()
	defer func() {
		opts.metrics.RecordClustering(repeats, time.Since(start), err)
	}()

	if snap == nil {
		return nil, lagerr.Statef("cluster: nil snapshot")
	}
	if err := validate(c, repeats, snap.Len()); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = DefaultFactory
	}

	labels := make([][]int, repeats)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	for r := range repeats {
		g.Go(func() error {
			ls, err := factory(c, opts.seed+int64(r)).Cluster(gctx, snap.Data(), snap.Dim())
			if err != nil {
				return fmt.Errorf("cluster: repeat %d: %w", r, err)
			}
			labels[r] = ls
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a, err = NewAssignment(labels, c)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	if a.Len() != snap.Len() {
		return nil, lagerr.Valuef("cluster: clusterer labelled %d samples, snapshot has %d", a.Len(), snap.Len())
	}
	a.version = snap.Version()

	opts.logger.Debug("clustering completed",
		"samples", snap.Len(),
		"centroids", c,
		"repeats", repeats,
		"duration", time.Since(start),
	)

	return a, nil
}

func validate(c, repeats, n int) error {
	if c <= 0 {
		return lagerr.Configf("number of centroids must be positive, got %d", c)
	}
	if c > n {
		return lagerr.Configf("number of centroids %d exceeds %d samples", c, n)
	}
	if repeats <= 0 {
		return lagerr.Configf("clustering repeats must be positive, got %d", repeats)
	}
	return nil
}
