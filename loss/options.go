package loss

import (
	"log/slog"

	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/metrics"
)

type options struct {
	factory     cluster.Factory
	refresher   *cluster.Refresher
	seed        int64
	concurrency int
	controller  *resource.Controller
	metrics     metrics.Collector
	logger      *slog.Logger
}

// Option configures a LocalAggregation.
type Option func(*options)

// WithClusterFactory sets the clusterer used for every repeat.
// Defaults to cluster.DefaultFactory.
func WithClusterFactory(f cluster.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithRefresher shares an existing refresher. Its C and R must match the Config.
func WithRefresher(r *cluster.Refresher) Option {
	return func(o *options) {
		o.refresher = r
	}
}

// WithSeed sets the base clustering seed.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithConcurrency bounds the parallelism of neighbour search and clustering.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithController bounds background cluster refreshes.
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
