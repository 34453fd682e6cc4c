package trainer

import (
	"log/slog"

	"github.com/hupe1980/localagg/checkpoint"
	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/metrics"
)

type options struct {
	checkpoints *checkpoint.Manager
	factory     cluster.Factory
	concurrency int
	controller  *resource.Controller
	metrics     metrics.Collector
	logger      *slog.Logger
}

// Option configures a Trainer.
type Option func(*options)

// WithCheckpoints enables SaveModel, LoadModel and the end-of-epoch save.
func WithCheckpoints(m *checkpoint.Manager) Option {
	return func(o *options) {
		o.checkpoints = m
	}
}

// WithClusterFactory sets the clusterer used by the loss.
func WithClusterFactory(f cluster.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithConcurrency bounds the parallelism of neighbour search and clustering.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithController bounds memory and background work.
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
