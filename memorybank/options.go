package memorybank

import (
	"log/slog"
	"math/rand"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/metrics"
)

// DefaultMixingRate is the weight of the stored vector in Update.
const DefaultMixingRate float32 = 0.5

// Initializer fills row with the initial vector of one sample.
// The bank renormalizes the row afterwards.
type Initializer func(rng *rand.Rand, id int, row []float32)

// GaussianInit draws every coordinate from a standard normal distribution,
// which after normalization is uniform on the unit sphere.
func GaussianInit(rng *rand.Rand, _ int, row []float32) {
	for i := range row {
		row[i] = float32(rng.NormFloat64())
	}
}

// ConstantInit sets every row to the first basis vector.
func ConstantInit(_ *rand.Rand, _ int, row []float32) {
	clear(row)
	row[0] = 1
}

type options struct {
	seed        int64
	mixingRate  float32
	init        Initializer
	initialData []float32
	metrics     metrics.Collector
	logger      *slog.Logger
	controller  *resource.Controller
}

func defaultOptions() options {
	return options{
		seed:       1,
		mixingRate: DefaultMixingRate,
		init:       GaussianInit,
		metrics:    metrics.Noop{},
		logger:     slog.New(slog.DiscardHandler),
	}
}

// Option configures a Bank.
type Option func(*options)

// WithSeed sets the seed of the initializer RNG.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithMixingRate sets the rate used by Mix. It must lie in [0, 1].
func WithMixingRate(m float32) Option {
	return func(o *options) {
		o.mixingRate = m
	}
}

// WithInitializer replaces GaussianInit.
func WithInitializer(init Initializer) Option {
	return func(o *options) {
		if init != nil {
			o.init = init
		}
	}
}

// WithInitialData seeds the bank with explicit row-major vectors (n*dim values).
// Rows are normalized on load; zero or non-finite rows are rejected.
func WithInitialData(data []float32) Option {
	return func(o *options) {
		o.initialData = data
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

// WithController makes the bank reserve its table memory with rc.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

func normalizeRow(row []float32) bool {
	return distance.IsFinite(row) && distance.Normalize(row)
}
