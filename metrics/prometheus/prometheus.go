// Package prometheus exports localagg metrics through prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/localagg/metrics"
)

// Compile time check to ensure Collector satisfies the metrics interface.
var _ metrics.Collector = (*Collector)(nil)

// Collector implements metrics.Collector on top of Prometheus vectors.
type Collector struct {
	opLatency      *prometheus.HistogramVec
	bankRows       prometheus.Counter
	queries        prometheus.Counter
	emptyPositives prometheus.Counter
	batchLoss      prometheus.Gauge
	epochLoss      prometheus.Gauge
	learningRate   prometheus.Gauge
	epochs         prometheus.Counter
	checkpoint     *prometheus.CounterVec
}

// New creates a Collector and registers it with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localagg_operation_latency_seconds",
			Help:    "Latency of training operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		bankRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localagg_bank_rows_updated_total",
			Help: "Total memory bank rows mixed with fresh embeddings",
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localagg_neighbour_queries_total",
			Help: "Total k-nearest-neighbour queries",
		}),
		emptyPositives: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localagg_empty_positive_sets_total",
			Help: "Total batch samples whose positive set was empty",
		}),
		batchLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localagg_batch_loss",
			Help: "Loss of the most recent batch",
		}),
		epochLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localagg_epoch_loss",
			Help: "Mean loss of the most recent epoch",
		}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localagg_learning_rate",
			Help: "Learning rate at the end of the most recent epoch",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localagg_epochs_total",
			Help: "Total epochs completed",
		}),
		checkpoint: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localagg_checkpoint_bytes_total",
			Help: "Total checkpoint bytes moved",
		}, []string{"op"}),
	}

	for _, col := range []prometheus.Collector{
		c.opLatency, c.bankRows, c.queries, c.emptyPositives,
		c.batchLoss, c.epochLoss, c.learningRate, c.epochs, c.checkpoint,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBankUpdate implements metrics.Collector.
func (c *Collector) RecordBankUpdate(count int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("bank_update", status(err)).Observe(d.Seconds())
	if err == nil {
		c.bankRows.Add(float64(count))
	}
}

// RecordNeighbours implements metrics.Collector.
func (c *Collector) RecordNeighbours(queries, _ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("knn", status(err)).Observe(d.Seconds())
	c.queries.Add(float64(queries))
}

// RecordClustering implements metrics.Collector.
func (c *Collector) RecordClustering(_ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("cluster", status(err)).Observe(d.Seconds())
}

// RecordLoss implements metrics.Collector.
func (c *Collector) RecordLoss(_ int, loss float64, emptyPositives int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("loss", status(err)).Observe(d.Seconds())
	if err != nil {
		return
	}
	c.batchLoss.Set(loss)
	c.emptyPositives.Add(float64(emptyPositives))
}

// RecordCheckpoint implements metrics.Collector.
func (c *Collector) RecordCheckpoint(op string, bytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("checkpoint_"+op, status(err)).Observe(d.Seconds())
	if err == nil {
		c.checkpoint.WithLabelValues(op).Add(float64(bytes))
	}
}

// RecordEpoch implements metrics.Collector.
func (c *Collector) RecordEpoch(_ int, meanLoss float64, lr float64, d time.Duration) {
	c.opLatency.WithLabelValues("epoch", "success").Observe(d.Seconds())
	c.epochs.Inc()
	c.epochLoss.Set(meanLoss)
	c.learningRate.Set(lr)
}
