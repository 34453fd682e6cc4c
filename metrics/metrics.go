// Package metrics defines the hooks through which the memory bank, the
// neighbour index, the clusterer, the loss and the trainer report
// operational metrics.
package metrics

import (
	"math"
	"sync/atomic"
	"time"
)

// Collector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus
// (see the metrics/prometheus package).
type Collector interface {
	// RecordBankUpdate is called after each memory bank update.
	// count is the number of rows mixed.
	RecordBankUpdate(count int, duration time.Duration, err error)

	// RecordNeighbours is called after each k-nearest-neighbour query batch.
	RecordNeighbours(queries, k int, duration time.Duration, err error)

	// RecordClustering is called after each full clustering run over a snapshot.
	RecordClustering(repeats int, duration time.Duration, err error)

	// RecordLoss is called after each loss evaluation.
	// emptyPositives is the number of batch samples without positives.
	RecordLoss(batch int, loss float64, emptyPositives int, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint save or load.
	RecordCheckpoint(op string, bytes int64, duration time.Duration, err error)

	// RecordEpoch is called at the end of every training epoch.
	RecordEpoch(epoch int, meanLoss float64, lr float64, duration time.Duration)
}

// Noop is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type Noop struct{}

func (Noop) RecordBankUpdate(int, time.Duration, error)           {}
func (Noop) RecordNeighbours(int, int, time.Duration, error)      {}
func (Noop) RecordClustering(int, time.Duration, error)           {}
func (Noop) RecordLoss(int, float64, int, time.Duration, error)   {}
func (Noop) RecordCheckpoint(string, int64, time.Duration, error) {}
func (Noop) RecordEpoch(int, float64, float64, time.Duration)     {}

// OrNoop returns c, or Noop if c is nil.
func OrNoop(c Collector) Collector {
	if c == nil {
		return Noop{}
	}
	return c
}

// Basic provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type Basic struct {
	BankUpdateCount     atomic.Int64
	BankUpdateRows      atomic.Int64
	BankUpdateErrors    atomic.Int64
	NeighbourCount      atomic.Int64
	NeighbourQueries    atomic.Int64
	NeighbourErrors     atomic.Int64
	NeighbourTotalNanos atomic.Int64
	ClusteringCount     atomic.Int64
	ClusteringErrors    atomic.Int64
	ClusteringNanos     atomic.Int64
	LossCount           atomic.Int64
	LossErrors          atomic.Int64
	LossSamples         atomic.Int64
	EmptyPositives      atomic.Int64
	LossTotalNanos      atomic.Int64
	CheckpointCount     atomic.Int64
	CheckpointErrors    atomic.Int64
	CheckpointBytes     atomic.Int64
	EpochCount          atomic.Int64

	lastLoss atomic.Uint64 // float64 bits
	lastLR   atomic.Uint64 // float64 bits
}

// RecordBankUpdate implements Collector.
func (b *Basic) RecordBankUpdate(count int, _ time.Duration, err error) {
	b.BankUpdateCount.Add(1)
	if err != nil {
		b.BankUpdateErrors.Add(1)
		return
	}
	b.BankUpdateRows.Add(int64(count))
}

// RecordNeighbours implements Collector.
func (b *Basic) RecordNeighbours(queries, _ int, duration time.Duration, err error) {
	b.NeighbourCount.Add(1)
	b.NeighbourQueries.Add(int64(queries))
	b.NeighbourTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.NeighbourErrors.Add(1)
	}
}

// RecordClustering implements Collector.
func (b *Basic) RecordClustering(_ int, duration time.Duration, err error) {
	b.ClusteringCount.Add(1)
	b.ClusteringNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ClusteringErrors.Add(1)
	}
}

// RecordLoss implements Collector.
func (b *Basic) RecordLoss(batch int, loss float64, emptyPositives int, duration time.Duration, err error) {
	b.LossCount.Add(1)
	b.LossTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LossErrors.Add(1)
		return
	}
	b.LossSamples.Add(int64(batch))
	b.EmptyPositives.Add(int64(emptyPositives))
	b.lastLoss.Store(math.Float64bits(loss))
}

// RecordCheckpoint implements Collector.
func (b *Basic) RecordCheckpoint(_ string, bytes int64, _ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
		return
	}
	b.CheckpointBytes.Add(bytes)
}

// RecordEpoch implements Collector.
func (b *Basic) RecordEpoch(_ int, meanLoss float64, lr float64, _ time.Duration) {
	b.EpochCount.Add(1)
	b.lastLoss.Store(math.Float64bits(meanLoss))
	b.lastLR.Store(math.Float64bits(lr))
}

// GetStats returns a snapshot of current metrics.
func (b *Basic) GetStats() BasicStats {
	return BasicStats{
		BankUpdateCount:    b.BankUpdateCount.Load(),
		BankUpdateRows:     b.BankUpdateRows.Load(),
		BankUpdateErrors:   b.BankUpdateErrors.Load(),
		NeighbourCount:     b.NeighbourCount.Load(),
		NeighbourQueries:   b.NeighbourQueries.Load(),
		NeighbourErrors:    b.NeighbourErrors.Load(),
		NeighbourAvgNanos:  avg(b.NeighbourTotalNanos.Load(), b.NeighbourCount.Load()),
		ClusteringCount:    b.ClusteringCount.Load(),
		ClusteringErrors:   b.ClusteringErrors.Load(),
		ClusteringAvgNanos: avg(b.ClusteringNanos.Load(), b.ClusteringCount.Load()),
		LossCount:          b.LossCount.Load(),
		LossErrors:         b.LossErrors.Load(),
		LossSamples:        b.LossSamples.Load(),
		EmptyPositives:     b.EmptyPositives.Load(),
		LossAvgNanos:       avg(b.LossTotalNanos.Load(), b.LossCount.Load()),
		LastLoss:           math.Float64frombits(b.lastLoss.Load()),
		CheckpointCount:    b.CheckpointCount.Load(),
		CheckpointErrors:   b.CheckpointErrors.Load(),
		CheckpointBytes:    b.CheckpointBytes.Load(),
		EpochCount:         b.EpochCount.Load(),
		LearningRate:       math.Float64frombits(b.lastLR.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicStats is a snapshot of Basic state.
type BasicStats struct {
	BankUpdateCount    int64
	BankUpdateRows     int64
	BankUpdateErrors   int64
	NeighbourCount     int64
	NeighbourQueries   int64
	NeighbourErrors    int64
	NeighbourAvgNanos  int64
	ClusteringCount    int64
	ClusteringErrors   int64
	ClusteringAvgNanos int64
	LossCount          int64
	LossErrors         int64
	LossSamples        int64
	EmptyPositives     int64
	LossAvgNanos       int64
	LastLoss           float64
	CheckpointCount    int64
	CheckpointErrors   int64
	CheckpointBytes    int64
	EpochCount         int64
	LearningRate       float64
}
