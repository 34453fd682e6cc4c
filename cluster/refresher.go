package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/memorybank"
)

// Refresher owns the current Assignment of a training run.
//
// The assignment is published through an atomic pointer, so Current never
// blocks and never returns a partially built partition.
type Refresher struct {
	c       int
	repeats int
	factory Factory
	opts    options

	current    atomic.Pointer[Assignment]
	generation atomic.Int64
	running    atomic.Bool

	mu      sync.Mutex
	wg      sync.WaitGroup
	lastErr error
}

// NewRefresher creates a Refresher producing repeats partitions into c labels.
func NewRefresher(c, repeats int, factory Factory, optFns ...Option) (*Refresher, error) {
	if c <= 0 {
		return nil, lagerr.Configf("number of centroids must be positive, got %d", c)
	}
	if repeats <= 0 {
		return nil, lagerr.Configf("clustering repeats must be positive, got %d", repeats)
	}
	if factory == nil {
		factory = DefaultFactory
	}
	return &Refresher{
		c:       c,
		repeats: repeats,
		factory: factory,
		opts:    buildOptions(optFns),
	}, nil
}

// Centroids returns C.
func (r *Refresher) Centroids() int { return r.c }

// Repeats returns R.
func (r *Refresher) Repeats() int { return r.repeats }

// Current returns the latest complete assignment, or nil before the first refresh.
func (r *Refresher) Current() *Assignment {
	return r.current.Load()
}

// Set publishes a as the current assignment.
func (r *Refresher) Set(a *Assignment) {
	r.current.Store(a)
}

// Refresh clusters snap synchronously and publishes the result unless an
// assignment of a newer snapshot is already current.
// Every refresh draws fresh seeds. On error the previous assignment stays current.
func (r *Refresher) Refresh(ctx context.Context, snap *memorybank.Snapshot) (*Assignment, error) {
	gen := r.generation.Add(1) - 1

	opts := r.opts
	opts.seed += gen * int64(r.repeats)

	a, err := run(ctx, snap, r.c, r.repeats, r.factory, opts)
	if err != nil {
		r.opts.logger.Warn("cluster refresh failed", "generation", gen, "error", err)
		return nil, err
	}

	if !r.publish(a) {
		r.opts.logger.Debug("stale cluster assignment discarded",
			"generation", gen,
			"snapshot_version", a.SnapshotVersion(),
			"current_version", r.Current().SnapshotVersion(),
		)
		return a, nil
	}
	r.opts.logger.Info("cluster assignment refreshed",
		"generation", gen,
		"snapshot_version", a.SnapshotVersion(),
		"centroids", r.c,
		"repeats", r.repeats,
	)
	return a, nil
}

// publish makes a current unless the current assignment was computed from a
// newer snapshot.
func (r *Refresher) publish(a *Assignment) bool {
	for {
		cur := r.current.Load()
		if cur != nil && cur.SnapshotVersion() > a.SnapshotVersion() {
			return false
		}
		if r.current.CompareAndSwap(cur, a) {
			return true
		}
	}
}

// RefreshAsync starts a background refresh of snap and returns true, or
// returns false without doing anything when a refresh is already running or
// the resource controller has no free background slot.
// Errors are reported by Wait.
func (r *Refresher) RefreshAsync(ctx context.Context, snap *memorybank.Snapshot) bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	done, ok := r.opts.controller.StartRefresh()
	if !ok {
		r.running.Store(false)
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		defer done()

		if _, err := r.Refresh(ctx, snap); err != nil {
			r.mu.Lock()
			r.lastErr = errors.Join(r.lastErr, err)
			r.mu.Unlock()
		}
	}()
	return true
}

// Running reports whether a background refresh is in flight.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Wait blocks until no background refresh is running and returns, then
// clears, the errors of background refreshes since the last Wait.
func (r *Refresher) Wait() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	return err
}
