package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBudgetExceeded is returned when a memory bank does not fit into the
// remaining bank budget.
var ErrBudgetExceeded = errors.New("resource: bank budget exceeded")

// Limits are the budgets shared by the components of one training run.
// Zero values mean unlimited, except RefreshSlots which defaults to 1.
type Limits struct {
	// BankBytes caps the float32 storage of all live memory banks.
	BankBytes int64

	// RefreshSlots is the number of clustering refreshes allowed to run
	// in the background at the same time.
	RefreshSlots int64

	// CheckpointBytesPerSec throttles checkpoint reads and writes.
	CheckpointBytesPerSec int64
}

// Controller hands out bank memory, background refresh slots and
// checkpoint bandwidth.
type Controller struct {
	limits Limits

	bank     *semaphore.Weighted // nil when unlimited
	reserved atomic.Int64

	refresh  *semaphore.Weighted
	inflight atomic.Int64

	io *rate.Limiter // nil when unlimited
}

// NewController builds a controller for the given limits.
func NewController(limits Limits) *Controller {
	if limits.RefreshSlots <= 0 {
		limits.RefreshSlots = 1
	}

	c := &Controller{
		limits:  limits,
		refresh: semaphore.NewWeighted(limits.RefreshSlots),
	}
	if limits.BankBytes > 0 {
		c.bank = semaphore.NewWeighted(limits.BankBytes)
	}
	if limits.CheckpointBytesPerSec > 0 {
		bps := limits.CheckpointBytesPerSec
		c.io = rate.NewLimiter(rate.Limit(bps), int(bps))
	}
	return c
}

// Limits returns the effective limits.
func (c *Controller) Limits() Limits {
	if c == nil {
		return Limits{}
	}
	return c.limits
}

// BankSize is the number of bytes a rows×dim float32 bank occupies.
func BankSize(rows, dim int) int64 {
	return int64(rows) * int64(dim) * 4
}

// ReserveBank reserves the storage of a rows×dim bank without blocking.
// The returned release func is idempotent.
func (c *Controller) ReserveBank(rows, dim int) (release func(), err error) {
	size := BankSize(rows, dim)
	if c == nil || size <= 0 {
		return func() {}, nil
	}
	if c.bank != nil && !c.bank.TryAcquire(size) {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrBudgetExceeded, size, c.reserved.Load(), c.limits.BankBytes)
	}
	c.reserved.Add(size)

	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		if c.bank != nil {
			c.bank.Release(size)
		}
		c.reserved.Add(-size)
	}, nil
}

// BankBytes returns the bytes currently reserved by live banks.
func (c *Controller) BankBytes() int64 {
	if c == nil {
		return 0
	}
	return c.reserved.Load()
}

// StartRefresh claims a background refresh slot. ok is false when every
// slot is busy; otherwise done must be called once the refresh finished.
func (c *Controller) StartRefresh() (done func(), ok bool) {
	if c == nil {
		return func() {}, true
	}
	if !c.refresh.TryAcquire(1) {
		return nil, false
	}
	c.inflight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.inflight.Add(-1)
			c.refresh.Release(1)
		}
	}, true
}

// RefreshesInFlight returns the number of claimed refresh slots.
func (c *Controller) RefreshesInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inflight.Load()
}

// WaitIO blocks until n bytes of checkpoint traffic fit the bandwidth
// budget. Transfers larger than one second of budget wait in chunks.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return ctx.Err()
	}
	for chunk := c.io.Burst(); n > 0; n -= chunk {
		if err := c.io.WaitN(ctx, min(n, chunk)); err != nil {
			return err
		}
	}
	return nil
}
