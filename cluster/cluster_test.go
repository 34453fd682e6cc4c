package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/memorybank"
	"github.com/hupe1980/localagg/metrics"
	"github.com/hupe1980/localagg/testutil"
)

func blobSnapshot(t *testing.T, n, dim, clusters int) (*memorybank.Snapshot, [][]float32) {
	t.Helper()
	rng := testutil.NewRNG(11)
	vecs := rng.ClusteredVectors(n, dim, clusters, 0.01)
	snap, err := memorybank.NewSnapshot(testutil.Flatten(vecs), n, dim)
	require.NoError(t, err)
	return snap, vecs
}

func TestRun_CoversAllSamples(t *testing.T) {
	snap, _ := blobSnapshot(t, 60, 8, 3)

	a, err := Run(context.Background(), snap, 3, 4, nil, WithSeed(5))
	require.NoError(t, err)

	assert.Equal(t, 4, a.Repeats())
	assert.Equal(t, 3, a.Centroids())
	assert.Equal(t, 60, a.Len())
	for r := range a.Repeats() {
		labels := a.Labels(r)
		require.Len(t, labels, 60)
		var total uint64
		for l := range 3 {
			total += a.Members(r, l).GetCardinality()
		}
		assert.Equal(t, uint64(60), total)
		for _, l := range labels {
			assert.GreaterOrEqual(t, l, 0)
			assert.Less(t, l, 3)
		}
	}
}

func TestRun_RecoversBlobs(t *testing.T) {
	snap, _ := blobSnapshot(t, 30, 8, 3)

	a, err := Run(context.Background(), snap, 3, 2, nil)
	require.NoError(t, err)

	// Row i belongs to blob i%3: every repeat must agree with that partition.
	for r := range a.Repeats() {
		for id := range 30 {
			assert.Equal(t, a.Label(r, uint32(id%3)), a.Label(r, uint32(id)), "repeat %d id %d", r, id)
		}
	}

	nb, err := a.Neighbours(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), nb.GetCardinality())
	assert.False(t, nb.Contains(0))
	assert.True(t, nb.Contains(3))
}

func TestRun_DistinctSeedsPerRepeat(t *testing.T) {
	var seeds []int64
	seen := make(chan int64, 3)
	factory := func(c int, seed int64) Clusterer {
		seen <- seed
		return Func(func(_ context.Context, data []float32, dim int) ([]int, error) {
			return make([]int, len(data)/dim), nil
		})
	}
	snap, _ := blobSnapshot(t, 6, 2, 2)

	_, err := Run(context.Background(), snap, 2, 3, factory, WithSeed(100))
	require.NoError(t, err)
	close(seen)
	for s := range seen {
		seeds = append(seeds, s)
	}
	assert.ElementsMatch(t, []int64{100, 101, 102}, seeds)
}

func TestRun_Validation(t *testing.T) {
	snap, _ := blobSnapshot(t, 6, 2, 2)
	ctx := context.Background()

	tests := []struct {
		name       string
		c, repeats int
	}{
		{"zero centroids", 0, 1},
		{"too many centroids", 7, 1},
		{"zero repeats", 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(ctx, snap, tt.c, tt.repeats, nil)
			assert.ErrorIs(t, err, lagerr.ErrConfig)
		})
	}

	_, err := Run(ctx, nil, 2, 1, nil)
	assert.ErrorIs(t, err, lagerr.ErrState)
}

func TestRun_InvalidLabels(t *testing.T) {
	snap, _ := blobSnapshot(t, 6, 2, 2)
	ctx := context.Background()

	outOfRange := func(int, int64) Clusterer {
		return Func(func(context.Context, []float32, int) ([]int, error) {
			return []int{0, 1, 2, 0, 1, 0}, nil
		})
	}
	_, err := Run(ctx, snap, 2, 1, outOfRange)
	assert.ErrorIs(t, err, lagerr.ErrValue)

	short := func(int, int64) Clusterer {
		return Func(func(context.Context, []float32, int) ([]int, error) {
			return []int{0, 1}, nil
		})
	}
	_, err = Run(ctx, snap, 2, 1, short)
	assert.ErrorIs(t, err, lagerr.ErrValue)

	boom := errors.New("boom")
	failing := func(int, int64) Clusterer {
		return Func(func(context.Context, []float32, int) ([]int, error) {
			return nil, boom
		})
	}
	_, err = Run(ctx, snap, 2, 2, failing)
	assert.ErrorIs(t, err, boom)
}

func TestRun_Metrics(t *testing.T) {
	snap, _ := blobSnapshot(t, 12, 4, 2)
	m := &metrics.Basic{}

	_, err := Run(context.Background(), snap, 2, 2, nil, WithMetrics(m))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.GetStats().ClusteringCount)
}

func TestNewAssignment(t *testing.T) {
	a, err := NewAssignment([][]int{
		{0, 0, 1, 1},
		{0, 1, 1, 0},
	}, 2)
	require.NoError(t, err)

	nb, err := a.Neighbours(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, nb.ToArray())

	nb, err = a.Neighbours(2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, nb.ToArray())

	_, err = a.Neighbours(4)
	assert.ErrorIs(t, err, lagerr.ErrIndex)

	// Members are copies.
	m := a.Members(0, 0)
	m.Add(3)
	assert.False(t, a.Members(0, 0).Contains(3))

	_, err = NewAssignment(nil, 2)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewAssignment([][]int{{0}}, 0)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewAssignment([][]int{{0, 1}, {0}}, 2)
	assert.ErrorIs(t, err, lagerr.ErrValue)
	_, err = NewAssignment([][]int{{-1, 1}}, 2)
	assert.ErrorIs(t, err, lagerr.ErrValue)
}

func TestKMeans_Cluster(t *testing.T) {
	_, vecs := blobSnapshot(t, 20, 4, 2)

	labels, err := KMeans{K: 2, Spherical: true, Seed: 3}.Cluster(context.Background(), testutil.Flatten(vecs), 4)
	require.NoError(t, err)
	require.Len(t, labels, 20)
	for id := range 20 {
		assert.Equal(t, labels[id%2], labels[id])
	}

	labels, err = KMeans{K: 2, RandomInit: true, MaxIter: 5}.Cluster(context.Background(), testutil.Flatten(vecs), 4)
	require.NoError(t, err)
	assert.Len(t, labels, 20)

	_, err = KMeans{}.Cluster(context.Background(), testutil.Flatten(vecs), 4)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestRefresher(t *testing.T) {
	snap, _ := blobSnapshot(t, 12, 4, 2)

	r, err := NewRefresher(2, 2, nil)
	require.NoError(t, err)
	assert.Nil(t, r.Current())
	assert.Equal(t, 2, r.Centroids())
	assert.Equal(t, 2, r.Repeats())

	a, err := r.Refresh(context.Background(), snap)
	require.NoError(t, err)
	assert.Same(t, a, r.Current())

	// A failing refresh keeps the previous assignment.
	_, err = r.Refresh(context.Background(), nil)
	require.Error(t, err)
	assert.Same(t, a, r.Current())

	_, err = NewRefresher(0, 1, nil)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewRefresher(2, 0, nil)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestRefresher_FreshSeedsPerGeneration(t *testing.T) {
	var seeds []int64
	factory := func(c int, seed int64) Clusterer {
		seeds = append(seeds, seed)
		return Func(func(_ context.Context, data []float32, dim int) ([]int, error) {
			return make([]int, len(data)/dim), nil
		})
	}
	snap, _ := blobSnapshot(t, 6, 2, 2)

	r, err := NewRefresher(2, 1, factory, WithSeed(10), WithConcurrency(1))
	require.NoError(t, err)
	_, err = r.Refresh(context.Background(), snap)
	require.NoError(t, err)
	_, err = r.Refresh(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 11}, seeds)
}

func TestRefresher_Async(t *testing.T) {
	snap, _ := blobSnapshot(t, 12, 4, 2)

	release := make(chan struct{})
	var calls atomic.Int32
	factory := func(c int, seed int64) Clusterer {
		return Func(func(ctx context.Context, data []float32, dim int) ([]int, error) {
			calls.Add(1)
			<-release
			return make([]int, len(data)/dim), nil
		})
	}

	rc := resource.NewController(resource.Limits{RefreshSlots: 1})
	r, err := NewRefresher(2, 1, factory, WithController(rc))
	require.NoError(t, err)

	require.True(t, r.RefreshAsync(context.Background(), snap))
	assert.False(t, r.RefreshAsync(context.Background(), snap), "one refresh at a time")
	assert.True(t, r.Running())
	assert.Nil(t, r.Current(), "no partial assignment is visible")

	close(release)
	require.NoError(t, r.Wait())
	assert.False(t, r.Running())
	require.NotNil(t, r.Current())
	assert.Equal(t, int32(1), calls.Load())

	// The controller slot was returned.
	assert.Zero(t, rc.RefreshesInFlight())
}

func TestRefresher_StaleResultNotPublished(t *testing.T) {
	bank, err := memorybank.New(12, 4, memorybank.WithSeed(1))
	require.NoError(t, err)
	older, err := bank.Snapshot()
	require.NoError(t, err)
	require.NoError(t, bank.Update([]uint32{0}, [][]float32{{1, 0, 0, 0}}, 0.5))
	newer, err := bank.Snapshot()
	require.NoError(t, err)
	require.Greater(t, newer.Version(), older.Version())

	release := make(chan struct{})
	var calls atomic.Int32
	factory := func(int, int64) Clusterer {
		return Func(func(_ context.Context, data []float32, dim int) ([]int, error) {
			if calls.Add(1) == 1 {
				<-release
			}
			return make([]int, len(data)/dim), nil
		})
	}
	r, err := NewRefresher(2, 1, factory, WithConcurrency(1))
	require.NoError(t, err)

	require.True(t, r.RefreshAsync(context.Background(), older))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	fresh, err := r.Refresh(context.Background(), newer)
	require.NoError(t, err)
	assert.Same(t, fresh, r.Current())

	close(release)
	require.NoError(t, r.Wait())
	assert.Same(t, fresh, r.Current())
	assert.Equal(t, newer.Version(), r.Current().SnapshotVersion())
}

func TestRefresher_AsyncNoSlot(t *testing.T) {
	snap, _ := blobSnapshot(t, 12, 4, 2)

	rc := resource.NewController(resource.Limits{RefreshSlots: 1})
	done, ok := rc.StartRefresh()
	require.True(t, ok)

	r, err := NewRefresher(2, 1, nil, WithController(rc))
	require.NoError(t, err)
	assert.False(t, r.RefreshAsync(context.Background(), snap))
	assert.False(t, r.Running())

	done()
	assert.True(t, r.RefreshAsync(context.Background(), snap))
	require.NoError(t, r.Wait())
	assert.NotNil(t, r.Current())
}

func TestRefresher_AsyncError(t *testing.T) {
	r, err := NewRefresher(2, 1, nil)
	require.NoError(t, err)

	require.True(t, r.RefreshAsync(context.Background(), nil))
	assert.ErrorIs(t, r.Wait(), lagerr.ErrState)
	assert.NoError(t, r.Wait())
}

func TestRefresher_AsyncCancelled(t *testing.T) {
	snap, _ := blobSnapshot(t, 12, 4, 2)
	factory := func(int, int64) Clusterer {
		return Func(func(ctx context.Context, data []float32, dim int) ([]int, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return make([]int, len(data)/dim), nil
			}
		})
	}
	r, err := NewRefresher(2, 1, factory)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.RefreshAsync(ctx, snap))
	cancel()
	assert.ErrorIs(t, r.Wait(), context.Canceled)
	assert.Nil(t, r.Current())
}

func TestPolicy(t *testing.T) {
	assert.True(t, EveryEpoch().Due(7, true))
	assert.False(t, EveryEpoch().Due(7, false))
	assert.True(t, Policy{}.Due(0, true))

	p := EveryNBatches(3)
	assert.True(t, p.Due(0, false))
	assert.False(t, p.Due(1, true))
	assert.True(t, p.Due(6, false))

	assert.False(t, Never().Due(0, true))

	for _, s := range []string{"epoch", "never", "batches:4"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.String())
	}
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, EveryEpoch(), p)

	for _, s := range []string{"batches:0", "batches:x", "hourly"} {
		_, err := ParsePolicy(s)
		assert.ErrorIs(t, err, lagerr.ErrConfig)
	}
}
