package memorybank

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/resource"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/metrics"
	"github.com/hupe1980/localagg/testutil"
)

func TestNew(t *testing.T) {
	b, err := New(10, 8, WithSeed(42))
	require.NoError(t, err)

	assert.Equal(t, 10, b.Len())
	assert.Equal(t, 8, b.Dim())
	assert.Equal(t, DefaultMixingRate, b.MixingRate())
	assert.Equal(t, uint64(0), b.Version())

	all, err := b.All()
	require.NoError(t, err)
	require.Len(t, all, 80)
	for id := range 10 {
		assert.True(t, testutil.AlmostUnit(all[id*8:(id+1)*8], 1e-5), "row %d", id)
	}
}

func TestNew_Deterministic(t *testing.T) {
	a, err := New(5, 4, WithSeed(7))
	require.NoError(t, err)
	b, err := New(5, 4, WithSeed(7))
	require.NoError(t, err)
	c, err := New(5, 4, WithSeed(8))
	require.NoError(t, err)

	da, _ := a.All()
	db, _ := b.All()
	dc, _ := c.All()
	assert.Equal(t, da, db)
	assert.NotEqual(t, da, dc)
}

func TestNew_InvalidShape(t *testing.T) {
	for _, tc := range []struct{ n, dim int }{{0, 4}, {4, 0}, {-1, 4}, {4, -2}} {
		_, err := New(tc.n, tc.dim)
		assert.ErrorIs(t, err, lagerr.ErrConfig, "n=%d dim=%d", tc.n, tc.dim)
	}
}

func TestNew_InvalidMixingRate(t *testing.T) {
	for _, m := range []float32{-0.1, 1.1, float32(math.NaN())} {
		_, err := New(2, 2, WithMixingRate(m))
		assert.ErrorIs(t, err, lagerr.ErrConfig)
	}
}

func TestNew_ConstantInit(t *testing.T) {
	b, err := New(3, 2, WithInitializer(ConstantInit))
	require.NoError(t, err)

	all, _ := b.All()
	assert.Equal(t, []float32{1, 0, 1, 0, 1, 0}, all)
}

func TestNew_DegenerateInitializer(t *testing.T) {
	_, err := New(3, 2, WithInitializer(func(_ *rand.Rand, _ int, row []float32) {
		clear(row)
	}))
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestNew_InitialData(t *testing.T) {
	b, err := New(2, 2, WithInitialData([]float32{3, 4, 0, 2}))
	require.NoError(t, err)

	rows, err := b.Get([]uint32{0, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, rows[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, rows[1], 1e-6)

	_, err = New(2, 2, WithInitialData([]float32{1, 0}))
	assert.ErrorIs(t, err, lagerr.ErrValue)

	_, err = New(2, 2, WithInitialData([]float32{1, 0, 0, 0}))
	assert.ErrorIs(t, err, lagerr.ErrValue)
}

func TestNew_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Limits{BankBytes: 100})

	_, err := New(10, 10, WithController(rc))
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	assert.ErrorIs(t, err, resource.ErrBudgetExceeded)

	b, err := New(4, 4, WithController(rc))
	require.NoError(t, err)
	assert.Equal(t, int64(64), rc.BankBytes())

	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), rc.BankBytes())

	// Failed fill releases its reservation.
	_, err = New(2, 2, WithController(rc), WithInitialData([]float32{0, 0, 0, 0}))
	require.Error(t, err)
	assert.Equal(t, int64(0), rc.BankBytes())
}

func TestGet_OutOfRange(t *testing.T) {
	b, err := New(4, 2)
	require.NoError(t, err)

	_, err = b.Get([]uint32{0, 4})
	require.ErrorIs(t, err, lagerr.ErrIndex)

	var ie *lagerr.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, uint64(4), ie.ID)
	assert.Equal(t, 4, ie.Len)
}

func TestGet_ReturnsCopies(t *testing.T) {
	b, err := New(2, 2, WithInitialData([]float32{1, 0, 0, 1}))
	require.NoError(t, err)

	rows, err := b.Get([]uint32{0})
	require.NoError(t, err)
	rows[0][0] = 42

	again, _ := b.Get([]uint32{0})
	assert.Equal(t, float32(1), again[0][0])
}

func TestUpdate_Mix(t *testing.T) {
	rng := testutil.NewRNG(1)

	for _, m := range []float32{0, 0.25, 0.5, 0.9, 1} {
		b, err := New(5, 6, WithSeed(3))
		require.NoError(t, err)

		before, _ := b.All()
		fresh := rng.GaussianVectors(1, 6)[0]

		require.NoError(t, b.Update([]uint32{2}, [][]float32{fresh}, m))

		want := make([]float32, 6)
		for j := range want {
			want[j] = m*before[2*6+j] + (1-m)*fresh[j]
		}
		require.True(t, distance.Normalize(want))

		after, _ := b.All()
		assert.InDeltaSlice(t, want, after[12:18], 1e-5, "m=%v", m)
		assert.True(t, testutil.AlmostUnit(after[12:18], 1e-5))

		// Other rows untouched.
		assert.Equal(t, before[:12], after[:12])
		assert.Equal(t, before[18:], after[18:])
		assert.Equal(t, uint64(1), b.Version())
	}
}

func TestUpdate_CancellingMixTakesFresh(t *testing.T) {
	b, err := New(1, 2, WithInitialData([]float32{1, 0}))
	require.NoError(t, err)

	require.NoError(t, b.Update([]uint32{0}, [][]float32{{-1, 0}}, 0.5))

	rows, _ := b.Get([]uint32{0})
	assert.InDeltaSlice(t, []float32{-1, 0}, rows[0], 1e-6)
}

func TestUpdate_RepeatedIDsApplyInOrder(t *testing.T) {
	b, err := New(1, 2, WithInitialData([]float32{1, 0}))
	require.NoError(t, err)

	require.NoError(t, b.Update([]uint32{0, 0}, [][]float32{{0, 1}, {0, 1}}, 0))

	rows, _ := b.Get([]uint32{0})
	assert.InDeltaSlice(t, []float32{0, 1}, rows[0], 1e-6)
}

func TestUpdate_Mix_DefaultRate(t *testing.T) {
	b, err := New(1, 2, WithInitialData([]float32{1, 0}), WithMixingRate(1))
	require.NoError(t, err)

	require.NoError(t, b.Mix([]uint32{0}, [][]float32{{0, 1}}))

	rows, _ := b.Get([]uint32{0})
	assert.InDeltaSlice(t, []float32{1, 0}, rows[0], 1e-6)
}

func TestUpdate_Errors(t *testing.T) {
	b, err := New(3, 2)
	require.NoError(t, err)
	before, _ := b.All()

	tests := []struct {
		name  string
		ids   []uint32
		fresh [][]float32
		m     float32
		kind  error
	}{
		{"length mismatch", []uint32{0, 1}, [][]float32{{1, 0}}, 0.5, lagerr.ErrValue},
		{"dimension", []uint32{0}, [][]float32{{1, 0, 0}}, 0.5, lagerr.ErrValue},
		{"nan", []uint32{0}, [][]float32{{float32(math.NaN()), 0}}, 0.5, lagerr.ErrValue},
		{"inf", []uint32{0}, [][]float32{{float32(math.Inf(1)), 0}}, 0.5, lagerr.ErrValue},
		{"zero", []uint32{0}, [][]float32{{0, 0}}, 0.5, lagerr.ErrValue},
		{"index", []uint32{0, 3}, [][]float32{{1, 0}, {1, 0}}, 0.5, lagerr.ErrIndex},
		{"rate", []uint32{0}, [][]float32{{1, 0}}, 1.5, lagerr.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Update(tt.ids, tt.fresh, tt.m)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	var dm *lagerr.DimensionMismatchError
	require.ErrorAs(t, b.Update([]uint32{0}, [][]float32{{1}}, 0.5), &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 1, dm.Actual)

	// Nothing was applied, not even partially.
	after, _ := b.All()
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(0), b.Version())
}

func TestSnapshot_Immutable(t *testing.T) {
	b, err := New(3, 2, WithInitialData([]float32{1, 0, 0, 1, 1, 1}))
	require.NoError(t, err)

	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Version())
	row0 := append([]float32(nil), snap.Row(0)...)

	require.NoError(t, b.Update([]uint32{0}, [][]float32{{0, 1}}, 0))

	assert.Equal(t, row0, snap.Row(0))
	next, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Version())
	assert.InDeltaSlice(t, []float32{0, 1}, next.Row(0), 1e-6)
}

func TestClose(t *testing.T) {
	b, err := New(2, 2)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Snapshot()
	assert.ErrorIs(t, err, lagerr.ErrState)
	_, err = b.All()
	assert.ErrorIs(t, err, lagerr.ErrState)
	_, err = b.Get([]uint32{0})
	assert.ErrorIs(t, err, lagerr.ErrState)
	assert.ErrorIs(t, b.Update([]uint32{0}, [][]float32{{1, 0}}, 0.5), lagerr.ErrState)
}

func TestMetrics(t *testing.T) {
	m := &metrics.Basic{}
	b, err := New(2, 2, WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, b.Update([]uint32{0, 1}, [][]float32{{1, 0}, {0, 1}}, 0.5))
	require.Error(t, b.Update([]uint32{5}, [][]float32{{1, 0}}, 0.5))

	s := m.GetStats()
	assert.Equal(t, int64(2), s.BankUpdateCount)
	assert.Equal(t, int64(2), s.BankUpdateRows)
	assert.Equal(t, int64(1), s.BankUpdateErrors)
}

func TestConcurrentSnapshots(t *testing.T) {
	b, err := New(64, 8, WithSeed(5))
	require.NoError(t, err)
	rng := testutil.NewRNG(9)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				snap, err := b.Snapshot()
				if !assert.NoError(t, err) {
					return
				}
				for id := range snap.Len() {
					assert.True(t, testutil.AlmostUnit(snap.Row(uint32(id)), 1e-4))
				}
			}
		}()
	}

	for i := range 50 {
		fresh := rng.GaussianVectors(1, 8)
		require.NoError(t, b.Update([]uint32{uint32(i % 64)}, fresh, 0.5))
	}
	wg.Wait()
}

func TestNewSnapshot(t *testing.T) {
	data := []float32{1, 0, 0, 1}
	s, err := NewSnapshot(data, 2, 2)
	require.NoError(t, err)
	data[0] = 9

	assert.Equal(t, []float32{1, 0}, s.Row(0))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Dim())
	assert.NoError(t, s.CheckID(1))
	assert.ErrorIs(t, s.CheckID(2), lagerr.ErrIndex)

	_, err = NewSnapshot(data, 3, 2)
	assert.ErrorIs(t, err, lagerr.ErrValue)
	_, err = NewSnapshot(nil, 0, 2)
	assert.True(t, errors.Is(err, lagerr.ErrConfig))
}
