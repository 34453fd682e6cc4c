package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(4711).GaussianVectors(3, 5)
	b := NewRNG(4711).GaussianVectors(3, 5)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, NewRNG(4712).GaussianVectors(3, 5))
}

func TestUnitVectors(t *testing.T) {
	v := NewRNG(1).UnitVectors(8, 32)

	require.Len(t, v, 8)
	for _, row := range v {
		assert.Len(t, row, 32)
		assert.True(t, AlmostUnit(row, 1e-5))
	}

	// Rows must not alias each other through append.
	v[0] = append(v[0], 1)
	assert.Len(t, v[1], 32)
}

func TestClusteredVectors(t *testing.T) {
	v := NewRNG(2).ClusteredVectors(100, 32, 5, 0.01)

	require.Len(t, v, 100)
	assert.True(t, AlmostUnit(v[42], 1e-5))

	// With a tight spread the nearest row shares the centre.
	nn := BruteForceKNN(v, 0, 1)
	assert.Equal(t, uint32(0), nn[0].ID%5)
}

func TestBruteForceKNN(t *testing.T) {
	vecs := [][]float32{
		{1, 0},
		{0.8, 0.6},
		{0.8, 0.6},
		{0, 1},
	}

	nn := BruteForceKNN(vecs, 0, 2)
	require.Len(t, nn, 2)
	assert.Equal(t, uint32(1), nn[0].ID)
	assert.Equal(t, uint32(2), nn[1].ID)
	assert.InDelta(t, 0.8, nn[0].Similarity, 1e-6)

	assert.Len(t, BruteForceKNN(vecs, 3, 10), 3)
}

func TestFlatten(t *testing.T) {
	assert.Nil(t, Flatten(nil))
	assert.Equal(t, []float32{1, 2, 3, 4}, Flatten([][]float32{{1, 2}, {3, 4}}))
}

func TestCentralDifference(t *testing.T) {
	x := []float32{1, 2}
	g := CentralDifference(func(v []float32) float64 {
		return float64(v[0]*v[0]) + 3*float64(v[1])
	}, x, 1e-3)
	assert.InDelta(t, 2.0, g[0], 1e-2)
	assert.InDelta(t, 3.0, g[1], 1e-2)
	assert.Equal(t, []float32{1, 2}, x)
}
