package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotOnUnitVectors(t *testing.T) {
	a := []float32{0.6, 0.8}
	assert.InDelta(t, 1.0, Dot(a, a), 1e-6)
	assert.InDelta(t, -1.0, Dot(a, []float32{-0.6, -0.8}), 1e-6)
	assert.InDelta(t, 0.0, Dot(a, []float32{-0.8, 0.6}), 1e-6)
	assert.Zero(t, Dot(nil, nil))
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 27, SquaredL2([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-5)
	assert.Zero(t, SquaredL2([]float32{1, 2}, []float32{1, 2}))

	// On the sphere ||a-b||² = 2 - 2a·b.
	a, b := []float32{1, 0}, []float32{0.6, 0.8}
	assert.InDelta(t, 2-2*Dot(a, b), SquaredL2(a, b), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, Normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	zero := []float32{0, 0}
	assert.False(t, Normalize(zero))
	assert.Equal(t, []float32{0, 0}, zero)
	assert.False(t, Normalize(nil))
}

func TestFiniteAndZero(t *testing.T) {
	assert.True(t, IsFinite([]float32{1, -2}))
	assert.False(t, IsFinite([]float32{1, float32(math.NaN())}))
	assert.False(t, IsFinite([]float32{float32(math.Inf(-1))}))
	assert.True(t, IsZero([]float32{0, 0, 0}))
	assert.False(t, IsZero([]float32{0, 1e-30}))
}

func TestMetricFunc(t *testing.T) {
	l2, err := MetricL2.Func()
	require.NoError(t, err)
	assert.InDelta(t, 2, l2([]float32{1, 0}, []float32{0, 1}), 1e-6)

	cos, err := MetricCosine.Func()
	require.NoError(t, err)
	assert.InDelta(t, 0, cos([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 2, cos([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	_, err = Metric(7).Func()
	assert.Error(t, err)

	assert.Equal(t, "l2", MetricL2.String())
	assert.Equal(t, "cosine", MetricCosine.String())
	assert.Equal(t, "metric(7)", Metric(7).String())
}
