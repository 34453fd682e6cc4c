package distance

import (
	"fmt"

	"github.com/hupe1980/localagg/internal/math32"
)

// Dot is the inner product of a and b. Lengths must match.
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// SquaredL2 is the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// Norm is the Euclidean length of v.
func Norm(v []float32) float32 {
	return math32.Norm(v)
}

// Normalize scales v to unit length in place. It reports false, leaving v
// untouched, when v is empty or has zero length.
func Normalize(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	n := math32.Norm(v)
	if n == 0 {
		return false
	}
	math32.ScaleInPlace(v, 1/n)
	return true
}

// IsFinite reports whether v holds no NaN or Inf.
func IsFinite(v []float32) bool {
	return math32.IsFinite(v)
}

// IsZero reports whether every element of v is zero.
func IsZero(v []float32) bool {
	return math32.IsZero(v)
}

// Metric selects how the clusterer compares an embedding with a centroid.
type Metric int

const (
	// MetricL2 is the squared Euclidean distance.
	MetricL2 Metric = iota
	// MetricCosine is 1 - a·b and expects unit vectors.
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// Func returns a distance; smaller is closer.
type Func func(a, b []float32) float32

func cosine(a, b []float32) float32 { return 1 - math32.Dot(a, b) }

// Func returns the distance function of m.
func (m Metric) Func() (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine:
		return cosine, nil
	}
	return nil, fmt.Errorf("distance: unsupported metric %v", m)
}
