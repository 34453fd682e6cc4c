package testutil

import (
	"math"
	"math/rand"
	"slices"

	"github.com/hupe1980/localagg/distance"
)

// Neighbour is a bank row and its inner product with the query row.
type Neighbour struct {
	ID         uint32
	Similarity float32
}

// RNG draws reproducible test embeddings. It is not safe for concurrent use.
type RNG struct {
	src *rand.Rand
}

// NewRNG seeds a generator.
func NewRNG(seed int64) *RNG {
	return &RNG{src: rand.New(rand.NewSource(seed))} // nolint gosec
}

// rows allocates n rows of dim values backed by one slice.
func rows(n, dim int) [][]float32 {
	flat := make([]float32, n*dim)
	out := make([][]float32, n)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out
}

// GaussianVectors draws n rows with standard normal entries.
func (r *RNG) GaussianVectors(n, dim int) [][]float32 {
	out := rows(n, dim)
	for _, v := range out {
		for j := range v {
			v[j] = float32(r.src.NormFloat64())
		}
	}
	return out
}

// UnitVectors draws n rows uniformly from the unit sphere.
func (r *RNG) UnitVectors(n, dim int) [][]float32 {
	out := r.GaussianVectors(n, dim)
	for _, v := range out {
		if !distance.Normalize(v) {
			v[0] = 1
		}
	}
	return out
}

// ClusteredVectors draws n unit rows around clusters random centres; row i
// belongs to centre i%clusters. spread is the per-coordinate noise.
func (r *RNG) ClusteredVectors(n, dim, clusters int, spread float32) [][]float32 {
	centres := r.UnitVectors(clusters, dim)
	out := rows(n, dim)
	for i, v := range out {
		c := centres[i%clusters]
		for j := range v {
			v[j] = c[j] + spread*float32(r.src.NormFloat64())
		}
		if !distance.Normalize(v) {
			copy(v, c)
		}
	}
	return out
}

// Flatten concatenates rows into one row-major slice.
func Flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	return slices.Concat(vectors...)
}

// BruteForceKNN ranks every row except query by inner product with it and
// keeps the best k. Ties go to the lower id.
func BruteForceKNN(vectors [][]float32, query uint32, k int) []Neighbour {
	all := make([]Neighbour, 0, len(vectors))
	for i, v := range vectors {
		if uint32(i) != query {
			all = append(all, Neighbour{ID: uint32(i), Similarity: distance.Dot(vectors[query], v)})
		}
	}
	slices.SortStableFunc(all, func(a, b Neighbour) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	return all[:min(k, len(all))]
}

// CentralDifference estimates the gradient of f at x, one coordinate at a
// time. x is restored before returning; f must not retain it.
func CentralDifference(f func(x []float32) float64, x []float32, h float64) []float64 {
	grad := make([]float64, len(x))
	for i, orig := range x {
		x[i] = float32(float64(orig) + h)
		up := f(x)
		x[i] = float32(float64(orig) - h)
		down := f(x)
		x[i] = orig
		grad[i] = (up - down) / (2 * h)
	}
	return grad
}

// AlmostUnit reports whether | ||v|| - 1 | <= tol.
func AlmostUnit(v []float32, tol float64) bool {
	return math.Abs(float64(distance.Norm(v))-1) <= tol
}
