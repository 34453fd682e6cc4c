// Package math32 holds the float32 kernels behind the distance package,
// implemented on gonum's blas32.
package math32

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

func vec(a []float32) blas32.Vector {
	return blas32.Vector{N: len(a), Inc: 1, Data: a}
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return blas32.Dot(vec(a), vec(b))
}

// SquaredL2 calculates the squared L2 distance.
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		d := a[i] - b[i]
		distance += d * d
	}

	return distance
}

// Norm returns the L2 norm of a.
func Norm(a []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return blas32.Nrm2(vec(a))
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	if len(a) == 0 {
		return
	}
	blas32.Scal(scalar, vec(a))
}

// Axpy computes y += alpha*x.
func Axpy(alpha float32, x, y []float32) {
	if len(x) == 0 {
		return
	}
	blas32.Axpy(alpha, vec(x), vec(y))
}

// IsFinite reports whether every element of a is neither NaN nor Inf.
func IsFinite(a []float32) bool {
	for _, v := range a {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// IsZero reports whether every element of a is zero.
func IsZero(a []float32) bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}
