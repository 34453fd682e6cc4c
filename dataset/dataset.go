// Package dataset provides the sample sources the trainer iterates over.
//
// Every dataset addresses its samples with stable ids 0..Len()-1. The
// memory bank row of a sample is its id, so a Loader may shuffle the
// visiting order but never renumbers samples.
package dataset

import (
	"math/rand"
	"slices"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/lagerr"
)

// NoLabel marks a sample without ground truth.
const NoLabel = -1

// Sample is one dataset item.
type Sample struct {
	// Input is the flattened feature vector fed to the encoder.
	Input []float32
	// Label is the ground-truth class, or NoLabel.
	Label int
}

// Dataset is a random-access collection of samples.
type Dataset interface {
	// Len returns the number of samples.
	Len() int
	// Dim returns the length of every Input.
	Dim() int
	// Get returns sample i, 0 <= i < Len().
	Get(i int) (Sample, error)
}

// Tensor is an in-memory dataset.
type Tensor struct {
	inputs [][]float32
	labels []int
	dim    int
}

// NewTensor wraps inputs. labels may be nil; otherwise it must match inputs.
// The inputs are copied.
func NewTensor(inputs [][]float32, labels []int) (*Tensor, error) {
	if len(inputs) == 0 {
		return nil, lagerr.Valuef("dataset is empty")
	}
	if labels != nil && len(labels) != len(inputs) {
		return nil, lagerr.Valuef("%d labels for %d inputs", len(labels), len(inputs))
	}

	dim := len(inputs[0])
	if dim == 0 {
		return nil, lagerr.Valuef("inputs have zero length")
	}

	t := &Tensor{inputs: make([][]float32, len(inputs)), dim: dim}
	for i, in := range inputs {
		if len(in) != dim {
			return nil, &lagerr.DimensionMismatchError{Expected: dim, Actual: len(in)}
		}
		if !distance.IsFinite(in) {
			return nil, lagerr.Valuef("input %d has non-finite values", i)
		}
		t.inputs[i] = slices.Clone(in)
	}
	if labels != nil {
		t.labels = slices.Clone(labels)
	}
	return t, nil
}

// Len implements Dataset.
func (t *Tensor) Len() int { return len(t.inputs) }

// Dim implements Dataset.
func (t *Tensor) Dim() int { return t.dim }

// Get implements Dataset.
func (t *Tensor) Get(i int) (Sample, error) {
	if i < 0 || i >= len(t.inputs) {
		return Sample{}, &lagerr.IndexError{ID: uint64(i), Len: len(t.inputs)}
	}
	label := NoLabel
	if t.labels != nil {
		label = t.labels[i]
	}
	return Sample{Input: slices.Clone(t.inputs[i]), Label: label}, nil
}

// NewSynthetic generates n Gaussian blobs around `clusters` random unit
// centres. Sample i belongs to blob i % clusters, which is also its label.
func NewSynthetic(n, dim, clusters int, spread float32, seed int64) (*Tensor, error) {
	if n <= 0 || dim <= 0 || clusters <= 0 || clusters > n {
		return nil, lagerr.Configf("synthetic dataset needs 0 < clusters <= n and dim > 0, got n=%d dim=%d clusters=%d", n, dim, clusters)
	}
	if spread < 0 {
		return nil, lagerr.Configf("spread must be non-negative, got %v", spread)
	}

	rng := rand.New(rand.NewSource(seed)) // nolint gosec

	centres := make([][]float32, clusters)
	for c := range centres {
		centres[c] = make([]float32, dim)
		for !distance.Normalize(centres[c]) {
			for j := range centres[c] {
				centres[c][j] = float32(rng.NormFloat64())
			}
		}
	}

	inputs := make([][]float32, n)
	labels := make([]int, n)
	for i := range inputs {
		labels[i] = i % clusters
		inputs[i] = make([]float32, dim)
		for j, v := range centres[labels[i]] {
			inputs[i][j] = v + float32(rng.NormFloat64())*spread
		}
	}
	return NewTensor(inputs, labels)
}
