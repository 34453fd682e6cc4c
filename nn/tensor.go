package nn

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hupe1980/localagg/lagerr"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}
}

// Len returns the number of elements implied by Shape.
func (t Tensor) Len() int {
	n := 1
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

// Validate reports whether Data matches Shape.
func (t Tensor) Validate() error {
	for _, s := range t.Shape {
		if s < 0 {
			return lagerr.Valuef("negative dimension in shape %v", t.Shape)
		}
	}
	if t.Len() != len(t.Data) {
		return lagerr.Valuef("shape %v needs %d values, got %d", t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// StateDict maps parameter names to their values.
type StateDict map[string]Tensor

// Keys returns the parameter names in sorted order.
func (s StateDict) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (s StateDict) Clone() StateDict {
	out := make(StateDict, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Param is a trainable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value Tensor
	Grad  []float32
}

// NewParam allocates a zero parameter.
func NewParam(name string, shape ...int) *Param {
	v := NewTensor(shape...)
	return &Param{Name: name, Value: v, Grad: make([]float32, len(v.Data))}
}

// ZeroGrad resets the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// Check reports whether t can be loaded into the parameter.
func (p *Param) Check(t Tensor) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("param %s: %w", p.Name, err)
	}
	if !slices.Equal(p.Value.Shape, t.Shape) {
		return lagerr.Valuef("param %s: shape %v, checkpoint has %v", p.Name, p.Value.Shape, t.Shape)
	}
	return nil
}

// ZeroGrads resets the gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
