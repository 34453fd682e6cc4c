// Package optim implements stochastic gradient descent with momentum and a
// step learning-rate schedule.
package optim

import (
	"math"

	"github.com/hupe1980/localagg/internal/math32"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/nn"
)

// SGD updates parameters with heavy-ball momentum:
//
//	v = momentum*v + (grad + weightDecay*p)
//	p = p - lr*v
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    map[*nn.Param][]float32
}

// NewSGD creates an optimizer. lr must be positive, momentum in [0, 1).
func NewSGD(lr, momentum, weightDecay float64) (*SGD, error) {
	if !(lr > 0) || math.IsInf(lr, 0) {
		return nil, lagerr.Configf("learning rate must be positive, got %v", lr)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, lagerr.Configf("momentum must be in [0, 1), got %v", momentum)
	}
	if weightDecay < 0 {
		return nil, lagerr.Configf("weight decay must be non-negative, got %v", weightDecay)
	}
	return &SGD{
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    make(map[*nn.Param][]float32),
	}, nil
}

// LR returns the current learning rate.
func (o *SGD) LR() float64 { return o.lr }

// SetLR changes the learning rate.
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// Step applies one update to every parameter using its accumulated gradient.
func (o *SGD) Step(params []*nn.Param) {
	for _, p := range params {
		g := p.Grad
		if o.weightDecay != 0 {
			g = append([]float32(nil), p.Grad...)
			math32.Axpy(float32(o.weightDecay), p.Value.Data, g)
		}

		if o.momentum == 0 {
			math32.Axpy(float32(-o.lr), g, p.Value.Data)
			continue
		}

		v, ok := o.velocity[p]
		if !ok {
			// First step initializes the buffer with the gradient itself.
			v = append([]float32(nil), g...)
			o.velocity[p] = v
		} else {
			math32.ScaleInPlace(v, float32(o.momentum))
			math32.Axpy(1, g, v)
		}
		math32.Axpy(float32(-o.lr), v, p.Value.Data)
	}
}

// ZeroGrad clears the gradients of params.
func (o *SGD) ZeroGrad(params []*nn.Param) {
	nn.ZeroGrads(params)
}
