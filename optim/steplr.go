package optim

import (
	"math"

	"github.com/hupe1980/localagg/lagerr"
)

// StepLR decays the learning rate of an optimizer by gamma every stepSize epochs.
type StepLR struct {
	opt      *SGD
	baseLR   float64
	stepSize int
	gamma    float64
	epoch    int
}

// NewStepLR wraps opt. The optimizer's current rate becomes the base rate.
func NewStepLR(opt *SGD, stepSize int, gamma float64) (*StepLR, error) {
	if opt == nil {
		return nil, lagerr.Statef("nil optimizer")
	}
	if stepSize <= 0 {
		return nil, lagerr.Configf("scheduler step size must be positive, got %d", stepSize)
	}
	if !(gamma > 0) || gamma > 1 {
		return nil, lagerr.Configf("scheduler gamma must be in (0, 1], got %v", gamma)
	}
	return &StepLR{opt: opt, baseLR: opt.LR(), stepSize: stepSize, gamma: gamma}, nil
}

// Step advances one epoch and updates the learning rate.
func (s *StepLR) Step() {
	s.epoch++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.epoch/s.stepSize)))
}

// Epoch returns the number of completed Step calls.
func (s *StepLR) Epoch() int { return s.epoch }

// LR returns the learning rate currently applied.
func (s *StepLR) LR() float64 { return s.opt.LR() }
