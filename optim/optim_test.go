package optim

import (
	"testing"

	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSGD_Config(t *testing.T) {
	_, err := NewSGD(0, 0.9, 0)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewSGD(0.1, 1, 0)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewSGD(0.1, 0.5, -1)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
}

func TestSGD_PlainStep(t *testing.T) {
	p := nn.NewParam("w", 2)
	p.Value.Data[0], p.Value.Data[1] = 1, 2
	p.Grad[0], p.Grad[1] = 0.5, -1

	opt, err := NewSGD(0.1, 0, 0)
	require.NoError(t, err)
	opt.Step([]*nn.Param{p})

	assert.InDeltaSlice(t, []float32{0.95, 2.1}, p.Value.Data, 1e-6)
}

func TestSGD_Momentum(t *testing.T) {
	p := nn.NewParam("w", 1)
	opt, err := NewSGD(0.1, 0.9, 0)
	require.NoError(t, err)

	// constant gradient 1: v = 1, 1.9, 2.71
	p.Grad[0] = 1
	want := []float32{-0.1, -0.29, -0.561}
	for _, w := range want {
		opt.Step([]*nn.Param{p})
		assert.InDelta(t, w, p.Value.Data[0], 1e-5)
	}

	opt.ZeroGrad([]*nn.Param{p})
	assert.Equal(t, float32(0), p.Grad[0])
}

func TestSGD_WeightDecay(t *testing.T) {
	p := nn.NewParam("w", 1)
	p.Value.Data[0] = 2

	opt, err := NewSGD(0.5, 0, 0.1)
	require.NoError(t, err)
	opt.Step([]*nn.Param{p})

	// g = 0 + 0.1*2
	assert.InDelta(t, 1.9, p.Value.Data[0], 1e-6)
	assert.Equal(t, float32(0), p.Grad[0], "weight decay must not write into the gradient")
}

func TestStepLR(t *testing.T) {
	opt, err := NewSGD(0.01, 0.9, 0)
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 15, 0.1)
	require.NoError(t, err)

	for epoch := 1; epoch <= 31; epoch++ {
		sched.Step()
		switch {
		case epoch < 15:
			assert.InDelta(t, 0.01, sched.LR(), 1e-12, "epoch %d", epoch)
		case epoch < 30:
			assert.InDelta(t, 0.001, sched.LR(), 1e-12, "epoch %d", epoch)
		default:
			assert.InDelta(t, 0.0001, sched.LR(), 1e-12, "epoch %d", epoch)
		}
	}
	assert.Equal(t, 31, sched.Epoch())
	assert.Equal(t, opt.LR(), sched.LR())
}

func TestStepLR_Config(t *testing.T) {
	opt, err := NewSGD(0.01, 0, 0)
	require.NoError(t, err)

	_, err = NewStepLR(opt, 0, 0.1)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewStepLR(opt, 1, 0)
	assert.ErrorIs(t, err, lagerr.ErrConfig)
	_, err = NewStepLR(nil, 1, 0.1)
	assert.ErrorIs(t, err, lagerr.ErrState)
}
