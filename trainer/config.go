package trainer

import (
	"github.com/hupe1980/localagg/cluster"
	"github.com/hupe1980/localagg/lagerr"
	"github.com/hupe1980/localagg/loss"
)

// Config holds the learner hyperparameters.
type Config struct {
	// RunLabel is recorded in checkpoints and logs.
	RunLabel string
	// Seed drives bank initialization and clustering.
	Seed int64

	LR          float64
	Momentum    float64
	WeightDecay float64
	// StepSize is the number of epochs between learning rate decays.
	StepSize int
	// Gamma is the learning rate decay factor.
	Gamma float64

	Loss loss.Config
	// NSamples is the memory bank size. 0 uses the dataset size.
	NSamples int

	// RefreshPolicy decides when clusters are recomputed.
	RefreshPolicy cluster.Policy
	// AsyncRefresh reclusters in the background once a first assignment exists.
	AsyncRefresh bool

	// SaveTmpName is the checkpoint written at the end of every epoch.
	SaveTmpName string
	// ShowBatchProgress logs every batch.
	ShowBatchProgress bool
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		Seed:              1,
		LR:                0.01,
		Momentum:          0.9,
		StepSize:          15,
		Gamma:             0.1,
		Loss:              loss.DefaultConfig(),
		RefreshPolicy:     cluster.EveryEpoch(),
		SaveTmpName:       "model_in_training",
		ShowBatchProgress: true,
	}
}

func (c Config) validate(samples int) (int, error) {
	n := c.NSamples
	if n == 0 {
		n = samples
	}
	if n != samples {
		return 0, lagerr.Configf("n_samples %d does not match dataset size %d", n, samples)
	}
	if c.SaveTmpName == "" {
		return 0, lagerr.Configf("save_tmp_name must not be empty")
	}
	return n, c.Loss.Validate(n)
}
