package loss

import (
	"math"

	"github.com/hupe1980/localagg/lagerr"
)

// Config holds the loss hyperparameters.
type Config struct {
	// Temperature τ scales similarities before exponentiation. Must be > 0.
	Temperature float64
	// K is the number of background neighbours. Must be in [1, N).
	K int
	// Centroids is the number of cluster labels C. Must be in [1, N].
	Centroids int
	// Repeats is the number of independent clusterings R. Must be >= 1.
	Repeats int
	// MixingRate m weighs the old bank row in Commit. Must be in [0, 1].
	MixingRate float32
	// Epsilon floors the background (denominator) sum.
	Epsilon float64
}

// DefaultConfig returns the hyperparameters used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.07,
		K:           10,
		Centroids:   10,
		Repeats:     3,
		MixingRate:  0.5,
		Epsilon:     1e-7,
	}
}

// Validate checks the configuration against a bank of n samples.
func (c Config) Validate(n int) error {
	if !(c.Temperature > 0) || math.IsInf(c.Temperature, 0) {
		return lagerr.Configf("temperature must be positive and finite, got %v", c.Temperature)
	}
	if c.K <= 0 || c.K >= n {
		return lagerr.Configf("k must be in [1, %d), got %d", n, c.K)
	}
	if c.Centroids <= 0 || c.Centroids > n {
		return lagerr.Configf("number of centroids must be in [1, %d], got %d", n, c.Centroids)
	}
	if c.Repeats <= 0 {
		return lagerr.Configf("clustering repeats must be positive, got %d", c.Repeats)
	}
	if !(c.MixingRate >= 0 && c.MixingRate <= 1) {
		return lagerr.Configf("mixing rate must be in [0, 1], got %v", c.MixingRate)
	}
	if !(c.Epsilon > 0) || c.Epsilon >= 1 {
		return lagerr.Configf("epsilon must be in (0, 1), got %v", c.Epsilon)
	}
	return nil
}
