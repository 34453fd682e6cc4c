package localagg

import "github.com/hupe1980/localagg/lagerr"

// Error kinds returned throughout the module. Match them with errors.Is.
var (
	// ErrConfig is returned for invalid hyperparameters.
	ErrConfig = lagerr.ErrConfig
	// ErrState is returned when a component is used before it is ready.
	ErrState = lagerr.ErrState
	// ErrValue is returned for malformed batch input.
	ErrValue = lagerr.ErrValue
	// ErrIndex is returned for sample ids outside the memory bank.
	ErrIndex = lagerr.ErrIndex
)

type (
	// DimensionMismatchError indicates a vector of the wrong dimensionality.
	DimensionMismatchError = lagerr.DimensionMismatchError
	// IndexError indicates a sample id outside the memory bank.
	IndexError = lagerr.IndexError
)
