// Package lagerr defines the error kinds shared by the memory bank, the
// neighbour index, the clusterer and the loss.
//
// Every error returned by this module that belongs to one of the kinds below
// satisfies errors.Is against the matching sentinel:
//
//	ErrConfig - invalid hyperparameters (k, C, R, temperature, mixing rate)
//	ErrState  - operating on an uninitialized or incompatible component
//	ErrValue  - malformed input (length mismatch, non-finite or zero vectors)
//	ErrIndex  - sample id outside the memory bank
package lagerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid configuration. It is fatal.
	ErrConfig = errors.New("config error")

	// ErrState is returned when a component is used before it is ready.
	ErrState = errors.New("state error")

	// ErrValue is returned for malformed per-batch input.
	ErrValue = errors.New("value error")

	// ErrIndex is returned when a sample id is out of range.
	ErrIndex = errors.New("index error")
)

// DimensionMismatchError indicates a vector of the wrong dimensionality.
// It unwraps to ErrValue.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrValue }

// IndexError indicates a sample id outside [0, Len). It unwraps to ErrIndex.
type IndexError struct {
	ID  uint64
	Len int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("id %d out of range [0, %d)", e.ID, e.Len)
}

func (e *IndexError) Unwrap() error { return ErrIndex }

// Configf returns an error wrapping ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Statef returns an error wrapping ErrState.
func Statef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// Valuef returns an error wrapping ErrValue.
func Valuef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValue, fmt.Sprintf(format, args...))
}
