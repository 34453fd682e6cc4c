package memorybank

import (
	"fmt"
	"slices"

	"github.com/hupe1980/localagg/lagerr"
)

// Snapshot is an immutable point-in-time copy of a bank.
// It is safe for concurrent use by any number of readers.
type Snapshot struct {
	data    []float32
	n       int
	dim     int
	version uint64
}

// NewSnapshot builds a snapshot over a copy of data (n rows of dim values).
// Rows are taken as given; callers that need cosine semantics pass unit rows.
func NewSnapshot(data []float32, n, dim int) (*Snapshot, error) {
	if n <= 0 || dim <= 0 {
		return nil, lagerr.Configf("snapshot shape %dx%d must be positive", n, dim)
	}
	if len(data) != n*dim {
		return nil, lagerr.Valuef("snapshot data has %d values, want %d", len(data), n*dim)
	}
	return &Snapshot{data: slices.Clone(data), n: n, dim: dim}, nil
}

// Len returns the number of rows.
func (s *Snapshot) Len() int { return s.n }

// Dim returns the row dimension.
func (s *Snapshot) Dim() int { return s.dim }

// Version is the bank version the snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Row returns the vector of id. The slice aliases the snapshot and must not be modified.
func (s *Snapshot) Row(id uint32) []float32 {
	off := int(id) * s.dim
	return s.data[off : off+s.dim : off+s.dim]
}

// Data returns the row-major table. It must not be modified.
func (s *Snapshot) Data() []float32 { return s.data }

// CheckID returns an *lagerr.IndexError if id is outside the snapshot.
func (s *Snapshot) CheckID(id uint32) error {
	if int64(id) >= int64(s.n) {
		return &lagerr.IndexError{ID: uint64(id), Len: s.n}
	}
	return nil
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot{n=%d, dim=%d, version=%d}", s.n, s.dim, s.version)
}
