package cluster

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/localagg/lagerr"
)

// Assignment is the result of one clustering run: R label arrays over the
// same N samples, plus a member bitmap per (repeat, label).
// An Assignment is immutable once built.
type Assignment struct {
	labels  [][]int
	members [][]*roaring.Bitmap
	c       int
	n       int
	version uint64
}

// NewAssignment validates labels and builds the member sets.
// Every array must cover the same n samples with labels in [0, c).
func NewAssignment(labels [][]int, c int) (*Assignment, error) {
	if c <= 0 {
		return nil, lagerr.Configf("number of centroids must be positive, got %d", c)
	}
	if len(labels) == 0 {
		return nil, lagerr.Configf("assignment needs at least one repeat")
	}

	n := len(labels[0])
	a := &Assignment{
		labels:  make([][]int, len(labels)),
		members: make([][]*roaring.Bitmap, len(labels)),
		c:       c,
		n:       n,
	}

	for r, ls := range labels {
		if len(ls) != n {
			return nil, lagerr.Valuef("repeat %d labels %d samples, want %d", r, len(ls), n)
		}
		sets := make([]*roaring.Bitmap, c)
		for l := range sets {
			sets[l] = roaring.New()
		}
		for id, l := range ls {
			if l < 0 || l >= c {
				return nil, lagerr.Valuef("repeat %d: sample %d has label %d outside [0, %d)", r, id, l, c)
			}
			sets[l].Add(uint32(id))
		}
		for _, s := range sets {
			s.RunOptimize()
		}
		a.labels[r] = slices.Clone(ls)
		a.members[r] = sets
	}

	return a, nil
}

// Repeats returns R.
func (a *Assignment) Repeats() int { return len(a.labels) }

// Centroids returns C.
func (a *Assignment) Centroids() int { return a.c }

// Len returns N.
func (a *Assignment) Len() int { return a.n }

// SnapshotVersion is the bank version the assignment was computed from.
func (a *Assignment) SnapshotVersion() uint64 { return a.version }

// Labels returns a copy of the labels of repeat r.
func (a *Assignment) Labels(r int) []int {
	return slices.Clone(a.labels[r])
}

// Label returns the label of id in repeat r.
func (a *Assignment) Label(r int, id uint32) int {
	return a.labels[r][id]
}

// Members returns the ids carrying label in repeat r.
func (a *Assignment) Members(r, label int) *roaring.Bitmap {
	return a.members[r][label].Clone()
}

// Neighbours returns every other id that shares id's label in at least one repeat.
func (a *Assignment) Neighbours(id uint32) (*roaring.Bitmap, error) {
	if int64(id) >= int64(a.n) {
		return nil, &lagerr.IndexError{ID: uint64(id), Len: a.n}
	}

	sets := make([]*roaring.Bitmap, len(a.labels))
	for r, ls := range a.labels {
		sets[r] = a.members[r][ls[id]]
	}
	out := roaring.FastOr(sets...)
	out.Remove(id)
	return out, nil
}
