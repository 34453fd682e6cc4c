package nn

import (
	"fmt"
	"strings"

	"github.com/hupe1980/localagg/lagerr"
)

// Merger reduces the per-patch codes of one sample to a single code.
type Merger int

const (
	// MergeMean averages patch codes.
	MergeMean Merger = iota
	// MergeMax takes the element-wise maximum over patch codes.
	MergeMax
)

// String returns the name used in configuration files.
func (m Merger) String() string {
	switch m {
	case MergeMean:
		return "mean"
	case MergeMax:
		return "max"
	default:
		return fmt.Sprintf("Merger(%d)", int(m))
	}
}

// ParseMerger parses "mean" or "max".
func ParseMerger(s string) (Merger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "":
		return MergeMean, nil
	case "max":
		return MergeMax, nil
	default:
		return 0, lagerr.Configf("unknown code merger %q", s)
	}
}
