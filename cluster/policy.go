package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/localagg/lagerr"
)

type policyKind int

const (
	policyEveryEpoch policyKind = iota
	policyEveryNBatches
	policyNever
)

// Policy decides when the trainer refreshes the cluster assignment.
// The zero value is EveryEpoch.
type Policy struct {
	kind policyKind
	n    int
}

// EveryEpoch refreshes at the start of every epoch.
func EveryEpoch() Policy { return Policy{kind: policyEveryEpoch} }

// EveryNBatches refreshes every n global training steps.
func EveryNBatches(n int) Policy { return Policy{kind: policyEveryNBatches, n: max(n, 1)} }

// Never keeps the first assignment for the whole run.
func Never() Policy { return Policy{kind: policyNever} }

// Due reports whether a refresh is due before global step (0-based).
// epochStart is true for the first batch of an epoch.
func (p Policy) Due(step int, epochStart bool) bool {
	switch p.kind {
	case policyEveryNBatches:
		return step%p.n == 0
	case policyNever:
		return false
	default:
		return epochStart
	}
}

func (p Policy) String() string {
	switch p.kind {
	case policyEveryNBatches:
		return fmt.Sprintf("batches:%d", p.n)
	case policyNever:
		return "never"
	default:
		return "epoch"
	}
}

// ParsePolicy parses "epoch", "never" or "batches:N".
func ParsePolicy(s string) (Policy, error) {
	switch s = strings.TrimSpace(strings.ToLower(s)); {
	case s == "" || s == "epoch":
		return EveryEpoch(), nil
	case s == "never":
		return Never(), nil
	case strings.HasPrefix(s, "batches:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "batches:"))
		if err != nil || n <= 0 {
			return Policy{}, lagerr.Configf("invalid refresh policy %q", s)
		}
		return EveryNBatches(n), nil
	default:
		return Policy{}, lagerr.Configf("unknown refresh policy %q", s)
	}
}
