package balancer

import (
	"errors"
	"fmt"
)

// Policy names accepted by New.
const (
	PolicyDynamicRoundRobin = "dynamic-round-robin"
	PolicyRoundRobin        = "round-robin"
	PolicyRandom            = "random"
)

// ErrNoCandidates is returned by Select when the candidate set is empty.
// An empty set is an error, never an empty selection.
var ErrNoCandidates = errors.New("no candidates")

// Strategy selects one candidate per request and accepts outcome feedback.
// Candidates are identified by provider address. Implementations are safe
// for concurrent use.
type Strategy interface {
	// Select picks one of the given candidates.
	Select(candidates []string) (string, error)

	// Report records the outcome of a request previously routed to the
	// candidate by Select. It must be called exactly once per Select,
	// whatever the outcome.
	Report(candidate string, success bool)
}

// New builds the strategy named by policy. An empty policy selects dynamic
// round-robin.
func New(policy string) (Strategy, error) {
	switch policy {
	case "", PolicyDynamicRoundRobin:
		return NewDynamicRoundRobin(), nil
	case PolicyRoundRobin:
		return NewRoundRobin(), nil
	case PolicyRandom:
		return NewRandom(), nil
	}
	return nil, fmt.Errorf("unknown balancer policy %q", policy)
}
