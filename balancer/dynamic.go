package balancer

import (
	"sync"

	"go.uber.org/atomic"
)

// DynamicRoundRobin keeps an outstanding-request counter per candidate.
// Select picks the candidate with the fewest outstanding requests, rotating
// the starting point so that ties spread across candidates, and increments
// its counter; Report decrements it on completion, success or not. This
// approximates least-loaded routing without measuring latency.
type DynamicRoundRobin struct {
	mu          sync.Mutex
	outstanding map[string]*atomic.Int64
	rotation    int
}

// NewDynamicRoundRobin creates the default balancing strategy.
func NewDynamicRoundRobin() *DynamicRoundRobin {
	return &DynamicRoundRobin{outstanding: make(map[string]*atomic.Int64)}
}

// Select implements Strategy.
func (b *DynamicRoundRobin) Select(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	offset := b.rotation % len(candidates)
	b.rotation++

	least := int64(-1)
	for _, candidate := range candidates {
		if count := b.counter(candidate).Load(); least < 0 || count < least {
			least = count
		}
	}

	for i := 0; i < len(candidates); i++ {
		candidate := candidates[(offset+i)%len(candidates)]
		counter := b.counter(candidate)
		if counter.Load() == least {
			counter.Inc()
			return candidate, nil
		}
	}

	// Unreachable: at least one candidate carries the minimum.
	candidate := candidates[offset]
	b.counter(candidate).Inc()
	return candidate, nil
}

// Report implements Strategy. The check and decrement happen under the lock:
// concurrent reports for the same candidate must never drive its counter
// below zero, or Select would favor it forever.
func (b *DynamicRoundRobin) Report(candidate string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counter := b.counter(candidate)
	if counter.Load() > 0 {
		counter.Dec()
	}
}

// Outstanding returns the current outstanding-request count for a candidate.
func (b *DynamicRoundRobin) Outstanding(candidate string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter(candidate).Load()
}

func (b *DynamicRoundRobin) counter(candidate string) *atomic.Int64 {
	counter, ok := b.outstanding[candidate]
	if !ok {
		counter = atomic.NewInt64(0)
		b.outstanding[candidate] = counter
	}
	return counter
}
