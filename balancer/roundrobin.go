package balancer

import (
	"math/rand"
	"sync"
)

// RoundRobin rotates through the candidate set in the order given, ignoring
// outcome feedback.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a static round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select implements Strategy.
func (b *RoundRobin) Select(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	candidate := candidates[b.next%len(candidates)]
	b.next++
	return candidate, nil
}

// Report implements Strategy.
func (b *RoundRobin) Report(candidate string, success bool) {}

// Random picks a candidate uniformly at random.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random strategy.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Select implements Strategy.
func (b *Random) Select(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return candidates[b.rng.Intn(len(candidates))], nil
}

// Report implements Strategy.
func (b *Random) Report(candidate string, success bool) {}
