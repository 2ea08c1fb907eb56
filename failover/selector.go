package failover

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/aschepis/backscratcher/relay/perf"
	"github.com/samber/lo"
)

// ErrNoBackends is returned when the selection pool is empty.
var ErrNoBackends = errors.New("no enabled backends")

// Selector picks a backend at random, proportionally to its weight.
// Lower-weight backends keep a chance of being picked so they can recover.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a Selector seeded from the runtime's random source.
func NewSelector() *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededSelector creates a Selector with a deterministic sequence.
func NewSeededSelector(seed1, seed2 uint64) *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Select returns one backend from pool. A single-entry pool is returned as is.
func (s *Selector) Select(pool []perf.Backend) (perf.Backend, error) {
	switch len(pool) {
	case 0:
		return perf.Backend{}, ErrNoBackends
	case 1:
		return pool[0], nil
	}

	total := lo.SumBy(pool, func(b perf.Backend) float64 { return b.Weight })
	if total <= 0 {
		return pool[0], nil
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	var acc float64
	for _, b := range pool {
		acc += b.Weight
		if acc >= r {
			return b, nil
		}
	}
	// Rounding can leave r just above the final sum.
	return pool[len(pool)-1], nil
}
