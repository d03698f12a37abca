// Package seed derives the per-trial seeds of a tuning run from the job's
// random seed, so that a seeded job replays the same sequence of trials.
package seed

import (
	"math/rand"
	"sync"
	"time"
)

// Sequence hands out one sub-seed per trial. It is safe for concurrent
// use, though the scheduler draws from it sequentially.
type Sequence struct {
	mu   sync.Mutex
	base int64
	rng  *rand.Rand
}

// NewSequence starts a sequence at base. A nil base draws one from the
// clock, which makes the run non-reproducible.
func NewSequence(base *int64) *Sequence {
	b := time.Now().UnixNano()
	if base != nil {
		b = *base
	}
	return &Sequence{
		base: b,
		rng:  rand.New(rand.NewSource(b)),
	}
}

// Base returns the seed the sequence started from.
func (s *Sequence) Base() int64 {
	return s.base
}

// Next returns the next non-negative sub-seed.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63()
}
