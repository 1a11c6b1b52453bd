// Package memory contains an in-memory sink for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Sink stores emitted outcomes for inspection.
type Sink struct {
	mu       sync.RWMutex
	outcomes []profile.Outcome
	closed   bool
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// Emit records the outcome.
func (s *Sink) Emit(_ context.Context, o profile.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Outcomes returns the recorded outcomes.
func (s *Sink) Outcomes() []profile.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]profile.Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
