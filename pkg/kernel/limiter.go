// Package kernel provides the shared request-admission primitives: the
// rate-limit window store used by the key authority and the HTTP layer.
//
// The in-memory store is only correct for a single process instance. Any
// horizontally scaled deployment must use the Redis store so that every
// instance observes the same counters.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WindowPolicy defines a fixed-window limit.
type WindowPolicy struct {
	// Limit is the maximum number of requests per window.
	Limit int
	// Window is the window length, e.g. time.Hour for per-key limits.
	Window time.Duration
}

// LimiterStore abstracts storage for rate-limit windows.
type LimiterStore interface {
	// Allow records one request for the actor and reports whether it fits
	// inside the current window. Returns the seconds until the window
	// resets, for Retry-After guidance.
	Allow(ctx context.Context, actorID string, policy WindowPolicy) (allowed bool, resetSecs int, err error)
}

type window struct {
	count int
	start time.Time
}

// InMemoryLimiterStore is a fixed-window limiter for single-instance
// deployments and tests. Counters are process-local.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   func() time.Time
}

// NewInMemoryLimiterStore creates an empty in-memory store.
func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{
		windows: make(map[string]*window),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *InMemoryLimiterStore) WithClock(clock func() time.Time) *InMemoryLimiterStore {
	s.clock = clock
	return s
}

// Allow implements LimiterStore.
func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy WindowPolicy) (bool, int, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return false, 0, fmt.Errorf("kernel: invalid window policy %+v", policy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w, ok := s.windows[actorID]
	if !ok || now.Sub(w.start) >= policy.Window {
		w = &window{start: now}
		s.windows[actorID] = w
	}

	reset := int(policy.Window.Seconds() - now.Sub(w.start).Seconds())
	if reset < 1 {
		reset = 1
	}

	if w.count >= policy.Limit {
		return false, reset, nil
	}
	w.count++
	return true, reset, nil
}
