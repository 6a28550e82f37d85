// Package limiter provides per-actor token bucket rate limiting with an
// in-process store and a Redis store for multi-instance deployments.
package limiter

import (
	"context"
	"sync"
	"time"
)

// Policy is the per-actor request budget.
type Policy struct {
	RPM   int
	Burst int
}

// RatePerSecond converts RPM to a refill rate. Non-positive RPM refills at
// one token per second.
func (p Policy) RatePerSecond() float64 {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		return 1
	}
	return rate
}

// Capacity returns the bucket size. Burst defaults to RPM when unset.
func (p Policy) Capacity() int {
	switch {
	case p.Burst > 0:
		return p.Burst
	case p.RPM > 0:
		return p.RPM
	default:
		return 1
	}
}

// RetryAfter is the whole number of seconds a denied actor should wait.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store decides whether actorID may spend cost tokens now.
type Store interface {
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func (b *bucket) take(now time.Time, cost int) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	b, ok := s.buckets[actorID]
	if !ok {
		capacity := float64(policy.Capacity())
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: policy.RatePerSecond(), lastRefill: now}
		s.buckets[actorID] = b
	}
	return b.take(now, cost), nil
}
