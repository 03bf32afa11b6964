// Package ratelimit implements the per-connection token bucket described
// in SPEC_FULL.md §4.2: one bucket per connection, lazily created on
// first use and dropped on disconnect, with a per-method cost table
// overriding the default request cost.
//
// The bucket is built on golang.org/x/time/rate.Limiter rather than a
// hand-rolled timer-driven bucket, matching the teacher's go.mod (the
// package appears there as an indirect dependency of the CLI's watch
// debouncing and retry paths). x/time/rate's Reservation always "succeeds"
// for a cost within the burst size, borrowing against future refill; to
// preserve the spec's deny-without-deduction semantics we cancel any
// reservation whose delay is nonzero before reporting it denied.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes the default bucket shape and per-method overrides.
type Config struct {
	MaxTokens           float64
	RefillRatePerSecond float64
	MethodCosts         map[string]int
	DefaultCost         int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:           100,
		RefillRatePerSecond: 20,
		DefaultCost:         1,
		MethodCosts: map[string]int{
			"prompt.submit":  5,
			"session.create": 3,
			"memory.query":   2,
		},
	}
}

// Decision is the outcome of a Consume call.
type Decision struct {
	Allowed      bool
	RetryAfterMs int64
}

// RateLimiter is O(1) per Consume call and runs no timers of its own;
// every decision is a pure function of the call's timestamp.
type RateLimiter struct {
	maxTokens   float64
	refillRate  float64
	methodCosts map[string]int
	defaultCost int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func New(cfg Config) *RateLimiter {
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = 1
	}
	return &RateLimiter{
		maxTokens:   cfg.MaxTokens,
		refillRate:  cfg.RefillRatePerSecond,
		methodCosts: cfg.MethodCosts,
		defaultCost: cfg.DefaultCost,
		buckets:     make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) costFor(method string) int {
	if method == "" {
		return rl.defaultCost
	}
	if c, ok := rl.methodCosts[method]; ok {
		return c
	}
	return rl.defaultCost
}

func (rl *RateLimiter) bucketFor(connID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[connID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rl.refillRate), int(rl.maxTokens))
		rl.buckets[connID] = b
	}
	return b
}

// Consume attempts to debit the cost of method from connID's bucket at
// time now. A denied call leaves the bucket's token count unchanged.
func (rl *RateLimiter) Consume(connID, method string, now time.Time) Decision {
	cost := rl.costFor(method)
	b := rl.bucketFor(connID)

	r := b.ReserveN(now, cost)
	if !r.OK() {
		// cost exceeds the bucket's burst size: this call can never be
		// satisfied regardless of wait time.
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfterMs: math.MaxInt64}
	}

	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfterMs: ceilMillis(delay)}
	}
	return Decision{Allowed: true}
}

// Forget drops connID's bucket. Called on disconnect.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, connID)
}

func ceilMillis(d time.Duration) int64 {
	ms := d.Nanoseconds() / int64(time.Millisecond)
	if d.Nanoseconds()%int64(time.Millisecond) != 0 {
		ms++
	}
	return ms
}
