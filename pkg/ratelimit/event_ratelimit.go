// Package ratelimit guards the realtime gateway against flooding.
//
// EventRateLimiter budgets inbound events per (connection, event type) with a
// fixed window and an optional cooldown. HandshakeLimiter admits new
// connections per client IP with a token bucket.
//
// The package depends on nothing else in the project.
package ratelimit

import (
	"sync"
	"time"
)

// Rule is the budget for one event type.
//
// Limit events are accepted per Window. The first event over the limit starts a
// Cooldown during which every event of that type from the connection is
// rejected. A zero Cooldown means the connection just waits for the window to
// roll over.
type Rule struct {
	Limit    int
	Window   time.Duration
	Cooldown time.Duration
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type bucketKey struct {
	connID string
	op     string
}

// eventBucket tracks one (connection, event type) pair. It is in one of two
// modes: counting inside the current window, or cooling down until cooldownUntil.
type eventBucket struct {
	count         int
	windowStart   time.Time
	window        time.Duration
	cooldownUntil time.Time // zero value = no cooldown
}

// EventRateLimiter enforces Rules per connection and event type.
//
// Budgets belong to a connection, not to an identity: a user with two tabs
// open gets two budgets. The Hub checks every inbound op before running its
// handler and calls Forget when the connection goes away, so buckets do not
// outlive their connection for long even without the periodic cleanup.
//
//	limiter := ratelimit.NewEventRateLimiter(rules)
//	defer limiter.Close()
//	if d := limiter.Check(connID, "send-message"); !d.Allowed { ... }
type EventRateLimiter struct {
	// mu guards buckets of every connection.
	mu sync.Mutex

	// rules is copied at construction and never changes afterwards.
	rules map[string]Rule

	// buckets holds the live state of each (connection, op) pair. A bucket
	// is created on its first check.
	buckets map[bucketKey]*eventBucket

	// now is time.Now outside tests.
	now func() time.Time

	// stopCleanup ends the cleanup goroutine started by the constructor.
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewEventRateLimiter creates a limiter and starts its background cleanup.
// Event types without a rule are never limited.
func NewEventRateLimiter(rules map[string]Rule) *EventRateLimiter {
	copied := make(map[string]Rule, len(rules))
	for op, r := range rules {
		copied[op] = r
	}

	rl := &EventRateLimiter{
		rules:       copied,
		buckets:     make(map[bucketKey]*eventBucket),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Rule returns the configured rule for op.
func (rl *EventRateLimiter) Rule(op string) (Rule, bool) {
	r, ok := rl.rules[op]
	return r, ok
}

// Check counts one event against the budget and reports whether it may proceed.
//
// Flow:
//  1. In cooldown: reject until cooldownUntil.
//  2. Cooldown finished or window rolled over: start a new window.
//  3. Inside the window: count it; going over the limit rejects and, if the
//     rule has one, starts the cooldown.
func (rl *EventRateLimiter) Check(connID, op string) Decision {
	rule, ok := rl.rules[op]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := rl.now()
	key := bucketKey{connID: connID, op: op}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &eventBucket{count: 1, windowStart: now, window: rule.Window}
		return Decision{Allowed: true, Remaining: rule.Limit - 1, ResetAt: now.Add(rule.Window)}
	}

	if !b.cooldownUntil.IsZero() {
		if now.Before(b.cooldownUntil) {
			return Decision{Allowed: false, Remaining: 0, ResetAt: b.cooldownUntil}
		}
		b.cooldownUntil = time.Time{}
		b.count = 0
		b.windowStart = now
	}

	if !now.Before(b.windowStart.Add(rule.Window)) {
		b.count = 0
		b.windowStart = now
	}

	b.count++
	windowEnd := b.windowStart.Add(rule.Window)
	if b.count > rule.Limit {
		if rule.Cooldown > 0 {
			b.cooldownUntil = now.Add(rule.Cooldown)
			return Decision{Allowed: false, Remaining: 0, ResetAt: b.cooldownUntil}
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: windowEnd}
	}

	return Decision{Allowed: true, Remaining: rule.Limit - b.count, ResetAt: windowEnd}
}

// Forget drops every bucket belonging to a connection. Called on disconnect.
func (rl *EventRateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key := range rl.buckets {
		if key.connID == connID {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *EventRateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *EventRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets whose window is over and which are not cooling down.
func (rl *EventRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > b.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, key)
		}
	}
}
