// Package ratelimit implements the per-host token bucket and the global
// serial RPS limiter (C3). tryConsume is non-blocking by design: the
// scheduler polls round-robin across hosts and treats an empty bucket as a
// signal to move on, not to wait.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter grants per-host permits at perHostRps with the given burst
// capacity, in addition to enforcing a single global RPS cap shared across
// all hosts.
type Limiter struct {
	clock Clock

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	perHostRPS float64
	burst      float64

	global *tokenBucket
}

// NewLimiter constructs a Limiter. globalRPS<=0 disables the global cap
// (an unbounded bucket).
func NewLimiter(perHostRPS, burst, globalRPS float64, clock Clock) *Limiter {
	if clock == nil {
		clock = realClock{}
	}
	if burst <= 0 {
		burst = perHostRPS
	}
	l := &Limiter{
		clock:      clock,
		buckets:    make(map[string]*tokenBucket),
		perHostRPS: perHostRPS,
		burst:      burst,
	}
	if globalRPS > 0 {
		l.global = newTokenBucket(globalRPS, globalRPS, clock.Now())
	}
	return l
}

// TryConsume attempts to take one permit for host. Non-blocking: returns
// false immediately if either the per-host bucket or the global bucket is
// empty.
func (l *Limiter) TryConsume(host string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.bucketFor(host, now)
	if l.global != nil {
		l.global.refill(now)
		if l.global.tokens < 1 {
			return false
		}
	}
	if _, ok := bucket.Reserve(now, 1); !ok {
		return false
	}
	if l.global != nil {
		_, _ = l.global.Reserve(now, 1)
	}
	return true
}

// Tokens reports the current token count for host, for diagnostics and
// backpressure event payloads.
func (l *Limiter) Tokens(host string) float64 {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.bucketFor(host, now)
	bucket.refill(now)
	return bucket.tokens
}

func (l *Limiter) bucketFor(host string, now time.Time) *tokenBucket {
	bucket, ok := l.buckets[host]
	if !ok {
		bucket = newTokenBucket(l.burst, l.perHostRPS, now)
		l.buckets[host] = bucket
	}
	return bucket
}

type realClock struct{}

func (realClock) Now() time.Time         { return time.Now() }
func (realClock) Sleep(d time.Duration)  { time.Sleep(d) }
