// Package ratelimit implements the token-bucket byte-throughput governor
// shared by every upstream-facing connection. Rate is runtime-mutable; the
// bucket's accumulated volume and clock are preserved across rate changes.
package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// burstWindow bounds the bucket to 100ms of throughput at the current rate.
const burstWindow = 100 * time.Millisecond

// Limiter governs byte throughput across every stream that wraps around it.
type Limiter struct {
	mu        sync.Mutex
	updatedAt time.Time
	volume    float64 // bytes; may go negative while in debt
	rate      float64 // bytes/sec

	unlimited atomic.Bool
}

// New constructs a Limiter at the given rate in bytes/sec. A rate of
// +Inf (or <= 0) starts the limiter unlimited; otherwise the bucket starts
// full, holding 100ms of burst at that rate.
func New(rate float64) *Limiter {
	l := &Limiter{
		updatedAt: time.Now(),
		rate:      rate,
	}
	if rate <= 0 || math.IsInf(rate, 1) {
		l.unlimited.Store(true)
	} else {
		l.volume = rate * burstWindow.Seconds()
	}
	return l
}

// SetRate changes the governed rate at runtime. Passing +Inf switches the
// limiter to unlimited; any other value re-enables limiting at that rate.
// Bucket volume and clock survive the change untouched.
func (l *Limiter) SetRate(rate float64) {
	if math.IsInf(rate, 1) {
		l.unlimited.Store(true)
		return
	}
	l.mu.Lock()
	l.rate = rate
	l.mu.Unlock()
	l.unlimited.Store(false)
}

// Volume reports the bucket's current accumulated volume in bytes (may be
// negative while in debt), for reporting purposes only.
func (l *Limiter) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.volume
}

// refill advances the bucket to now, capping accumulated volume at 100ms
// of burst. Caller holds l.mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.updatedAt).Seconds()
	refilled := l.rate * elapsed
	burstCap := l.rate * burstWindow.Seconds()
	if v := l.volume + refilled; v < burstCap {
		l.volume = v
	} else {
		l.volume = burstCap
	}
	l.updatedAt = now
}

// Consume refills the bucket to now and subtracts n bytes already
// transferred, returning the delay the caller must observe before
// submitting its next read or write. It is a governor on bytes already
// moved, not an admission gate on bytes about to move.
func (l *Limiter) Consume(n int) time.Duration {
	if l.unlimited.Load() {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	l.volume -= float64(n)
	if l.volume >= 0 {
		return 0
	}

	sleepSecs := burstWindow.Seconds() - (l.volume / l.rate)
	if sleepSecs < 0 {
		sleepSecs = 0
	}
	return time.Duration(sleepSecs * float64(time.Second))
}
