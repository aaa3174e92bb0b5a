// Package ratelimit provides per-key token buckets. sweepsim uses them to
// throttle progress pushes per sweep and to cap sweep requests per tool.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter is a per-key token bucket limiter, safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // bucket capacity and initial tokens
	nowFunc func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewLimiter creates a limiter refilling rate tokens per second up to burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow takes one token from key's bucket and reports whether one was
// available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), last: now}
		l.buckets[key] = b
	}

	if dt := now.Sub(b.last).Seconds(); dt > 0 {
		b.tokens = min(float64(l.burst), b.tokens+l.rate*dt)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Forget drops key's bucket, e.g. once a sweep has finished.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ToolLimiters maps an operation name to its limiter.
type ToolLimiters map[string]*Limiter

// NewToolLimiters returns the default limits for the request surfaces.
// Sweeps are expensive; reads are cheap.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"sweep_request": NewLimiter(6.0/60.0, 2), // 6/minute, burst 2
		"sweep_cancel":  NewLimiter(1.0, 5),
		"sweep_status":  NewLimiter(5.0, 20),
		"result_get":    NewLimiter(5.0, 20),
		"filter_set":    NewLimiter(1.0, 10),
		"history_list":  NewLimiter(1.0, 5),
	}
}

// CheckLimit returns an error when name is over its limit. Names without a
// limiter are always allowed.
func CheckLimit(limiters ToolLimiters, name string) error {
	l, ok := limiters[name]
	if !ok {
		return nil
	}
	if !l.Allow(name) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", name)
	}
	return nil
}
