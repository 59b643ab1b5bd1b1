// Package ratelimit implements a per-IP admission gate: a concurrent-
// sessions cap conjoined with a token-bucket rate cap.
//
// Grounded on etalazz-vsa's internal/ratelimiter/core.Store: lazily-created
// per-key state, with idle entries garbage collected by a background sweep.
// Here the per-IP state lives in a plain map guarded by one limiter-wide
// mutex.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter is the process-wide per-IP rate limiter. The app builds one
// instance at startup and shares it across all requests; instances are not
// looked up or rebuilt by configuration fingerprint.
type Limiter struct {
	maxConnPerIP  int
	maxConnPerMin int
	refillPerMS   float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
	active     map[string]bool
}

// New constructs a Limiter. maxConnPerIP is the concurrent-sessions cap;
// maxConnPerMin is the token-bucket capacity (also its per-minute refill
// rate).
func New(maxConnPerIP, maxConnPerMin int) *Limiter {
	return &Limiter{
		maxConnPerIP:  maxConnPerIP,
		maxConnPerMin: maxConnPerMin,
		refillPerMS:   float64(maxConnPerMin) / 60000.0,
		buckets:       make(map[string]*bucket),
	}
}

func (l *Limiter) getOrCreate(ip string, now time.Time) *bucket {
	if b, ok := l.buckets[ip]; ok {
		return b
	}
	b := &bucket{
		tokens:     float64(l.maxConnPerMin),
		lastRefill: now,
		lastSeen:   now,
		active:     make(map[string]bool),
	}
	l.buckets[ip] = b
	return b
}

func (b *bucket) refill(now time.Time, refillPerMS float64, cap float64) {
	elapsedMS := float64(now.Sub(b.lastRefill).Milliseconds())
	if elapsedMS <= 0 {
		return
	}
	b.tokens = math.Min(cap, b.tokens+elapsedMS*refillPerMS)
	b.lastRefill = now
}

// CheckConnectionAllowed reports whether a new connection from ip would be
// admitted right now. It is idempotent: it does not consume a token or
// mutate the active set.
func (l *Limiter) CheckConnectionAllowed(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.getOrCreate(ip, now)
	b.refill(now, l.refillPerMS, float64(l.maxConnPerMin))

	if len(b.active) >= l.maxConnPerIP {
		return false
	}
	return b.tokens >= 1
}

// RegisterConnection consumes one token and adds id to ip's active set. It
// should only be called after CheckConnectionAllowed returned true, but it
// floors consumption at zero (never goes negative) if a concurrent check
// raced the bucket below 1.
func (l *Limiter) RegisterConnection(ip, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.getOrCreate(ip, now)
	b.refill(now, l.refillPerMS, float64(l.maxConnPerMin))

	b.tokens = math.Max(0, b.tokens-1)
	b.lastSeen = now
	b.active[id] = true
}

// UnregisterConnection removes id from ip's active set. A no-op if the
// (ip, id) pair is unknown.
func (l *Limiter) UnregisterConnection(ip, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		return
	}
	delete(b.active, id)
	b.lastSeen = time.Now()
}

// GetRetryAfterSeconds returns the Retry-After value (seconds) to present
// when admission was denied: a fixed 10s when the concurrent gate is
// saturated, otherwise the ceiling of tokens-needed / refill-rate, floored
// at 1s.
func (l *Limiter) GetRetryAfterSeconds(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.getOrCreate(ip, now)
	b.refill(now, l.refillPerMS, float64(l.maxConnPerMin))

	if len(b.active) >= l.maxConnPerIP {
		return 10
	}

	needed := 1 - b.tokens
	if needed <= 0 {
		return 1
	}
	seconds := math.Ceil(needed / l.refillPerMS / 1000.0)
	if seconds < 1 {
		seconds = 1
	}
	return int(seconds)
}

// Sweep garbage-collects idle buckets: active set empty, bucket fully
// refilled, and last-seen older than 60s.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for ip, b := range l.buckets {
		b.refill(now, l.refillPerMS, float64(l.maxConnPerMin))
		if len(b.active) == 0 &&
			b.tokens >= float64(l.maxConnPerMin) &&
			now.Sub(b.lastSeen) > 60*time.Second {
			delete(l.buckets, ip)
		}
	}
}

// RunSweeper starts a background goroutine that calls Sweep every interval
// until stop is closed.
func (l *Limiter) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}
