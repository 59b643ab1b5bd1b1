// Package backendpool implements weighted, health-aware backend selection:
// an O(1) Vose alias sampler over the healthy subset, hysteretic health
// transitions, and opportunistic periodic probing.
//
// Grounded on modules/caddyhttp/reverseproxy's selection-policy tests
// (Upstream/Host naming, setHealthy/countRequest-style mutators) and
// etalazz-vsa's internal/ratelimiter/core.Store for the lock-light,
// lazily-built map idiom.
package backendpool

import (
	"net/url"
	"sync"
	"time"

	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
)

// Backend is one upstream origin tracked by the pool. Identity is the
// canonical string form of the parsed URL.
type Backend struct {
	URL    *url.URL
	Weight int // clamped to >=1 when used for alias table construction

	mu                  sync.Mutex
	healthy             bool
	lastProbed          time.Time
	failureCount        uint64
	consecutiveFailures int
	consecutiveSuccess  int
}

// NewBackend constructs a Backend, healthy by default (it becomes
// unhealthy only after a failed probe or request, per the hysteresis
// rules ReportSuccess/ReportFailure implement).
func NewBackend(u *url.URL, weight int) *Backend {
	if weight < 1 {
		weight = 1
	}
	b := &Backend{URL: u, Weight: weight, healthy: true}
	metrics.BackendHealthy.WithLabelValues(b.Identity()).Set(1)
	return b
}

// Identity returns the canonical string identity used for deduplication and
// for the caller-supplied exclusion sets passed to Pool.Select.
func (b *Backend) Identity() string { return b.URL.String() }

// Healthy reports the current health bit.
func (b *Backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

// ReportSuccess resets the failure streak and, if the backend is currently
// unhealthy, requires a second consecutive success before flipping back to
// healthy.
//
// Returns true if this call changed the health bit.
func (b *Backend) ReportSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.healthy {
		return false
	}
	b.consecutiveSuccess++
	if b.consecutiveSuccess >= 2 {
		b.healthy = true
		b.consecutiveSuccess = 0
		metrics.BackendHealthy.WithLabelValues(b.Identity()).Set(1)
		return true
	}
	return false
}

// ReportFailure increments the failure streak and flips the backend
// unhealthy on the first failure while it is currently healthy.
//
// Returns true if this call changed the health bit.
func (b *Backend) ReportFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.consecutiveSuccess = 0
	b.consecutiveFailures++
	if b.healthy && b.consecutiveFailures >= 1 {
		b.healthy = false
		metrics.BackendHealthy.WithLabelValues(b.Identity()).Set(0)
		return true
	}
	return false
}

// MarkProbeScheduled records that a probe cycle has just been dispatched
// for this backend, setting the next-check timestamp before the probe
// actually runs so concurrent selections don't double-schedule it.
func (b *Backend) MarkProbeScheduled(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastProbed = now
}

// DueForProbe reports whether interval has elapsed since the last
// scheduled probe.
func (b *Backend) DueForProbe(now time.Time, interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastProbed) >= interval
}

// FailureCount returns the cumulative number of failure reports. Neither
// /health nor /status includes it.
func (b *Backend) FailureCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
