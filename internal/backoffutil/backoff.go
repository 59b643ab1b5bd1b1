// Package backoffutil supplies the exponential-backoff-with-jitter delay
// curve used by the upgrade/failover driver between retry attempts.
//
// The failover driver owns attempt accounting, backend exclusion, and the
// retry/terminal decision itself; this package only computes "how long to
// wait before the next attempt", built on cenkalti/backoff/v5's
// ExponentialBackOff as the delay generator.
package backoffutil

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	initialDelay       = 150 * time.Millisecond
	maxDelay           = 2 * time.Second
	multiplier         = 2.0
	randomizationFactor = 0.3 // up to 30% jitter
)

// Delayer produces the sequence of retry delays: exponential backoff
// starting at 150ms, doubling, capped at 2s, plus uniform jitter up to
// 30% of the current delay.
type Delayer struct {
	eb *backoff.ExponentialBackOff
}

// New constructs a fresh Delayer. A new Delayer should be created per
// logical request (its internal state advances with each Next call).
func New() *Delayer {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialDelay
	eb.MaxInterval = maxDelay
	eb.Multiplier = multiplier
	eb.RandomizationFactor = randomizationFactor
	return &Delayer{eb: eb}
}

// Next returns the delay to wait before the next retry attempt. The
// failover driver caps its own attempt count, so the library's
// backoff.Stop sentinel (which would otherwise mean "give up") is treated
// here as "wait the configured maximum" instead.
func (d *Delayer) Next() time.Duration {
	next := d.eb.NextBackOff()
	if next == backoff.Stop {
		return maxDelay
	}
	return next
}

// Reset restarts the delay curve at its initial value.
func (d *Delayer) Reset() {
	d.eb.Reset()
}
