package live

import "time"

// Default reconnect policy.
const (
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultFactor     = 1.5
	DefaultMaxRetries = 10
)

// Backoff tracks reconnect attempts with capped exponential growth.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Factor     float64
	MaxRetries int

	RetryCount int
	RetryDelay time.Duration
}

// NewBackoff returns a reset Backoff, filling zero fields with defaults.
func NewBackoff(base, maxDelay time.Duration, factor float64, maxRetries int) Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if factor < 1 {
		factor = DefaultFactor
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	b := Backoff{Base: base, Max: maxDelay, Factor: factor, MaxRetries: maxRetries}
	b.Reset()
	return b
}

// Reset restores the counters after a successful open or a manual start.
func (b *Backoff) Reset() {
	b.RetryCount = 0
	b.RetryDelay = b.Base
}

// Next records a failure. It returns the delay before the next attempt,
// or ok=false once the retry budget is spent.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.RetryCount++
	if b.RetryCount >= b.MaxRetries {
		return 0, false
	}
	delay = b.RetryDelay
	grown := time.Duration(float64(b.RetryDelay) * b.Factor)
	b.RetryDelay = min(grown, b.Max)
	return delay, true
}

// Exhausted reports whether the retry budget is spent.
func (b *Backoff) Exhausted() bool {
	return b.RetryCount >= b.MaxRetries
}
