package realtime

import (
	"math/rand"
	"time"
)

// Backoff defines reconnect delay growth between attempts.
type Backoff struct {
	// Min is the delay before the first retry.
	Min time.Duration
	// Max caps the delay regardless of attempt count.
	Max time.Duration
	// Factor multiplies the delay for each further attempt.
	Factor float64
	// Jitter randomizes the delay as a fraction of it (0-1).
	Jitter float64
}

// DefaultBackoff returns the reconnect defaults: one second doubling up
// to a minute, with 20% jitter to spread thundering herds.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = time.Minute
	}
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	wait = wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	if wait > max {
		wait = max
	}
	return wait
}
