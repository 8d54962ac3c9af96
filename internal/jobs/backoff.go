// Package jobs runs durable background refreshes for every configured
// profile, with deduplication and bounded exponential backoff.
package jobs

import "time"

const (
	// DefaultBaseDelay is the backoff floor between attempts.
	DefaultBaseDelay = 60 * time.Second
	// MaxDelay caps the backoff for persistently failing profiles.
	MaxDelay = 1800 * time.Second
	// DefaultMaxAttempts is the default bound on delivery attempts.
	DefaultMaxAttempts = 5
)

// Delay computes the deterministic, jitter-free backoff before the given
// attempt: base * 2^(attempt-2), clamped to [base, MaxDelay]. For
// base=60s this yields 60, 60, 120, 240, 480, ... seconds.
func Delay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	shift := attempt - 2
	if shift < 0 {
		return base
	}
	// Guard the shift so large attempt counts cannot overflow.
	if shift > 30 {
		return MaxDelay
	}
	d := base * (1 << uint(shift))
	if d < base {
		d = base
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return d
}

// RetryDelay applies an upstream Retry-After hint on top of the backoff:
// the hint can extend the delay but never shrink it.
func RetryDelay(base time.Duration, attempt int, hint time.Duration) time.Duration {
	d := Delay(base, attempt)
	if hint > d {
		return hint
	}
	return d
}

// Exhausted returns true once a job has used up its attempts.
func Exhausted(attempt, maxAttempts int) bool {
	return attempt >= maxAttempts
}
