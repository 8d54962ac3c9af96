// Package stats implements the acquisition pipeline: resolve, cache,
// lock, fetch, merge, persist, and degrade.
package stats

import (
	"errors"
	"time"
)

// Resolver errors.
var (
	ErrProfileNotFound = errors.New("profile not found")
)

// FailureKind classifies why an invocation did not produce live data.
type FailureKind string

const (
	FailureProfileNotFound  FailureKind = "profile_not_found"
	FailureMissingServerID  FailureKind = "missing_server_id"
	FailureLockHeld         FailureKind = "lock_held"
	FailureUpstreamUnusable FailureKind = "upstream_unusable"
	FailureUpstream         FailureKind = "upstream_error"
)

// Retryable reports whether retrying can help. Configuration problems
// never resolve themselves; everything else might.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureProfileNotFound, FailureMissingServerID:
		return false
	}
	return true
}

// Failure describes one pipeline failure. The service never lets it
// escape as a raised error: it always travels alongside a valid
// (possibly synthetic) snapshot.
type Failure struct {
	Kind   FailureKind
	Reason string
	// RetryAfter is the advisory delay computed for the caller.
	RetryAfter time.Duration
	// UpstreamHint is the raw upstream-supplied Retry-After, when one
	// was seen. The job queue lets it extend (never shrink) its backoff.
	UpstreamHint time.Duration
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}
