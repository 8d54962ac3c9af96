// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Pipeline metrics
	IncStatsCacheHit()
	IncStatsCacheMiss()
	IncFetch(outcome string) // outcome: "success", "failure"
	ObserveFetchDuration(duration time.Duration)
	IncFallback(reason string)
	IncLockDenied()
	IncRateLimitDenied()

	// Job queue metrics
	IncJobRun(outcome string) // outcome: "success", "retry", "failure"
	IncJobRetry(attempt int)
	SetJobQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
