package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncStatsCacheHit()                             {}
func (n *NoopRecorder) IncStatsCacheMiss()                            {}
func (n *NoopRecorder) IncFetch(outcome string)                       {}
func (n *NoopRecorder) ObserveFetchDuration(duration time.Duration)   {}
func (n *NoopRecorder) IncFallback(reason string)                     {}
func (n *NoopRecorder) IncLockDenied()                                {}
func (n *NoopRecorder) IncRateLimitDenied()                           {}
func (n *NoopRecorder) IncJobRun(outcome string)                      {}
func (n *NoopRecorder) IncJobRetry(attempt int)                       {}
func (n *NoopRecorder) SetJobQueueDepth(depth int64)                  {}
