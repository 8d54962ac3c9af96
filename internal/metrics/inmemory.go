package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of collected metrics.
type Snapshot struct {
	StatsCacheHits    int64            `json:"stats_cache_hits"`
	StatsCacheMisses  int64            `json:"stats_cache_misses"`
	Fetches           map[string]int64 `json:"fetches"`
	FetchDurationsMS  []int64          `json:"fetch_durations_ms"`
	Fallbacks         map[string]int64 `json:"fallbacks"`
	LockDenied        int64            `json:"lock_denied"`
	RateLimitDenied   int64            `json:"rate_limit_denied"`
	JobRuns           map[string]int64 `json:"job_runs"`
	JobRetriesByAtt   map[int]int64    `json:"job_retries_by_attempt"`
	JobQueueDepth     int64            `json:"job_queue_depth"`
}

// InMemoryRecorder implements Recorder with in-process counters. Used by
// tests and the admin metrics view.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns an empty InMemoryRecorder.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		snap: Snapshot{
			Fetches:         map[string]int64{},
			Fallbacks:       map[string]int64{},
			JobRuns:         map[string]int64{},
			JobRetriesByAtt: map[int]int64{},
		},
	}
}

func (r *InMemoryRecorder) IncStatsCacheHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.StatsCacheHits++
}

func (r *InMemoryRecorder) IncStatsCacheMiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.StatsCacheMisses++
}

func (r *InMemoryRecorder) IncFetch(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Fetches[outcome]++
}

func (r *InMemoryRecorder) ObserveFetchDuration(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.FetchDurationsMS = append(r.snap.FetchDurationsMS, duration.Milliseconds())
}

func (r *InMemoryRecorder) IncFallback(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Fallbacks[reason]++
}

func (r *InMemoryRecorder) IncLockDenied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.LockDenied++
}

func (r *InMemoryRecorder) IncRateLimitDenied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.RateLimitDenied++
}

func (r *InMemoryRecorder) IncJobRun(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.JobRuns[outcome]++
}

func (r *InMemoryRecorder) IncJobRetry(attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.JobRetriesByAtt[attempt]++
}

func (r *InMemoryRecorder) SetJobQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.JobQueueDepth = depth
}

// Snapshot returns a copy of the current counters.
func (r *InMemoryRecorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snap
	out.Fetches = copyMap(r.snap.Fetches)
	out.Fallbacks = copyMap(r.snap.Fallbacks)
	out.JobRuns = copyMap(r.snap.JobRuns)
	out.JobRetriesByAtt = make(map[int]int64, len(r.snap.JobRetriesByAtt))
	for k, v := range r.snap.JobRetriesByAtt {
		out.JobRetriesByAtt[k] = v
	}
	out.FetchDurationsMS = append([]int64{}, r.snap.FetchDurationsMS...)
	return out
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
