package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/events"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
)

// Source labels where a served snapshot came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceStale Source = "stale"
	SourceDemo  Source = "demo"
)

// Request is one pipeline invocation.
type Request struct {
	ProfileKey       string
	ServerIDOverride string
	// BypassCache skips the cache check: administrator-forced refreshes
	// and background jobs always hit upstream.
	BypassCache bool
	// Channel names the trigger for events: "public", "admin", "job".
	Channel string
}

// Result is the invocation outcome. Snapshot is always non-nil; a caller
// never has to handle absence, only the IsDemo/Stale flags. Failure is
// nil on success and cache hits.
type Result struct {
	Snapshot   *model.StatsSnapshot
	Source     Source
	RetryAfter time.Duration
	Failure    *Failure
}

// fetchRunner is the Fetcher seam, split out so tests can stub it.
type fetchRunner interface {
	Fetch(ctx context.Context, opts Options) (*FetchResult, error)
}

// Service orchestrates the pipeline: cache check, refresh lock, fetch,
// persist, and the fallback ladder. It never returns an error past its
// boundary; every failure mode resolves to a valid snapshot plus
// metadata.
type Service struct {
	cfg     *config.Config
	cache   *cache.StatsCache
	lock    *cache.RefreshLock
	fetcher fetchRunner
	logger  *slog.Logger
	metrics metrics.Recorder
	events  events.Sink
}

// NewService wires the pipeline together.
func NewService(cfg *config.Config, statsCache *cache.StatsCache, lock *cache.RefreshLock, fetcher *Fetcher, logger *slog.Logger, recorder metrics.Recorder, sink events.Sink) *Service {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Service{
		cfg:     cfg,
		cache:   statsCache,
		lock:    lock,
		fetcher: fetcher,
		logger:  logger.With("component", "stats.service"),
		metrics: recorder,
		events:  sink,
	}
}

// GetStats runs the pipeline for one request.
func (s *Service) GetStats(ctx context.Context, req Request) *Result {
	start := time.Now()

	resolved, err := Resolve(s.cfg, req.ProfileKey, req.ServerIDOverride)
	if err != nil {
		// Unknown profile: non-retryable, no lock or fallback state is
		// involved. Serve synthetic data directly.
		snap := DemoSnapshot(time.Now().UTC())
		snap.FallbackDemo = true
		res := &Result{
			Snapshot: snap,
			Source:   SourceDemo,
			Failure:  &Failure{Kind: FailureProfileNotFound, Reason: err.Error()},
		}
		s.emit(req, "", events.OutcomeFallback, start, err.Error())
		return res
	}

	if s.cfg.DemoMode {
		return &Result{Snapshot: DemoSnapshot(time.Now().UTC()), Source: SourceDemo}
	}

	if !req.BypassCache {
		if snap, cerr := s.cache.GetSnapshot(ctx, resolved.CacheKey); cerr == nil {
			s.metrics.IncStatsCacheHit()
			s.emit(req, resolved.ServerID, events.OutcomeCacheHit, start, "")
			return &Result{Snapshot: snap, Source: SourceCache}
		} else if !errors.Is(cerr, cache.ErrCacheMiss) {
			s.logger.Warn("cache read failed", "cache_key", resolved.CacheKey, "error", cerr)
		}
		s.metrics.IncStatsCacheMiss()
	}

	if resolved.ServerID == "" {
		// Configuration problem, not a transient condition: no lock, no
		// backoff, straight to the fallback ladder.
		return s.fallback(ctx, req, resolved, start,
			&Failure{Kind: FailureMissingServerID, Reason: "no server id configured"}, 0)
	}

	lockKey := cache.LockKey(resolved.CacheKey)
	token, held, remaining, lerr := s.lock.TryAcquire(ctx, lockKey, resolved.ProfileKey)
	if lerr != nil {
		return s.fallback(ctx, req, resolved, start,
			&Failure{Kind: FailureUpstream, Reason: fmt.Sprintf("lock attempt failed: %v", lerr)}, 0)
	}
	if held {
		s.metrics.IncLockDenied()
		res := s.fallback(ctx, req, resolved, start,
			&Failure{Kind: FailureLockHeld, Reason: "another refresh is in progress"}, 0)
		// Advertise at least the remaining lock lifetime so callers do
		// not retry before the holder could plausibly finish.
		if res.RetryAfter < remaining {
			res.RetryAfter = remaining
		}
		if res.Failure != nil && res.Failure.RetryAfter < remaining {
			res.Failure.RetryAfter = remaining
		}
		return res
	}
	defer func() {
		if rerr := s.lock.Release(ctx, lockKey, token); rerr != nil {
			s.logger.Warn("lock release failed", "lock_key", lockKey, "error", rerr)
		}
	}()

	fetchStart := time.Now()
	result, ferr := s.safeFetch(ctx, resolved.Options)
	s.metrics.ObserveFetchDuration(time.Since(fetchStart))

	if ferr != nil {
		s.metrics.IncFetch("failure")
		failure := &Failure{Kind: FailureUpstream, Reason: ferr.Error()}
		if errors.Is(ferr, ErrNoUsableStats) {
			failure.Kind = FailureUpstreamUnusable
		}
		var hint time.Duration
		if result != nil {
			hint = result.RetryAfter
		}
		return s.fallback(ctx, req, resolved, start, failure, hint)
	}
	s.metrics.IncFetch("success")

	snap := result.Snapshot
	if err := s.cache.SetSnapshot(ctx, resolved.CacheKey, snap, s.cfg.CacheDuration); err != nil {
		s.logger.Warn("cache write failed", "cache_key", resolved.CacheKey, "error", err)
	}
	if !snap.IsDemo {
		if err := s.cache.SetLastGood(ctx, resolved.CacheKey, snap); err != nil {
			s.logger.Warn("last-good write failed", "cache_key", resolved.CacheKey, "error", err)
		}
	}
	if err := s.cache.ClearFallbackState(ctx, resolved.CacheKey); err != nil {
		s.logger.Warn("fallback state clear failed", "cache_key", resolved.CacheKey, "error", err)
	}

	s.emit(req, resolved.ServerID, events.OutcomeSuccess, start, "")
	return &Result{Snapshot: snap, Source: SourceLive}
}

// safeFetch shields the pipeline from a panicking fetch path; a panic is
// folded into an ordinary fetch failure.
func (s *Service) safeFetch(ctx context.Context, opts Options) (result *FetchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fetch panicked", "server_id", opts.ServerID, "panic", r)
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return s.fetcher.Fetch(ctx, opts)
}

// fallback degrades through the ladder: last-known-good marked stale,
// then synthetic demo data. The produced snapshot is persisted into the
// live cache so overlapping callers stop hammering a failing upstream,
// and a retry-after is computed with any upstream hint taking precedence
// over the configured window.
func (s *Service) fallback(ctx context.Context, req Request, resolved *Resolved, start time.Time, failure *Failure, hint time.Duration) *Result {
	now := time.Now().UTC()
	s.metrics.IncFallback(string(failure.Kind))

	var snap *model.StatsSnapshot
	source := SourceDemo

	if lastGood, err := s.cache.GetLastGood(ctx, resolved.CacheKey); err == nil {
		stale := lastGood.AsStale()
		snap = &stale
		source = SourceStale
	} else {
		snap = DemoSnapshot(now)
		snap.FallbackDemo = true
	}

	fresh := hint > 0
	if !fresh {
		// A hint stored by an earlier failure applies exactly once.
		if stored, err := s.cache.TakeRetryHint(ctx, resolved.CacheKey); err == nil {
			hint = stored
		}
	}

	retryAfter := s.cfg.FallbackWindow
	if hint > 0 {
		retryAfter = hint
		failure.UpstreamHint = hint
	}
	if fresh {
		// Persist only hints observed on this attempt; a consumed stored
		// hint does not re-arm itself.
		if err := s.cache.SetRetryHint(ctx, resolved.CacheKey, hint); err != nil {
			s.logger.Warn("retry hint write failed", "cache_key", resolved.CacheKey, "error", err)
		}
	}
	failure.RetryAfter = retryAfter

	ttl := s.cfg.CacheDuration
	if s.cfg.FallbackWindow > ttl {
		ttl = s.cfg.FallbackWindow
	}
	if hint > ttl {
		ttl = hint
	}
	if err := s.cache.SetSnapshot(ctx, resolved.CacheKey, snap, ttl); err != nil {
		s.logger.Warn("fallback cache write failed", "cache_key", resolved.CacheKey, "error", err)
	}

	details := model.FallbackDetails{
		Timestamp: now,
		Reason:    failure.Reason,
		NextRetry: now.Add(retryAfter),
	}
	if err := s.cache.SetFallbackDetails(ctx, resolved.CacheKey, details); err != nil {
		s.logger.Warn("fallback details write failed", "cache_key", resolved.CacheKey, "error", err)
	}

	outcome := events.OutcomeFallback
	if failure.Kind == FailureLockHeld {
		outcome = events.OutcomeLockDenied
	}
	s.emit(req, resolved.ServerID, outcome, start, failure.Reason)

	s.logger.Warn("serving fallback snapshot",
		"signature", resolved.Signature,
		"kind", string(failure.Kind),
		"reason", failure.Reason,
		"source", string(source),
		"retry_after_seconds", int64(retryAfter.Seconds()),
	)

	return &Result{
		Snapshot:   snap,
		Source:     source,
		RetryAfter: retryAfter,
		Failure:    failure,
	}
}

func (s *Service) emit(req Request, serverID string, outcome events.Outcome, start time.Time, reason string) {
	s.events.Emit(events.Event{
		Channel:    req.Channel,
		ProfileKey: req.ProfileKey,
		ServerID:   serverID,
		Outcome:    outcome,
		DurationMS: time.Since(start).Milliseconds(),
		Reason:     reason,
		At:         time.Now().UTC(),
	})
}
