package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/stats"
	"github.com/guildpulse/guildpulse/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticConnector serves one scripted widget payload.
type staticConnector struct {
	summary *upstream.SummaryStats
	err     error
}

func (c *staticConnector) FetchSummary(ctx context.Context, serverID string) (*upstream.SummaryStats, error) {
	return c.summary, c.err
}

func (c *staticConnector) FetchDetailed(ctx context.Context, serverID, botToken string) (*upstream.DetailedStats, error) {
	return nil, c.err
}

type statsEnv struct {
	handler  *StatsHandler
	limiter  *cache.RefreshLimiter
	recorder *metrics.InMemoryRecorder
}

func newStatsEnv(t *testing.T, conn stats.Connector, withLimiter bool) *statsEnv {
	t.Helper()

	cfg, err := config.FromValues(&config.Config{
		ServerID:       "111",
		CacheDuration:  300 * time.Second,
		LockTTL:        45 * time.Second,
		FallbackWindow: 300 * time.Second,
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	store := cache.NewMemoryStore()
	statsCache := cache.NewStatsCache(store)
	lock := cache.NewRefreshLock(store, cfg.LockTTL)
	recorder := metrics.NewInMemory()
	logger := testLogger()

	fetcher := stats.NewFetcher(conn, logger, recorder)
	svc := stats.NewService(cfg, statsCache, lock, fetcher, logger, recorder, nil)

	var limiter *cache.RefreshLimiter
	if withLimiter {
		limiter = cache.NewRefreshLimiter(store, cfg.CacheDuration, nil)
	}

	return &statsEnv{
		handler:  NewStatsHandler(svc, limiter, logger, recorder),
		limiter:  limiter,
		recorder: recorder,
	}
}

func okSummary() *upstream.SummaryStats {
	return &upstream.SummaryStats{
		Name:          "Test Community",
		MemberCount:   model.IntPtr(1500),
		PresenceCount: model.IntPtr(342),
	}
}

func TestStatsHandler_Get(t *testing.T) {
	t.Parallel()

	env := newStatsEnv(t, &staticConnector{summary: okSummary()}, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	env.handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(SourceHeader); got != string(stats.SourceLive) {
		t.Errorf("%s = %q, want live", SourceHeader, got)
	}

	var snap model.StatsSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snap.Online != 342 || snap.ServerName != "Test Community" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestStatsHandler_CacheHitOnSecondRequest(t *testing.T) {
	t.Parallel()

	env := newStatsEnv(t, &staticConnector{summary: okSummary()}, false)

	for i, want := range []string{string(stats.SourceLive), string(stats.SourceCache)} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		rec := httptest.NewRecorder()
		env.handler.Get(rec, req)
		if got := rec.Header().Get(SourceHeader); got != want {
			t.Errorf("request %d: %s = %q, want %q", i+1, SourceHeader, got, want)
		}
	}
}

func TestStatsHandler_FallbackStillServes200(t *testing.T) {
	t.Parallel()

	env := newStatsEnv(t, &staticConnector{
		err: &upstream.Error{Endpoint: "summary", StatusCode: 503},
	}, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	env.handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, a fallback is still a 200", rec.Code)
	}
	if got := rec.Header().Get(SourceHeader); got != string(stats.SourceDemo) {
		t.Errorf("%s = %q, want demo", SourceHeader, got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("fallback response should advertise Retry-After")
	}

	var snap model.StatsSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !snap.IsDemo || !snap.FallbackDemo {
		t.Errorf("expected demo fallback flags, got %+v", snap)
	}
}

func TestStatsHandler_ForcedRefreshRateLimited(t *testing.T) {
	t.Parallel()

	env := newStatsEnv(t, &staticConnector{summary: okSummary()}, true)

	first := httptest.NewRequest(http.MethodGet, "/api/v1/stats?force=1", nil)
	first.RemoteAddr = "203.0.113.7:1000"
	first.Header.Set("User-Agent", "widget/1.0")
	rec := httptest.NewRecorder()
	env.handler.Get(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first forced refresh status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/api/v1/stats?force=1", nil)
	second.RemoteAddr = "203.0.113.7:2000"
	second.Header.Set("User-Agent", "widget/1.0")
	rec = httptest.NewRecorder()
	env.handler.Get(rec, second)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second forced refresh status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}

	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.RetryAfterSeconds <= 0 {
		t.Errorf("retry_after_seconds = %d, want > 0", body.RetryAfterSeconds)
	}

	if env.recorder.Snapshot().RateLimitDenied != 1 {
		t.Error("denied refresh not recorded")
	}

	// A plain read is never rate limited.
	plain := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	plain.RemoteAddr = "203.0.113.7:3000"
	plain.Header.Set("User-Agent", "widget/1.0")
	rec = httptest.NewRecorder()
	env.handler.Get(rec, plain)
	if rec.Code != http.StatusOK {
		t.Errorf("plain read status = %d, want 200", rec.Code)
	}
}

func TestStatsHandler_NilLimiterAllowsForce(t *testing.T) {
	t.Parallel()

	env := newStatsEnv(t, &staticConnector{summary: okSummary()}, false)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats?force=1", nil)
		req.RemoteAddr = "203.0.113.7:1000"
		rec := httptest.NewRecorder()
		env.handler.Get(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("forced refresh %d status = %d, want 200 with limiting disabled", i+1, rec.Code)
		}
	}
}
