package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/stats"
)

// SourceHeader tells consumers where the served snapshot came from.
const SourceHeader = "X-Stats-Source"

// StatsHandler serves public snapshot requests.
type StatsHandler struct {
	service *stats.Service
	limiter *cache.RefreshLimiter
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewStatsHandler creates a StatsHandler. limiter may be nil when public
// rate limiting is disabled.
func NewStatsHandler(service *stats.Service, limiter *cache.RefreshLimiter, logger *slog.Logger, recorder metrics.Recorder) *StatsHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &StatsHandler{
		service: service,
		limiter: limiter,
		logger:  logger.With("component", "handler.stats"),
		metrics: recorder,
	}
}

// Get serves the current snapshot for an optional profile/server
// combination. force=1 bypasses the cache and is subject to the public
// rate limiter.
//
// GET /api/v1/stats?profile=<key>&server_id=<id>&force=1
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force := q.Get("force") == "1" || q.Get("force") == "true"

	if force && h.limiter != nil {
		result, err := h.limiter.Check(r.Context(), r)
		if err != nil {
			h.logger.Error("rate limit check failed", "error", err)
		} else if !result.Allowed {
			h.metrics.IncRateLimitDenied()
			writeRetryAfter(w, result.RetryAfter)
			return
		}
	}

	res := h.service.GetStats(r.Context(), stats.Request{
		ProfileKey:       q.Get("profile"),
		ServerIDOverride: q.Get("server_id"),
		BypassCache:      force,
		Channel:          "public",
	})

	w.Header().Set(SourceHeader, string(res.Source))
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(res.RetryAfter.Seconds()), 10))
	}
	writeJSON(w, http.StatusOK, res.Snapshot)
}

// writeRetryAfter writes the 429 a throttled public caller sees: a clear
// "try again in N seconds", never a generic error.
func writeRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:             "refresh rate limit exceeded",
		RetryAfterSeconds: secs,
	})
}
