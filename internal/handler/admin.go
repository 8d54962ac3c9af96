package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/jobs"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/stats"
)

// AdminHandler serves operator actions: forced refresh, purge, manual
// dispatch and queue inspection. Authentication for these routes is the
// deployment's concern (reverse proxy, network policy).
type AdminHandler struct {
	service    *stats.Service
	statsCache *cache.StatsCache
	limiter    *cache.RefreshLimiter
	dispatcher *jobs.Dispatcher
	jobsRepo   *jobs.Repository
	snapshots  metrics.Snapshotter
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(service *stats.Service, statsCache *cache.StatsCache, limiter *cache.RefreshLimiter, dispatcher *jobs.Dispatcher, jobsRepo *jobs.Repository, snapshots metrics.Snapshotter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:    service,
		statsCache: statsCache,
		limiter:    limiter,
		dispatcher: dispatcher,
		jobsRepo:   jobsRepo,
		snapshots:  snapshots,
		logger:     logger.With("component", "handler.admin"),
	}
}

type refreshRequest struct {
	Profile  string `json:"profile"`
	ServerID string `json:"server_id"`
}

// Refresh forces an upstream refresh, bypassing the cache and the public
// rate limiter.
//
// POST /api/v1/admin/refresh
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.Body != nil {
		// An empty body refreshes the default profile.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res := h.service.GetStats(r.Context(), stats.Request{
		ProfileKey:       req.Profile,
		ServerIDOverride: req.ServerID,
		BypassCache:      true,
		Channel:          "admin",
	})

	w.Header().Set(SourceHeader, string(res.Source))
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(res.RetryAfter.Seconds()), 10))
	}
	writeJSON(w, http.StatusOK, res.Snapshot)
}

// Purge clears every cached snapshot, all fallback state and all
// rate-limit markers.
//
// POST /api/v1/admin/purge
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.statsCache.PurgeAll(r.Context()); err != nil {
		h.logger.Error("snapshot purge failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "purge failed"})
		return
	}
	if h.limiter != nil {
		if err := h.limiter.PurgeAll(r.Context()); err != nil {
			h.logger.Error("rate limit purge failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "purge failed"})
			return
		}
	}

	h.logger.Info("cache purged")
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// Dispatch enqueues refresh jobs for all profiles immediately.
// force=1 cancels scheduled duplicates first.
//
// POST /api/v1/admin/dispatch?force=1
func (h *AdminHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "1"

	enqueued, err := h.dispatcher.Dispatch(r.Context(), model.JobOriginManual, force)
	if err != nil {
		h.logger.Error("manual dispatch failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "dispatch failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

// Jobs lists recent refresh jobs.
//
// GET /api/v1/admin/jobs
func (h *AdminHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	list, err := h.jobsRepo.RecentJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("job listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "job listing failed"})
		return
	}
	if list == nil {
		list = []*model.RefreshJob{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// Metrics exposes the in-process counters.
//
// GET /api/v1/admin/metrics
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "metrics not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.snapshots.Snapshot())
}
