// Package main is the entrypoint for the GuildPulse stats server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/guildpulse/guildpulse/internal/cache"
	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/events"
	"github.com/guildpulse/guildpulse/internal/handler"
	"github.com/guildpulse/guildpulse/internal/jobs"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/middleware"
	"github.com/guildpulse/guildpulse/internal/server"
	"github.com/guildpulse/guildpulse/internal/stats"
	"github.com/guildpulse/guildpulse/internal/upstream"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Durable job queue
	repo, err := jobs.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Snapshot cache, locks and rate limiting all live in Redis
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	recorder := metrics.NewInMemory()
	sink := events.NewLogSink(logger)

	statsCache := cache.NewStatsCache(cacheClient)
	lock := cache.NewRefreshLock(cacheClient, cfg.LockTTL)

	var limiter *cache.RefreshLimiter
	if cfg.RateLimitPublicEnabled {
		limiter = cache.NewRefreshLimiter(cacheClient, cfg.CacheDuration, cfg.GetTrustedProxyHeaders())
	}

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamCDNURL, logger)
	fetcher := stats.NewFetcher(client, logger, recorder)
	statsService := stats.NewService(cfg, statsCache, lock, fetcher, logger, recorder, sink)

	dispatcher := jobs.NewDispatcher(cfg, repo, logger)
	worker := jobs.NewWorker(cfg, repo, statsService, logger, recorder, sink)
	scheduler := jobs.NewScheduler(cfg.RefreshCron, dispatcher, logger)

	statsHandler := handler.NewStatsHandler(statsService, limiter, logger, recorder)
	adminHandler := handler.NewAdminHandler(statsService, statsCache, limiter, dispatcher, repo, recorder, logger)
	healthHandler := handler.NewHealthHandler(repo, cacheClient)

	r := setupRouter(statsHandler, adminHandler, healthHandler, cfg, logger)

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Background refresh machinery. Registered first so it stops last,
	// after in-flight HTTP requests drain.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("worker stopped", "error", err)
		}
	}()
	srv.OnShutdown("refresh worker", func(ctx context.Context) error {
		cancelWorker()
		select {
		case <-workerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err, "cron", cfg.RefreshCron)
		cancelWorker()
		os.Exit(1)
	}
	srv.OnShutdown("refresh scheduler", scheduler.Stop)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"cache_duration", cfg.CacheDuration.String(),
		"demo_mode", cfg.DemoMode,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	statsHandler *handler.StatsHandler,
	adminHandler *handler.AdminHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.CORS(cfg.GetCORSAllowedOrigins()))

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", statsHandler.Get)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/refresh", adminHandler.Refresh)
			r.Post("/purge", adminHandler.Purge)
			r.Post("/dispatch", adminHandler.Dispatch)
			r.Get("/jobs", adminHandler.Jobs)
			r.Get("/metrics", adminHandler.Metrics)
		})
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
