package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/events"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/stats"
)

const (
	// DefaultBatchSize is the number of jobs run per poll.
	DefaultBatchSize = 25
	// DefaultPollInterval is the time between polls for due jobs.
	DefaultPollInterval = 5 * time.Second
	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 10 * time.Second
)

// statsRunner is the Service seam the worker drives.
type statsRunner interface {
	GetStats(ctx context.Context, req stats.Request) *stats.Result
}

// Worker polls for due refresh jobs and runs them through the pipeline.
type Worker struct {
	cfg             *config.Config
	repo            *Repository
	service         statsRunner
	logger          *slog.Logger
	metrics         metrics.Recorder
	events          events.Sink
	batchSize       int
	pollInterval    time.Duration
	metricsInterval time.Duration
	lastMetrics     time.Time
	started         bool
}

// NewWorker creates a refresh job worker.
func NewWorker(cfg *config.Config, repo *Repository, service statsRunner, logger *slog.Logger, recorder metrics.Recorder, sink events.Sink) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	batch := cfg.JobBatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	poll := cfg.JobPollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Worker{
		cfg:             cfg,
		repo:            repo,
		service:         service,
		logger:          logger.With("component", "jobs.worker"),
		metrics:         recorder,
		events:          sink,
		batchSize:       batch,
		pollInterval:    poll,
		metricsInterval: DefaultMetricsInterval,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("refresh worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("refresh worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce claims and runs one batch of due jobs.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	jobs, err := w.repo.DueJobs(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get due jobs: %w", err)
	}

	for _, job := range jobs {
		if err := w.runJob(ctx, job); err != nil {
			w.logger.Warn("job run failed",
				"job_id", job.ID,
				"signature", job.Signature,
				"error", err,
			)
		}
	}
	return nil
}

// runJob executes a single job and applies the retry policy.
func (w *Worker) runJob(ctx context.Context, job *model.RefreshJob) error {
	claimed, err := w.repo.MarkRunning(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	start := time.Now()

	// A bot job without a credential is a configuration error, not a
	// transient failure; fail it without burning upstream calls.
	if job.Type == model.JobTypeBotRefresh {
		if resolved, rerr := stats.Resolve(w.cfg, job.ProfileKey, ""); rerr != nil || resolved.BotToken == "" {
			return w.finishTerminal(ctx, job, start, "missing bot credential")
		}
	}

	result := w.service.GetStats(ctx, stats.Request{
		ProfileKey:  job.ProfileKey,
		BypassCache: true,
		Channel:     "job",
	})

	if result.Failure == nil {
		w.metrics.IncJobRun("success")
		w.emit(job, events.OutcomeSuccess, start, "")
		w.logger.Info("job succeeded",
			"job_id", job.ID,
			"signature", job.Signature,
			"attempt", job.Attempt,
		)
		return w.repo.MarkSucceeded(ctx, job.ID)
	}

	if !result.Failure.Kind.Retryable() {
		return w.finishTerminal(ctx, job, start, result.Failure.Reason)
	}

	if Exhausted(job.Attempt, job.MaxAttempts) {
		return w.finishTerminal(ctx, job, start, result.Failure.Reason)
	}

	nextAttempt := job.Attempt + 1
	delay := RetryDelay(w.cfg.JobBaseDelay, nextAttempt, result.Failure.UpstreamHint)
	nextRunAt := time.Now().UTC().Add(delay)

	w.metrics.IncJobRun("retry")
	w.metrics.IncJobRetry(nextAttempt)
	w.emit(job, events.OutcomeRetry, start, result.Failure.Reason)
	w.logger.Warn("job retry scheduled",
		"job_id", job.ID,
		"signature", job.Signature,
		"attempt", nextAttempt,
		"delay_seconds", int64(delay.Seconds()),
		"reason", result.Failure.Reason,
	)
	return w.repo.Reschedule(ctx, job.ID, nextAttempt, nextRunAt, result.Failure.Reason)
}

func (w *Worker) finishTerminal(ctx context.Context, job *model.RefreshJob, start time.Time, reason string) error {
	w.metrics.IncJobRun("failure")
	w.emit(job, events.OutcomeFailure, start, reason)
	w.logger.Warn("job failed terminally",
		"job_id", job.ID,
		"signature", job.Signature,
		"attempt", job.Attempt,
		"reason", reason,
	)
	return w.repo.MarkFailed(ctx, job.ID, reason)
}

func (w *Worker) emit(job *model.RefreshJob, outcome events.Outcome, start time.Time, reason string) {
	w.events.Emit(events.Event{
		Channel:    "job",
		ProfileKey: job.ProfileKey,
		ServerID:   job.ServerID,
		Outcome:    outcome,
		DurationMS: time.Since(start).Milliseconds(),
		Reason:     reason,
		At:         time.Now().UTC(),
	})
}

// maybeUpdateQueueDepth periodically refreshes the queue depth metric.
func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.repo.QueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.metrics.SetJobQueueDepth(depth)
}
