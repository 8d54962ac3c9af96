package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/guildpulse/guildpulse/internal/model"
)

// Scheduler triggers a dispatch on a cron schedule so background
// refreshes run without operator intervention.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *slog.Logger
	spec       string
}

// NewScheduler creates a Scheduler with a standard 5-field cron spec.
func NewScheduler(spec string, dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		logger:     logger.With("component", "jobs.scheduler"),
		spec:       spec,
	}
}

// Start registers the dispatch entry and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx := context.Background()
		if _, derr := s.dispatcher.Dispatch(ctx, model.JobOriginCron, false); derr != nil {
			s.logger.Error("scheduled dispatch failed", "error", derr)
		}
	})
	if err != nil {
		return fmt.Errorf("register dispatch schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.spec)
	return nil
}

// Stop halts the cron loop, waiting for a running dispatch to finish or
// the context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
