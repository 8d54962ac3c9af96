//go:build integration

package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/stats"
	"github.com/guildpulse/guildpulse/internal/testutil"
)

// scriptedRunner replays a fixed pipeline result per invocation.
type scriptedRunner struct {
	results []*stats.Result
	calls   int
}

func (s *scriptedRunner) GetStats(ctx context.Context, req stats.Request) *stats.Result {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i]
}

func workerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromValues(&config.Config{
		ServerID:       "111",
		JobMaxAttempts: 3,
		JobBaseDelay:   60 * time.Second,
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestIntegrationWorker_SuccessMarksJob(t *testing.T) {
	ctx, repo := newJobTestEnv(t)

	job := testutil.NewTestJob(t, model.JobTypeWidgetRefresh, "")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &scriptedRunner{results: []*stats.Result{
		{Snapshot: &model.StatsSnapshot{Online: 10}, Source: stats.SourceLive},
	}}
	recorder := metrics.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(workerConfig(t), repo, runner, logger, recorder, nil)

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	if runner.calls != 1 {
		t.Errorf("pipeline calls = %d, want 1", runner.calls)
	}
	recent, err := repo.RecentJobs(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentJobs = (%v, %v)", recent, err)
	}
	if recent[0].Status != model.JobStatusSucceeded {
		t.Errorf("status = %s, want succeeded", recent[0].Status)
	}
	if recorder.Snapshot().JobRuns["success"] != 1 {
		t.Error("success run not recorded")
	}
}

func TestIntegrationWorker_RetryUsesBackoffAndHint(t *testing.T) {
	ctx, repo := newJobTestEnv(t)

	job := testutil.NewTestJob(t, model.JobTypeWidgetRefresh, "")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &scriptedRunner{results: []*stats.Result{
		{
			Snapshot: &model.StatsSnapshot{IsDemo: true},
			Source:   stats.SourceDemo,
			Failure: &stats.Failure{
				Kind:         stats.FailureUpstream,
				Reason:       "upstream 429",
				UpstreamHint: 600 * time.Second,
			},
		},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(workerConfig(t), repo, runner, logger, nil, nil)

	before := time.Now().UTC()
	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	recent, err := repo.RecentJobs(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentJobs = (%v, %v)", recent, err)
	}
	got := recent[0]
	if got.Status != model.JobStatusScheduled || got.Attempt != 2 {
		t.Fatalf("job after retry: status=%s attempt=%d", got.Status, got.Attempt)
	}

	// The 600s hint exceeds the 60s backoff for attempt 2, so it wins.
	wait := got.NextRunAt.Sub(before)
	if wait < 590*time.Second || wait > 610*time.Second {
		t.Errorf("next run in %v, want about 600s", wait)
	}
}

func TestIntegrationWorker_ExhaustionIsTerminal(t *testing.T) {
	ctx, repo := newJobTestEnv(t)

	job := testutil.NewTestJob(t, model.JobTypeWidgetRefresh, "")
	job.Attempt = 3
	job.MaxAttempts = 3
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &scriptedRunner{results: []*stats.Result{
		{
			Snapshot: &model.StatsSnapshot{IsDemo: true},
			Source:   stats.SourceDemo,
			Failure:  &stats.Failure{Kind: stats.FailureUpstream, Reason: "still down"},
		},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(workerConfig(t), repo, runner, logger, nil, nil)

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	recent, err := repo.RecentJobs(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentJobs = (%v, %v)", recent, err)
	}
	if recent[0].Status != model.JobStatusFailed {
		t.Errorf("status = %s, want failed", recent[0].Status)
	}
}

func TestIntegrationWorker_BotJobWithoutCredentialFails(t *testing.T) {
	ctx, repo := newJobTestEnv(t)

	// workerConfig has no BotToken.
	job := testutil.NewTestJob(t, model.JobTypeBotRefresh, "")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &scriptedRunner{results: []*stats.Result{{}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(workerConfig(t), repo, runner, logger, nil, nil)

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	if runner.calls != 0 {
		t.Error("a credential-less bot job must not invoke the pipeline")
	}
	recent, err := repo.RecentJobs(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentJobs = (%v, %v)", recent, err)
	}
	if recent[0].Status != model.JobStatusFailed || recent[0].LastError != "missing bot credential" {
		t.Errorf("unexpected job state: %+v", recent[0])
	}
}
