package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/guildpulse/guildpulse/internal/metrics"
	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/upstream"
)

// ErrNoUsableStats means neither upstream produced stats the pipeline
// can serve.
var ErrNoUsableStats = errors.New("no usable stats from upstreams")

// FetchResult is what one fetch attempt produced.
type FetchResult struct {
	Snapshot        *model.StatsSnapshot
	WidgetIncomplete bool
	BotCalled       bool
	CredentialUsed  string
	HasUsableStats  bool
	// RetryAfter is the largest upstream-supplied Retry-After hint seen
	// during this attempt.
	RetryAfter time.Duration
}

// Connector is the upstream seam the fetcher drives.
type Connector interface {
	FetchSummary(ctx context.Context, serverID string) (*upstream.SummaryStats, error)
	FetchDetailed(ctx context.Context, serverID, botToken string) (*upstream.DetailedStats, error)
}

// Fetcher decides which upstream calls are necessary and merges their
// results into one canonical snapshot.
type Fetcher struct {
	connector Connector
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewFetcher creates a Fetcher.
func NewFetcher(connector Connector, logger *slog.Logger, recorder metrics.Recorder) *Fetcher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Fetcher{
		connector: connector,
		logger:    logger.With("component", "stats.fetcher"),
		metrics:   recorder,
	}
}

// Fetch runs the summary call, the detailed call when warranted, and the
// merge. The returned error is non-nil only when the final snapshot
// fails the usability gate.
func (f *Fetcher) Fetch(ctx context.Context, opts Options) (*FetchResult, error) {
	result := &FetchResult{}
	var lastErr error

	summary, err := f.connector.FetchSummary(ctx, opts.ServerID)
	if err != nil {
		f.logger.Warn("summary fetch failed", "server_id", opts.ServerID, "error", err)
		lastErr = err
		result.RetryAfter = maxDuration(result.RetryAfter, upstream.RetryAfterFrom(err))
		summary = nil
	}

	result.WidgetIncomplete = SummaryIncomplete(summary)

	var detailed *upstream.DetailedStats
	if opts.BotToken != "" && (summary == nil || result.WidgetIncomplete) {
		result.BotCalled = true
		result.CredentialUsed = maskToken(opts.BotToken)

		detailed, err = f.connector.FetchDetailed(ctx, opts.ServerID, opts.BotToken)
		if err != nil {
			f.logger.Warn("detailed fetch failed", "server_id", opts.ServerID, "error", err)
			lastErr = err
			result.RetryAfter = maxDuration(result.RetryAfter, upstream.RetryAfterFrom(err))
			detailed = nil
		}
	}

	result.Snapshot = Merge(summary, detailed, time.Now().UTC())
	result.HasUsableStats = Usable(result.Snapshot)

	if !result.HasUsableStats {
		if lastErr == nil {
			lastErr = ErrNoUsableStats
		}
		return result, lastErr
	}
	return result, nil
}

// maskToken keeps only the last four characters of a credential for
// logging and events.
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
