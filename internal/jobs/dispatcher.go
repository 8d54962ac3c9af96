package jobs

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/guildpulse/guildpulse/internal/config"
	"github.com/guildpulse/guildpulse/internal/model"
)

// Dispatcher enqueues refresh jobs for every configured profile.
type Dispatcher struct {
	cfg    *config.Config
	repo   *Repository
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *config.Config, repo *Repository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		repo:   repo,
		logger: logger.With("component", "jobs.dispatcher"),
	}
}

// profileTarget is one profile the dispatcher considers.
type profileTarget struct {
	key      string
	serverID string
	botToken string
}

// Dispatch enqueues a widget_refresh job for each profile with a server
// id, plus a bot_refresh job when the profile carries a credential.
// Duplicate signatures already scheduled are skipped unless force is
// set, in which case existing duplicates are cancelled first.
func (d *Dispatcher) Dispatch(ctx context.Context, origin model.JobOrigin, force bool) (int, error) {
	targets := d.targets()
	enqueued := 0

	for _, t := range targets {
		if t.serverID == "" {
			continue
		}

		kinds := []model.JobType{model.JobTypeWidgetRefresh}
		if t.botToken != "" {
			kinds = append(kinds, model.JobTypeBotRefresh)
		}

		for _, kind := range kinds {
			ok, err := d.enqueue(ctx, kind, t, origin, force)
			if err != nil {
				return enqueued, err
			}
			if ok {
				enqueued++
			}
		}
	}

	d.logger.Info("dispatch complete",
		"origin", string(origin),
		"profiles", len(targets),
		"enqueued", enqueued,
	)
	return enqueued, nil
}

func (d *Dispatcher) targets() []profileTarget {
	targets := []profileTarget{{
		key:      "",
		serverID: d.cfg.ServerID,
		botToken: d.cfg.BotToken,
	}}
	for key, p := range d.cfg.Profiles() {
		targets = append(targets, profileTarget{
			key:      key,
			serverID: p.ServerID,
			botToken: p.BotToken,
		})
	}
	return targets
}

func (d *Dispatcher) enqueue(ctx context.Context, kind model.JobType, t profileTarget, origin model.JobOrigin, force bool) (bool, error) {
	signature := model.JobSignature(kind, t.key)

	exists, err := d.repo.HasScheduled(ctx, signature)
	if err != nil {
		return false, fmt.Errorf("dedupe check for %s: %w", signature, err)
	}
	if exists {
		if !force {
			d.logger.Debug("skipping duplicate job", "signature", signature)
			return false, nil
		}
		cancelled, err := d.repo.CancelScheduled(ctx, signature)
		if err != nil {
			return false, fmt.Errorf("cancel duplicates for %s: %w", signature, err)
		}
		if cancelled > 0 {
			d.logger.Info("cancelled duplicate jobs", "signature", signature, "count", cancelled)
		}
	}

	now := time.Now().UTC()
	job := &model.RefreshJob{
		ID:          generateULID(),
		Type:        kind,
		ProfileKey:  t.key,
		ServerID:    t.serverID,
		Signature:   signature,
		Origin:      origin,
		Status:      model.JobStatusScheduled,
		Attempt:     1,
		MaxAttempts: d.cfg.JobMaxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.repo.CreateJob(ctx, job); err != nil {
		return false, fmt.Errorf("enqueue %s: %w", signature, err)
	}
	return true, nil
}

// generateULID creates a lexicographically sortable job id.
func generateULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
