package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildpulse/guildpulse/internal/model"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("refresh job not found")

const jobColumns = `id, job_type, profile_key, server_id, signature, origin,
	status, attempt, max_attempts, last_error, next_run_at, created_at, updated_at`

// Repository persists refresh jobs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a Repository with a connection pool.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Test use.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateJob inserts a new scheduled job.
func (r *Repository) CreateJob(ctx context.Context, job *model.RefreshJob) error {
	query := `
		INSERT INTO refresh_jobs (
			id, job_type, profile_key, server_id, signature, origin,
			status, attempt, max_attempts, last_error, next_run_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.pool.Exec(ctx, query,
		job.ID,
		string(job.Type),
		job.ProfileKey,
		job.ServerID,
		job.Signature,
		string(job.Origin),
		string(job.Status),
		job.Attempt,
		job.MaxAttempts,
		job.LastError,
		job.NextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh job: %w", err)
	}
	return nil
}

// DueJobs returns scheduled jobs whose run time has arrived, oldest
// first. SKIP LOCKED keeps concurrent workers from double-claiming.
func (r *Repository) DueJobs(ctx context.Context, limit int) ([]*model.RefreshJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM refresh_jobs
		WHERE status = 'scheduled' AND next_run_at <= NOW()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, jobColumns)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkRunning transitions a scheduled job to running. Returns false when
// another worker already claimed it.
func (r *Repository) MarkRunning(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_jobs
		SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSucceeded records a terminal success.
func (r *Repository) MarkSucceeded(ctx context.Context, id string) error {
	return r.finish(ctx, id, model.JobStatusSucceeded, "")
}

// MarkFailed records a terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, id, lastError string) error {
	return r.finish(ctx, id, model.JobStatusFailed, lastError)
}

func (r *Repository) finish(ctx context.Context, id string, status model.JobStatus, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Reschedule puts a failed job back in the scheduled state with a bumped
// attempt counter and a future run time.
func (r *Repository) Reschedule(ctx context.Context, id string, attempt int, nextRunAt time.Time, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_jobs
		SET status = 'scheduled', attempt = $2, next_run_at = $3,
			last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, attempt, nextRunAt, lastError)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// HasScheduled reports whether any job with this signature is already
// scheduled, at any attempt number.
func (r *Repository) HasScheduled(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_jobs
			WHERE signature = $1 AND status IN ('scheduled', 'running')
		)
	`, signature).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check scheduled jobs: %w", err)
	}
	return exists, nil
}

// CancelScheduled marks every scheduled job with this signature failed,
// so a forced reschedule starts clean.
func (r *Repository) CancelScheduled(ctx context.Context, signature string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_jobs
		SET status = 'failed', last_error = 'cancelled by reschedule', updated_at = NOW()
		WHERE signature = $1 AND status = 'scheduled'
	`, signature)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueDepth counts jobs waiting to run.
func (r *Repository) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM refresh_jobs WHERE status = 'scheduled'
	`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// RecentJobs returns the newest jobs for the admin view.
func (r *Repository) RecentJobs(ctx context.Context, limit int) ([]*model.RefreshJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM refresh_jobs
		ORDER BY updated_at DESC
		LIMIT $1
	`, jobColumns)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]*model.RefreshJob, error) {
	var jobs []*model.RefreshJob
	for rows.Next() {
		var job model.RefreshJob
		var jobType, origin, status string
		err := rows.Scan(
			&job.ID,
			&jobType,
			&job.ProfileKey,
			&job.ServerID,
			&job.Signature,
			&origin,
			&status,
			&job.Attempt,
			&job.MaxAttempts,
			&job.LastError,
			&job.NextRunAt,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan refresh job: %w", err)
		}
		job.Type = model.JobType(jobType)
		job.Origin = model.JobOrigin(origin)
		job.Status = model.JobStatus(status)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh jobs: %w", err)
	}
	return jobs, nil
}
