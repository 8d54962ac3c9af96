package model

import "time"

// JobType identifies which refresh path a background job drives.
type JobType string

const (
	JobTypeWidgetRefresh JobType = "widget_refresh"
	JobTypeBotRefresh    JobType = "bot_refresh"
)

// IsValid checks if the job type is known.
func (t JobType) IsValid() bool {
	return t == JobTypeWidgetRefresh || t == JobTypeBotRefresh
}

// JobOrigin records what triggered a job.
type JobOrigin string

const (
	JobOriginCron   JobOrigin = "cron"
	JobOriginManual JobOrigin = "manual"
)

// JobStatus is the lifecycle state of a refresh job.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// RefreshJob is a durable background refresh task for one profile.
type RefreshJob struct {
	ID          string    `json:"id"`
	Type        JobType   `json:"type"`
	ProfileKey  string    `json:"profile_key"`
	ServerID    string    `json:"server_id"`
	Signature   string    `json:"signature"`
	Origin      JobOrigin `json:"origin"`
	Status      JobStatus `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextRunAt   time.Time `json:"next_run_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobSignature builds the dedupe key for a (type, profile) pair. Two jobs
// with the same signature never coexist in the scheduled state.
func JobSignature(t JobType, profileKey string) string {
	return string(t) + ":" + profileKey
}
