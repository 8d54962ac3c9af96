// Package events carries structured pipeline outcome events to whatever
// collaborator persists or tallies them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome classifies what happened to one pipeline invocation or job run.
type Outcome string

const (
	OutcomeCacheHit   Outcome = "cache_hit"
	OutcomeSuccess    Outcome = "success"
	OutcomeFallback   Outcome = "fallback"
	OutcomeLockDenied Outcome = "lock_denied"
	OutcomeRetry      Outcome = "retry"
	OutcomeFailure    Outcome = "failure"
)

// Event is one structured pipeline event.
type Event struct {
	Channel    string    `json:"channel"`
	ProfileKey string    `json:"profile_key"`
	ServerID   string    `json:"server_id"`
	Outcome    Outcome   `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives pipeline events. Implementations must not block.
type Sink interface {
	Emit(ev Event)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a Sink backed by slog.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

// Emit logs the event. Failures log at warn, everything else at info.
func (s *LogSink) Emit(ev Event) {
	level := slog.LevelInfo
	if ev.Outcome == OutcomeFailure || ev.Outcome == OutcomeFallback {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "pipeline event",
		"channel", ev.Channel,
		"profile_key", ev.ProfileKey,
		"server_id", ev.ServerID,
		"outcome", string(ev.Outcome),
		"duration_ms", ev.DurationMS,
		"reason", ev.Reason,
	)
}

// MemorySink collects events for tests and the in-process admin view.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (s *MemorySink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// NoopSink discards events.
type NoopSink struct{}

// Emit is a no-op.
func (NoopSink) Emit(Event) {}
