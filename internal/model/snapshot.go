// Package model defines domain entities for the application.
package model

import "time"

// PresenceCounts is the per-status presence breakdown of a server.
// The struct keeps the status order stable in JSON output.
type PresenceCounts struct {
	Online    int `json:"online"`
	Idle      int `json:"idle"`
	DND       int `json:"dnd"`
	Offline   int `json:"offline"`
	Streaming int `json:"streaming"`
	Other     int `json:"other"`
}

// IsZero reports whether no status has been counted.
func (p PresenceCounts) IsZero() bool {
	return p == PresenceCounts{}
}

// Sum returns the total number of counted presences.
func (p PresenceCounts) Sum() int {
	return p.Online + p.Idle + p.DND + p.Offline + p.Streaming + p.Other
}

// Union merges two breakdowns per status: if both sides are non-zero the
// counts are summed, otherwise the non-zero side is kept. This avoids
// zeroing a status that only one source enumerated.
func (p PresenceCounts) Union(o PresenceCounts) PresenceCounts {
	merge := func(a, b int) int {
		if a > 0 && b > 0 {
			return a + b
		}
		if a > 0 {
			return a
		}
		return b
	}
	return PresenceCounts{
		Online:    merge(p.Online, o.Online),
		Idle:      merge(p.Idle, o.Idle),
		DND:       merge(p.DND, o.DND),
		Offline:   merge(p.Offline, o.Offline),
		Streaming: merge(p.Streaming, o.Streaming),
		Other:     merge(p.Other, o.Other),
	}
}

// Clamp replaces any negative status count with zero.
func (p PresenceCounts) Clamp() PresenceCounts {
	pos := func(n int) int {
		if n < 0 {
			return 0
		}
		return n
	}
	return PresenceCounts{
		Online:    pos(p.Online),
		Idle:      pos(p.Idle),
		DND:       pos(p.DND),
		Offline:   pos(p.Offline),
		Streaming: pos(p.Streaming),
		Other:     pos(p.Other),
	}
}

// StatsSnapshot is the canonical result unit produced by the pipeline.
// Snapshots are immutable once constructed; consumers decide presentation
// based on the IsDemo/Stale flags rather than handling missing fields.
type StatsSnapshot struct {
	Online             int            `json:"online"`
	Total              *int           `json:"total"`
	HasTotal           bool           `json:"has_total"`
	TotalIsApproximate bool           `json:"total_is_approximate"`
	ServerName         string         `json:"server_name"`
	ApproxPresence     *int           `json:"approx_presence_count"`
	ApproxMembers      *int           `json:"approx_member_count"`
	PresenceByStatus   PresenceCounts `json:"presence_by_status"`
	PremiumCount       int            `json:"premium_count"`
	ServerAvatarURL    string         `json:"server_avatar_url"`
	IsDemo             bool           `json:"is_demo"`
	FallbackDemo       bool           `json:"fallback_demo"`
	Stale              bool           `json:"stale"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// Normalize enforces the snapshot invariants: HasTotal is derived from
// Total, ApproxMembers defaults to Total, and presence counts are never
// negative.
func (s StatsSnapshot) Normalize() StatsSnapshot {
	s.HasTotal = s.Total != nil
	if !s.HasTotal {
		s.TotalIsApproximate = false
	}
	if s.ApproxMembers == nil && s.Total != nil {
		v := *s.Total
		s.ApproxMembers = &v
	}
	s.PresenceByStatus = s.PresenceByStatus.Clamp()
	return s
}

// AsStale returns a copy flagged as a served-from-fallback snapshot. The
// original LastUpdated is preserved so consumers can show data age.
func (s StatsSnapshot) AsStale() StatsSnapshot {
	s.Stale = true
	s.FallbackDemo = true
	s.IsDemo = true
	return s
}

// FallbackDetails records why the last fallback for a signature happened
// and when the next refresh attempt is advisable.
type FallbackDetails struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	NextRetry time.Time `json:"next_retry"`
}

// IntPtr is a convenience for building snapshots and upstream payloads.
func IntPtr(v int) *int { return &v }
