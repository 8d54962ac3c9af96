package stats

import (
	"time"

	"github.com/guildpulse/guildpulse/internal/model"
	"github.com/guildpulse/guildpulse/internal/upstream"
)

// SummaryIncomplete decides whether the widget response alone is enough.
// A summary is incomplete when it lacks a total, when its total is just a
// copy of the presence count (a giveaway that only present members were
// counted), or when the server name is missing.
func SummaryIncomplete(s *upstream.SummaryStats) bool {
	if s == nil {
		return true
	}
	if s.MemberCount == nil {
		return true
	}
	if s.PresenceCount != nil && *s.MemberCount == *s.PresenceCount {
		return true
	}
	return s.Name == ""
}

// Merge combines the two upstream payloads into one canonical snapshot.
// Either side may be nil; when only one source returned data it passes
// through unmerged. When both are nil the result is nil.
//
// Precedence when both exist: the summary's total, online count, name,
// avatar and presence breakdown win when present; the detailed response
// fills the gaps. Per-status presence counts from both sides are summed
// when both are non-zero and the non-zero side is kept otherwise.
// The premium count always comes from the detailed response.
func Merge(summary *upstream.SummaryStats, detailed *upstream.DetailedStats, now time.Time) *model.StatsSnapshot {
	switch {
	case summary == nil && detailed == nil:
		return nil
	case detailed == nil:
		return fromSummary(summary, now)
	case summary == nil:
		return fromDetailed(detailed, now)
	}

	snap := fromSummary(summary, now)

	if snap.Total == nil && detailed.ApproxMembers != nil {
		snap.Total = model.IntPtr(*detailed.ApproxMembers)
		snap.TotalIsApproximate = true
	}
	if snap.ServerName == "" {
		snap.ServerName = detailed.Name
	}
	if snap.ServerAvatarURL == "" {
		snap.ServerAvatarURL = detailed.Icon
	}

	detailedBreakdown := detailed.PresenceBreakdown()
	switch {
	case snap.PresenceByStatus.IsZero():
		snap.PresenceByStatus = detailedBreakdown
	case !detailedBreakdown.IsZero():
		snap.PresenceByStatus = snap.PresenceByStatus.Union(detailedBreakdown)
	}

	if snap.Online == 0 && detailed.ApproxPresent != nil {
		snap.Online = *detailed.ApproxPresent
	}

	snap.ApproxMembers = detailed.ApproxMembers
	snap.ApproxPresence = detailed.ApproxPresent
	snap.PremiumCount = detailed.PremiumCount

	normalized := snap.Normalize()
	return &normalized
}

func fromSummary(s *upstream.SummaryStats, now time.Time) *model.StatsSnapshot {
	snap := model.StatsSnapshot{
		ServerName:       s.Name,
		ServerAvatarURL:  s.IconURL,
		PresenceByStatus: s.PresenceBreakdown(),
		LastUpdated:      now,
	}
	if s.PresenceCount != nil {
		snap.Online = *s.PresenceCount
	} else {
		snap.Online = snap.PresenceByStatus.Sum()
	}
	if s.MemberCount != nil {
		snap.Total = model.IntPtr(*s.MemberCount)
	}
	normalized := snap.Normalize()
	return &normalized
}

func fromDetailed(d *upstream.DetailedStats, now time.Time) *model.StatsSnapshot {
	snap := model.StatsSnapshot{
		ServerName:         d.Name,
		ServerAvatarURL:    d.Icon,
		ApproxMembers:      d.ApproxMembers,
		ApproxPresence:     d.ApproxPresent,
		PresenceByStatus:   d.PresenceBreakdown(),
		PremiumCount:       d.PremiumCount,
		TotalIsApproximate: d.ApproxMembers != nil,
		LastUpdated:        now,
	}
	if d.ApproxPresent != nil {
		snap.Online = *d.ApproxPresent
	}
	if d.ApproxMembers != nil {
		snap.Total = model.IntPtr(*d.ApproxMembers)
	}
	normalized := snap.Normalize()
	return &normalized
}

// Usable is the sole success gate for the pipeline: a structurally merged
// snapshot that fails it is still a failure.
func Usable(snap *model.StatsSnapshot) bool {
	return snap != nil && snap.Online >= 0
}
