// Package upstream talks to the two community-server stat sources: the
// public widget endpoint and the bot-authenticated detail endpoint.
package upstream

import (
	"time"

	"github.com/guildpulse/guildpulse/internal/model"
)

// WidgetMember is one entry of the widget's partial member list. The
// widget only enumerates currently-present members.
type WidgetMember struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	Game     *struct {
		Name string `json:"name"`
	} `json:"game,omitempty"`
	Streaming bool `json:"self_stream,omitempty"`
}

// SummaryStats is the widget (summary) endpoint payload. MemberCount is
// frequently absent, approximate, or just a copy of the presence count.
type SummaryStats struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	MemberCount   *int           `json:"member_count"`
	PresenceCount *int           `json:"presence_count"`
	Members       []WidgetMember `json:"members"`
	IconURL       string         `json:"icon_url"`
}

// PresenceBreakdown tallies the widget member list by status.
func (s *SummaryStats) PresenceBreakdown() model.PresenceCounts {
	var counts model.PresenceCounts
	for _, m := range s.Members {
		switch {
		case m.Streaming:
			counts.Streaming++
		case m.Status == "online":
			counts.Online++
		case m.Status == "idle":
			counts.Idle++
		case m.Status == "dnd":
			counts.DND++
		case m.Status == "offline":
			counts.Offline++
		default:
			counts.Other++
		}
	}
	return counts
}

// DetailedStats is the authenticated with-counts endpoint payload.
// Presences is optional; some deployments enrich the detail response
// with a per-status tally.
type DetailedStats struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Icon          string         `json:"icon"`
	ApproxMembers *int           `json:"approximate_member_count"`
	ApproxPresent *int           `json:"approximate_presence_count"`
	PremiumCount  int            `json:"premium_subscription_count"`
	Presences     map[string]int `json:"presences,omitempty"`
}

// PresenceBreakdown converts the optional per-status tally; unknown
// statuses land in Other.
func (d *DetailedStats) PresenceBreakdown() model.PresenceCounts {
	var counts model.PresenceCounts
	for status, n := range d.Presences {
		switch status {
		case "online":
			counts.Online += n
		case "idle":
			counts.Idle += n
		case "dnd":
			counts.DND += n
		case "offline":
			counts.Offline += n
		case "streaming":
			counts.Streaming += n
		default:
			counts.Other += n
		}
	}
	return counts
}

// RateLimitInfo carries the upstream's outbound quota headers. The
// pipeline surfaces these for observability; it does not rate-limit on
// them itself.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	Bucket     string
	Global     bool
}
