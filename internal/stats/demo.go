package stats

import (
	"math"
	"time"

	"github.com/guildpulse/guildpulse/internal/model"
)

// Demo population shape. The online count follows a smooth daily curve
// peaking in the evening so demo numbers breathe instead of being static.
const (
	demoTotal      = 1250
	demoBaseOnline = 180
	demoSwing      = 140
	demoPeakHour   = 21.0
	demoServerName = "Demo Community"
)

// DemoSnapshot generates a deterministic synthetic snapshot for the
// given instant. Two calls within the same minute produce the same
// values.
func DemoSnapshot(now time.Time) *model.StatsSnapshot {
	hour := float64(now.Hour()) + float64(now.Minute())/60.0
	phase := (hour - demoPeakHour) / 24.0 * 2 * math.Pi
	online := demoBaseOnline + int(demoSwing*math.Cos(phase))
	if online < 0 {
		online = 0
	}

	idle := online / 5
	dnd := online * 3 / 20
	streaming := online / 25
	active := online - idle - dnd - streaming

	total := demoTotal
	offline := total - online
	if offline < 0 {
		offline = 0
	}

	snap := model.StatsSnapshot{
		Online:     online,
		Total:      model.IntPtr(total),
		ServerName: demoServerName,
		PresenceByStatus: model.PresenceCounts{
			Online:    active,
			Idle:      idle,
			DND:       dnd,
			Offline:   offline,
			Streaming: streaming,
		},
		PremiumCount: 14,
		IsDemo:       true,
		LastUpdated:  now,
	}
	normalized := snap.Normalize()
	return &normalized
}
