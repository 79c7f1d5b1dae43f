package analytics

import (
	"fmt"

	"github.com/rtcwatch/rtcwatch/internal/server/event"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// WeightTable names the penalty and bonus constants behind the quality
// score so score regressions are diff-able against a pinned table.
type WeightTable struct {
	Name string

	// Per-occurrence penalties and their per-category caps.
	AbnormalPenalty   float64
	AbnormalCap       float64
	NetworkPenalty    float64
	NetworkCap        float64
	PermissionPenalty float64
	PermissionCap     float64
	DevicePenalty     float64
	DeviceCap         float64

	// Session-shape penalties.
	ShortAvgSeconds   float64
	ShortAvgPenalty   float64
	FailedCallSeconds int64
	FailedCallPenalty float64
	FailedCallCap     float64

	// Bonus for predominantly clean exits.
	NormalExitShare float64
	NormalExitBonus float64
}

// DefaultWeights is the pinned production table.
var DefaultWeights = WeightTable{
	Name: "default-v1",

	AbnormalPenalty:   15,
	AbnormalCap:       45,
	NetworkPenalty:    8,
	NetworkCap:        32,
	PermissionPenalty: 3,
	PermissionCap:     12,
	DevicePenalty:     3,
	DeviceCap:         12,

	ShortAvgSeconds:   60,
	ShortAvgPenalty:   10,
	FailedCallSeconds: 5,
	FailedCallPenalty: 5,
	FailedCallCap:     20,

	NormalExitShare: 0.7,
	NormalExitBonus: 5,
}

// QualityReport carries the score plus the counters it derives from.
type QualityReport struct {
	Score           float64        `json:"score"`
	WeightTable     string         `json:"weight_table"`
	TotalSessions   int            `json:"total_sessions"`
	ClosedSessions  int            `json:"closed_sessions"`
	NormalExits     int            `json:"normal_exits"`
	AbnormalExits   int            `json:"abnormal_exits"`
	NetworkExits    int            `json:"network_exits"`
	PermissionExits int            `json:"permission_exits"`
	DeviceExits     int            `json:"device_exits"`
	FailedCalls     int            `json:"failed_calls"`
	AvgSeconds      float64        `json:"avg_session_seconds"`
	ReasonBreakdown map[string]int `json:"reason_breakdown"`
	Insights        []string       `json:"insights"`
}

// Quality scores an epoch's (or user's) closed sessions: base 100,
// minus capped reason-code penalties and session-shape penalties, plus
// a clean-exit bonus, clamped to [0, 100].
func Quality(sessions []store.Session, w WeightTable) QualityReport {
	r := QualityReport{
		WeightTable:     w.Name,
		TotalSessions:   len(sessions),
		ReasonBreakdown: make(map[string]int),
	}

	var totalSeconds int64
	for _, sess := range sessions {
		if sess.LeaveTime == nil || sess.DurationSeconds == nil {
			continue
		}
		r.ClosedSessions++
		dur := *sess.DurationSeconds
		totalSeconds += dur
		if dur < w.FailedCallSeconds {
			r.FailedCalls++
		}

		reason := int64(event.ReasonOther)
		if sess.Reason != nil {
			reason = *sess.Reason
		}
		r.ReasonBreakdown[event.ReasonName(reason)]++
		switch reason {
		case event.ReasonNormal:
			r.NormalExits++
		case event.ReasonAbnormalUser:
			r.AbnormalExits++
		case event.ReasonTimeout, event.ReasonNetworkFail:
			r.NetworkExits++
		case event.ReasonPermissions, event.ReasonServerLoad:
			r.PermissionExits++
		case event.ReasonDeviceSwitch, event.ReasonIPSwitch:
			r.DeviceExits++
		}
	}

	score := 100.0
	if r.ClosedSessions > 0 {
		r.AvgSeconds = float64(totalSeconds) / float64(r.ClosedSessions)

		score -= capped(float64(r.AbnormalExits)*w.AbnormalPenalty, w.AbnormalCap)
		score -= capped(float64(r.NetworkExits)*w.NetworkPenalty, w.NetworkCap)
		score -= capped(float64(r.PermissionExits)*w.PermissionPenalty, w.PermissionCap)
		score -= capped(float64(r.DeviceExits)*w.DevicePenalty, w.DeviceCap)
		score -= capped(float64(r.FailedCalls)*w.FailedCallPenalty, w.FailedCallCap)
		if r.AvgSeconds < w.ShortAvgSeconds {
			score -= w.ShortAvgPenalty
		}
		if float64(r.NormalExits)/float64(r.ClosedSessions) > w.NormalExitShare {
			score += w.NormalExitBonus
		}
	}
	r.Score = clamp(score, 0, 100)
	r.Insights = insights(r)
	return r
}

// insights derives a short list of tagged strings from the quality
// counters with fixed thresholds.
func insights(r QualityReport) []string {
	var out []string
	if r.ClosedSessions == 0 {
		return []string{"no_completed_sessions: no closed sessions to analyze"}
	}
	closed := float64(r.ClosedSessions)
	if share := float64(r.AbnormalExits) / closed; share > 0.2 {
		out = append(out, fmt.Sprintf("high_abnormal_exits: %.0f%% of sessions ended abnormally", share*100))
	}
	if share := float64(r.NetworkExits) / closed; share > 0.2 {
		out = append(out, fmt.Sprintf("network_instability: %.0f%% of sessions dropped on network issues", share*100))
	}
	if share := float64(r.FailedCalls) / closed; share > 0.2 {
		out = append(out, fmt.Sprintf("frequent_failed_calls: %d sessions shorter than 5s", r.FailedCalls))
	}
	if r.AvgSeconds < 60 {
		out = append(out, fmt.Sprintf("short_sessions: average session length %.0fs", r.AvgSeconds))
	}
	if len(out) == 0 && r.Score >= 90 {
		out = append(out, "healthy: no quality issues detected")
	}
	return out
}

func capped(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
