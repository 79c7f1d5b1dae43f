package analytics

import (
	"sort"

	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// Reconnection gap thresholds in seconds.
const (
	BurstGapSeconds = 30
	RapidGapSeconds = 120
)

// Reconnection stability classes.
const (
	PatternUnstable = "unstable"
	PatternModerate = "moderate"
	PatternStable   = "stable"
	PatternNone     = "no_reconnections"
)

// ReconnectReport describes one user's reconnection behavior within an
// epoch.
type ReconnectReport struct {
	UID           int64   `json:"uid"`
	Sessions      int     `json:"sessions"`
	Reconnections int     `json:"reconnections"`
	Bursts        int     `json:"bursts"`
	Rapid         int     `json:"rapid"`
	Pattern       string  `json:"pattern"`
	AvgGapSeconds float64 `json:"avg_gap_seconds"`
}

// ReconnectPatterns groups an epoch's sessions per user and classifies
// the gaps between consecutive sessions: a gap of at most 30s is a
// burst, at most 120s a rapid reconnect.
func ReconnectPatterns(sessions []store.Session) []ReconnectReport {
	byUID := make(map[int64][]store.Session)
	for _, sess := range sessions {
		byUID[sess.UID] = append(byUID[sess.UID], sess)
	}

	uids := make([]int64, 0, len(byUID))
	for uid := range byUID {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var out []ReconnectReport
	for _, uid := range uids {
		group := byUID[uid]
		sort.Slice(group, func(i, j int) bool { return group[i].JoinTime < group[j].JoinTime })

		r := ReconnectReport{UID: uid, Sessions: len(group)}
		var gapTotal int64
		for i := 1; i < len(group); i++ {
			prev := group[i-1]
			if prev.LeaveTime == nil {
				continue
			}
			gap := group[i].JoinTime - *prev.LeaveTime
			if gap < 0 {
				gap = 0
			}
			r.Reconnections++
			gapTotal += gap
			if gap <= BurstGapSeconds {
				r.Bursts++
			}
			if gap <= RapidGapSeconds {
				r.Rapid++
			}
		}
		if r.Reconnections > 0 {
			r.AvgGapSeconds = float64(gapTotal) / float64(r.Reconnections)
		}
		switch {
		case r.Rapid >= 3:
			r.Pattern = PatternUnstable
		case r.Rapid >= 1:
			r.Pattern = PatternModerate
		case r.Reconnections > 0:
			r.Pattern = PatternStable
		default:
			r.Pattern = PatternNone
		}
		out = append(out, r)
	}
	return out
}

// HistogramBuckets are the session-length bucket labels, in order.
var HistogramBuckets = []string{"0-5s", "5-30s", "30-60s", "1-5min", "5-15min", "15min+"}

// SessionLengthHistogram buckets closed sessions by duration.
func SessionLengthHistogram(sessions []store.Session) map[string]int {
	h := make(map[string]int, len(HistogramBuckets))
	for _, b := range HistogramBuckets {
		h[b] = 0
	}
	for _, sess := range sessions {
		if sess.DurationSeconds == nil {
			continue
		}
		d := *sess.DurationSeconds
		switch {
		case d < 5:
			h["0-5s"]++
		case d < 30:
			h["5-30s"]++
		case d < 60:
			h["30-60s"]++
		case d < 300:
			h["1-5min"]++
		case d < 900:
			h["5-15min"]++
		default:
			h["15min+"]++
		}
	}
	return h
}
