package analytics

import (
	"sort"

	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// CurvePoint is one step of the concurrency curve.
type CurvePoint struct {
	TS    int64 `json:"ts"`
	Count int   `json:"count"`
}

// Concurrency returns the peak simultaneous user count, the earliest
// timestamp achieving it, and the full step curve. At identical
// timestamps leaves are applied before joins so a handover never shows
// a transient extra user.
func Concurrency(sessions []store.Session) (maxCount int, peakTS int64, curve []CurvePoint) {
	type edge struct {
		ts    int64
		delta int
	}
	edges := make([]edge, 0, 2*len(sessions))
	for _, sess := range sessions {
		edges = append(edges, edge{ts: sess.JoinTime, delta: +1})
		if sess.LeaveTime != nil {
			edges = append(edges, edge{ts: *sess.LeaveTime, delta: -1})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ts != edges[j].ts {
			return edges[i].ts < edges[j].ts
		}
		return edges[i].delta < edges[j].delta
	})

	current := 0
	for _, e := range edges {
		current += e.delta
		curve = append(curve, CurvePoint{TS: e.ts, Count: current})
		if current > maxCount {
			maxCount = current
			peakTS = e.ts
		}
	}
	return maxCount, peakTS, curve
}

// WallClock returns the wall-clock span of an epoch's sessions in
// minutes: earliest join to latest leave (or latest join when every
// session is still open).
func WallClock(sessions []store.Session) (startTS, endTS int64, minutes float64) {
	if len(sessions) == 0 {
		return 0, 0, 0
	}
	startTS = sessions[0].JoinTime
	for _, sess := range sessions {
		if sess.JoinTime < startTS {
			startTS = sess.JoinTime
		}
		end := sess.JoinTime
		if sess.LeaveTime != nil {
			end = *sess.LeaveTime
		}
		if end > endTS {
			endTS = end
		}
	}
	return startTS, endTS, float64(endTS-startTS) / 60
}

// Utilization is user-minutes divided by wall-clock minutes. Zero when
// the epoch has no wall-clock extent.
func Utilization(sessions []store.Session) float64 {
	_, _, wall := WallClock(sessions)
	if wall <= 0 {
		return 0
	}
	var userMinutes float64
	for _, sess := range sessions {
		if sess.DurationSeconds != nil {
			userMinutes += float64(*sess.DurationSeconds) / 60
		}
	}
	return userMinutes / wall
}

// UniqueRoles counts distinct hosts and audience members by the final
// recorded role of each user's sessions.
func UniqueRoles(sessions []store.Session) (hosts, audiences int) {
	finalRole := make(map[int64]bool)
	lastJoin := make(map[int64]int64)
	for _, sess := range sessions {
		if prev, ok := lastJoin[sess.UID]; !ok || sess.JoinTime >= prev {
			finalRole[sess.UID] = sess.IsHost
			lastJoin[sess.UID] = sess.JoinTime
		}
	}
	for _, isHost := range finalRole {
		if isHost {
			hosts++
		} else {
			audiences++
		}
	}
	return hosts, audiences
}
