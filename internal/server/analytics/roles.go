// Package analytics derives read-side metrics from stored sessions and
// role events: role-attributed minutes, concurrency curves, day-split
// minute series, quality scores and reconnection patterns. Everything
// here is a pure function of its inputs.
package analytics

import (
	"sort"

	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// RoleMatchWindowSeconds is the tolerance when matching a join webhook
// row to a session start for initial-role inference. Covers wall-clock
// skew between the provider and the client.
const RoleMatchWindowSeconds = 5

// JoinStamp is a join webhook observation used to pin a session's
// initial role.
type JoinStamp struct {
	UID    int64
	TS     int64
	IsHost bool
}

// RoleMinutes is the host/audience split of a user's attributed time.
type RoleMinutes struct {
	HostMinutes     float64
	AudienceMinutes float64
}

// AttributeRoleMinutes splits each closed session's duration into host
// and audience minutes by walking its role switches. Open sessions
// contribute nothing.
func AttributeRoleMinutes(sessions []store.Session, roles []store.RoleEvent, joins []JoinStamp) map[int64]RoleMinutes {
	rolesByUID := make(map[int64][]store.RoleEvent)
	for _, re := range roles {
		rolesByUID[re.UID] = append(rolesByUID[re.UID], re)
	}
	for uid := range rolesByUID {
		rs := rolesByUID[uid]
		sort.Slice(rs, func(i, j int) bool { return rs[i].TS < rs[j].TS })
	}
	joinsByUID := make(map[int64][]JoinStamp)
	for _, j := range joins {
		joinsByUID[j.UID] = append(joinsByUID[j.UID], j)
	}

	out := make(map[int64]RoleMinutes)
	for _, sess := range sessions {
		if sess.LeaveTime == nil {
			continue
		}
		join, leave := sess.JoinTime, *sess.LeaveTime

		var inWindow []store.RoleEvent
		for _, re := range rolesByUID[sess.UID] {
			if re.TS >= join && re.TS <= leave {
				inWindow = append(inWindow, re)
			}
		}

		role := initialRole(sess, inWindow, joinsByUID[sess.UID])

		m := out[sess.UID]
		last := join
		for _, re := range inWindow {
			addMinutes(&m, role, re.TS-last)
			role = re.IsHost
			last = re.TS
		}
		addMinutes(&m, role, leave-last)
		out[sess.UID] = m
	}
	return out
}

// initialRole resolves what role the session started in: a join
// webhook near the session start wins, then the inverse of the first
// role switch, then the session's final recorded role.
func initialRole(sess store.Session, inWindow []store.RoleEvent, joins []JoinStamp) bool {
	for _, j := range joins {
		d := j.TS - sess.JoinTime
		if d >= -RoleMatchWindowSeconds && d <= RoleMatchWindowSeconds {
			return j.IsHost
		}
	}
	if len(inWindow) > 0 {
		return !inWindow[0].IsHost
	}
	return sess.IsHost
}

func addMinutes(m *RoleMinutes, isHost bool, seconds int64) {
	if seconds <= 0 {
		return
	}
	minutes := float64(seconds) / 60
	if isHost {
		m.HostMinutes += minutes
	} else {
		m.AudienceMinutes += minutes
	}
}

// TotalRoleMinutes sums a per-user attribution map.
func TotalRoleMinutes(byUID map[int64]RoleMinutes) RoleMinutes {
	var total RoleMinutes
	for _, m := range byUID {
		total.HostMinutes += m.HostMinutes
		total.AudienceMinutes += m.AudienceMinutes
	}
	return total
}

// JoinStampsFromRaw converts raw join webhook rows into stamps.
func JoinStampsFromRaw(rows []store.RawEvent) []JoinStamp {
	out := make([]JoinStamp, 0, len(rows))
	for _, r := range rows {
		out = append(out, JoinStamp{
			UID:    r.UID,
			TS:     r.TS,
			IsHost: r.EventType == 103 || r.EventType == 107,
		})
	}
	return out
}
