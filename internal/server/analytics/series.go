package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/rtcwatch/rtcwatch/internal/server/event"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
	"github.com/rtcwatch/rtcwatch/internal/util/timefmt"
)

// Series periods and breakdowns.
const (
	PeriodDay   = "day"
	PeriodMonth = "month"

	BreakdownRole     = "role"
	BreakdownPlatform = "platform"
)

// SeriesQuery selects and groups session minutes over a date range.
// Start and End are inclusive UTC days.
type SeriesQuery struct {
	Start       time.Time
	End         time.Time
	Period      string
	Platforms   []int64
	ClientTypes []int64
	Roles       []string
	BreakdownBy string
	// Now caps the contribution of sessions still open. Zero means
	// time.Now.
	Now int64
}

// Series is one group's zero-filled, date-aligned minute totals.
type Series struct {
	Key    string    `json:"key"`
	Total  float64   `json:"total_minutes"`
	Values []float64 `json:"values"`
}

// SeriesResult pairs the sorted, gap-free date keys with the series
// aligned to them.
type SeriesResult struct {
	Dates  []string `json:"dates"`
	Series []Series `json:"series"`
}

func (q SeriesQuery) validate() error {
	if q.Period != PeriodDay && q.Period != PeriodMonth {
		return fmt.Errorf("invalid period %q", q.Period)
	}
	if q.BreakdownBy != BreakdownRole && q.BreakdownBy != BreakdownPlatform {
		return fmt.Errorf("invalid breakdown_by %q", q.BreakdownBy)
	}
	if q.End.Before(q.Start) {
		return fmt.Errorf("end_date before start_date")
	}
	return nil
}

// MinuteSeries splits each session's presence interval across calendar
// day boundaries and accumulates minutes per (group key, bucket).
// Groups with a zero total are dropped.
func MinuteSeries(sessions []store.Session, q SeriesQuery) (SeriesResult, error) {
	if err := q.validate(); err != nil {
		return SeriesResult{}, err
	}

	start := q.Start.UTC().Truncate(24 * time.Hour)
	end := q.End.UTC().Truncate(24 * time.Hour)
	if q.Period == PeriodMonth {
		start = timefmt.MonthStart(start)
		end = timefmt.MonthEnd(end)
	}
	rangeStart := start.Unix()
	rangeEnd := end.Unix() + 86400 // exclusive

	now := q.Now
	if now == 0 {
		now = time.Now().Unix()
	}

	dates := bucketKeys(start, end, q.Period)
	index := make(map[string]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	totals := make(map[string][]float64)
	for _, sess := range sessions {
		clientType := normalizeClientType(sess.Platform, sess.ClientType)
		if !matchesFilters(sess, clientType, q) {
			continue
		}

		from := sess.JoinTime
		to := now
		if sess.LeaveTime != nil {
			to = *sess.LeaveTime
		}
		from = max(from, rangeStart)
		to = min(to, rangeEnd)
		if to <= from {
			continue
		}

		key := groupKey(sess, clientType, q.BreakdownBy)
		for cur := from; cur < to; {
			dayEnd := timefmt.NextDay(cur)
			chunkEnd := min(dayEnd, to)
			bucket := timefmt.Day(cur)
			if q.Period == PeriodMonth {
				bucket = timefmt.Month(cur)
			}
			if i, ok := index[bucket]; ok {
				if totals[key] == nil {
					totals[key] = make([]float64, len(dates))
				}
				totals[key][i] += float64(chunkEnd-cur) / 60
			}
			cur = chunkEnd
		}
	}

	result := SeriesResult{Dates: dates}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var total float64
		for _, v := range totals[k] {
			total += v
		}
		if total <= 0 {
			continue
		}
		result.Series = append(result.Series, Series{Key: k, Total: total, Values: totals[k]})
	}
	return result, nil
}

// normalizeClientType keeps client_type only for Linux rows; other
// platforms report it inconsistently so it is treated as absent.
func normalizeClientType(platform, clientType *int64) *int64 {
	if platform != nil && *platform == event.PlatformLinux {
		return clientType
	}
	return nil
}

func matchesFilters(sess store.Session, clientType *int64, q SeriesQuery) bool {
	if len(q.Platforms) > 0 {
		if sess.Platform == nil || !containsInt(q.Platforms, *sess.Platform) {
			return false
		}
	}
	if len(q.ClientTypes) > 0 {
		if clientType == nil || !containsInt(q.ClientTypes, *clientType) {
			return false
		}
	}
	if len(q.Roles) > 0 {
		role := "audience"
		if sess.IsHost {
			role = "host"
		}
		if !containsStr(q.Roles, role) {
			return false
		}
	}
	return true
}

func groupKey(sess store.Session, clientType *int64, breakdownBy string) string {
	if breakdownBy == BreakdownPlatform {
		return event.PlatformName(sess.Platform, clientType)
	}
	role := "audience"
	if sess.IsHost {
		role = "host"
	}
	if clientType != nil {
		return fmt.Sprintf("%s (%s)", role, event.PlatformName(sess.Platform, clientType))
	}
	return role
}

// bucketKeys lists every day (or month) key between start and end
// inclusive, in order, without gaps.
func bucketKeys(start, end time.Time, period string) []string {
	var keys []string
	if period == PeriodMonth {
		for cur := timefmt.MonthStart(start); !cur.After(end); cur = cur.AddDate(0, 1, 0) {
			keys = append(keys, cur.Format(timefmt.MonthKey))
		}
		return keys
	}
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		keys = append(keys, cur.Format(timefmt.DayKey))
	}
	return keys
}

func containsInt(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsStr(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
