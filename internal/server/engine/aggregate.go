package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rtcwatch/rtcwatch/internal/server/store"
	"github.com/rtcwatch/rtcwatch/internal/util/timefmt"
)

// recomputeAggregates refreshes the roll-ups touched by one event: the
// channel row for (epoch, day-of-ts) and, for user events, the user
// row for (uid, channel, day-of-ts).
func (e *Engine) recomputeAggregates(ctx context.Context, s *store.Store, appID, channel, epochID string, ts int64, uid *int64) error {
	dayStart := timefmt.DayStart(ts)
	if err := RecomputeChannelDay(ctx, s, appID, channel, epochID, dayStart); err != nil {
		return err
	}
	if uid != nil {
		return RecomputeUserDay(ctx, s, appID, channel, epochID, *uid, dayStart)
	}
	return nil
}

// RecomputeChannelDay reads every session of one epoch overlapping one
// UTC day and overwrites the channel roll-up row. When the day has raw
// activity but no sessions yet (a channel lifecycle day, or joins
// still in flight), the row is built from raw counts so the day is
// never silently absent.
func RecomputeChannelDay(ctx context.Context, s *store.Store, appID, channel, epochID string, dayStart int64) error {
	dayEnd := timefmt.NextDay(dayStart)
	date := timefmt.Day(dayStart)

	sessions, err := s.ListSessionsByEpochForDay(ctx, epochID, dayStart, dayEnd)
	if err != nil {
		return err
	}

	p := store.UpsertChannelDailyParams{
		AppID:            appID,
		ChannelName:      channel,
		ChannelSessionID: epochID,
		Date:             date,
	}

	if len(sessions) == 0 {
		total, unique, err := s.CountRawActivityInRange(ctx, appID, channel, epochID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		if total == 0 {
			return nil
		}
		p.TotalUsers = unique
		p.UniqueUsers = unique
		if first, err := s.FirstCreateInRange(ctx, appID, channel, epochID, dayStart, dayEnd); err == nil {
			p.FirstActivity = &first
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if last, err := s.LastTerminalInRange(ctx, appID, channel, epochID, dayStart, dayEnd); err == nil {
			p.LastActivity = &last
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return s.UpsertChannelDaily(ctx, p)
	}

	seen := make(map[int64]struct{})
	var totalSeconds int64
	var first, last int64
	for _, sess := range sessions {
		p.TotalUsers++
		seen[sess.UID] = struct{}{}
		totalSeconds += overlapSeconds(sess, dayStart, dayEnd)

		if first == 0 || sess.JoinTime < first {
			first = sess.JoinTime
		}
		end := sess.JoinTime
		if sess.LeaveTime != nil {
			end = *sess.LeaveTime
		}
		if end > last {
			last = end
		}
	}
	p.UniqueUsers = int64(len(seen))
	p.TotalMinutes = float64(totalSeconds) / 60
	if first > 0 {
		p.FirstActivity = &first
	}
	if last > 0 {
		p.LastActivity = &last
	}
	return s.UpsertChannelDaily(ctx, p)
}

// RecomputeUserDay overwrites the per-user roll-up for one
// (uid, channel, day) from that user's sessions in the epoch.
func RecomputeUserDay(ctx context.Context, s *store.Store, appID, channel, epochID string, uid, dayStart int64) error {
	dayEnd := timefmt.NextDay(dayStart)
	sessions, err := s.ListSessionsByEpochForDay(ctx, epochID, dayStart, dayEnd)
	if err != nil {
		return err
	}

	var totalSeconds, count int64
	for _, sess := range sessions {
		if sess.UID != uid {
			continue
		}
		count++
		totalSeconds += overlapSeconds(sess, dayStart, dayEnd)
	}
	if count == 0 {
		return nil
	}
	return s.UpsertUserDaily(ctx, store.UpsertUserDailyParams{
		AppID:            appID,
		UID:              uid,
		ChannelName:      channel,
		ChannelSessionID: epochID,
		Date:             timefmt.Day(dayStart),
		TotalMinutes:     float64(totalSeconds) / 60,
		SessionCount:     count,
	})
}

// overlapSeconds clips a session interval to [dayStart, dayEnd). Open
// sessions contribute nothing until they close.
func overlapSeconds(sess store.Session, dayStart, dayEnd int64) int64 {
	if sess.LeaveTime == nil {
		return 0
	}
	start := max(sess.JoinTime, dayStart)
	end := min(*sess.LeaveTime, dayEnd)
	if end <= start {
		return 0
	}
	return end - start
}
