package store

import (
	"context"
	"database/sql"
	"time"
)

// UpsertChannelDailyParams is one recomputed per-day channel roll-up.
type UpsertChannelDailyParams struct {
	AppID            string
	ChannelName      string
	ChannelSessionID string
	Date             string
	TotalUsers       int64
	UniqueUsers      int64
	TotalMinutes     float64
	FirstActivity    *int64
	LastActivity     *int64
}

// UpsertChannelDaily overwrites the channel roll-up for one
// (channel, epoch, day). Recompute-and-overwrite keeps the operation
// idempotent under replay.
func (s *Store) UpsertChannelDaily(ctx context.Context, p UpsertChannelDailyParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_daily_stats (
			app_id, channel_name, channel_session_id, date,
			total_users, unique_users, total_minutes,
			first_activity, last_activity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, channel_name, channel_session_id, date) DO UPDATE SET
			total_users = excluded.total_users,
			unique_users = excluded.unique_users,
			total_minutes = excluded.total_minutes,
			first_activity = excluded.first_activity,
			last_activity = excluded.last_activity,
			updated_at = excluded.updated_at`,
		p.AppID, p.ChannelName, p.ChannelSessionID, p.Date,
		p.TotalUsers, p.UniqueUsers, p.TotalMinutes,
		nullInt(p.FirstActivity), nullInt(p.LastActivity), time.Now().Unix(),
	)
	return err
}

// UpsertUserDailyParams is one recomputed per-day per-user roll-up.
type UpsertUserDailyParams struct {
	AppID            string
	UID              int64
	ChannelName      string
	ChannelSessionID string
	Date             string
	TotalMinutes     float64
	SessionCount     int64
}

// UpsertUserDaily overwrites the user roll-up for one
// (user, channel, day).
func (s *Store) UpsertUserDaily(ctx context.Context, p UpsertUserDailyParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_daily_stats (
			app_id, uid, channel_name, channel_session_id, date,
			total_minutes, session_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, uid, channel_name, date) DO UPDATE SET
			channel_session_id = excluded.channel_session_id,
			total_minutes = excluded.total_minutes,
			session_count = excluded.session_count,
			updated_at = excluded.updated_at`,
		p.AppID, p.UID, p.ChannelName, p.ChannelSessionID, p.Date,
		p.TotalMinutes, p.SessionCount, time.Now().Unix(),
	)
	return err
}

// GetChannelDaily fetches one channel roll-up row. sql.ErrNoRows when
// absent.
func (s *Store) GetChannelDaily(ctx context.Context, app, channel, epochID, date string) (ChannelDaily, error) {
	var d ChannelDaily
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT app_id, channel_name, channel_session_id, date,
			total_users, unique_users, total_minutes, first_activity, last_activity
		FROM channel_daily_stats
		WHERE app_id = ? AND channel_name = ? AND channel_session_id = ? AND date = ?`,
		app, channel, epochID, date).Scan(
		&d.AppID, &d.ChannelName, &d.ChannelSessionID, &d.Date,
		&d.TotalUsers, &d.UniqueUsers, &d.TotalMinutes, &first, &last)
	if err != nil {
		return ChannelDaily{}, err
	}
	d.FirstActivity = intPtr(first)
	d.LastActivity = intPtr(last)
	return d, nil
}

// GetUserDaily fetches one user roll-up row. sql.ErrNoRows when absent.
func (s *Store) GetUserDaily(ctx context.Context, app string, uid int64, channel, date string) (UserDaily, error) {
	var d UserDaily
	err := s.db.QueryRowContext(ctx, `
		SELECT app_id, uid, channel_name, channel_session_id, date,
			total_minutes, session_count
		FROM user_daily_stats
		WHERE app_id = ? AND uid = ? AND channel_name = ? AND date = ?`,
		app, uid, channel, date).Scan(
		&d.AppID, &d.UID, &d.ChannelName, &d.ChannelSessionID, &d.Date,
		&d.TotalMinutes, &d.SessionCount)
	return d, err
}

// DeleteChannelDailyByEpoch drops every channel roll-up row keyed to
// one epoch id. A provisional merge calls this after relabelling: the
// dead provisional id has no sessions left to recompute from, so its
// roll-ups must not survive.
func (s *Store) DeleteChannelDailyByEpoch(ctx context.Context, epochID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_daily_stats WHERE channel_session_id = ?`, epochID)
	return err
}

// RelabelUserDailyEpoch moves user roll-up rows from one epoch id to
// another. The user table's conflict key does not include the epoch,
// so an in-place update cannot collide.
func (s *Store) RelabelUserDailyEpoch(ctx context.Context, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_daily_stats SET channel_session_id = ?, updated_at = ?
		WHERE channel_session_id = ?`,
		newID, time.Now().Unix(), oldID)
	return err
}

// ListChannelDailyByEpoch returns the roll-up rows of one epoch in
// date order.
func (s *Store) ListChannelDailyByEpoch(ctx context.Context, epochID string) ([]ChannelDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, channel_name, channel_session_id, date,
			total_users, unique_users, total_minutes, first_activity, last_activity
		FROM channel_daily_stats
		WHERE channel_session_id = ?
		ORDER BY date ASC`,
		epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelDaily
	for rows.Next() {
		var d ChannelDaily
		var first, last sql.NullInt64
		if err := rows.Scan(&d.AppID, &d.ChannelName, &d.ChannelSessionID, &d.Date,
			&d.TotalUsers, &d.UniqueUsers, &d.TotalMinutes, &first, &last); err != nil {
			return nil, err
		}
		d.FirstActivity = intPtr(first)
		d.LastActivity = intPtr(last)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListUserDaily returns a user's roll-up rows in one app, newest date
// first, capped at limit.
func (s *Store) ListUserDaily(ctx context.Context, app string, uid int64, limit int) ([]UserDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, uid, channel_name, channel_session_id, date,
			total_minutes, session_count
		FROM user_daily_stats
		WHERE app_id = ? AND uid = ?
		ORDER BY date DESC LIMIT ?`,
		app, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserDaily
	for rows.Next() {
		var d UserDaily
		if err := rows.Scan(&d.AppID, &d.UID, &d.ChannelName, &d.ChannelSessionID, &d.Date,
			&d.TotalMinutes, &d.SessionCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
