package store

import "context"

// InsertRoleEvent records one immutable role-switch row.
func (s *Store) InsertRoleEvent(ctx context.Context, app, channel, epochID string, uid, ts int64, isHost bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_events (app_id, channel_name, channel_session_id, uid, ts, is_host)
		VALUES (?, ?, ?, ?, ?, ?)`,
		app, channel, epochID, uid, ts, isHost)
	return err
}

// ListRoleEventsForUserFrom returns the role switches for one user at
// or after ts, matching both the epoch itself and any provisional
// sibling of the same channel, in timestamp order. A late-arriving
// join replays these onto the fresh session.
func (s *Store) ListRoleEventsForUserFrom(ctx context.Context, app, channel, epochID string, uid, ts int64) ([]RoleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, channel_name, channel_session_id, uid, ts, is_host
		FROM role_events
		WHERE app_id = ? AND channel_name = ? AND uid = ? AND ts >= ?
			AND (channel_session_id = ? OR `+provisionalMatch+`)
		ORDER BY ts ASC, id ASC`,
		app, channel, uid, ts, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleEvent
	for rows.Next() {
		var e RoleEvent
		if err := rows.Scan(&e.ID, &e.AppID, &e.ChannelName, &e.ChannelSessionID, &e.UID, &e.TS, &e.IsHost); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRoleEventsByEpoch returns every role switch in one epoch in
// timestamp order. The analytics layer builds role intervals from it.
func (s *Store) ListRoleEventsByEpoch(ctx context.Context, epochID string) ([]RoleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, channel_name, channel_session_id, uid, ts, is_host
		FROM role_events
		WHERE channel_session_id = ?
		ORDER BY ts ASC, id ASC`,
		epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleEvent
	for rows.Next() {
		var e RoleEvent
		if err := rows.Scan(&e.ID, &e.AppID, &e.ChannelName, &e.ChannelSessionID, &e.UID, &e.TS, &e.IsHost); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RelabelRoleEvents moves provisional role rows with from <= ts < to
// onto a confirmed epoch id.
func (s *Store) RelabelRoleEvents(ctx context.Context, app, channel string, from, to int64, newID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE role_events SET channel_session_id = ?
		WHERE app_id = ? AND channel_name = ? AND ts >= ? AND ts < ?
			AND `+provisionalMatch,
		newID, app, channel, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
