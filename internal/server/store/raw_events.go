package store

import (
	"context"
	"database/sql"
	"time"
)

// provisionalMatch is the SQL predicate selecting rows labelled with a
// provisional epoch id.
const provisionalMatch = `channel_session_id LIKE '%\_provisional' ESCAPE '\'`

// InsertRawEventParams carries one notification row for the audit log.
type InsertRawEventParams struct {
	AppID            string
	NoticeID         string
	ProductID        int64
	EventType        int
	ChannelName      string
	UID              int64
	ClientSeq        int64
	Platform         *int64
	Reason           *int64
	ClientType       *int64
	TS               int64
	Duration         *int64
	ChannelSessionID string
	SID              string
	NotifyMs         int64
	RawPayload       string
}

// InsertRawEvent appends one row to the event log. The unique
// constraint on notice_id makes the write idempotent at the store
// level; callers treat a conflict as a duplicate.
func (s *Store) InsertRawEvent(ctx context.Context, p InsertRawEventParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events (
			app_id, notice_id, product_id, event_type, channel_name,
			uid, client_seq, platform, reason, client_type,
			ts, duration, channel_session_id, sid, notify_ms,
			raw_payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AppID, p.NoticeID, p.ProductID, p.EventType, p.ChannelName,
		p.UID, p.ClientSeq, nullInt(p.Platform), nullInt(p.Reason), nullInt(p.ClientType),
		p.TS, nullInt(p.Duration), p.ChannelSessionID, p.SID, p.NotifyMs,
		p.RawPayload, time.Now().Unix(),
	)
	return err
}

// HasRawEvent reports whether a notification with this notice_id was
// already committed.
func (s *Store) HasRawEvent(ctx context.Context, noticeID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_events WHERE notice_id = ?`, noticeID).Scan(&n)
	return n > 0, err
}

// FindNewestCreateAtOrBefore returns the timestamp of the most recent
// channel-created event at or before ts. sql.ErrNoRows when none exists.
func (s *Store) FindNewestCreateAtOrBefore(ctx context.Context, app, channel string, ts int64) (int64, error) {
	var createTS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 101 AND ts <= ?
		ORDER BY ts DESC LIMIT 1`,
		app, channel, ts).Scan(&createTS)
	return createTS, err
}

// FindNewestDestroyAtOrBefore returns the timestamp of the most recent
// channel-destroyed event at or before ts.
func (s *Store) FindNewestDestroyAtOrBefore(ctx context.Context, app, channel string, ts int64) (int64, error) {
	var destroyTS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 102 AND ts <= ?
		ORDER BY ts DESC LIMIT 1`,
		app, channel, ts).Scan(&destroyTS)
	return destroyTS, err
}

// FindNewestCreateBefore returns the timestamp of the most recent
// channel-created event strictly before ts.
func (s *Store) FindNewestCreateBefore(ctx context.Context, app, channel string, ts int64) (int64, error) {
	var createTS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 101 AND ts < ?
		ORDER BY ts DESC LIMIT 1`,
		app, channel, ts).Scan(&createTS)
	return createTS, err
}

// FindNextCreateAfter returns the timestamp of the earliest
// channel-created event strictly after ts.
func (s *Store) FindNextCreateAfter(ctx context.Context, app, channel string, ts int64) (int64, error) {
	var createTS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 101 AND ts > ?
		ORDER BY ts ASC LIMIT 1`,
		app, channel, ts).Scan(&createTS)
	return createTS, err
}

// HasDestroyInRange reports whether a channel-destroyed event exists
// with after < ts <= upto.
func (s *Store) HasDestroyInRange(ctx context.Context, app, channel string, after, upto int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 102 AND ts > ? AND ts <= ?`,
		app, channel, after, upto).Scan(&n)
	return n > 0, err
}

// HasDestroyStrictlyBetween reports whether a channel-destroyed event
// exists with after < ts < before.
func (s *Store) HasDestroyStrictlyBetween(ctx context.Context, app, channel string, after, before int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 102 AND ts > ? AND ts < ?`,
		app, channel, after, before).Scan(&n)
	return n > 0, err
}

// HasDestroyAt reports whether a channel-destroyed event exists at
// exactly ts.
func (s *Store) HasDestroyAt(ctx context.Context, app, channel string, ts int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND event_type = 102 AND ts = ?`,
		app, channel, ts).Scan(&n)
	return n > 0, err
}

// FindNewestProvisionalEpochAtOrBefore returns the provisional epoch id
// most recently used for this channel at or before ts.
func (s *Store) FindNewestProvisionalEpochAtOrBefore(ctx context.Context, app, channel string, ts int64) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_session_id FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND ts <= ? AND `+provisionalMatch+`
		ORDER BY ts DESC LIMIT 1`,
		app, channel, ts).Scan(&id)
	return id, err
}

// RelabelRawEvents rewrites the epoch id of provisional raw rows with
// from <= ts < to. Returns the number of rows relabelled.
func (s *Store) RelabelRawEvents(ctx context.Context, app, channel string, from, to int64, newID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET channel_session_id = ?
		WHERE app_id = ? AND channel_name = ? AND ts >= ? AND ts < ? AND `+provisionalMatch,
		newID, app, channel, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListJoinEventsInWindow returns the join webhook rows for one user in
// one epoch within [from, to], used for initial-role inference.
func (s *Store) ListJoinEventsInWindow(ctx context.Context, epochID string, uid, from, to int64) ([]RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, notice_id, event_type, channel_name, uid, ts
		FROM raw_events
		WHERE channel_session_id = ? AND uid = ? AND event_type IN (103, 105, 107)
			AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`,
		epochID, uid, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var e RawEvent
		if err := rows.Scan(&e.ID, &e.AppID, &e.NoticeID, &e.EventType, &e.ChannelName, &e.UID, &e.TS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FirstCreateInRange returns the earliest channel-created timestamp for
// one epoch within [from, to).
func (s *Store) FirstCreateInRange(ctx context.Context, app, channel, epochID string, from, to int64) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(ts) FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND channel_session_id = ?
			AND event_type = 101 AND ts >= ? AND ts < ?`,
		app, channel, epochID, from, to).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, sql.ErrNoRows
	}
	return ts.Int64, nil
}

// LastTerminalInRange returns the latest destroy-or-leave timestamp for
// one epoch within [from, to).
func (s *Store) LastTerminalInRange(ctx context.Context, app, channel, epochID string, from, to int64) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND channel_session_id = ?
			AND event_type IN (102, 104, 106, 108) AND ts >= ? AND ts < ?`,
		app, channel, epochID, from, to).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, sql.ErrNoRows
	}
	return ts.Int64, nil
}

// CountRawActivityInRange counts event rows and distinct non-zero uids
// for one epoch within [from, to). Used as the aggregate fallback when
// a day has events but no sessions.
func (s *Store) CountRawActivityInRange(ctx context.Context, app, channel, epochID string, from, to int64) (total, uniqueUsers int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT CASE WHEN uid > 0 THEN uid END)
		FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND channel_session_id = ?
			AND ts >= ? AND ts < ?`,
		app, channel, epochID, from, to).Scan(&total, &uniqueUsers)
	return total, uniqueUsers, err
}

// ListProvisionalEpochsInRange returns the distinct provisional epoch
// ids labelling raw rows with ts in [from, to). A provisional merge
// collects them before relabelling so their stale roll-ups can be
// dropped afterwards.
func (s *Store) ListProvisionalEpochsInRange(ctx context.Context, app, channel string, from, to int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT channel_session_id FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND ts >= ? AND ts < ?
			AND `+provisionalMatch,
		app, channel, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListChannels returns every (app, channel) pair present in the event
// log. Used by the offline recompute path.
func (s *Store) ListChannels(ctx context.Context) ([]AppChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT app_id, channel_name FROM raw_events ORDER BY app_id, channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppChannel
	for rows.Next() {
		var c AppChannel
		if err := rows.Scan(&c.AppID, &c.ChannelName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEpochDays returns the distinct (epoch, day-start) pairs with raw
// activity for one channel. Day starts are midnight UTC unix seconds.
func (s *Store) ListEpochDays(ctx context.Context, app, channel string) (map[string][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT channel_session_id, (ts / 86400) * 86400
		FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND channel_session_id != ''`,
		app, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var epoch string
		var dayStart int64
		if err := rows.Scan(&epoch, &dayStart); err != nil {
			return nil, err
		}
		out[epoch] = append(out[epoch], dayStart)
	}
	return out, rows.Err()
}

// ListUIDsInRange returns the distinct non-zero uids with raw activity
// for one epoch within [from, to).
func (s *Store) ListUIDsInRange(ctx context.Context, app, channel, epochID string, from, to int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT uid FROM raw_events
		WHERE app_id = ? AND channel_name = ? AND channel_session_id = ?
			AND uid > 0 AND ts >= ? AND ts < ?`,
		app, channel, epochID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}
