package store

import (
	"context"
	"database/sql"
	"time"
)

// InsertSessionParams carries the fields required to open (or
// synthesize) one presence session.
type InsertSessionParams struct {
	AppID             string
	ChannelName       string
	ChannelSessionID  string
	UID               int64
	JoinTime          int64
	LeaveTime         *int64
	DurationSeconds   *int64
	LastClientSeq     int64
	IsHost            bool
	CommunicationMode int
	ProductID         *int64
	Platform          *int64
	Reason            *int64
	ClientType        *int64
	SID               string
	Account           string
}

// InsertSession opens a new session row and returns its id.
func (s *Store) InsertSession(ctx context.Context, p InsertSessionParams) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			app_id, channel_name, channel_session_id, uid,
			join_time, leave_time, duration_seconds, last_client_seq,
			is_host, communication_mode, role_switches,
			product_id, platform, reason, client_type,
			sid, account, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AppID, p.ChannelName, p.ChannelSessionID, p.UID,
		p.JoinTime, nullInt(p.LeaveTime), nullInt(p.DurationSeconds), p.LastClientSeq,
		p.IsHost, p.CommunicationMode,
		nullInt(p.ProductID), nullInt(p.Platform), nullInt(p.Reason), nullInt(p.ClientType),
		p.SID, p.Account, now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindOpenSession returns the open session for (epoch, uid), or
// sql.ErrNoRows when the user has no open session in that epoch.
func (s *Store) FindOpenSession(ctx context.Context, epochID string, uid int64) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE channel_session_id = ? AND uid = ? AND leave_time IS NULL
		ORDER BY join_time DESC LIMIT 1`,
		epochID, uid)
	return scanSession(row)
}

// FindNewestSession returns the most recent session for (epoch, uid)
// regardless of state. Joins consult it so a sequence number already
// superseded by a closed session is recognized as stale.
func (s *Store) FindNewestSession(ctx context.Context, epochID string, uid int64) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE channel_session_id = ? AND uid = ?
		ORDER BY join_time DESC, id DESC LIMIT 1`,
		epochID, uid)
	return scanSession(row)
}

// FindNewestOpenSessionAnyEpoch returns the most recently joined open
// session for the user anywhere in the channel, regardless of epoch.
// Used to close dangling sessions when a leave cannot be matched to
// the current epoch.
func (s *Store) FindNewestOpenSessionAnyEpoch(ctx context.Context, app, channel string, uid int64) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE app_id = ? AND channel_name = ? AND uid = ? AND leave_time IS NULL
		ORDER BY join_time DESC LIMIT 1`,
		app, channel, uid)
	return scanSession(row)
}

// UpdateSessionJoin moves the session start and sequence number. Used
// both to rewind after an out-of-order early join and to refresh on a
// reconnection heartbeat. Role and mode are left alone.
func (s *Store) UpdateSessionJoin(ctx context.Context, id, joinTime, clientSeq int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET join_time = ?, last_client_seq = ?, updated_at = ?
		WHERE id = ?`,
		joinTime, clientSeq, time.Now().Unix(), id)
	return err
}

// TouchSession refreshes last_client_seq on a duplicate-looking join
// that carries a newer sequence number.
func (s *Store) TouchSession(ctx context.Context, id, clientSeq int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_client_seq = ?, updated_at = ?
		WHERE id = ?`,
		clientSeq, time.Now().Unix(), id)
	return err
}

// CloseSession finalizes an open session with its leave metadata.
func (s *Store) CloseSession(ctx context.Context, id, leaveTime, duration, clientSeq int64, reason *int64, account string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET leave_time = ?, duration_seconds = ?,
			last_client_seq = MAX(last_client_seq, ?), reason = COALESCE(?, reason),
			account = CASE WHEN ? != '' THEN ? ELSE account END,
			updated_at = ?
		WHERE id = ?`,
		leaveTime, duration, clientSeq, nullInt(reason), account, account, time.Now().Unix(), id)
	return err
}

// SetSessionJoinTime rewrites join_time only, used when a leave's
// declared duration places the start earlier than recorded.
func (s *Store) SetSessionJoinTime(ctx context.Context, id, joinTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET join_time = ?, updated_at = ? WHERE id = ?`,
		joinTime, time.Now().Unix(), id)
	return err
}

// UpdateSessionRole applies a role switch to an open session and bumps
// the switch counter. Communication mode is never touched here.
func (s *Store) UpdateSessionRole(ctx context.Context, id int64, isHost bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_host = ?, role_switches = role_switches + 1, updated_at = ?
		WHERE id = ?`,
		isHost, time.Now().Unix(), id)
	return err
}

// RelabelSessions moves provisional sessions whose join_time falls in
// [from, to) onto a confirmed epoch id.
func (s *Store) RelabelSessions(ctx context.Context, app, channel string, from, to int64, newID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET channel_session_id = ?, updated_at = ?
		WHERE app_id = ? AND channel_name = ? AND join_time >= ? AND join_time < ?
			AND `+provisionalMatch,
		newID, time.Now().Unix(), app, channel, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListSessionsByEpoch returns the sessions of one epoch ordered by
// join time, capped at limit.
func (s *Store) ListSessionsByEpoch(ctx context.Context, epochID string, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE channel_session_id = ?
		ORDER BY join_time ASC, id ASC LIMIT ?`,
		epochID, limit)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// ListSessionsByEpochForDay returns the epoch's sessions overlapping
// the day window [dayStart, dayEnd). Open sessions always overlap.
func (s *Store) ListSessionsByEpochForDay(ctx context.Context, epochID string, dayStart, dayEnd int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE channel_session_id = ?
			AND join_time < ?
			AND (leave_time IS NULL OR leave_time >= ?)
		ORDER BY join_time ASC, id ASC`,
		epochID, dayEnd, dayStart)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// ListSessionsByUser returns a user's sessions in one app, newest
// first, capped at limit.
func (s *Store) ListSessionsByUser(ctx context.Context, app string, uid int64, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE app_id = ? AND uid = ?
		ORDER BY join_time DESC, id DESC LIMIT ?`,
		app, uid, limit)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// ListSessionsOverlapping returns every session in an app overlapping
// [from, to), across all channels. Used to build minute series.
func (s *Store) ListSessionsOverlapping(ctx context.Context, app string, from, to int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE app_id = ? AND join_time < ?
			AND (leave_time IS NULL OR leave_time > ?)
		ORDER BY join_time ASC, id ASC`,
		app, to, from)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// LatestEpochForChannel returns the epoch id with the most recent
// session activity in one channel.
func (s *Store) LatestEpochForChannel(ctx context.Context, app, channel string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_session_id FROM sessions
		WHERE app_id = ? AND channel_name = ?
		ORDER BY join_time DESC, id DESC LIMIT 1`,
		app, channel).Scan(&id)
	return id, err
}

// ListChannelEpochs pages the per-(channel, epoch) roll-up over
// completed sessions, ordered by most recent activity.
func (s *Store) ListChannelEpochs(ctx context.Context, app string, limit, offset int) ([]EpochSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_name, channel_session_id,
			COALESCE(SUM(duration_seconds), 0),
			COUNT(DISTINCT uid),
			MIN(join_time),
			MAX(COALESCE(leave_time, join_time))
		FROM sessions
		WHERE app_id = ? AND leave_time IS NOT NULL
		GROUP BY channel_name, channel_session_id
		ORDER BY MAX(COALESCE(leave_time, join_time)) DESC
		LIMIT ? OFFSET ?`,
		app, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpochSummary
	for rows.Next() {
		var e EpochSummary
		var first, last sql.NullInt64
		if err := rows.Scan(&e.ChannelName, &e.ChannelSessionID, &e.TotalSeconds, &e.UniqueUsers, &first, &last); err != nil {
			return nil, err
		}
		e.FirstActivity = intPtr(first)
		e.LastActivity = intPtr(last)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountChannelEpochs returns the number of (channel, epoch) groups
// with at least one completed session.
func (s *Store) CountChannelEpochs(ctx context.Context, app string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM sessions
			WHERE app_id = ? AND leave_time IS NOT NULL
			GROUP BY channel_name, channel_session_id
		)`,
		app).Scan(&n)
	return n, err
}

const sessionColumns = `id, app_id, channel_name, channel_session_id, uid,
	join_time, leave_time, duration_seconds, last_client_seq,
	is_host, communication_mode, role_switches,
	product_id, platform, reason, client_type,
	sid, account, created_at, updated_at`

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var leave, dur, product, platform, reason, clientType sql.NullInt64
	err := row.Scan(
		&sess.ID, &sess.AppID, &sess.ChannelName, &sess.ChannelSessionID, &sess.UID,
		&sess.JoinTime, &leave, &dur, &sess.LastClientSeq,
		&sess.IsHost, &sess.CommunicationMode, &sess.RoleSwitches,
		&product, &platform, &reason, &clientType,
		&sess.SID, &sess.Account, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	sess.LeaveTime = intPtr(leave)
	sess.DurationSeconds = intPtr(dur)
	sess.ProductID = intPtr(product)
	sess.Platform = intPtr(platform)
	sess.Reason = intPtr(reason)
	sess.ClientType = intPtr(clientType)
	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		var leave, dur, product, platform, reason, clientType sql.NullInt64
		if err := rows.Scan(
			&sess.ID, &sess.AppID, &sess.ChannelName, &sess.ChannelSessionID, &sess.UID,
			&sess.JoinTime, &leave, &dur, &sess.LastClientSeq,
			&sess.IsHost, &sess.CommunicationMode, &sess.RoleSwitches,
			&product, &platform, &reason, &clientType,
			&sess.SID, &sess.Account, &sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sess.LeaveTime = intPtr(leave)
		sess.DurationSeconds = intPtr(dur)
		sess.ProductID = intPtr(product)
		sess.Platform = intPtr(platform)
		sess.Reason = intPtr(reason)
		sess.ClientType = intPtr(clientType)
		out = append(out, sess)
	}
	return out, rows.Err()
}
