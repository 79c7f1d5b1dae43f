package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rtcwatch/rtcwatch/internal/server/event"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// handleUserEvent applies the session state machine for join, leave
// and role-change notifications. Events without uid and clientSeq are
// persisted raw only.
func (e *Engine) handleUserEvent(ctx context.Context, s *store.Store, appID, epoch string, n event.Notification) error {
	p := n.Payload
	if p.UID == nil || p.ClientSeq == nil {
		e.logger.Info("user event missing uid or clientSeq, raw row only",
			"event_type", n.EventType,
			"channel", p.ChannelName,
			"notice_id", n.NoticeID,
		)
		return nil
	}
	uid, seq := *p.UID, *p.ClientSeq

	switch {
	case event.IsJoin(n.EventType):
		return e.handleJoin(ctx, s, appID, epoch, n, uid, seq)
	case event.IsLeave(n.EventType):
		return e.handleLeave(ctx, s, appID, epoch, n, uid, seq)
	case event.IsRoleChange(n.EventType):
		return e.handleRoleChange(ctx, s, appID, epoch, n, uid, seq)
	}
	return nil
}

func (e *Engine) handleJoin(ctx context.Context, s *store.Store, appID, epoch string, n event.Notification, uid, seq int64) error {
	p := n.Payload
	ts := *p.TS
	sess, err := s.FindNewestSession(ctx, epoch, uid)
	switch {
	case err == nil:
		if seq <= sess.LastClientSeq {
			// Stale join. Also covers a join arriving after its own
			// leave already synthesized and closed the session.
			e.logger.Debug("stale join ignored",
				"uid", uid, "client_seq", seq, "last_seq", sess.LastClientSeq)
			return nil
		}
		if sess.LeaveTime == nil {
			// Open session: either rewind to an earlier true start or
			// treat as a reconnection heartbeat. Both move join_time.
			return s.UpdateSessionJoin(ctx, sess.ID, ts, seq)
		}
		// Newest session is closed with an older seq: a genuine new
		// connection, fall through to create.

	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("find newest session: %w", err)
	}

	isHost, mode := event.JoinRole(n.EventType)
	id, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID:             appID,
		ChannelName:       p.ChannelName,
		ChannelSessionID:  epoch,
		UID:               uid,
		JoinTime:          ts,
		LastClientSeq:     seq,
		IsHost:            isHost,
		CommunicationMode: mode,
		ProductID:         &n.ProductID,
		Platform:          p.Platform,
		ClientType:        p.ClientType,
		SID:               n.SID,
		Account:           p.Account,
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	// Role switches that beat the join to the wire were queued in the
	// role-event table; replay them onto the fresh session in order.
	queued, err := s.ListRoleEventsForUserFrom(ctx, appID, p.ChannelName, epoch, uid, ts)
	if err != nil {
		return fmt.Errorf("list queued role events: %w", err)
	}
	for _, re := range queued {
		if err := s.UpdateSessionRole(ctx, id, re.IsHost); err != nil {
			return fmt.Errorf("replay role event: %w", err)
		}
	}
	return nil
}

func (e *Engine) handleLeave(ctx context.Context, s *store.Store, appID, epoch string, n event.Notification, uid, seq int64) error {
	p := n.Payload
	ts := *p.TS
	sess, err := s.FindOpenSession(ctx, epoch, uid)
	if errors.Is(err, sql.ErrNoRows) {
		sess, err = s.FindNewestOpenSessionAnyEpoch(ctx, appID, p.ChannelName, uid)
	}
	switch {
	case err == nil:
		join := sess.JoinTime
		if ts < join {
			// Impossible ordering: trust the declared duration to
			// reconstruct the start, else clamp.
			join = ts
			if p.Duration != nil {
				join = ts - *p.Duration
			}
			if err := s.SetSessionJoinTime(ctx, sess.ID, join); err != nil {
				return fmt.Errorf("rewind join time: %w", err)
			}
		}
		return s.CloseSession(ctx, sess.ID, ts, ts-join, seq, p.Reason, p.Account)

	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("find open session: %w", err)
	}

	if p.Duration == nil {
		// No open session and no duration: the interval cannot be
		// reconstructed.
		e.logger.Warn("orphan leave without duration dropped",
			"uid", uid, "channel", p.ChannelName, "ts", ts, "notice_id", n.NoticeID)
		return nil
	}

	isHost, mode := event.JoinRole(n.EventType)
	leave := ts
	_, err = s.InsertSession(ctx, store.InsertSessionParams{
		AppID:             appID,
		ChannelName:       p.ChannelName,
		ChannelSessionID:  epoch,
		UID:               uid,
		JoinTime:          ts - *p.Duration,
		LeaveTime:         &leave,
		DurationSeconds:   p.Duration,
		LastClientSeq:     seq,
		IsHost:            isHost,
		CommunicationMode: mode,
		ProductID:         &n.ProductID,
		Platform:          p.Platform,
		Reason:            p.Reason,
		ClientType:        p.ClientType,
		SID:               n.SID,
		Account:           p.Account,
	})
	if err != nil {
		return fmt.Errorf("synthesize closed session: %w", err)
	}
	return nil
}

func (e *Engine) handleRoleChange(ctx context.Context, s *store.Store, appID, epoch string, n event.Notification, uid, seq int64) error {
	p := n.Payload
	ts := *p.TS
	isHost := n.EventType == event.TypeRoleToBroadcaster
	if err := s.InsertRoleEvent(ctx, appID, p.ChannelName, epoch, uid, ts, isHost); err != nil {
		return fmt.Errorf("insert role event: %w", err)
	}

	sess, err := s.FindOpenSession(ctx, epoch, uid)
	if errors.Is(err, sql.ErrNoRows) {
		sess, err = s.FindNewestOpenSessionAnyEpoch(ctx, appID, p.ChannelName, uid)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Queued: the next matching join replays it.
		e.logger.Debug("role change queued, no open session",
			"uid", uid, "channel", p.ChannelName, "ts", ts)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find open session: %w", err)
	}
	// Mode stays fixed at creation; role switches never touch it.
	if err := s.UpdateSessionRole(ctx, sess.ID, isHost); err != nil {
		return err
	}
	if seq > sess.LastClientSeq {
		// Keep the stale-join check honest about the newest sequence
		// number this client has produced.
		return s.TouchSession(ctx, sess.ID, seq)
	}
	return nil
}
