package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/rtcwatch/rtcwatch/internal/server/event"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// resolveEpoch labels one notification with a channel epoch id. The
// returned apply func mutates the in-memory active-epoch map and must
// only run after the enclosing transaction commits.
func (e *Engine) resolveEpoch(ctx context.Context, s *store.Store, appID string, n event.Notification) (string, func(), error) {
	channel := n.Payload.ChannelName
	ts := *n.Payload.TS
	noop := func() {}

	switch {
	case n.EventType == event.TypeChannelCreated:
		id := event.ConfirmedEpoch(appID, channel, ts)
		if err := e.mergeProvisional(ctx, s, appID, channel, ts, id); err != nil {
			return "", nil, err
		}
		return id.String(), func() { e.setActive(appID, channel, id) }, nil

	case n.EventType == event.TypeChannelDestroyed:
		id, err := e.labelDestroy(ctx, s, appID, channel, ts)
		if err != nil {
			return "", nil, err
		}
		return id, func() { e.unsetActive(appID, channel) }, nil

	case event.IsUserEvent(n.EventType):
		if id, ok := e.getActive(appID, channel); ok {
			return id.String(), noop, nil
		}
		return e.lookupEpoch(ctx, s, appID, channel, n.EventType, ts)
	}

	// Unknown codes get the active label when one exists, else stay
	// unlabelled in the raw log.
	if id, ok := e.getActive(appID, channel); ok {
		return id.String(), noop, nil
	}
	return "", noop, nil
}

// labelDestroy picks the epoch a destroy event closes: the active one
// when known, else the newest enclosing create, else a dangling
// provisional.
func (e *Engine) labelDestroy(ctx context.Context, s *store.Store, appID, channel string, ts int64) (string, error) {
	if id, ok := e.getActive(appID, channel); ok {
		return id.String(), nil
	}
	tsC, err := s.FindNewestCreateAtOrBefore(ctx, appID, channel, ts)
	switch {
	case err == nil:
		return event.ConfirmedEpoch(appID, channel, tsC).String(), nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}
	pid, err := s.FindNewestProvisionalEpochAtOrBefore(ctx, appID, channel, ts)
	switch {
	case err == nil:
		return pid, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}
	return "", nil
}

// lookupEpoch is the ladder for user events arriving with no active
// epoch. Rules are ordered; first match wins.
func (e *Engine) lookupEpoch(ctx context.Context, s *store.Store, appID, channel string, eventType int, ts int64) (string, func(), error) {
	noop := func() {}

	// (a) A confirmed create at or before ts with no destroy since:
	// the channel is still live, reinstate it.
	tsC, err := s.FindNewestCreateAtOrBefore(ctx, appID, channel, ts)
	haveCreate := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", nil, err
	}
	if haveCreate {
		destroyed, err := s.HasDestroyInRange(ctx, appID, channel, tsC, ts)
		if err != nil {
			return "", nil, err
		}
		if !destroyed {
			id := event.ConfirmedEpoch(appID, channel, tsC)
			return id.String(), func() { e.setActive(appID, channel, id) }, nil
		}
	}

	// (b) Leave events may land after the channel already died. Label
	// with the enclosing finished epoch without reviving it.
	if event.IsLeave(eventType) {
		tsD, err := s.FindNewestDestroyAtOrBefore(ctx, appID, channel, ts)
		if err == nil {
			tsC2, err := s.FindNewestCreateBefore(ctx, appID, channel, tsD)
			if err == nil {
				return event.ConfirmedEpoch(appID, channel, tsC2).String(), noop, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return "", nil, err
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return "", nil, err
		}
	}

	// (c) Destroy at exactly ts: the event raced the teardown, attach
	// it to the epoch that just ended and keep the epoch addressable.
	if haveCreate {
		atTS, err := s.HasDestroyAt(ctx, appID, channel, ts)
		if err != nil {
			return "", nil, err
		}
		if atTS && tsC < ts {
			id := event.ConfirmedEpoch(appID, channel, tsC)
			return id.String(), func() { e.setActive(appID, channel, id) }, nil
		}
	}

	// (d) Reuse the latest provisional epoch unless a destroy cut it off.
	pid, err := s.FindNewestProvisionalEpochAtOrBefore(ctx, appID, channel, ts)
	if err == nil {
		parsed, perr := event.ParseEpochID(appID, channel, pid)
		if perr != nil {
			return "", nil, fmt.Errorf("corrupt provisional epoch id %q: %w", pid, perr)
		}
		cut, err := s.HasDestroyStrictlyBetween(ctx, appID, channel, parsed.TS, ts)
		if err != nil {
			return "", nil, err
		}
		if !cut {
			return pid, func() { e.setActive(appID, channel, parsed) }, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", nil, err
	}

	// (e) Nothing to attach to: open a provisional epoch, to be merged
	// by the create notification when it arrives.
	id := event.ProvisionalEpoch(appID, channel, ts)
	return id.String(), func() { e.setActive(appID, channel, id) }, nil
}

// mergeProvisional folds provisional rows into confirmed epochs when a
// create at tsC arrives. Rows in [tsC, nextCreate) belong to the new
// epoch; rows in [prevDestroy, tsC) belong to the previous confirmed
// epoch, when one exists.
func (e *Engine) mergeProvisional(ctx context.Context, s *store.Store, appID, channel string, tsC int64, id event.EpochID) error {
	upper := int64(math.MaxInt64)
	next, err := s.FindNextCreateAfter(ctx, appID, channel, tsC)
	if err == nil {
		upper = next
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	// Provisional ids absorbed by this merge, keyed to the confirmed id
	// their rows move onto.
	absorbed := make(map[string]string)

	ids, err := s.ListProvisionalEpochsInRange(ctx, appID, channel, tsC, upper)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		absorbed[pid] = id.String()
	}
	if err := relabelRange(ctx, s, appID, channel, tsC, upper, id.String()); err != nil {
		return err
	}

	prevID, prevDestroy, havePrev, err := previousEpoch(ctx, s, appID, channel, tsC)
	if err != nil {
		return err
	}
	if havePrev {
		ids, err := s.ListProvisionalEpochsInRange(ctx, appID, channel, prevDestroy, tsC)
		if err != nil {
			return err
		}
		for _, pid := range ids {
			absorbed[pid] = prevID.String()
		}
		if err := relabelRange(ctx, s, appID, channel, prevDestroy, tsC, prevID.String()); err != nil {
			return err
		}
	}

	return dropAbsorbedRollups(ctx, s, appID, channel, absorbed)
}

// previousEpoch locates the confirmed epoch that ended closest before
// tsC, returning its id and destroy timestamp.
func previousEpoch(ctx context.Context, s *store.Store, appID, channel string, tsC int64) (event.EpochID, int64, bool, error) {
	prevDestroy, err := s.FindNewestDestroyAtOrBefore(ctx, appID, channel, tsC)
	if errors.Is(err, sql.ErrNoRows) {
		return event.EpochID{}, 0, false, nil
	}
	if err != nil {
		return event.EpochID{}, 0, false, err
	}
	prevCreate, err := s.FindNewestCreateBefore(ctx, appID, channel, prevDestroy)
	if errors.Is(err, sql.ErrNoRows) {
		return event.EpochID{}, 0, false, nil
	}
	if err != nil {
		return event.EpochID{}, 0, false, err
	}
	return event.ConfirmedEpoch(appID, channel, prevCreate), prevDestroy, true, nil
}

// dropAbsorbedRollups clears the per-day roll-ups of provisional epochs
// whose rows were all relabelled away: the dead id has no sessions left
// to recompute from, so its channel rows are deleted outright and its
// user rows move onto the confirmed id. A provisional id that still
// owns rows outside the merged span is left alone.
func dropAbsorbedRollups(ctx context.Context, s *store.Store, appID, channel string, absorbed map[string]string) error {
	if len(absorbed) == 0 {
		return nil
	}
	live, err := s.ListProvisionalEpochsInRange(ctx, appID, channel, 0, math.MaxInt64)
	if err != nil {
		return err
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}
	for old, confirmed := range absorbed {
		if _, ok := liveSet[old]; ok {
			continue
		}
		if err := s.DeleteChannelDailyByEpoch(ctx, old); err != nil {
			return fmt.Errorf("drop merged channel roll-ups: %w", err)
		}
		if err := s.RelabelUserDailyEpoch(ctx, old, confirmed); err != nil {
			return fmt.Errorf("relabel merged user roll-ups: %w", err)
		}
	}
	return nil
}

func relabelRange(ctx context.Context, s *store.Store, appID, channel string, from, to int64, newID string) error {
	if _, err := s.RelabelSessions(ctx, appID, channel, from, to, newID); err != nil {
		return fmt.Errorf("relabel sessions: %w", err)
	}
	if _, err := s.RelabelRoleEvents(ctx, appID, channel, from, to, newID); err != nil {
		return fmt.Errorf("relabel role events: %w", err)
	}
	if _, err := s.RelabelRawEvents(ctx, appID, channel, from, to, newID); err != nil {
		return fmt.Errorf("relabel raw events: %w", err)
	}
	return nil
}
