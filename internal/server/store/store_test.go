package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/server/db"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))
	return store.New(conn)
}

func i64(v int64) *int64 { return &v }

func insertRaw(t *testing.T, s *store.Store, noticeID string, eventType int, channel string, uid, ts int64, epochID string) {
	t.Helper()
	require.NoError(t, s.InsertRawEvent(context.Background(), store.InsertRawEventParams{
		AppID:            "app1",
		NoticeID:         noticeID,
		ProductID:        1,
		EventType:        eventType,
		ChannelName:      channel,
		UID:              uid,
		TS:               ts,
		ChannelSessionID: epochID,
	}))
}

func TestRawEvent_Dedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertRaw(t, s, "n-1", 101, "ch", 0, 1000, "app1_ch_1000")

	seen, err := s.HasRawEvent(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.HasRawEvent(ctx, "n-2")
	require.NoError(t, err)
	assert.False(t, seen)

	// The unique constraint rejects a second row with the same notice id.
	err = s.InsertRawEvent(ctx, store.InsertRawEventParams{
		AppID: "app1", NoticeID: "n-1", ProductID: 1, EventType: 101,
		ChannelName: "ch", TS: 1000, ChannelSessionID: "app1_ch_1000",
	})
	assert.Error(t, err)
}

func TestRawEvent_CreateDestroyNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertRaw(t, s, "n-1", 101, "ch", 0, 1000, "app1_ch_1000")
	insertRaw(t, s, "n-2", 102, "ch", 0, 2000, "app1_ch_1000")
	insertRaw(t, s, "n-3", 101, "ch", 0, 3000, "app1_ch_3000")

	ts, err := s.FindNewestCreateAtOrBefore(ctx, "app1", "ch", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)

	ts, err = s.FindNewestCreateAtOrBefore(ctx, "app1", "ch", 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), ts)

	_, err = s.FindNewestCreateAtOrBefore(ctx, "app1", "ch", 500)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	ts, err = s.FindNextCreateAfter(ctx, "app1", "ch", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), ts)

	has, err := s.HasDestroyInRange(ctx, "app1", "ch", 1000, 2500)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasDestroyStrictlyBetween(ctx, "app1", "ch", 2000, 3000)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = s.HasDestroyAt(ctx, "app1", "ch", 2000)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestProvisionalLookupAndRelabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertRaw(t, s, "n-1", 103, "ch", 42, 1500, "app1_ch_1500_provisional")
	insertRaw(t, s, "n-2", 111, "ch", 42, 1600, "app1_ch_1500_provisional")

	id, err := s.FindNewestProvisionalEpochAtOrBefore(ctx, "app1", "ch", 1700)
	require.NoError(t, err)
	assert.Equal(t, "app1_ch_1500_provisional", id)

	// Underscore in the LIKE pattern must not match arbitrary characters.
	insertRaw(t, s, "n-3", 103, "ch", 43, 1800, "app1_ch_1800Xprovisional")
	id, err = s.FindNewestProvisionalEpochAtOrBefore(ctx, "app1", "ch", 1900)
	require.NoError(t, err)
	assert.Equal(t, "app1_ch_1500_provisional", id)

	n, err := s.RelabelRawEvents(ctx, "app1", "ch", 1400, 1700, "app1_ch_1400")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.FindNewestProvisionalEpochAtOrBefore(ctx, "app1", "ch", 1700)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	epoch := "app1_ch_1000"

	id, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: epoch,
		UID: 42, JoinTime: 1100, LastClientSeq: 5, IsHost: true,
		Platform: i64(6), ClientType: i64(10),
	})
	require.NoError(t, err)

	open, err := s.FindOpenSession(ctx, epoch, 42)
	require.NoError(t, err)
	assert.Equal(t, id, open.ID)
	assert.True(t, open.IsHost)
	assert.Nil(t, open.LeaveTime)
	require.NotNil(t, open.Platform)
	assert.Equal(t, int64(6), *open.Platform)

	require.NoError(t, s.UpdateSessionRole(ctx, id, false))
	open, err = s.FindOpenSession(ctx, epoch, 42)
	require.NoError(t, err)
	assert.False(t, open.IsHost)
	assert.Equal(t, int64(1), open.RoleSwitches)

	require.NoError(t, s.CloseSession(ctx, id, 1400, 300, 9, i64(1), "alice"))
	_, err = s.FindOpenSession(ctx, epoch, 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	all, err := s.ListSessionsByEpoch(ctx, epoch, 100)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].LeaveTime)
	assert.Equal(t, int64(1400), *all[0].LeaveTime)
	require.NotNil(t, all[0].DurationSeconds)
	assert.Equal(t, int64(300), *all[0].DurationSeconds)
	assert.Equal(t, int64(9), all[0].LastClientSeq)
}

func TestFindNewestOpenSessionAnyEpoch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: "app1_ch_1000",
		UID: 42, JoinTime: 1100,
	})
	require.NoError(t, err)
	id2, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: "app1_ch_2000",
		UID: 42, JoinTime: 2100,
	})
	require.NoError(t, err)

	open, err := s.FindNewestOpenSessionAnyEpoch(ctx, "app1", "ch", 42)
	require.NoError(t, err)
	assert.Equal(t, id2, open.ID)
}

func TestRelabelSessions_OnlyProvisional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: "app1_ch_900_provisional",
		UID: 1, JoinTime: 950,
	})
	require.NoError(t, err)
	_, err = s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: "app1_ch_800",
		UID: 2, JoinTime: 960,
	})
	require.NoError(t, err)

	n, err := s.RelabelSessions(ctx, "app1", "ch", 900, 2000, "app1_ch_900")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	moved, err := s.ListSessionsByEpoch(ctx, "app1_ch_900", 10)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, int64(1), moved[0].UID)

	kept, err := s.ListSessionsByEpoch(ctx, "app1_ch_800", 10)
	require.NoError(t, err)
	require.Len(t, kept, 1)
}

func TestListChannelEpochs_Paging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, epoch := range []string{"app1_a_100", "app1_b_200", "app1_c_300"} {
		join := int64(100 + i*1000)
		leave := join + 60
		_, err := s.InsertSession(ctx, store.InsertSessionParams{
			AppID: "app1", ChannelName: epoch[5:6], ChannelSessionID: epoch,
			UID: 1, JoinTime: join, LeaveTime: &leave, DurationSeconds: i64(60),
		})
		require.NoError(t, err)
	}
	// An open session must not surface in the completed-epoch list.
	_, err := s.InsertSession(ctx, store.InsertSessionParams{
		AppID: "app1", ChannelName: "d", ChannelSessionID: "app1_d_400",
		UID: 1, JoinTime: 5000,
	})
	require.NoError(t, err)

	total, err := s.CountChannelEpochs(ctx, "app1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	page, err := s.ListChannelEpochs(ctx, "app1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "app1_c_300", page[0].ChannelSessionID)
	assert.Equal(t, int64(60), page[0].TotalSeconds)

	page, err = s.ListChannelEpochs(ctx, "app1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "app1_a_100", page[0].ChannelSessionID)
}

func TestRoleEvents_ReplayMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRoleEvent(ctx, "app1", "ch", "app1_ch_1000", 42, 1200, false))
	require.NoError(t, s.InsertRoleEvent(ctx, "app1", "ch", "app1_ch_900_provisional", 42, 1300, true))
	require.NoError(t, s.InsertRoleEvent(ctx, "app1", "ch", "app1_ch_500", 42, 1400, false))
	require.NoError(t, s.InsertRoleEvent(ctx, "app1", "ch", "app1_ch_1000", 42, 1100, true))

	// Matches the epoch itself plus provisional siblings, at or after ts.
	events, err := s.ListRoleEventsForUserFrom(ctx, "app1", "ch", "app1_ch_1000", 42, 1150)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1200), events[0].TS)
	assert.Equal(t, int64(1300), events[1].TS)
}

func TestAggregates_UpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := store.UpsertChannelDailyParams{
		AppID: "app1", ChannelName: "ch", ChannelSessionID: "app1_ch_1000",
		Date: "2026-08-20", TotalUsers: 3, UniqueUsers: 2, TotalMinutes: 12.5,
		FirstActivity: i64(1000), LastActivity: i64(1800),
	}
	require.NoError(t, s.UpsertChannelDaily(ctx, p))

	p.TotalUsers = 5
	p.TotalMinutes = 20
	require.NoError(t, s.UpsertChannelDaily(ctx, p))

	got, err := s.GetChannelDaily(ctx, "app1", "ch", "app1_ch_1000", "2026-08-20")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.TotalUsers)
	assert.Equal(t, 20.0, got.TotalMinutes)

	up := store.UpsertUserDailyParams{
		AppID: "app1", UID: 42, ChannelName: "ch", ChannelSessionID: "app1_ch_1000",
		Date: "2026-08-20", TotalMinutes: 5, SessionCount: 1,
	}
	require.NoError(t, s.UpsertUserDaily(ctx, up))
	up.TotalMinutes = 7.5
	up.SessionCount = 2
	require.NoError(t, s.UpsertUserDaily(ctx, up))

	gotU, err := s.GetUserDaily(ctx, "app1", 42, "ch", "2026-08-20")
	require.NoError(t, err)
	assert.Equal(t, 7.5, gotU.TotalMinutes)
	assert.Equal(t, int64(2), gotU.SessionCount)
}

func TestInTx_RollbackOnError(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))

	ctx := context.Background()
	wantErr := assert.AnError
	err = store.InTx(ctx, conn, func(s *store.Store) error {
		if err := s.InsertRawEvent(ctx, store.InsertRawEventParams{
			AppID: "app1", NoticeID: "n-tx", ProductID: 1, EventType: 101,
			ChannelName: "ch", TS: 100, ChannelSessionID: "app1_ch_100",
		}); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	seen, err := store.New(conn).HasRawEvent(ctx, "n-tx")
	require.NoError(t, err)
	assert.False(t, seen)
}
