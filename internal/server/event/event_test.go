package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/server/event"
)

func TestParse_FullNotification(t *testing.T) {
	body := []byte(`{
		"noticeId": "n-123",
		"productId": 1,
		"eventType": 104,
		"notifyMs": 1718000000123,
		"sid": "S99",
		"payload": {
			"channelName": "room7",
			"ts": 1718000000,
			"uid": 42,
			"clientSeq": 7,
			"platform": 6,
			"clientType": 10,
			"reason": 1,
			"duration": 60
		}
	}`)

	n, err := event.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "n-123", n.NoticeID)
	assert.Equal(t, 104, n.EventType)
	assert.Equal(t, "S99", n.SID)
	assert.Equal(t, "room7", n.Payload.ChannelName)
	require.NotNil(t, n.Payload.UID)
	assert.Equal(t, int64(42), *n.Payload.UID)
	require.NotNil(t, n.Payload.Duration)
	assert.Equal(t, int64(60), *n.Payload.Duration)
}

func TestParse_MinimalChannelEvent(t *testing.T) {
	n, err := event.Parse([]byte(`{"noticeId":"n-1","productId":1,"eventType":101,"payload":{"channelName":"c","ts":100}}`))
	require.NoError(t, err)
	assert.Nil(t, n.Payload.UID)
	assert.Nil(t, n.Payload.ClientSeq)
	require.NotNil(t, n.Payload.TS)
	assert.Equal(t, int64(100), *n.Payload.TS)
}

func TestParse_TSZeroIsPresent(t *testing.T) {
	n, err := event.Parse([]byte(`{"noticeId":"n-2","productId":1,"eventType":101,"payload":{"channelName":"c","ts":0}}`))
	require.NoError(t, err)
	require.NotNil(t, n.Payload.TS)
	assert.Equal(t, int64(0), *n.Payload.TS)

	n, err = event.Parse([]byte(`{"noticeId":"n-3","productId":1,"eventType":101,"payload":{"channelName":"c"}}`))
	require.NoError(t, err)
	assert.Nil(t, n.Payload.TS)
}

func TestEventTypePredicates(t *testing.T) {
	assert.True(t, event.IsJoin(103))
	assert.True(t, event.IsJoin(105))
	assert.True(t, event.IsJoin(107))
	assert.True(t, event.IsLeave(104))
	assert.True(t, event.IsLeave(106))
	assert.True(t, event.IsLeave(108))
	assert.True(t, event.IsRoleChange(111))
	assert.True(t, event.IsRoleChange(112))
	assert.False(t, event.IsUserEvent(101))
	assert.False(t, event.IsUserEvent(102))
	assert.True(t, event.IsKnown(101))
	assert.False(t, event.IsKnown(199))
}

func TestJoinRole(t *testing.T) {
	tests := []struct {
		eventType int
		wantHost  bool
		wantMode  int
	}{
		{103, true, 0},
		{105, false, 0},
		{107, true, 1},
		{104, true, 0},
		{106, false, 0},
		{108, true, 1},
	}
	for _, tt := range tests {
		host, mode := event.JoinRole(tt.eventType)
		assert.Equal(t, tt.wantHost, host, "event %d", tt.eventType)
		assert.Equal(t, tt.wantMode, mode, "event %d", tt.eventType)
	}
}

func TestEpochID_RoundTrip(t *testing.T) {
	id := event.ConfirmedEpoch("app1", "my_channel", 1718000000)
	assert.Equal(t, "app1_my_channel_1718000000", id.String())

	parsed, err := event.ParseEpochID("app1", "my_channel", id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestEpochID_Provisional(t *testing.T) {
	id := event.ProvisionalEpoch("app1", "ch", 500)
	assert.Equal(t, "app1_ch_500_provisional", id.String())
	assert.True(t, id.Provisional)

	parsed, err := event.ParseEpochID("app1", "ch", "app1_ch_500_provisional")
	require.NoError(t, err)
	assert.True(t, parsed.Provisional)
	assert.Equal(t, int64(500), parsed.TS)
}

func TestParseEpochID_Mismatch(t *testing.T) {
	_, err := event.ParseEpochID("app2", "ch", "app1_ch_500")
	assert.Error(t, err)

	_, err = event.ParseEpochID("app1", "ch", "app1_ch_notanumber")
	assert.Error(t, err)
}

func TestPlatformName(t *testing.T) {
	linux := int64(6)
	ios := int64(2)
	cloudRec := int64(10)
	unknown := int64(99)

	assert.Equal(t, "N/A", event.PlatformName(nil, nil))
	assert.Equal(t, "iOS", event.PlatformName(&ios, nil))
	assert.Equal(t, "iOS", event.PlatformName(&ios, &cloudRec))
	assert.Equal(t, "Linux", event.PlatformName(&linux, nil))
	assert.Equal(t, "Linux (Cloud recording)", event.PlatformName(&linux, &cloudRec))
	assert.Equal(t, "99", event.PlatformName(&unknown, nil))
}

func TestReasonName(t *testing.T) {
	assert.Equal(t, "normal", event.ReasonName(1))
	assert.Equal(t, "abnormal user", event.ReasonName(999))
	assert.Equal(t, "other/unknown", event.ReasonName(0))
	assert.Equal(t, "42", event.ReasonName(42))
}
