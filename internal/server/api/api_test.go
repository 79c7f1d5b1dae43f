package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/server/api"
	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/internal/server/db"
	"github.com/rtcwatch/rtcwatch/internal/server/engine"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: ":0", DataDir: t.TempDir()},
		Ingest: config.IngestConfig{MaxBodyBytes: 1 << 20, DedupMemoSize: 10, MaxWriteRetries: 3},
		API:    config.APIConfig{SessionListLimit: 1000, PageSize: 30, MaxPageSize: 200},
	}
	eng := engine.New(conn, slog.Default(), engine.Config{
		MemoSize:        cfg.Ingest.DedupMemoSize,
		MaxWriteRetries: cfg.Ingest.MaxWriteRetries,
	})
	srv := api.NewServer(eng, store.New(conn), cfg, slog.Default())
	return srv.Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), "body: %s", w.Body.String())
	}
	return w, decoded
}

var apiNoticeSeq int

func webhookBody(eventType int, channel string, ts int64, uid, seq, duration int64) []byte {
	apiNoticeSeq++
	payload := map[string]any{"channelName": channel, "ts": ts}
	if uid != 0 {
		payload["uid"] = uid
		payload["clientSeq"] = seq
	}
	if duration != 0 {
		payload["duration"] = duration
	}
	body, _ := json.Marshal(map[string]any{
		"noticeId":  fmt.Sprintf("api-n-%d", apiNoticeSeq),
		"productId": 1,
		"eventType": eventType,
		"payload":   payload,
	})
	return body
}

func ingestCall(t *testing.T, r *gin.Engine, body []byte) {
	t.Helper()
	w, _ := doJSON(t, r, http.MethodPost, "/app1/webhooks", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
}

func seedCleanCall(t *testing.T, r *gin.Engine) {
	t.Helper()
	ingestCall(t, r, webhookBody(101, "room", 100, 0, 0, 0))
	ingestCall(t, r, webhookBody(103, "room", 101, 1, 1, 0))
	ingestCall(t, r, webhookBody(104, "room", 161, 1, 2, 60))
	ingestCall(t, r, webhookBody(102, "room", 170, 0, 0, 0))
}

func TestReceiveWebhook_AcceptedAndDuplicate(t *testing.T) {
	r := newTestRouter(t)

	body := webhookBody(101, "room", 100, 0, 0, 0)
	w, decoded := doJSON(t, r, http.MethodPost, "/app1/webhooks", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", decoded["status"])

	w, decoded = doJSON(t, r, http.MethodPost, "/app1/webhooks", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decoded["status"])
}

func TestReceiveWebhook_Validation(t *testing.T) {
	r := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/app1/webhooks", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/app1/webhooks",
		[]byte(`{"noticeId":"x","productId":1,"eventType":101,"payload":{"channelName":"","ts":5}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveWebhook_Oversize(t *testing.T) {
	r := newTestRouter(t)

	big := fmt.Sprintf(`{"noticeId":"big","productId":1,"eventType":101,"payload":{"channelName":"c","ts":1,"junk":%q}}`,
		strings.Repeat("x", 2<<20))
	w, _ := doJSON(t, r, http.MethodPost, "/app1/webhooks", []byte(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestListChannels(t *testing.T) {
	r := newTestRouter(t)
	seedCleanCall(t, r)

	w, decoded := doJSON(t, r, http.MethodGet, "/api/channels/app1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	channels := decoded["channels"].([]any)
	require.Len(t, channels, 1)
	ch := channels[0].(map[string]any)
	assert.Equal(t, "room", ch["channel_name"])
	assert.Equal(t, "app1_room_100", ch["channel_session_id"])
	assert.InDelta(t, 1.0, ch["total_minutes"].(float64), 1e-9)

	pagination := decoded["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["total"])
	assert.Equal(t, false, pagination["has_next"])
}

func TestListChannels_BadPaging(t *testing.T) {
	r := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/channels/app1?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/channels/app1?per_page=9999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChannelDetail(t *testing.T) {
	r := newTestRouter(t)
	seedCleanCall(t, r)

	w, decoded := doJSON(t, r, http.MethodGet, "/api/channel/app1/room", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "app1_room_100", decoded["channel_session_id"])
	assert.InDelta(t, 1.0, decoded["total_minutes"].(float64), 1e-9)
	assert.InDelta(t, 1.0, decoded["host_minutes"].(float64), 1e-9)
	assert.InDelta(t, 0.0, decoded["audience_minutes"].(float64), 1e-9)
	assert.Equal(t, float64(1), decoded["unique_users"])

	sessions := decoded["sessions"].([]any)
	require.Len(t, sessions, 1)
	sess := sessions[0].(map[string]any)
	assert.Equal(t, float64(60), sess["duration_seconds"])

	daily := decoded["daily"].([]any)
	require.Len(t, daily, 1)
	day := daily[0].(map[string]any)
	assert.Equal(t, "1970-01-01", day["Date"])
	assert.InDelta(t, 1.0, day["TotalMinutes"].(float64), 1e-9)
}

func TestChannelDetail_LaterSessionKeepsJoinRole(t *testing.T) {
	r := newTestRouter(t)

	// uid 1 hosts twice. The second connection re-announces the host
	// role mid-session; its join stamp must still pin the starting
	// role, not the inverse of that announcement.
	ingestCall(t, r, webhookBody(101, "room", 100, 0, 0, 0))
	ingestCall(t, r, webhookBody(103, "room", 110, 1, 1, 0))
	ingestCall(t, r, webhookBody(104, "room", 170, 1, 2, 60))
	ingestCall(t, r, webhookBody(103, "room", 300, 1, 3, 0))
	ingestCall(t, r, webhookBody(111, "room", 330, 1, 4, 0))
	ingestCall(t, r, webhookBody(104, "room", 360, 1, 5, 60))

	w, decoded := doJSON(t, r, http.MethodGet, "/api/channel/app1/room", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.InDelta(t, 2.0, decoded["host_minutes"].(float64), 1e-9)
	assert.InDelta(t, 0.0, decoded["audience_minutes"].(float64), 1e-9)
}

func TestChannelDetail_NotFound(t *testing.T) {
	r := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodGet, "/api/channel/app1/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChannelQuality(t *testing.T) {
	r := newTestRouter(t)
	seedCleanCall(t, r)

	w, decoded := doJSON(t, r, http.MethodGet, "/api/channel/app1/room/quality", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(1), decoded["max_concurrency"])
	assert.Equal(t, float64(101), decoded["peak_ts"])

	quality := decoded["quality"].(map[string]any)
	assert.Equal(t, "default-v1", quality["weight_table"])
	assert.InDelta(t, 100.0, quality["score"].(float64), 1e-9)

	hist := decoded["session_histogram"].(map[string]any)
	assert.Equal(t, float64(1), hist["1-5min"])
	assert.Equal(t, float64(0), hist["30-60s"])
}

func TestUserDetail(t *testing.T) {
	r := newTestRouter(t)
	seedCleanCall(t, r)

	w, decoded := doJSON(t, r, http.MethodGet, "/api/user/app1/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(1), decoded["total_sessions"])
	assert.InDelta(t, 1.0, decoded["total_minutes"].(float64), 1e-9)
	assert.Equal(t, "no_reconnections", decoded["reconnect_pattern"])
	stats := decoded["channel_stats"].(map[string]any)
	require.Contains(t, stats, "room")

	products := decoded["products"].(map[string]any)
	assert.Equal(t, float64(1), products["Realtime Communication (RTC)"])

	w, _ = doJSON(t, r, http.MethodGet, "/api/user/app1/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMinutes_DaySplit(t *testing.T) {
	r := newTestRouter(t)

	// One session crossing midnight: Mon 23:30 through Tue 00:30 UTC.
	join := time.Date(2026, 8, 17, 23, 30, 0, 0, time.UTC).Unix()
	leave := time.Date(2026, 8, 18, 0, 30, 0, 0, time.UTC).Unix()
	ingestCall(t, r, webhookBody(101, "room", join-10, 0, 0, 0))
	ingestCall(t, r, webhookBody(103, "room", join, 1, 1, 0))
	ingestCall(t, r, webhookBody(104, "room", leave, 1, 2, leave-join))

	w, decoded := doJSON(t, r, http.MethodGet,
		"/api/minutes/app1?start_date=2026-08-17&end_date=2026-08-18&breakdown_by=role", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []any{"2026-08-17", "2026-08-18"}, decoded["dates"].([]any))
	series := decoded["series"].([]any)
	require.Len(t, series, 1)
	s := series[0].(map[string]any)
	assert.Equal(t, "host", s["key"])
	assert.InDelta(t, 60.0, s["total_minutes"].(float64), 1e-9)
	values := s["values"].([]any)
	assert.InDelta(t, 30.0, values[0].(float64), 1e-9)
	assert.InDelta(t, 30.0, values[1].(float64), 1e-9)
}

func TestMinutes_BadQuery(t *testing.T) {
	r := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/minutes/app1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet,
		"/api/minutes/app1?start_date=2026-08-17&end_date=2026-08-18&period=week", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndDebug(t *testing.T) {
	r := newTestRouter(t)

	w, decoded := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decoded["status"])

	seedCleanCall(t, r)
	w, decoded = doJSON(t, r, http.MethodGet, "/debug/cache", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), decoded["dedup_memo_size"])
	assert.Len(t, decoded["recent_notices"].([]any), 4)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	r := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
