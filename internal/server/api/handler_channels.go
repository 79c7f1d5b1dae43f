package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rtcwatch/rtcwatch/internal/server/analytics"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// channelSummary is one row of the paged channel list.
type channelSummary struct {
	ChannelName      string  `json:"channel_name"`
	ChannelSessionID string  `json:"channel_session_id"`
	TotalMinutes     float64 `json:"total_minutes"`
	UniqueUsers      int64   `json:"unique_users"`
	FirstActivity    *int64  `json:"first_activity"`
	LastActivity     *int64  `json:"last_activity"`
}

// ListChannels handles GET /api/channels/:app_id with pagination,
// ordered by most recent activity.
func (s *Server) ListChannels(c *gin.Context) {
	appID := c.Param("app_id")
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", s.cfg.API.PageSize)
	if page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be >= 1"})
		return
	}
	if perPage < 1 || perPage > s.cfg.API.MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "per_page out of range"})
		return
	}

	ctx := c.Request.Context()
	total, err := s.store.CountChannelEpochs(ctx, appID)
	if err != nil {
		s.internalError(c, "count channel epochs", err)
		return
	}
	epochs, err := s.store.ListChannelEpochs(ctx, appID, perPage, (page-1)*perPage)
	if err != nil {
		s.internalError(c, "list channel epochs", err)
		return
	}

	channels := make([]channelSummary, 0, len(epochs))
	for _, e := range epochs {
		channels = append(channels, channelSummary{
			ChannelName:      e.ChannelName,
			ChannelSessionID: e.ChannelSessionID,
			TotalMinutes:     float64(e.TotalSeconds) / 60,
			UniqueUsers:      e.UniqueUsers,
			FirstActivity:    e.FirstActivity,
			LastActivity:     e.LastActivity,
		})
	}

	totalPages := (total + int64(perPage) - 1) / int64(perPage)
	c.JSON(http.StatusOK, gin.H{
		"channels": channels,
		"pagination": gin.H{
			"page":        page,
			"per_page":    perPage,
			"total":       total,
			"total_pages": totalPages,
			"has_next":    int64(page) < totalPages,
			"has_prev":    page > 1,
		},
	})
}

// sessionView is the serialized form of one session row.
type sessionView struct {
	ID              int64    `json:"id"`
	UID             int64    `json:"uid"`
	JoinTime        int64    `json:"join_time"`
	LeaveTime       *int64   `json:"leave_time"`
	DurationSeconds *int64   `json:"duration_seconds"`
	DurationMinutes *float64 `json:"duration_minutes"`
	IsHost          bool     `json:"is_host"`
	RoleSwitches    int64    `json:"role_switches"`
	Platform        *int64   `json:"platform"`
	ClientType      *int64   `json:"client_type"`
	Reason          *int64   `json:"reason"`
}

func toSessionView(sess store.Session) sessionView {
	v := sessionView{
		ID:              sess.ID,
		UID:             sess.UID,
		JoinTime:        sess.JoinTime,
		LeaveTime:       sess.LeaveTime,
		DurationSeconds: sess.DurationSeconds,
		IsHost:          sess.IsHost,
		RoleSwitches:    sess.RoleSwitches,
		Platform:        sess.Platform,
		ClientType:      sess.ClientType,
		Reason:          sess.Reason,
	}
	if sess.DurationSeconds != nil {
		m := float64(*sess.DurationSeconds) / 60
		v.DurationMinutes = &m
	}
	return v
}

// ChannelDetail handles GET /api/channel/:app_id/:channel. An explicit
// session_id query selects an epoch; otherwise the most recent one.
func (s *Server) ChannelDetail(c *gin.Context) {
	appID := c.Param("app_id")
	channel := c.Param("channel")
	ctx := c.Request.Context()

	epochID, ok := s.resolveEpochParam(c, appID, channel)
	if !ok {
		return
	}

	sessions, err := s.store.ListSessionsByEpoch(ctx, epochID, s.cfg.API.SessionListLimit)
	if err != nil {
		s.internalError(c, "list sessions", err)
		return
	}
	roles, err := s.store.ListRoleEventsByEpoch(ctx, epochID)
	if err != nil {
		s.internalError(c, "list role events", err)
		return
	}
	joins, err := s.joinStampsForEpoch(ctx, epochID, sessions)
	if err != nil {
		s.internalError(c, "list join events", err)
		return
	}
	daily, err := s.store.ListChannelDailyByEpoch(ctx, epochID)
	if err != nil {
		s.internalError(c, "list daily stats", err)
		return
	}

	roleMinutes := analytics.TotalRoleMinutes(analytics.AttributeRoleMinutes(sessions, roles, joins))
	_, _, wallMinutes := analytics.WallClock(sessions)
	hosts, audiences := analytics.UniqueRoles(sessions)

	views := make([]sessionView, 0, len(sessions))
	var totalMinutes float64
	uniqueUsers := make(map[int64]struct{})
	for _, sess := range sessions {
		views = append(views, toSessionView(sess))
		if sess.DurationSeconds != nil {
			totalMinutes += float64(*sess.DurationSeconds) / 60
		}
		uniqueUsers[sess.UID] = struct{}{}
	}

	c.JSON(http.StatusOK, gin.H{
		"channel_name":       channel,
		"channel_session_id": epochID,
		"total_minutes":      totalMinutes,
		"unique_users":       len(uniqueUsers),
		"host_minutes":       roleMinutes.HostMinutes,
		"audience_minutes":   roleMinutes.AudienceMinutes,
		"wall_clock_minutes": wallMinutes,
		"utilization":        analytics.Utilization(sessions),
		"unique_hosts":       hosts,
		"unique_audiences":   audiences,
		"sessions":           views,
		"daily":              daily,
	})
}

// ChannelQuality handles GET /api/channel/:app_id/:channel/quality.
func (s *Server) ChannelQuality(c *gin.Context) {
	appID := c.Param("app_id")
	channel := c.Param("channel")
	ctx := c.Request.Context()

	epochID, ok := s.resolveEpochParam(c, appID, channel)
	if !ok {
		return
	}

	sessions, err := s.store.ListSessionsByEpoch(ctx, epochID, s.cfg.API.SessionListLimit)
	if err != nil {
		s.internalError(c, "list sessions", err)
		return
	}

	maxConc, peakTS, curve := analytics.Concurrency(sessions)
	c.JSON(http.StatusOK, gin.H{
		"channel_name":       channel,
		"channel_session_id": epochID,
		"quality":            analytics.Quality(sessions, s.weights),
		"session_histogram":  analytics.SessionLengthHistogram(sessions),
		"max_concurrency":    maxConc,
		"peak_ts":            peakTS,
		"concurrency_curve":  curve,
		"reconnect_patterns": analytics.ReconnectPatterns(sessions),
	})
}

// resolveEpochParam picks the epoch to inspect: the session_id query
// when present, else the channel's most recent epoch. Writes the error
// response itself when resolution fails.
func (s *Server) resolveEpochParam(c *gin.Context, appID, channel string) (string, bool) {
	if id := c.Query("session_id"); id != "" {
		return id, true
	}
	epochID, err := s.store.LatestEpochForChannel(c.Request.Context(), appID, channel)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return "", false
	}
	if err != nil {
		s.internalError(c, "resolve epoch", err)
		return "", false
	}
	return epochID, true
}

// joinStampsForEpoch loads the join webhook rows near every session
// start for initial-role inference. Each session gets its own window:
// a user's later sessions pin their starting role the same way the
// first one does.
func (s *Server) joinStampsForEpoch(ctx context.Context, epochID string, sessions []store.Session) ([]analytics.JoinStamp, error) {
	var stamps []analytics.JoinStamp
	for _, sess := range sessions {
		rows, err := s.store.ListJoinEventsInWindow(ctx, epochID, sess.UID,
			sess.JoinTime-analytics.RoleMatchWindowSeconds,
			sess.JoinTime+analytics.RoleMatchWindowSeconds)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, analytics.JoinStampsFromRaw(rows)...)
	}
	return stamps, nil
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("api request failed",
		"op", op,
		"request_id", c.GetString("request_id"),
		"error", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
