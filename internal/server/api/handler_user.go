package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rtcwatch/rtcwatch/internal/server/analytics"
	"github.com/rtcwatch/rtcwatch/internal/server/event"
)

// userSessionLimit caps how many of a user's sessions one request
// scans.
const userSessionLimit = 1000

// UserDetail handles GET /api/user/:app_id/:uid: per-channel totals,
// platform and reason distributions, and quality insights.
func (s *Server) UserDetail(c *gin.Context) {
	appID := c.Param("app_id")
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid must be an integer"})
		return
	}

	ctx := c.Request.Context()
	sessions, err := s.store.ListSessionsByUser(ctx, appID, uid, userSessionLimit)
	if err != nil {
		s.internalError(c, "list user sessions", err)
		return
	}

	type channelStat struct {
		TotalMinutes float64 `json:"total_minutes"`
		SessionCount int     `json:"session_count"`
	}
	channelStats := make(map[string]*channelStat)
	platforms := make(map[string]int)
	products := make(map[string]int)
	reasons := make(map[string]int)
	var totalMinutes float64

	for _, sess := range sessions {
		st, ok := channelStats[sess.ChannelName]
		if !ok {
			st = &channelStat{}
			channelStats[sess.ChannelName] = st
		}
		st.SessionCount++
		if sess.DurationSeconds != nil {
			m := float64(*sess.DurationSeconds) / 60
			st.TotalMinutes += m
			totalMinutes += m
		}
		platforms[event.PlatformName(sess.Platform, sess.ClientType)]++
		if sess.ProductID != nil {
			products[event.ProductName(*sess.ProductID)]++
		}
		if sess.Reason != nil {
			reasons[event.ReasonName(*sess.Reason)]++
		}
	}

	daily, err := s.store.ListUserDaily(ctx, appID, uid, 90)
	if err != nil {
		s.internalError(c, "list user daily stats", err)
		return
	}

	reconnect := analytics.PatternNone
	if reports := analytics.ReconnectPatterns(sessions); len(reports) > 0 {
		reconnect = reports[0].Pattern
	}

	c.JSON(http.StatusOK, gin.H{
		"uid":               uid,
		"app_id":            appID,
		"total_sessions":    len(sessions),
		"total_minutes":     totalMinutes,
		"channel_stats":     channelStats,
		"platforms":         platforms,
		"products":          products,
		"reason_breakdown":  reasons,
		"quality":           analytics.Quality(sessions, s.weights),
		"reconnect_pattern": reconnect,
		"daily":             daily,
	})
}
