// Package api is the HTTP surface: the webhook ingest endpoint and the
// read-side analytics endpoints, served with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rtcwatch/rtcwatch/internal/server/analytics"
	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/internal/server/engine"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
	"github.com/rtcwatch/rtcwatch/internal/util/timefmt"
)

// securityHeaders applied to every response.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

// Server wires the engine and store to the HTTP routes.
type Server struct {
	engine  *engine.Engine
	store   *store.Store
	cfg     *config.Config
	logger  *slog.Logger
	weights analytics.WeightTable
}

// NewServer creates the API server. The quality weight table defaults
// to the pinned one, with configured overrides applied.
func NewServer(eng *engine.Engine, st *store.Store, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		engine:  eng,
		store:   st,
		cfg:     cfg,
		logger:  logger,
		weights: resolveWeights(cfg.Quality),
	}
}

func resolveWeights(q config.QualityConfig) analytics.WeightTable {
	w := analytics.DefaultWeights
	if q.Table != "" {
		w.Name = q.Table
	}
	if q.AbnormalPenalty > 0 {
		w.AbnormalPenalty = q.AbnormalPenalty
	}
	if q.NetworkPenalty > 0 {
		w.NetworkPenalty = q.NetworkPenalty
	}
	if q.PermissionPenalty > 0 {
		w.PermissionPenalty = q.PermissionPenalty
	}
	if q.DevicePenalty > 0 {
		w.DevicePenalty = q.DevicePenalty
	}
	return w
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), applyHeaders())

	r.POST("/:app_id/webhooks", s.ReceiveWebhook)

	apiGroup := r.Group("/api")
	apiGroup.GET("/channels/:app_id", s.ListChannels)
	apiGroup.GET("/channel/:app_id/:channel", s.ChannelDetail)
	apiGroup.GET("/channel/:app_id/:channel/quality", s.ChannelQuality)
	apiGroup.GET("/user/:app_id/:uid", s.UserDetail)
	apiGroup.GET("/minutes/:app_id", s.Minutes)

	r.GET("/healthz", s.Health)
	r.GET("/debug/cache", s.DebugCache)
	return r
}

// requestID attaches a short id to each request for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id, _ = gonanoid.New(12)
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func applyHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range securityHeaders {
			c.Header(k, v)
		}
		c.Next()
	}
}

// Health reports liveness and a cheap store probe.
func (s *Server) Health(c *gin.Context) {
	if _, err := s.store.ListChannels(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": timefmt.Format(time.Now()),
	})
}

// DebugCache exposes the engine's in-memory state for operators.
func (s *Server) DebugCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dedup_memo_size": s.engine.MemoLen(),
		"recent_notices":  s.engine.RecentNotices(),
		"active_epochs":   s.engine.ActiveEpochs(),
	})
}
