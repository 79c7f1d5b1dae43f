package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rtcwatch/rtcwatch/internal/server/engine"
)

// ReceiveWebhook handles POST /:app_id/webhooks. Duplicates return 200
// like fresh accepts so the provider never retries a notification the
// store already reflects.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	appID := c.Param("app_id")

	limited := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Ingest.MaxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "payload exceeds size limit",
				"limit": s.cfg.Ingest.MaxBodyBytes,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	outcome, err := s.engine.Ingest(c.Request.Context(), appID, body)
	if err != nil {
		if engine.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("webhook ingest failed",
			"app_id", appID,
			"request_id", c.GetString("request_id"),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome.String()})
}
