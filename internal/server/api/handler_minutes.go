package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rtcwatch/rtcwatch/internal/server/analytics"
	"github.com/rtcwatch/rtcwatch/internal/util/timefmt"
)

// Minutes handles GET /api/minutes/:app_id: a zero-filled,
// date-aligned minute series grouped by role or platform.
//
// Query parameters: start_date, end_date (YYYY-MM-DD, required),
// period (day|month), breakdown_by (role|platform), platforms,
// client_types, roles (comma-separated).
func (s *Server) Minutes(c *gin.Context) {
	appID := c.Param("app_id")

	start, err := timefmt.ParseDay(c.DefaultQuery("start_date", ""))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	end, err := timefmt.ParseDay(c.DefaultQuery("end_date", ""))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
		return
	}

	platforms, err := queryInt64List(c, "platforms")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platforms must be a comma-separated list of integers"})
		return
	}
	clientTypes, err := queryInt64List(c, "client_types")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_types must be a comma-separated list of integers"})
		return
	}

	q := analytics.SeriesQuery{
		Start:       start,
		End:         end,
		Period:      c.DefaultQuery("period", analytics.PeriodDay),
		BreakdownBy: c.DefaultQuery("breakdown_by", analytics.BreakdownRole),
		Platforms:   platforms,
		ClientTypes: clientTypes,
		Roles:       queryList(c, "roles"),
	}

	rangeStart := start.Unix()
	rangeEnd := end.Unix() + 86400
	if q.Period == analytics.PeriodMonth {
		rangeStart = timefmt.MonthStart(start).Unix()
		rangeEnd = timefmt.MonthEnd(end).Unix() + 86400
	}
	sessions, err := s.store.ListSessionsOverlapping(c.Request.Context(), appID, rangeStart, rangeEnd)
	if err != nil {
		s.internalError(c, "list sessions", err)
		return
	}

	result, err := analytics.MinuteSeries(sessions, q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"app_id": appID,
		"period": q.Period,
		"dates":  result.Dates,
		"series": result.Series,
	})
}

func queryList(c *gin.Context, name string) []string {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt64List(c *gin.Context, name string) ([]int64, error) {
	var out []int64
	for _, p := range queryList(c, name) {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
