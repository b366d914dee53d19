package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/pagination"
)

// Handlers serves the telemetry HTTP endpoints.
type Handlers struct {
	agg     *Aggregator
	metrics *metrics.Metrics
}

// NewHandlers creates telemetry handlers.
func NewHandlers(agg *Aggregator) *Handlers {
	return &Handlers{agg: agg}
}

// WithMetrics adds transport-level ingestion counters.
func (h *Handlers) WithMetrics(m *metrics.Metrics) *Handlers {
	h.metrics = m
	return h
}

// Register registers telemetry routes on a driver-scoped router group.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.POST("/samples", h.ingest)
	r.POST("/stop", h.stop)
	r.GET("/sessions", h.listSessions)
	r.GET("/analytics", h.analytics)
	r.GET("/status", h.status)
}

// ingest handles POST /v1/drivers/:driverId/samples
func (h *Handlers) ingest(c *gin.Context) {
	driverID := c.Param("driverId")

	var sample Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	session, err := h.agg.Ingest(c.Request.Context(), driverID, sample)
	switch {
	case errors.Is(err, ErrInvalidSample):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_sample",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStaleSample):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "stale_sample",
			"message": err.Error(),
		})
	case errors.Is(err, ErrWrite):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "write_failed",
			"message": "session store unavailable, retry later",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to ingest sample",
		})
	default:
		if h.metrics != nil {
			h.metrics.SamplesIngested.WithLabelValues("http").Inc()
		}
		c.JSON(http.StatusAccepted, session)
	}
}

// stop handles POST /v1/drivers/:driverId/stop
func (h *Handlers) stop(c *gin.Context) {
	driverID := c.Param("driverId")

	session, err := h.agg.CloseActive(c.Request.Context(), driverID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "write_failed",
			"message": "session store unavailable, retry later",
		})
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"closed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true, "session": session})
}

// listSessions handles GET /v1/drivers/:driverId/sessions?limit=&offset=&cursor=
//
// Offset paging and cursor paging are both supported; a cursor wins when both
// are supplied. Responses carry a nextCursor while older sessions remain.
func (h *Handlers) listSessions(c *gin.Context) {
	driverID := c.Param("driverId")

	limit, offset := 20, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 100",
			})
			return
		}
		limit = v
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "offset must not be negative",
			})
			return
		}
		offset = v
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed cursor",
		})
		return
	}

	var sessions []*Session
	if cur != nil {
		sessions, err = h.agg.ListSessionsBefore(c.Request.Context(), driverID, cur.CreatedAt, cur.ID, limit+1)
	} else {
		sessions, err = h.agg.ListSessions(c.Request.Context(), driverID, limit+1, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to list sessions",
		})
		return
	}

	sessions, next, more := pagination.ComputePage(sessions, limit, func(s *Session) (time.Time, string) {
		return s.EndTime, s.ID
	})
	if sessions == nil {
		sessions = []*Session{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":   sessions,
		"count":      len(sessions),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// analytics handles GET /v1/drivers/:driverId/analytics?days=7
func (h *Handlers) analytics(c *gin.Context) {
	driverID := c.Param("driverId")

	days := 7
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 90 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "days must be between 1 and 90",
			})
			return
		}
		days = v
	}

	stats, err := h.agg.Analytics(c.Request.Context(), driverID, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to compute analytics",
		})
		return
	}
	if stats == nil {
		stats = []DailyStat{}
	}
	c.JSON(http.StatusOK, gin.H{
		"days":  days,
		"daily": stats,
	})
}

// status handles GET /v1/drivers/:driverId/status
func (h *Handlers) status(c *gin.Context) {
	driverID := c.Param("driverId")

	session := h.agg.Status(driverID)
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"monitoring": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitoring": true, "session": session})
}
