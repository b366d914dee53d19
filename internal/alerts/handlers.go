package alerts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers serves the alert HTTP endpoints.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates alert handlers.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Register registers alert routes on a driver-scoped router group.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.GET("/alerts", h.listActive)
	r.GET("/alerts/history", h.listHistory)
	r.POST("/alerts/:alertId/ack", h.acknowledge)
	r.DELETE("/alerts/:alertId", h.dismiss)
}

// listActive handles GET /v1/drivers/:driverId/alerts
func (h *Handlers) listActive(c *gin.Context) {
	alerts, err := h.engine.ListActive(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to list alerts",
		})
		return
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// listHistory handles GET /v1/drivers/:driverId/alerts/history
func (h *Handlers) listHistory(c *gin.Context) {
	alerts, err := h.engine.ListHistory(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to list alert history",
		})
		return
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// acknowledge handles POST /v1/drivers/:driverId/alerts/:alertId/ack
func (h *Handlers) acknowledge(c *gin.Context) {
	alert, err := h.engine.Acknowledge(c.Request.Context(), c.Param("driverId"), c.Param("alertId"))
	if errors.Is(err, ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "alert_not_found",
			"message": "no active alert with that id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to acknowledge alert",
		})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// dismiss handles DELETE /v1/drivers/:driverId/alerts/:alertId
func (h *Handlers) dismiss(c *gin.Context) {
	err := h.engine.Dismiss(c.Request.Context(), c.Param("driverId"), c.Param("alertId"))
	if errors.Is(err, ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "alert_not_found",
			"message": "no active alert with that id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to dismiss alert",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
