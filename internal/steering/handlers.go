package steering

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safedrive/internal/logging"
)

// Notifier receives the analysis result when a trace is not normal, so the
// alert engine can raise a steering alert. Called synchronously from the
// handler; implementations must be fast.
type Notifier interface {
	OnSteering(ctx context.Context, driverID string, result Result)
}

// Handlers serves the steering analysis endpoint.
type Handlers struct {
	notifier Notifier
}

// NewHandlers creates steering handlers. notifier may be nil.
func NewHandlers(notifier Notifier) *Handlers {
	return &Handlers{notifier: notifier}
}

// Register registers steering routes on a driver-scoped router group.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.POST("/steering", h.analyze)
}

type analyzeRequest struct {
	Angles []float64 `json:"angles" binding:"required"`
}

// analyze handles POST /v1/drivers/:driverId/steering
func (h *Handlers) analyze(c *gin.Context) {
	driverID := c.Param("driverId")

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "angles array is required",
		})
		return
	}

	result, err := Analyze(req.Angles)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if result.Pattern != PatternNormal && h.notifier != nil {
		h.notifier.OnSteering(c.Request.Context(), driverID, result)
	}

	logging.L(c.Request.Context()).Debug("steering analyzed",
		"driver_id", driverID,
		"pattern", string(result.Pattern),
		"fatigue", result.FatigueIndicator)

	c.JSON(http.StatusOK, result)
}
