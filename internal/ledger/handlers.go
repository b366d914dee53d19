package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safedrive/internal/pagination"
)

// Handlers serves the ledger HTTP endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates ledger handlers.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// Register registers ledger routes on a driver-scoped router group.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.POST("/wellness-logs", h.recordLog)
	r.GET("/wellness-logs", h.listLogs)
	r.GET("/wellness-logs/:index/verify", h.verifyLog)

	r.GET("/rewards", h.getAccount)
	r.POST("/rewards/settle", h.settle)
	r.POST("/rewards/redeem", h.redeem)
	r.GET("/redemptions", h.listRedemptions)

	r.GET("/achievements", h.listAchievements)
	r.GET("/achievements/eligibility", h.eligibility)
	r.POST("/achievements/mint", h.mintAchievement)
}

// respondErr maps ledger sentinel errors to HTTP responses.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrBelowThreshold):
		c.JSON(http.StatusOK, gin.H{
			"minted": false,
			"reason": "below_threshold",
		})
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_balance",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAlreadyMinted):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_minted",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "account_inactive",
			"message": err.Error(),
		})
	case errors.Is(err, ErrLogNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "log_not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "timeout",
			"message": "ledger store did not respond in time",
		})
	case errors.Is(err, ErrWrite):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "write_failed",
			"message": "ledger store unavailable, retry later",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "ledger operation failed",
		})
	}
}

type recordLogRequest struct {
	DrowsinessEvents int     `json:"drowsinessEvents"`
	StressLevel      float64 `json:"stressLevel"`
	Interventions    int     `json:"interventions"`
	RouteCompliance  float64 `json:"routeCompliance"`
	GPSCoordinates   string  `json:"gpsCoordinates"`
}

// recordLog handles POST /v1/drivers/:driverId/wellness-logs
func (h *Handlers) recordLog(c *gin.Context) {
	var req recordLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	entry, err := h.svc.RecordWellnessLog(c.Request.Context(), c.Param("driverId"),
		req.DrowsinessEvents, req.StressLevel, req.Interventions,
		req.RouteCompliance, req.GPSCoordinates)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// listLogs handles GET /v1/drivers/:driverId/wellness-logs?limit=&offset=
func (h *Handlers) listLogs(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}

	entries, err := h.svc.ListLogs(c.Request.Context(), c.Param("driverId"), limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	if entries == nil {
		entries = []*WellnessLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}

// verifyLog handles GET /v1/drivers/:driverId/wellness-logs/:index/verify
func (h *Handlers) verifyLog(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "index must be a non-negative integer",
		})
		return
	}

	entry, err := h.svc.VerifyLogIntegrity(c.Request.Context(), c.Param("driverId"), index)
	if errors.Is(err, ErrIntegrity) {
		c.JSON(http.StatusOK, gin.H{
			"index": index,
			"valid": false,
			"entry": entry,
		})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"index": index,
		"valid": true,
		"entry": entry,
	})
}

// getAccount handles GET /v1/drivers/:driverId/rewards
func (h *Handlers) getAccount(c *gin.Context) {
	account, err := h.svc.GetAccount(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type settleRequest struct {
	SessionID       string  `json:"sessionId" binding:"required"`
	SafetyScore     int     `json:"safetyScore"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// settle handles POST /v1/drivers/:driverId/rewards/settle
func (h *Handlers) settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	settlement, err := h.svc.SettleSession(c.Request.Context(), c.Param("driverId"),
		req.SessionID, req.SafetyScore, req.DurationSeconds)
	if errors.Is(err, ErrDuplicateSettle) {
		c.JSON(http.StatusOK, gin.H{
			"minted":     false,
			"reason":     "already_settled",
			"settlement": settlement,
		})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": true, "settlement": settlement})
}

type redeemRequest struct {
	Amount     string `json:"amount" binding:"required"`
	RewardType string `json:"rewardType" binding:"required"`
}

// redeem handles POST /v1/drivers/:driverId/rewards/redeem
func (h *Handlers) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	redemption, err := h.svc.Redeem(c.Request.Context(), c.Param("driverId"),
		req.Amount, req.RewardType)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, redemption)
}

// listRedemptions handles GET /v1/drivers/:driverId/redemptions
//
// Supports both offset paging (limit/offset) and cursor paging (limit/cursor).
// A cursor takes precedence over an offset. Responses carry a nextCursor when
// more receipts remain.
func (h *Handlers) listRedemptions(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed cursor",
		})
		return
	}

	var redemptions []*Redemption
	if cur != nil {
		redemptions, err = h.svc.ListRedemptionsBefore(c.Request.Context(), c.Param("driverId"),
			cur.CreatedAt, cur.ID, limit+1)
	} else {
		redemptions, err = h.svc.ListRedemptions(c.Request.Context(), c.Param("driverId"), limit+1, offset)
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	redemptions, next, more := pagination.ComputePage(redemptions, limit, func(r *Redemption) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	if redemptions == nil {
		redemptions = []*Redemption{}
	}
	c.JSON(http.StatusOK, gin.H{
		"redemptions": redemptions,
		"count":       len(redemptions),
		"nextCursor":  next,
		"hasMore":     more,
	})
}

// listAchievements handles GET /v1/drivers/:driverId/achievements
func (h *Handlers) listAchievements(c *gin.Context) {
	achievements, err := h.svc.ListAchievements(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if achievements == nil {
		achievements = []*Achievement{}
	}
	c.JSON(http.StatusOK, gin.H{"achievements": achievements, "count": len(achievements)})
}

// eligibility handles GET /v1/drivers/:driverId/achievements/eligibility
func (h *Handlers) eligibility(c *gin.Context) {
	eligible, err := h.svc.CheckAchievementEligibility(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if eligible == nil {
		c.JSON(http.StatusOK, gin.H{"eligible": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eligible": true, "achievement": eligible})
}

type mintAchievementRequest struct {
	Type         string  `json:"type" binding:"required"`
	SafetyScore  int     `json:"safetyScore"`
	DrivingHours float64 `json:"drivingHours"`
}

// mintAchievement handles POST /v1/drivers/:driverId/achievements/mint
func (h *Handlers) mintAchievement(c *gin.Context) {
	var req mintAchievementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	achievement, err := h.svc.MintAchievement(c.Request.Context(), c.Param("driverId"),
		req.Type, req.SafetyScore, req.DrivingHours)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, achievement)
}

// pageParams parses limit/offset, writing the error response itself when invalid.
func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = 50, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 200",
			})
			return 0, 0, false
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
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
