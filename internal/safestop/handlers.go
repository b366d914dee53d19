package safestop

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers serves the safe stop lookup endpoint.
type Handlers struct {
	finder Finder
}

// NewHandlers creates safe stop handlers.
func NewHandlers(finder Finder) *Handlers {
	return &Handlers{finder: finder}
}

// Register registers safe stop routes.
func (h *Handlers) Register(r *gin.RouterGroup) {
	r.GET("/safe-stops", h.findNearby)
}

// findNearby handles GET /v1/safe-stops?lat=&lon=&radius=
func (h *Handlers) findNearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lon, err2 := strconv.ParseFloat(c.Query("lon"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "lat and lon query parameters are required",
		})
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "coordinates out of range",
		})
		return
	}

	radius := defaultRadiusKM
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 || r > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "radius must be a positive number of km, at most 100",
			})
			return
		}
		radius = r
	}

	stops, err := h.finder.FindNearby(c.Request.Context(), lat, lon, radius)
	if err != nil {
		// Finder errors are already softened to fallbacks; this is belt and braces.
		stops = Fallback(lat, lon, radius)
	}

	c.JSON(http.StatusOK, gin.H{
		"stops": stops,
		"count": len(stops),
	})
}
