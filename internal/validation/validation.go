// Package validation provides input validation helpers and request guards.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes is the maximum accepted request body size (64 KiB). Telemetry
// samples and redemption requests are small; anything larger is abuse.
const MaxBodyBytes = 64 << 10

// driverIDPattern allows alphanumerics, dash and underscore, 1-64 chars.
var driverIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IsValidDriverID reports whether id is a well-formed driver identifier.
func IsValidDriverID(id string) bool {
	return driverIDPattern.MatchString(id)
}

// CheckUnitRange validates that v is within [0, 1].
func CheckUnitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
	}
	return nil
}

// CheckPercentRange validates that v is within [0, 100].
func CheckPercentRange(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be between 0 and 100, got %v", name, v)
	}
	return nil
}

// CheckNonNegative validates that v >= 0.
func CheckNonNegative(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", name, v)
	}
	return nil
}

// SanitizeString strips control characters and trims whitespace. Used on
// free-text fields before they reach logs or storage.
func SanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// RequestSizeMiddleware rejects request bodies larger than MaxBodyBytes.
func RequestSizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > MaxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
		c.Next()
	}
}

// DriverParamMiddleware validates the :driverId route param once so every
// handler behind it can trust the value.
func DriverParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("driverId")
		if !IsValidDriverID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_driver_id",
				"message": "driver id must be 1-64 alphanumeric, dash or underscore characters",
			})
			return
		}
		c.Next()
	}
}
