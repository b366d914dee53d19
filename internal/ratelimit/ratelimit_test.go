package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllow_Burst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("driver:d1") {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "burst size caps consecutive requests")
}

func TestAllow_Refills(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	assert.True(t, l.Allow("driver:d1"))
	assert.False(t, l.Allow("driver:d1"))

	// 100 tokens/sec: after 50ms at least one token is back.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow("driver:d1"))
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	assert.True(t, l.Allow("driver:d1"))
	assert.False(t, l.Allow("driver:d1"))
	assert.True(t, l.Allow("driver:d2"), "second driver has its own bucket")
}

func TestMiddleware_KeysByDriverParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/v1/drivers/:driverId/samples", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	do := func(driver string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/"+driver+"/samples", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, do("d1"))
	assert.Equal(t, http.StatusTooManyRequests, do("d1"))
	assert.Equal(t, http.StatusAccepted, do("d2"), "limits are per driver, not per IP")
}
