package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(engine *Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/v1/drivers/:driverId")
	NewHandlers(engine).Register(grp)
	return r
}

func TestListActiveHandler(t *testing.T) {
	engine, _ := newTestEngine()
	r := setupRouter(engine)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/alerts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	emitted := engine.OnSample(context.Background(), "d1", 0.55, 0, time.Now().UTC(), time.Time{})
	require.Len(t, emitted, 1)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/alerts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts []*Alert `json:"alerts"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, emitted[0].ID, resp.Alerts[0].ID)
}

func TestAcknowledgeHandler(t *testing.T) {
	engine, _ := newTestEngine()
	r := setupRouter(engine)

	emitted := engine.OnSample(context.Background(), "d1", 0.55, 0, time.Now().UTC(), time.Time{})
	require.Len(t, emitted, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/alerts/"+emitted[0].ID+"/ack", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"acknowledged":true`)

	// Acked alert appears in history.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/alerts/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), emitted[0].ID)

	// Unknown alert is 404.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/alerts/alr_missing/ack", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDismissHandler(t *testing.T) {
	engine, _ := newTestEngine()
	r := setupRouter(engine)

	emitted := engine.OnSample(context.Background(), "d1", 0.55, 0, time.Now().UTC(), time.Time{})
	require.Len(t, emitted, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/drivers/d1/alerts/"+emitted[0].ID, nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	// Gone from active, not in history.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/alerts", nil))
	assert.Contains(t, w.Body.String(), `"count":0`)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/alerts/history", nil))
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/drivers/d1/alerts/alr_missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
