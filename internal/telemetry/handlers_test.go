package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(agg *Aggregator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/v1/drivers/:driverId")
	NewHandlers(agg).Register(grp)
	return r
}

func postSample(r *gin.Engine, driver string, at time.Time, drowsiness, stress float64) *httptest.ResponseRecorder {
	body := fmt.Sprintf(`{"timestamp":%q,"drowsiness":%v,"stress":%v}`,
		at.Format(time.RFC3339Nano), drowsiness, stress)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/drivers/"+driver+"/samples", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestIngestHandler(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	w := postSample(r, "d1", t0, 0.2, 0.1)
	require.Equal(t, http.StatusAccepted, w.Code)

	var session Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, 1, session.SampleCount)
	assert.True(t, session.Active)
}

func TestIngestHandler_ErrorMapping(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	// Out of range reading.
	w := postSample(r, "d1", t0, 1.5, 0.1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_sample")

	// Stale sample behind the tolerance window.
	require.Equal(t, http.StatusAccepted, postSample(r, "d1", t0.Add(time.Minute), 0.2, 0.1).Code)
	w = postSample(r, "d1", t0, 0.2, 0.1)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "stale_sample")

	// Malformed body.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/samples", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStopHandler(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	// Stop with nothing open is a no-op, not an error.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"closed":false`)

	require.Equal(t, http.StatusAccepted, postSample(r, "d1", t0, 0.2, 0.1).Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"closed":true`)
}

func TestListSessionsHandler(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		require.Equal(t, http.StatusAccepted, postSample(r, "d1", at, 0.2, 0.1).Code)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/stop", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/sessions?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []*Session `json:"sessions"`
		Count    int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	// Most recent first.
	assert.True(t, resp.Sessions[0].EndTime.After(resp.Sessions[1].EndTime))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/sessions?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessionsHandler_CursorWalk(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		require.Equal(t, http.StatusAccepted, postSample(r, "d1", at, 0.2, 0.1).Code)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/stop", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	type page struct {
		Sessions   []*Session `json:"sessions"`
		Count      int        `json:"count"`
		NextCursor string     `json:"nextCursor"`
		HasMore    bool       `json:"hasMore"`
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/sessions?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var first page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, 2, first.Count)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/sessions?limit=2&cursor="+first.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var second page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, 1, second.Count)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextCursor)

	// The second page must continue where the first left off.
	assert.True(t, first.Sessions[1].EndTime.After(second.Sessions[0].EndTime))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/sessions?cursor=%21%21", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusHandler(t *testing.T) {
	agg, _ := newTestAggregator()
	r := setupRouter(agg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"monitoring":false`)

	require.Equal(t, http.StatusAccepted, postSample(r, "d1", t0, 0.2, 0.1).Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"monitoring":true`)
}

func TestAnalyticsHandler(t *testing.T) {
	agg, store := newTestAggregator()
	r := setupRouter(agg)

	// Seed a closed session ending today so it lands in the window.
	now := time.Now().UTC()
	require.NoError(t, store.SaveSession(t.Context(), &Session{
		ID: "sess_x", DriverID: "d1",
		StartTime: now.Add(-time.Hour), EndTime: now,
		SampleCount: 10, AvgDrowsiness: 0.2, AvgStress: 0.1, SafetyScore: 95,
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/analytics?days=7", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Days  int         `json:"days"`
		Daily []DailyStat `json:"daily"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Days)
	require.Len(t, resp.Daily, 1)
	assert.Equal(t, 1, resp.Daily[0].SessionCount)
	assert.InDelta(t, 95, resp.Daily[0].AvgScore, 1e-9)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/drivers/d1/analytics?days=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
