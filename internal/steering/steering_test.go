package steering

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_SteadyTrace(t *testing.T) {
	angles := []float64{1, 1.5, 1, 0.5, 1, 1.2}
	r, err := Analyze(angles)
	require.NoError(t, err)
	assert.Equal(t, PatternNormal, r.Pattern)
	assert.Less(t, r.FatigueIndicator, irregularThreshold)
	assert.Equal(t, len(angles), r.SampleCount)
}

func TestAnalyze_IrregularTrace(t *testing.T) {
	// Std dev of {0,100} is 50, fatigue 0.5.
	r, err := Analyze([]float64{0, 100})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, r.Variability, 1e-9)
	assert.InDelta(t, 0.5, r.FatigueIndicator, 1e-9)
	assert.Equal(t, PatternIrregular, r.Pattern)
}

func TestAnalyze_ErraticTrace(t *testing.T) {
	// Std dev of {-90,90} is 90, fatigue 0.9.
	r, err := Analyze([]float64{-90, 90})
	require.NoError(t, err)
	assert.Equal(t, PatternErratic, r.Pattern)
}

func TestAnalyze_FatigueCappedAtOne(t *testing.T) {
	r, err := Analyze([]float64{-500, 500})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.FatigueIndicator)
}

func TestAnalyze_TooFewAngles(t *testing.T) {
	_, err := Analyze([]float64{5})
	assert.ErrorIs(t, err, ErrTooFewAngles)

	_, err = Analyze(nil)
	assert.ErrorIs(t, err, ErrTooFewAngles)
}

type captureNotifier struct {
	driverID string
	result   Result
	called   bool
}

func (n *captureNotifier) OnSteering(_ context.Context, driverID string, result Result) {
	n.called = true
	n.driverID = driverID
	n.result = result
}

func setupRouter(n Notifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/v1/drivers/:driverId")
	NewHandlers(n).Register(grp)
	return r
}

func TestAnalyzeHandler_NotifiesOnErratic(t *testing.T) {
	n := &captureNotifier{}
	r := setupRouter(n)

	body := `{"angles": [-90, 90]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/steering", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)

	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, PatternErratic, result.Pattern)

	assert.True(t, n.called)
	assert.Equal(t, "d1", n.driverID)
}

func TestAnalyzeHandler_NoNotifyOnNormal(t *testing.T) {
	n := &captureNotifier{}
	r := setupRouter(n)

	body := `{"angles": [1, 1.2, 0.9, 1.1]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/steering", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, n.called)
}

func TestAnalyzeHandler_BadBody(t *testing.T) {
	r := setupRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/steering", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/drivers/d1/steering", strings.NewReader(`{"angles":[1]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
