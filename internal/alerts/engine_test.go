package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/safedrive/internal/config"
	"github.com/mbd888/safedrive/internal/safestop"
	"github.com/mbd888/safedrive/internal/steering"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine() (*Engine, *MemoryStore) {
	store := NewMemoryStore()
	engine := NewEngine(store, config.DefaultDrowsinessTiers, config.DefaultStressTiers, nil)
	return engine, store
}

func TestOnSample_QuietBelowThresholds(t *testing.T) {
	engine, _ := newTestEngine()

	emitted := engine.OnSample(context.Background(), "d1", 0.2, 0.1, t0, time.Time{})
	assert.Empty(t, emitted)
}

func TestOnSample_CriticalDrowsiness(t *testing.T) {
	engine, store := newTestEngine()

	// Calm first sample, then a spike over the 0.7 critical tier.
	emitted := engine.OnSample(context.Background(), "d1", 0.2, 0.1, t0, time.Time{})
	require.Empty(t, emitted)

	emitted = engine.OnSample(context.Background(), "d1", 0.75, 0.2, t0.Add(2*time.Second), time.Time{})
	require.Len(t, emitted, 1)
	assert.Equal(t, TypeDrowsiness, emitted[0].Type)
	assert.Equal(t, SeverityCritical, emitted[0].Severity)
	assert.NotEmpty(t, emitted[0].Message)
	assert.NotEmpty(t, emitted[0].Recommendations)

	active, err := store.ListActive(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestOnSample_SeverityTiers(t *testing.T) {
	tests := []struct {
		drowsiness float64
		want       Severity
	}{
		{0.34, ""},
		{0.35, SeverityMedium},
		{0.5, SeverityHigh},
		{0.69, SeverityHigh},
		{0.7, SeverityCritical},
	}
	for _, tt := range tests {
		engine, _ := newTestEngine()
		emitted := engine.OnSample(context.Background(), "d1", tt.drowsiness, 0, t0, time.Time{})
		if tt.want == "" {
			assert.Empty(t, emitted, "drowsiness %v", tt.drowsiness)
			continue
		}
		require.Len(t, emitted, 1, "drowsiness %v", tt.drowsiness)
		assert.Equal(t, tt.want, emitted[0].Severity)
	}
}

func TestOnSample_UnackedSuppressesSameTier(t *testing.T) {
	engine, _ := newTestEngine()

	first := engine.OnSample(context.Background(), "d1", 0.55, 0, t0, time.Time{})
	require.Len(t, first, 1)

	// Same tier again while unacknowledged: suppressed.
	again := engine.OnSample(context.Background(), "d1", 0.58, 0, t0.Add(2*time.Second), time.Time{})
	assert.Empty(t, again)

	// Lower tier while unacknowledged: also suppressed.
	lower := engine.OnSample(context.Background(), "d1", 0.4, 0, t0.Add(4*time.Second), time.Time{})
	assert.Empty(t, lower)
}

func TestOnSample_EscalationBreaksSuppression(t *testing.T) {
	engine, _ := newTestEngine()

	first := engine.OnSample(context.Background(), "d1", 0.4, 0, t0, time.Time{})
	require.Len(t, first, 1)
	assert.Equal(t, SeverityMedium, first[0].Severity)

	escalated := engine.OnSample(context.Background(), "d1", 0.72, 0, t0.Add(2*time.Second), time.Time{})
	require.Len(t, escalated, 1)
	assert.Equal(t, SeverityCritical, escalated[0].Severity)
}

func TestAcknowledge_ClearsSuppressionAndKeepsHistory(t *testing.T) {
	engine, store := newTestEngine()

	first := engine.OnSample(context.Background(), "d1", 0.55, 0, t0, time.Time{})
	require.Len(t, first, 1)

	acked, err := engine.Acknowledge(context.Background(), "d1", first[0].ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	hist, err := store.ListHistory(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, first[0].ID, hist[0].ID)

	// Next qualifying sample re-emits.
	again := engine.OnSample(context.Background(), "d1", 0.55, 0, t0.Add(10*time.Second), time.Time{})
	require.Len(t, again, 1)
	assert.NotEqual(t, first[0].ID, again[0].ID)
}

func TestDismiss_RemovesWithoutHistory(t *testing.T) {
	engine, store := newTestEngine()

	first := engine.OnSample(context.Background(), "d1", 0.55, 0, t0, time.Time{})
	require.Len(t, first, 1)

	require.NoError(t, engine.Dismiss(context.Background(), "d1", first[0].ID))

	active, _ := store.ListActive(context.Background(), "d1")
	assert.Empty(t, active)
	hist, _ := store.ListHistory(context.Background(), "d1")
	assert.Empty(t, hist, "dismissed alerts leave no history entry")

	// Suppression cleared: next qualifying sample re-emits.
	again := engine.OnSample(context.Background(), "d1", 0.55, 0, t0.Add(10*time.Second), time.Time{})
	assert.Len(t, again, 1)
}

func TestAcknowledge_UnknownAlert(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Acknowledge(context.Background(), "d1", "alr_missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	err = engine.Dismiss(context.Background(), "d1", "alr_missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestHistoryCappedAtTen(t *testing.T) {
	engine, store := newTestEngine()

	var firstID string
	for i := 0; i < 12; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		emitted := engine.OnSample(context.Background(), "d1", 0.55, 0, at, time.Time{})
		require.Len(t, emitted, 1)
		if i == 0 {
			firstID = emitted[0].ID
		}
		_, err := engine.Acknowledge(context.Background(), "d1", emitted[0].ID)
		require.NoError(t, err)
	}

	hist, err := store.ListHistory(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, hist, HistoryCap)
	for _, a := range hist {
		assert.NotEqual(t, firstID, a.ID, "oldest entry evicted first")
	}
}

func TestBreakReminderLadder(t *testing.T) {
	engine, _ := newTestEngine()
	start := t0

	// Under two hours: quiet.
	emitted := engine.OnSample(context.Background(), "d1", 0.1, 0.1, start.Add(90*time.Minute), start)
	assert.Empty(t, emitted)

	// Past two hours: medium break reminder.
	emitted = engine.OnSample(context.Background(), "d1", 0.1, 0.1, start.Add(2*time.Hour+time.Minute), start)
	require.Len(t, emitted, 1)
	assert.Equal(t, TypeBreak, emitted[0].Type)
	assert.Equal(t, SeverityMedium, emitted[0].Severity)

	// Past four hours: escalates to high despite the unacked medium.
	emitted = engine.OnSample(context.Background(), "d1", 0.1, 0.1, start.Add(4*time.Hour+time.Minute), start)
	require.Len(t, emitted, 1)
	assert.Equal(t, TypeBreak, emitted[0].Type)
	assert.Equal(t, SeverityHigh, emitted[0].Severity)
}

func TestOnSteering_RaisesAlert(t *testing.T) {
	engine, store := newTestEngine()

	engine.OnSteering(context.Background(), "d1", steering.Result{
		Pattern:          steering.PatternErratic,
		FatigueIndicator: 0.9,
	})

	active, err := store.ListActive(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, TypeSteering, active[0].Type)
	assert.Equal(t, SeverityHigh, active[0].Severity)

	// Normal patterns never alert.
	engine.OnSteering(context.Background(), "d2", steering.Result{Pattern: steering.PatternNormal})
	active, _ = store.ListActive(context.Background(), "d2")
	assert.Empty(t, active)
}

type recordingFinder struct {
	mu     sync.Mutex
	called chan struct{}
	lat    float64
	lon    float64
}

func (f *recordingFinder) FindNearby(_ context.Context, lat, lon, _ float64) ([]safestop.Stop, error) {
	f.mu.Lock()
	f.lat, f.lon = lat, lon
	f.mu.Unlock()
	close(f.called)
	return nil, nil
}

func TestCriticalAlert_TriggersSafeStopAndIntervention(t *testing.T) {
	engine, _ := newTestEngine()

	finder := &recordingFinder{called: make(chan struct{})}
	engine.SetSafeStopFinder(finder)

	var interventions []string
	engine.SetInterventionSink(func(driverID string) {
		interventions = append(interventions, driverID)
	})

	engine.UpdatePosition("d1", 37.77, -122.41)
	emitted := engine.OnSample(context.Background(), "d1", 0.8, 0.1, t0, time.Time{})
	require.Len(t, emitted, 1)
	require.Equal(t, SeverityCritical, emitted[0].Severity)

	assert.Equal(t, []string{"d1"}, interventions)

	select {
	case <-finder.called:
		finder.mu.Lock()
		assert.Equal(t, 37.77, finder.lat)
		assert.Equal(t, -122.41, finder.lon)
		finder.mu.Unlock()
	case <-time.After(time.Second):
		t.Fatal("safe stop lookup was not triggered")
	}
}

func TestEmitHook_ReceivesAlerts(t *testing.T) {
	engine, _ := newTestEngine()

	var got []*Alert
	engine.SetEmitHook(func(a *Alert) { got = append(got, a) })

	engine.OnSample(context.Background(), "d1", 0.55, 0.65, t0, time.Time{})
	require.Len(t, got, 2, "one drowsiness and one stress alert")

	types := map[Type]bool{}
	for _, a := range got {
		types[a.Type] = true
	}
	assert.True(t, types[TypeDrowsiness])
	assert.True(t, types[TypeStress])
}

func TestDriversDoNotShareState(t *testing.T) {
	engine, _ := newTestEngine()

	first := engine.OnSample(context.Background(), "d1", 0.55, 0, t0, time.Time{})
	require.Len(t, first, 1)

	// d1's unacked alert must not suppress d2.
	second := engine.OnSample(context.Background(), "d2", 0.55, 0, t0, time.Time{})
	assert.Len(t, second, 1)
}
