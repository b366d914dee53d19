package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/safedrive/internal/config"
	"github.com/mbd888/safedrive/internal/idgen"
	"github.com/mbd888/safedrive/internal/logging"
	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/safestop"
	"github.com/mbd888/safedrive/internal/steering"
	"github.com/mbd888/safedrive/internal/syncutil"
	"github.com/mbd888/safedrive/internal/traces"
)

// Break alert thresholds on continuous driving time.
const (
	breakMediumAfter = 2 * time.Hour
	breakHighAfter   = 4 * time.Hour
)

// SafeStopFinder is the external collaborator invoked on critical alerts.
// The lookup is fire-and-forget; its result and errors are ignored here.
type SafeStopFinder interface {
	FindNearby(ctx context.Context, lat, lon, radiusKM float64) ([]safestop.Stop, error)
}

// InterventionSink counts a system intervention against the driver's open
// session. Wired to the session aggregator.
type InterventionSink func(driverID string)

// EmitHook is called with every emitted alert, after persistence. Wired to
// the realtime hub.
type EmitHook func(alert *Alert)

// typeState tracks the per-(driver,type) suppression state.
type typeState struct {
	unackedID  string
	unackedSev Severity
}

// driverState holds all per-driver engine state.
type driverState struct {
	types        map[Type]*typeState
	lastPosition *position
}

type position struct{ lat, lon float64 }

// Engine evaluates samples against severity tiers and manages alert lifecycle.
type Engine struct {
	store      Store
	drowsiness config.Tiers
	stress     config.Tiers

	locks   syncutil.ShardedMutex
	mu      sync.RWMutex
	drivers map[string]*driverState

	safeStops    SafeStopFinder
	intervention InterventionSink
	emitHook     EmitHook
	metrics      *metrics.Metrics
}

// NewEngine creates an alert engine. Tier configs must already be validated;
// misordered tiers are a startup-time fatal error, never checked here.
func NewEngine(store Store, drowsiness, stress config.Tiers, m *metrics.Metrics) *Engine {
	return &Engine{
		store:      store,
		drowsiness: drowsiness,
		stress:     stress,
		drivers:    make(map[string]*driverState),
		metrics:    m,
	}
}

// SetSafeStopFinder wires the critical-alert side effect collaborator.
func (e *Engine) SetSafeStopFinder(f SafeStopFinder) { e.safeStops = f }

// SetInterventionSink wires the per-session intervention counter.
func (e *Engine) SetInterventionSink(s InterventionSink) { e.intervention = s }

// SetEmitHook wires the realtime broadcast callback.
func (e *Engine) SetEmitHook(h EmitHook) { e.emitHook = h }

// UpdatePosition records the driver's last known position for safe-stop lookups.
func (e *Engine) UpdatePosition(driverID string, lat, lon float64) {
	unlock := e.locks.Lock(driverID)
	defer unlock()
	e.stateLocked(driverID).lastPosition = &position{lat: lat, lon: lon}
}

// tier maps a normalized reading to a severity, or "" when quiet.
func tier(t config.Tiers, v float64) Severity {
	switch {
	case v >= t.Critical:
		return SeverityCritical
	case v >= t.High:
		return SeverityHigh
	case v >= t.Medium:
		return SeverityMedium
	default:
		return ""
	}
}

// OnSample evaluates one wellness sample. sessionStart is the open session's
// start time (zero when unknown) and drives the break-reminder ladder.
// Returned alerts are the ones newly emitted by this sample.
func (e *Engine) OnSample(ctx context.Context, driverID string, drowsiness, stress float64, at, sessionStart time.Time) []*Alert {
	ctx, span := traces.StartSpan(ctx, "alerts.OnSample", traces.DriverID(driverID))
	defer span.End()

	unlock := e.locks.Lock(driverID)
	defer unlock()

	var emitted []*Alert
	if a := e.evaluateLocked(ctx, driverID, TypeDrowsiness, tier(e.drowsiness, drowsiness), at); a != nil {
		emitted = append(emitted, a)
	}
	if a := e.evaluateLocked(ctx, driverID, TypeStress, tier(e.stress, stress), at); a != nil {
		emitted = append(emitted, a)
	}
	if !sessionStart.IsZero() {
		if a := e.evaluateLocked(ctx, driverID, TypeBreak, breakTier(at.Sub(sessionStart)), at); a != nil {
			emitted = append(emitted, a)
		}
	}
	return emitted
}

func breakTier(driving time.Duration) Severity {
	switch {
	case driving >= breakHighAfter:
		return SeverityHigh
	case driving >= breakMediumAfter:
		return SeverityMedium
	default:
		return ""
	}
}

// OnSteering raises a steering alert from an abnormal steering analysis.
// Satisfies steering.Notifier.
func (e *Engine) OnSteering(ctx context.Context, driverID string, result steering.Result) {
	var sev Severity
	switch result.Pattern {
	case steering.PatternErratic:
		sev = SeverityHigh
	case steering.PatternIrregular:
		sev = SeverityMedium
	default:
		return
	}

	unlock := e.locks.Lock(driverID)
	defer unlock()
	e.evaluateLocked(ctx, driverID, TypeSteering, sev, time.Now().UTC())
}

// evaluateLocked runs one (driver,type) state transition. Driver lock held.
// Returns the emitted alert, or nil when quiet or suppressed.
func (e *Engine) evaluateLocked(ctx context.Context, driverID string, typ Type, sev Severity, at time.Time) *Alert {
	if sev == "" {
		return nil
	}

	ds := e.stateLocked(driverID)
	ts, ok := ds.types[typ]
	if !ok {
		ts = &typeState{}
		ds.types[typ] = ts
	}

	// An unacknowledged alert of this type suppresses anything at or below
	// its severity. Escalation to a higher tier still emits.
	if ts.unackedID != "" && !sev.Exceeds(ts.unackedSev) {
		if e.metrics != nil {
			e.metrics.AlertsSuppressed.WithLabelValues(string(typ)).Inc()
		}
		return nil
	}

	entry := lookupCatalog(typ, sev)
	alert := &Alert{
		ID:              idgen.WithPrefix("alr_"),
		DriverID:        driverID,
		Type:            typ,
		Severity:        sev,
		Message:         entry.message,
		Recommendations: entry.recommendations,
		Timestamp:       at,
	}

	if err := e.store.SaveActive(ctx, alert); err != nil {
		logging.L(ctx).Error("failed to persist alert",
			"driver_id", driverID, "type", string(typ), "error", err)
		return nil
	}

	ts.unackedID = alert.ID
	ts.unackedSev = sev

	if e.metrics != nil {
		e.metrics.AlertsEmitted.WithLabelValues(string(typ), string(sev)).Inc()
	}
	logging.L(ctx).Info("alert emitted",
		"driver_id", driverID,
		"alert_id", alert.ID,
		"type", string(typ),
		"severity", string(sev))

	if sev == SeverityCritical {
		e.onCriticalLocked(ctx, driverID, ds)
	}

	if e.emitHook != nil {
		e.emitHook(alert)
	}
	return alert
}

// onCriticalLocked runs the critical-alert side effects: count an
// intervention and kick off a fire-and-forget safe-stop lookup.
func (e *Engine) onCriticalLocked(ctx context.Context, driverID string, ds *driverState) {
	if e.intervention != nil {
		e.intervention(driverID)
	}

	if e.safeStops == nil || ds.lastPosition == nil {
		return
	}
	pos := *ds.lastPosition
	logger := logging.L(ctx)
	go func() {
		lookupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stops, err := e.safeStops.FindNearby(lookupCtx, pos.lat, pos.lon, 10)
		if err != nil {
			logger.Warn("safe stop lookup failed", "driver_id", driverID, "error", err)
			return
		}
		logger.Info("safe stops located", "driver_id", driverID, "count", len(stops))
	}()
}

// Acknowledge marks the alert acknowledged and moves it into the bounded
// history. Clears suppression so the next qualifying sample can re-emit.
func (e *Engine) Acknowledge(ctx context.Context, driverID, alertID string) (*Alert, error) {
	unlock := e.locks.Lock(driverID)
	defer unlock()

	alert, err := e.store.Acknowledge(ctx, driverID, alertID)
	if err != nil {
		return nil, err
	}

	e.clearSuppressionLocked(driverID, alert.Type, alertID)
	if e.metrics != nil {
		e.metrics.AlertsAcknowledged.Inc()
	}
	return alert, nil
}

// Dismiss removes the alert entirely, with no history entry. Clears
// suppression like Acknowledge.
func (e *Engine) Dismiss(ctx context.Context, driverID, alertID string) error {
	unlock := e.locks.Lock(driverID)
	defer unlock()

	alert, err := e.store.Dismiss(ctx, driverID, alertID)
	if err != nil {
		return err
	}

	e.clearSuppressionLocked(driverID, alert.Type, alertID)
	return nil
}

// ListActive returns the driver's unacknowledged alerts, newest first.
func (e *Engine) ListActive(ctx context.Context, driverID string) ([]*Alert, error) {
	return e.store.ListActive(ctx, driverID)
}

// ListHistory returns the driver's acknowledged alert history, newest first.
func (e *Engine) ListHistory(ctx context.Context, driverID string) ([]*Alert, error) {
	return e.store.ListHistory(ctx, driverID)
}

// stateLocked returns the driver's engine state, creating it on first use.
// Driver lock held.
func (e *Engine) stateLocked(driverID string) *driverState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.drivers[driverID]
	if !ok {
		ds = &driverState{types: make(map[Type]*typeState)}
		e.drivers[driverID] = ds
	}
	return ds
}

func (e *Engine) clearSuppressionLocked(driverID string, typ Type, alertID string) {
	e.mu.RLock()
	ds := e.drivers[driverID]
	e.mu.RUnlock()
	if ds == nil {
		return
	}
	if ts, ok := ds.types[typ]; ok && ts.unackedID == alertID {
		ts.unackedID = ""
		ts.unackedSev = ""
	}
}
