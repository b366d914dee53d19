// Package telemetry ingests driver wellness samples and aggregates them into
// driving sessions.
//
// One logical ingestion path exists per driver. Samples arriving for the same
// driver are serialized behind a sharded per-driver lock; different drivers
// proceed fully in parallel. A gap of at least the configured session-gap
// threshold between consecutive samples closes the open session and starts a
// new one.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/safedrive/internal/idgen"
	"github.com/mbd888/safedrive/internal/logging"
	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/retry"
	"github.com/mbd888/safedrive/internal/scoring"
	"github.com/mbd888/safedrive/internal/syncutil"
	"github.com/mbd888/safedrive/internal/traces"
)

var (
	// ErrInvalidSample indicates a sample with out-of-range readings. The
	// stream continues; the sample is dropped.
	ErrInvalidSample = errors.New("invalid sample")

	// ErrStaleSample indicates a sample older than the tolerance window
	// behind the newest accepted sample. Rejected rather than folded so
	// late stragglers cannot corrupt the running aggregates.
	ErrStaleSample = errors.New("stale sample")

	// ErrWrite indicates the session store rejected a write after retries.
	ErrWrite = errors.New("session write failed")
)

// Sample is one wellness reading from the in-vehicle sensor pipeline.
// Drowsiness and Stress are normalized to [0,1].
type Sample struct {
	Timestamp  time.Time `json:"timestamp" binding:"required"`
	Drowsiness float64   `json:"drowsiness"`
	Stress     float64   `json:"stress"`
}

// Session is one aggregated driving session. Mutated only by the aggregator
// while active; immutable once closed.
type Session struct {
	ID              string    `json:"sessionId"`
	DriverID        string    `json:"driverId"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	SampleCount     int       `json:"sampleCount"`
	AvgDrowsiness   float64   `json:"avgDrowsiness"`
	AvgStress       float64   `json:"avgStress"`
	SafetyScore     int       `json:"safetyScore"`
	DurationSeconds float64   `json:"durationSeconds"`
	Interventions   int       `json:"interventions"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

// activeSession carries the open session plus fold-state not exposed to readers.
type activeSession struct {
	session      Session
	lastSampleAt time.Time
}

// CloseHook is invoked after a session has been scored and persisted.
// The ledger settlement and realtime broadcast hang off this.
type CloseHook func(ctx context.Context, session *Session)

// SampleHook is invoked after a sample has been folded into a session, with a
// snapshot of that session. The alert engine hangs off this. Called outside
// the driver lock, so the hook may call back into the aggregator.
type SampleHook func(ctx context.Context, driverID string, s Sample, session *Session)

// Aggregator folds samples into sessions, one open session per driver at most.
type Aggregator struct {
	store     Store
	gap       time.Duration
	tolerance time.Duration

	locks  syncutil.ShardedMutex
	mu     sync.RWMutex
	active map[string]*activeSession

	closeHook  CloseHook
	sampleHook SampleHook
	metrics    *metrics.Metrics
}

// NewAggregator creates a session aggregator.
// gap is the inactivity threshold that closes a session; tolerance is the
// out-of-order window for late samples. metrics may be nil.
func NewAggregator(store Store, gap, tolerance time.Duration, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		store:     store,
		gap:       gap,
		tolerance: tolerance,
		active:    make(map[string]*activeSession),
		metrics:   m,
	}
}

// SetCloseHook registers the session-closed callback. Must be called before
// ingestion starts.
func (a *Aggregator) SetCloseHook(hook CloseHook) {
	a.closeHook = hook
}

// SetSampleHook registers the per-sample callback. Must be called before
// ingestion starts.
func (a *Aggregator) SetSampleHook(hook SampleHook) {
	a.sampleHook = hook
}

// Ingest folds one sample into the driver's open session, opening or rotating
// sessions per the gap rule. Returns a snapshot of the session the sample
// landed in.
func (a *Aggregator) Ingest(ctx context.Context, driverID string, s Sample) (*Session, error) {
	if s.Drowsiness < 0 || s.Drowsiness > 1 {
		return nil, fmt.Errorf("%w: drowsiness %v outside [0,1]", ErrInvalidSample, s.Drowsiness)
	}
	if s.Stress < 0 || s.Stress > 1 {
		return nil, fmt.Errorf("%w: stress %v outside [0,1]", ErrInvalidSample, s.Stress)
	}
	if s.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}

	ctx, span := traces.StartSpan(ctx, "telemetry.Ingest", traces.DriverID(driverID))
	defer span.End()

	snapshot, err := a.ingestLocked(ctx, driverID, s)
	if err != nil {
		return nil, err
	}

	if a.sampleHook != nil {
		a.sampleHook(ctx, driverID, s, snapshot)
	}
	return snapshot, nil
}

func (a *Aggregator) ingestLocked(ctx context.Context, driverID string, s Sample) (*Session, error) {
	unlock := a.locks.Lock(driverID)
	defer unlock()

	cur := a.getActive(driverID)

	if cur != nil {
		// Late sample beyond tolerance: reject, do not corrupt aggregates.
		if s.Timestamp.Before(cur.lastSampleAt.Add(-a.tolerance)) {
			if a.metrics != nil {
				a.metrics.SamplesRejected.WithLabelValues("stale").Inc()
			}
			return nil, fmt.Errorf("%w: sample at %s is %s behind newest",
				ErrStaleSample, s.Timestamp.Format(time.RFC3339),
				cur.lastSampleAt.Sub(s.Timestamp))
		}

		// Gap rule: a long silence ends the session; this sample starts the next.
		if s.Timestamp.Sub(cur.lastSampleAt) >= a.gap {
			if err := a.closeLocked(ctx, driverID, cur); err != nil {
				return nil, err
			}
			cur = nil
		}
	}

	if cur == nil {
		cur = a.openLocked(driverID, s)
	} else {
		fold(cur, s)
	}

	snapshot := cur.session
	return &snapshot, nil
}

// ActiveDrivers returns the drivers that currently have an open session.
// Used on shutdown to flush open sessions through the close pipeline.
func (a *Aggregator) ActiveDrivers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.active))
	for driverID := range a.active {
		out = append(out, driverID)
	}
	return out
}

// AddIntervention counts one system intervention (e.g. a critical alert
// forcing a safe-stop suggestion) against the driver's open session. No-op
// when no session is open.
func (a *Aggregator) AddIntervention(driverID string) {
	unlock := a.locks.Lock(driverID)
	defer unlock()

	if cur := a.getActive(driverID); cur != nil {
		cur.session.Interventions++
	}
}

// CloseActive explicitly closes the driver's open session (stop monitoring).
// Idempotent: returns (nil, nil) when no session is open.
func (a *Aggregator) CloseActive(ctx context.Context, driverID string) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "telemetry.CloseActive", traces.DriverID(driverID))
	defer span.End()

	unlock := a.locks.Lock(driverID)
	defer unlock()

	cur := a.getActive(driverID)
	if cur == nil {
		return nil, nil
	}
	if err := a.closeLocked(ctx, driverID, cur); err != nil {
		return nil, err
	}
	snapshot := cur.session
	return &snapshot, nil
}

// Status returns a snapshot of the driver's open session, or nil.
func (a *Aggregator) Status(driverID string) *Session {
	unlock := a.locks.Lock(driverID)
	defer unlock()

	cur := a.getActive(driverID)
	if cur == nil {
		return nil
	}
	snapshot := cur.session
	return &snapshot
}

// ListSessions returns the driver's closed sessions, most recent first.
func (a *Aggregator) ListSessions(ctx context.Context, driverID string, limit, offset int) ([]*Session, error) {
	return a.store.ListSessions(ctx, driverID, limit, offset)
}

// ListSessionsBefore returns closed sessions strictly older than the keyset
// position, most-recent-first. Backs cursor pagination over session history.
func (a *Aggregator) ListSessionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Session, error) {
	return a.store.ListSessionsBefore(ctx, driverID, before, beforeID, limit)
}

// Analytics returns per-day aggregates over the trailing days window.
func (a *Aggregator) Analytics(ctx context.Context, driverID string, days int) ([]DailyStat, error) {
	return a.store.DailyAnalytics(ctx, driverID, days)
}

// getActive must be called with the driver's shard lock held.
func (a *Aggregator) getActive(driverID string) *activeSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active[driverID]
}

// openLocked starts a new session seeded with the sample. Shard lock held.
func (a *Aggregator) openLocked(driverID string, s Sample) *activeSession {
	cur := &activeSession{
		session: Session{
			ID:            idgen.WithPrefix("sess_"),
			DriverID:      driverID,
			StartTime:     s.Timestamp,
			EndTime:       s.Timestamp,
			SampleCount:   1,
			AvgDrowsiness: s.Drowsiness,
			AvgStress:     s.Stress,
			Active:        true,
			CreatedAt:     time.Now().UTC(),
		},
		lastSampleAt: s.Timestamp,
	}

	a.mu.Lock()
	a.active[driverID] = cur
	a.mu.Unlock()

	return cur
}

// fold merges a sample into the open session using Welford incremental means,
// which stay exact regardless of arrival order within the tolerance window.
func fold(cur *activeSession, s Sample) {
	sess := &cur.session
	sess.SampleCount++
	n := float64(sess.SampleCount)
	sess.AvgDrowsiness += (s.Drowsiness - sess.AvgDrowsiness) / n
	sess.AvgStress += (s.Stress - sess.AvgStress) / n

	if s.Timestamp.After(sess.EndTime) {
		sess.EndTime = s.Timestamp
	}
	if s.Timestamp.After(cur.lastSampleAt) {
		cur.lastSampleAt = s.Timestamp
	}
}

// closeLocked finalizes, scores and persists the session, then removes it
// from the active set and fires the close hook. Shard lock held.
func (a *Aggregator) closeLocked(ctx context.Context, driverID string, cur *activeSession) error {
	sess := &cur.session
	sess.Active = false
	sess.DurationSeconds = sess.EndTime.Sub(sess.StartTime).Seconds()
	sess.SafetyScore = scoring.Compute(scoring.Input{
		Drowsiness:        sess.AvgDrowsiness,
		Stress:            sess.AvgStress,
		InterventionCount: sess.Interventions,
		RouteCompliance:   100,
	})

	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return a.store.SaveSession(ctx, sess)
	})
	if err != nil {
		// Leave the session open so a later retry (next sample or explicit
		// stop) can attempt the close again.
		sess.Active = true
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	a.mu.Lock()
	delete(a.active, driverID)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.SessionsClosed.Inc()
		a.metrics.SessionDuration.Observe(sess.DurationSeconds)
	}

	logging.L(ctx).Info("session closed",
		"driver_id", driverID,
		"session_id", sess.ID,
		"samples", sess.SampleCount,
		"duration_s", sess.DurationSeconds,
		"score", sess.SafetyScore)

	if a.closeHook != nil {
		snapshot := *sess
		a.closeHook(ctx, &snapshot)
	}
	return nil
}
