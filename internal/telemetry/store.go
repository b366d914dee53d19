package telemetry

import (
	"context"
	"time"
)

// DailyStat is one day's aggregate across a driver's closed sessions.
type DailyStat struct {
	Date          string  `json:"date"` // YYYY-MM-DD, UTC
	SessionCount  int     `json:"sessionCount"`
	AvgDrowsiness float64 `json:"avgDrowsiness"`
	AvgStress     float64 `json:"avgStress"`
	AvgScore      float64 `json:"avgScore"`
}

// Store persists closed sessions. Open sessions never leave the aggregator.
type Store interface {
	// SaveSession persists a closed session. Must be atomic.
	SaveSession(ctx context.Context, s *Session) error

	// ListSessions returns the driver's closed sessions most-recent-first
	// (by end time, then ID for a stable order).
	ListSessions(ctx context.Context, driverID string, limit, offset int) ([]*Session, error)

	// ListSessionsBefore returns sessions strictly older than the
	// (before, beforeID) keyset position, in the same order as ListSessions.
	ListSessionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Session, error)

	// DailyAnalytics aggregates the trailing `days` days of closed sessions
	// into per-day stats, oldest day first. Days with no sessions are omitted.
	DailyAnalytics(ctx context.Context, driverID string, days int) ([]DailyStat, error)
}
