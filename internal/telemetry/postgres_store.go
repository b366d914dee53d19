package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveSession persists a closed session.
func (p *PostgresStore) SaveSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, driver_id, start_time, end_time, sample_count,
			avg_drowsiness, avg_stress, safety_score, duration_seconds,
			interventions, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.DriverID, s.StartTime, s.EndTime, s.SampleCount,
		s.AvgDrowsiness, s.AvgStress, s.SafetyScore, s.DurationSeconds,
		s.Interventions, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ListSessions returns closed sessions most-recent-first.
func (p *PostgresStore) ListSessions(ctx context.Context, driverID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, start_time, end_time, sample_count,
		       avg_drowsiness, avg_stress, safety_score, duration_seconds,
		       interventions, created_at
		FROM sessions
		WHERE driver_id = $1
		ORDER BY end_time DESC, id DESC
		LIMIT $2 OFFSET $3
	`, driverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.DriverID, &s.StartTime, &s.EndTime, &s.SampleCount,
			&s.AvgDrowsiness, &s.AvgStress, &s.SafetyScore, &s.DurationSeconds,
			&s.Interventions, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSessionsBefore returns sessions older than the keyset position.
func (p *PostgresStore) ListSessionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, start_time, end_time, sample_count,
		       avg_drowsiness, avg_stress, safety_score, duration_seconds,
		       interventions, created_at
		FROM sessions
		WHERE driver_id = $1 AND (end_time, id) < ($2, $3)
		ORDER BY end_time DESC, id DESC
		LIMIT $4
	`, driverID, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions before: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.DriverID, &s.StartTime, &s.EndTime, &s.SampleCount,
			&s.AvgDrowsiness, &s.AvgStress, &s.SafetyScore, &s.DurationSeconds,
			&s.Interventions, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailyAnalytics aggregates the trailing days of sessions into per-day stats.
func (p *PostgresStore) DailyAnalytics(ctx context.Context, driverID string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT to_char(end_time AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COUNT(*),
		       AVG(avg_drowsiness),
		       AVG(avg_stress),
		       AVG(safety_score)
		FROM sessions
		WHERE driver_id = $1
		  AND end_time >= NOW() - ($2 || ' days')::interval
		GROUP BY day
		ORDER BY day ASC
	`, driverID, days)
	if err != nil {
		return nil, fmt.Errorf("daily analytics: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var stat DailyStat
		if err := rows.Scan(&stat.Date, &stat.SessionCount, &stat.AvgDrowsiness,
			&stat.AvgStress, &stat.AvgScore); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}
