package alerts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveActive persists a newly emitted alert.
func (p *PostgresStore) SaveActive(ctx context.Context, a *Alert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, driver_id, type, severity, message, recommendations,
			timestamp, acknowledged, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, 'active')
	`, a.ID, a.DriverID, string(a.Type), string(a.Severity), a.Message,
		pq.Array(a.Recommendations), a.Timestamp)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// ListActive returns unacknowledged alerts, newest first.
func (p *PostgresStore) ListActive(ctx context.Context, driverID string) ([]*Alert, error) {
	return p.list(ctx, driverID, "active")
}

// ListHistory returns acknowledged alerts, newest first.
func (p *PostgresStore) ListHistory(ctx context.Context, driverID string) ([]*Alert, error) {
	return p.list(ctx, driverID, "history")
}

func (p *PostgresStore) list(ctx context.Context, driverID, status string) ([]*Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, type, severity, message, recommendations,
		       timestamp, acknowledged
		FROM alerts
		WHERE driver_id = $1 AND status = $2
		ORDER BY timestamp DESC, id DESC
	`, driverID, status)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a := &Alert{}
		var typ, sev string
		if err := rows.Scan(&a.ID, &a.DriverID, &typ, &sev, &a.Message,
			pq.Array(&a.Recommendations), &a.Timestamp, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = Type(typ)
		a.Severity = Severity(sev)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Acknowledge moves an active alert into the capped history in one transaction.
func (p *PostgresStore) Acknowledge(ctx context.Context, driverID, alertID string) (*Alert, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	a := &Alert{}
	var typ, sev string
	err = tx.QueryRowContext(ctx, `
		UPDATE alerts
		SET acknowledged = TRUE, status = 'history'
		WHERE id = $1 AND driver_id = $2 AND status = 'active'
		RETURNING id, driver_id, type, severity, message, recommendations,
		          timestamp, acknowledged
	`, alertID, driverID).Scan(&a.ID, &a.DriverID, &typ, &sev, &a.Message,
		pq.Array(&a.Recommendations), &a.Timestamp, &a.Acknowledged)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	a.Type = Type(typ)
	a.Severity = Severity(sev)

	// Evict history beyond the cap, oldest first.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM alerts
		WHERE driver_id = $1 AND status = 'history' AND id NOT IN (
			SELECT id FROM alerts
			WHERE driver_id = $1 AND status = 'history'
			ORDER BY timestamp DESC, id DESC
			LIMIT $2
		)
	`, driverID, HistoryCap)
	if err != nil {
		return nil, fmt.Errorf("trim alert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// Dismiss removes an active alert with no history entry.
func (p *PostgresStore) Dismiss(ctx context.Context, driverID, alertID string) (*Alert, error) {
	a := &Alert{}
	var typ, sev string
	err := p.db.QueryRowContext(ctx, `
		DELETE FROM alerts
		WHERE id = $1 AND driver_id = $2 AND status = 'active'
		RETURNING id, driver_id, type, severity, message, recommendations,
		          timestamp, acknowledged
	`, alertID, driverID).Scan(&a.ID, &a.DriverID, &typ, &sev, &a.Message,
		pq.Array(&a.Recommendations), &a.Timestamp, &a.Acknowledged)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dismiss alert: %w", err)
	}
	a.Type = Type(typ)
	a.Severity = Severity(sev)
	return a, nil
}
