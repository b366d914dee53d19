package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendLog atomically appends the entry with the next per-driver index.
// The unique (driver_id, log_index) constraint makes concurrent appends safe:
// a collision retries at the SQL level via the serialization error surfaced
// to the service's retry loop.
func (p *PostgresStore) AppendLog(ctx context.Context, entry *WellnessLog) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO wellness_logs (
			driver_id, log_index, timestamp, drowsiness_events, stress_level,
			interventions, route_compliance, gps_coordinates, data_hash
		)
		SELECT $1, COALESCE(MAX(log_index) + 1, 0), $2, $3, $4, $5, $6, $7, $8
		FROM wellness_logs WHERE driver_id = $1
		RETURNING log_index
	`, entry.DriverID, entry.Timestamp, entry.DrowsinessEvents, entry.StressLevel,
		entry.Interventions, entry.RouteCompliance, entry.GPSCoordinates, entry.DataHash,
	).Scan(&entry.Index)
	if err != nil {
		return fmt.Errorf("append wellness log: %w", err)
	}
	return nil
}

// GetLog returns the entry at index or ErrLogNotFound.
func (p *PostgresStore) GetLog(ctx context.Context, driverID string, index int) (*WellnessLog, error) {
	entry := &WellnessLog{}
	err := p.db.QueryRowContext(ctx, `
		SELECT driver_id, log_index, timestamp, drowsiness_events, stress_level,
		       interventions, route_compliance, gps_coordinates, data_hash
		FROM wellness_logs
		WHERE driver_id = $1 AND log_index = $2
	`, driverID, index).Scan(&entry.DriverID, &entry.Index, &entry.Timestamp,
		&entry.DrowsinessEvents, &entry.StressLevel, &entry.Interventions,
		&entry.RouteCompliance, &entry.GPSCoordinates, &entry.DataHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wellness log: %w", err)
	}
	return entry, nil
}

// ListLogs returns entries oldest first.
func (p *PostgresStore) ListLogs(ctx context.Context, driverID string, limit, offset int) ([]*WellnessLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT driver_id, log_index, timestamp, drowsiness_events, stress_level,
		       interventions, route_compliance, gps_coordinates, data_hash
		FROM wellness_logs
		WHERE driver_id = $1
		ORDER BY log_index ASC
		LIMIT $2 OFFSET $3
	`, driverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list wellness logs: %w", err)
	}
	defer rows.Close()

	var out []*WellnessLog
	for rows.Next() {
		entry := &WellnessLog{}
		if err := rows.Scan(&entry.DriverID, &entry.Index, &entry.Timestamp,
			&entry.DrowsinessEvents, &entry.StressLevel, &entry.Interventions,
			&entry.RouteCompliance, &entry.GPSCoordinates, &entry.DataHash); err != nil {
			return nil, fmt.Errorf("scan wellness log: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// CountLogs returns the number of entries for the driver.
func (p *PostgresStore) CountLogs(ctx context.Context, driverID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wellness_logs WHERE driver_id = $1`, driverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count wellness logs: %w", err)
	}
	return count, nil
}

// GetAccount returns the account or a zero-valued one.
func (p *PostgresStore) GetAccount(ctx context.Context, driverID string) (*Account, error) {
	acc := &Account{DriverID: driverID}
	err := p.db.QueryRowContext(ctx, `
		SELECT total_score, total_earned, total_redeemed, current_balance,
		       is_active, last_update_time, version
		FROM reward_accounts WHERE driver_id = $1
	`, driverID).Scan(&acc.TotalScore, &acc.TotalEarned, &acc.TotalRedeemed,
		&acc.CurrentBalance, &acc.IsActive, &acc.LastUpdateTime, &acc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return &Account{
			DriverID:       driverID,
			TotalEarned:    "0.00",
			TotalRedeemed:  "0.00",
			CurrentBalance: "0.00",
			IsActive:       false,
			Version:        0,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// UpdateAccountCAS writes the account conditionally on the stored version.
func (p *PostgresStore) UpdateAccountCAS(ctx context.Context, account *Account, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO reward_accounts (
				driver_id, total_score, total_earned, total_redeemed,
				current_balance, is_active, last_update_time, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		`, account.DriverID, account.TotalScore, account.TotalEarned,
			account.TotalRedeemed, account.CurrentBalance, account.IsActive,
			account.LastUpdateTime)
		if isUniqueViolation(err) {
			return ErrStaleAccount
		}
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		account.Version = 1
		return nil
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE reward_accounts
		SET total_score = $1, total_earned = $2, total_redeemed = $3,
		    current_balance = $4, is_active = $5, last_update_time = $6,
		    version = version + 1
		WHERE driver_id = $7 AND version = $8
	`, account.TotalScore, account.TotalEarned, account.TotalRedeemed,
		account.CurrentBalance, account.IsActive, account.LastUpdateTime,
		account.DriverID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return ErrStaleAccount
	}
	account.Version = expectedVersion + 1
	return nil
}

// SaveSettlementAndCredit persists the settlement and the account update in
// one transaction. A duplicate session ID rolls back with ErrDuplicateSettle,
// a version conflict with ErrStaleAccount; either way neither row lands
// without the other.
func (p *PostgresStore) SaveSettlementAndCredit(ctx context.Context, s *Settlement, account *Account, expectedVersion int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlements (
			session_id, driver_id, amount, safety_score, duration_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, s.SessionID, s.DriverID, s.Amount, s.SafetyScore, s.DurationSeconds, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateSettle
	}
	if err != nil {
		return fmt.Errorf("save settlement: %w", err)
	}

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reward_accounts (
				driver_id, total_score, total_earned, total_redeemed,
				current_balance, is_active, last_update_time, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		`, account.DriverID, account.TotalScore, account.TotalEarned,
			account.TotalRedeemed, account.CurrentBalance, account.IsActive,
			account.LastUpdateTime)
		if isUniqueViolation(err) {
			return ErrStaleAccount
		}
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE reward_accounts
			SET total_score = $1, total_earned = $2, total_redeemed = $3,
			    current_balance = $4, is_active = $5, last_update_time = $6,
			    version = version + 1
			WHERE driver_id = $7 AND version = $8
		`, account.TotalScore, account.TotalEarned, account.TotalRedeemed,
			account.CurrentBalance, account.IsActive, account.LastUpdateTime,
			account.DriverID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if n == 0 {
			return ErrStaleAccount
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settle: %w", err)
	}
	account.Version = expectedVersion + 1
	return nil
}

// GetSettlement returns the settlement for a session, or nil.
func (p *PostgresStore) GetSettlement(ctx context.Context, sessionID string) (*Settlement, error) {
	s := &Settlement{}
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, driver_id, amount, safety_score, duration_seconds, created_at
		FROM settlements WHERE session_id = $1
	`, sessionID).Scan(&s.SessionID, &s.DriverID, &s.Amount, &s.SafetyScore,
		&s.DurationSeconds, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return s, nil
}

// SaveRedemption persists a redemption receipt.
func (p *PostgresStore) SaveRedemption(ctx context.Context, r *Redemption) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO redemptions (id, driver_id, amount, reward_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.DriverID, r.Amount, r.RewardType, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save redemption: %w", err)
	}
	return nil
}

// ListRedemptions returns receipts newest first.
func (p *PostgresStore) ListRedemptions(ctx context.Context, driverID string, limit, offset int) ([]*Redemption, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, amount, reward_type, created_at
		FROM redemptions
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, driverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []*Redemption
	for rows.Next() {
		r := &Redemption{}
		if err := rows.Scan(&r.ID, &r.DriverID, &r.Amount, &r.RewardType, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRedemptionsBefore returns receipts older than the keyset position.
func (p *PostgresStore) ListRedemptionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Redemption, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, amount, reward_type, created_at
		FROM redemptions
		WHERE driver_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, driverID, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list redemptions before: %w", err)
	}
	defer rows.Close()

	var out []*Redemption
	for rows.Next() {
		r := &Redemption{}
		if err := rows.Scan(&r.ID, &r.DriverID, &r.Amount, &r.RewardType, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAchievement persists an achievement once per (driver, type).
func (p *PostgresStore) SaveAchievement(ctx context.Context, a *Achievement) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO achievements (
			id, driver_id, type, requirement, reward_bonus,
			safety_score, driving_hours, minted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.DriverID, a.Type, a.Requirement, a.RewardBonus,
		a.SafetyScore, a.DrivingHrs, a.MintedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyMinted
	}
	if err != nil {
		return fmt.Errorf("save achievement: %w", err)
	}
	return nil
}

// GetAchievement returns the achievement of that type, or nil.
func (p *PostgresStore) GetAchievement(ctx context.Context, driverID, achievementType string) (*Achievement, error) {
	a := &Achievement{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, driver_id, type, requirement, reward_bonus,
		       safety_score, driving_hours, minted_at
		FROM achievements WHERE driver_id = $1 AND type = $2
	`, driverID, achievementType).Scan(&a.ID, &a.DriverID, &a.Type, &a.Requirement,
		&a.RewardBonus, &a.SafetyScore, &a.DrivingHrs, &a.MintedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get achievement: %w", err)
	}
	return a, nil
}

// ListAchievements returns minted achievements, newest first.
func (p *PostgresStore) ListAchievements(ctx context.Context, driverID string) ([]*Achievement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, type, requirement, reward_bonus,
		       safety_score, driving_hours, minted_at
		FROM achievements
		WHERE driver_id = $1
		ORDER BY minted_at DESC, id DESC
	`, driverID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var out []*Achievement
	for rows.Next() {
		a := &Achievement{}
		if err := rows.Scan(&a.ID, &a.DriverID, &a.Type, &a.Requirement,
			&a.RewardBonus, &a.SafetyScore, &a.DrivingHrs, &a.MintedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// isUniqueViolation reports a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
