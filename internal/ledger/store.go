package ledger

import (
	"context"
	"time"
)

// Store persists ledger state. Implementations must make AppendLog and
// SaveSettlementAndCredit atomic, and UpdateAccountCAS conditional on the
// version.
type Store interface {
	// AppendLog atomically appends the entry, assigning the next per-driver
	// index (starting at 0) into entry.Index.
	AppendLog(ctx context.Context, entry *WellnessLog) error

	// GetLog returns the entry at index or ErrLogNotFound.
	GetLog(ctx context.Context, driverID string, index int) (*WellnessLog, error)

	// ListLogs returns entries oldest first.
	ListLogs(ctx context.Context, driverID string, limit, offset int) ([]*WellnessLog, error)

	// CountLogs returns the number of entries for the driver.
	CountLogs(ctx context.Context, driverID string) (int, error)

	// GetAccount returns the account, or a zero-valued inactive account with
	// Version 0 when the driver has none yet.
	GetAccount(ctx context.Context, driverID string) (*Account, error)

	// UpdateAccountCAS writes the account if the stored version still equals
	// expectedVersion, incrementing the version. Returns ErrStaleAccount on
	// a version conflict. expectedVersion 0 creates the account.
	UpdateAccountCAS(ctx context.Context, account *Account, expectedVersion int64) error

	// SaveSettlementAndCredit persists the settlement and the credited
	// account as one atomic write: neither lands unless both do. A duplicate
	// session ID rejects with ErrDuplicateSettle, a version conflict with
	// ErrStaleAccount; in both cases the store is unchanged. On success the
	// account version is incremented, mirroring UpdateAccountCAS.
	SaveSettlementAndCredit(ctx context.Context, s *Settlement, account *Account, expectedVersion int64) error

	// GetSettlement returns the settlement for a session, or nil when absent.
	GetSettlement(ctx context.Context, sessionID string) (*Settlement, error)

	// SaveRedemption persists a redemption receipt.
	SaveRedemption(ctx context.Context, r *Redemption) error

	// ListRedemptions returns receipts newest first.
	ListRedemptions(ctx context.Context, driverID string, limit, offset int) ([]*Redemption, error)

	// ListRedemptionsBefore returns receipts strictly older than the
	// (before, beforeID) keyset position, newest first. Ordering matches
	// ListRedemptions: created_at descending, id descending as tie-break.
	ListRedemptionsBefore(ctx context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Redemption, error)

	// SaveAchievement persists an achievement, rejecting a duplicate
	// (driver, type) with ErrAlreadyMinted.
	SaveAchievement(ctx context.Context, a *Achievement) error

	// GetAchievement returns the achievement of that type, or nil when absent.
	GetAchievement(ctx context.Context, driverID, achievementType string) (*Achievement, error)

	// ListAchievements returns minted achievements, newest first.
	ListAchievements(ctx context.Context, driverID string) ([]*Achievement, error)
}
