package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Used for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	logs         map[string][]*WellnessLog // driverID -> entries, index order
	accounts     map[string]*Account
	settlements  map[string]*Settlement // sessionID -> settlement
	redemptions  map[string][]*Redemption
	achievements map[string][]*Achievement
}

// NewMemoryStore creates an in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:         make(map[string][]*WellnessLog),
		accounts:     make(map[string]*Account),
		settlements:  make(map[string]*Settlement),
		redemptions:  make(map[string][]*Redemption),
		achievements: make(map[string][]*Achievement),
	}
}

// AppendLog atomically appends the entry with the next index.
func (m *MemoryStore) AppendLog(_ context.Context, entry *WellnessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Index = len(m.logs[entry.DriverID])
	cp := *entry
	m.logs[entry.DriverID] = append(m.logs[entry.DriverID], &cp)
	return nil
}

// GetLog returns the entry at index.
func (m *MemoryStore) GetLog(_ context.Context, driverID string, index int) (*WellnessLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.logs[driverID]
	if index < 0 || index >= len(entries) {
		return nil, ErrLogNotFound
	}
	cp := *entries[index]
	return &cp, nil
}

// ListLogs returns entries oldest first.
func (m *MemoryStore) ListLogs(_ context.Context, driverID string, limit, offset int) ([]*WellnessLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.logs[driverID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*WellnessLog{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	out := make([]*WellnessLog, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// CountLogs returns the number of entries for the driver.
func (m *MemoryStore) CountLogs(_ context.Context, driverID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs[driverID]), nil
}

// GetAccount returns the account or a zero-valued one.
func (m *MemoryStore) GetAccount(_ context.Context, driverID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acc, ok := m.accounts[driverID]; ok {
		cp := *acc
		return &cp, nil
	}
	return &Account{
		DriverID:       driverID,
		TotalEarned:    "0.00",
		TotalRedeemed:  "0.00",
		CurrentBalance: "0.00",
		IsActive:       false,
		Version:        0,
	}, nil
}

// UpdateAccountCAS writes the account conditionally on the version.
func (m *MemoryStore) UpdateAccountCAS(_ context.Context, account *Account, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.accounts[account.DriverID]
	switch {
	case !ok && expectedVersion != 0:
		return ErrStaleAccount
	case ok && existing.Version != expectedVersion:
		return ErrStaleAccount
	}

	cp := *account
	cp.Version = expectedVersion + 1
	m.accounts[account.DriverID] = &cp
	account.Version = cp.Version
	return nil
}

// SaveSettlementAndCredit persists the settlement and the account under one
// lock. Neither write lands unless both do.
func (m *MemoryStore) SaveSettlementAndCredit(_ context.Context, s *Settlement, account *Account, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.settlements[s.SessionID]; exists {
		return ErrDuplicateSettle
	}

	existing, ok := m.accounts[account.DriverID]
	switch {
	case !ok && expectedVersion != 0:
		return ErrStaleAccount
	case ok && existing.Version != expectedVersion:
		return ErrStaleAccount
	}

	sc := *s
	m.settlements[s.SessionID] = &sc

	ac := *account
	ac.Version = expectedVersion + 1
	m.accounts[account.DriverID] = &ac
	account.Version = ac.Version
	return nil
}

// GetSettlement returns the settlement for a session, or nil.
func (m *MemoryStore) GetSettlement(_ context.Context, sessionID string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.settlements[sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// SaveRedemption persists a redemption receipt.
func (m *MemoryStore) SaveRedemption(_ context.Context, r *Redemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.redemptions[r.DriverID] = append(m.redemptions[r.DriverID], &cp)
	return nil
}

// ListRedemptions returns receipts newest first.
func (m *MemoryStore) ListRedemptions(_ context.Context, driverID string, limit, offset int) ([]*Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.redemptions[driverID]
	out := make([]*Redemption, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []*Redemption{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListRedemptionsBefore returns receipts older than the keyset position.
func (m *MemoryStore) ListRedemptionsBefore(_ context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.redemptions[driverID]
	out := make([]*Redemption, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if r.CreatedAt.After(before) || (r.CreatedAt.Equal(before) && r.ID >= beforeID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SaveAchievement persists an achievement once per (driver, type).
func (m *MemoryStore) SaveAchievement(_ context.Context, a *Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.achievements[a.DriverID] {
		if existing.Type == a.Type {
			return ErrAlreadyMinted
		}
	}
	cp := *a
	if cp.MintedAt.IsZero() {
		cp.MintedAt = time.Now().UTC()
	}
	m.achievements[a.DriverID] = append(m.achievements[a.DriverID], &cp)
	return nil
}

// GetAchievement returns the achievement of that type, or nil.
func (m *MemoryStore) GetAchievement(_ context.Context, driverID, achievementType string) (*Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.achievements[driverID] {
		if a.Type == achievementType {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

// ListAchievements returns minted achievements, newest first.
func (m *MemoryStore) ListAchievements(_ context.Context, driverID string) ([]*Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.achievements[driverID]
	out := make([]*Achievement, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}
