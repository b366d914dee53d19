package alerts

import (
	"context"
	"sync"
)

// MemoryStore implements Store in memory. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	active  map[string][]*Alert // driverID -> unacked alerts, append order
	history map[string][]*Alert // driverID -> acked alerts, append order, capped
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:  make(map[string][]*Alert),
		history: make(map[string][]*Alert),
	}
}

// SaveActive persists a newly emitted alert.
func (m *MemoryStore) SaveActive(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.active[a.DriverID] = append(m.active[a.DriverID], &cp)
	return nil
}

// ListActive returns unacknowledged alerts, newest first.
func (m *MemoryStore) ListActive(_ context.Context, driverID string) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return reversed(m.active[driverID]), nil
}

// ListHistory returns acknowledged alerts, newest first.
func (m *MemoryStore) ListHistory(_ context.Context, driverID string) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return reversed(m.history[driverID]), nil
}

// Acknowledge moves an active alert into the capped history.
func (m *MemoryStore) Acknowledge(_ context.Context, driverID, alertID string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, rest, ok := take(m.active[driverID], alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}
	m.active[driverID] = rest

	alert.Acknowledged = true
	hist := append(m.history[driverID], alert)
	if len(hist) > HistoryCap {
		hist = hist[len(hist)-HistoryCap:]
	}
	m.history[driverID] = hist

	cp := *alert
	return &cp, nil
}

// Dismiss removes an active alert with no history entry.
func (m *MemoryStore) Dismiss(_ context.Context, driverID, alertID string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, rest, ok := take(m.active[driverID], alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}
	m.active[driverID] = rest

	cp := *alert
	return &cp, nil
}

// take removes the alert with the given ID from the slice.
func take(alerts []*Alert, alertID string) (*Alert, []*Alert, bool) {
	for i, a := range alerts {
		if a.ID == alertID {
			rest := make([]*Alert, 0, len(alerts)-1)
			rest = append(rest, alerts[:i]...)
			rest = append(rest, alerts[i+1:]...)
			return a, rest, true
		}
	}
	return nil, alerts, false
}

// reversed returns copies in newest-first order.
func reversed(alerts []*Alert) []*Alert {
	out := make([]*Alert, len(alerts))
	for i, a := range alerts {
		cp := *a
		out[len(alerts)-1-i] = &cp
	}
	return out
}
