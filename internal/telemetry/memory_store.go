package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Used for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Session // driverID -> closed sessions, append order
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]*Session)}
}

// SaveSession persists a closed session.
func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.DriverID] = append(m.sessions[s.DriverID], &cp)
	return nil
}

// ListSessions returns closed sessions most-recent-first.
func (m *MemoryStore) ListSessions(_ context.Context, driverID string, limit, offset int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[driverID]
	sorted := make([]*Session, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].EndTime.Equal(sorted[j].EndTime) {
			return sorted[i].EndTime.After(sorted[j].EndTime)
		}
		return sorted[i].ID > sorted[j].ID
	})

	if offset >= len(sorted) {
		return []*Session{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	out := make([]*Session, len(sorted))
	for i, s := range sorted {
		cp := *s
		out[i] = &cp
	}
	return out, nil
}

// ListSessionsBefore returns sessions older than the keyset position.
func (m *MemoryStore) ListSessionsBefore(_ context.Context, driverID string, before time.Time, beforeID string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[driverID]
	sorted := make([]*Session, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].EndTime.Equal(sorted[j].EndTime) {
			return sorted[i].EndTime.After(sorted[j].EndTime)
		}
		return sorted[i].ID > sorted[j].ID
	})

	out := make([]*Session, 0, limit)
	for _, s := range sorted {
		if s.EndTime.After(before) || (s.EndTime.Equal(before) && s.ID >= beforeID) {
			continue
		}
		cp := *s
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DailyAnalytics aggregates the trailing days of sessions into per-day stats.
func (m *MemoryStore) DailyAnalytics(_ context.Context, driverID string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	m.mu.RLock()
	defer m.mu.RUnlock()

	byDay := make(map[string]*DailyStat)
	for _, s := range m.sessions[driverID] {
		if s.EndTime.Before(cutoff) {
			continue
		}
		day := s.EndTime.UTC().Format("2006-01-02")
		stat, ok := byDay[day]
		if !ok {
			stat = &DailyStat{Date: day}
			byDay[day] = stat
		}
		stat.SessionCount++
		n := float64(stat.SessionCount)
		stat.AvgDrowsiness += (s.AvgDrowsiness - stat.AvgDrowsiness) / n
		stat.AvgStress += (s.AvgStress - stat.AvgStress) / n
		stat.AvgScore += (float64(s.SafetyScore) - stat.AvgScore) / n
	}

	out := make([]DailyStat, 0, len(byDay))
	for _, stat := range byDay {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
