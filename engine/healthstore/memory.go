package healthstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

type userData struct {
	profile  *domain.Profile
	entries  []domain.HealthEntry // ascending by timestamp
	insights []domain.Insight
	progress map[string][]domain.GoalProgress // by date
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userData
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userData)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) user(id string) *userData {
	u, ok := m.users[id]
	if !ok {
		u = &userData{progress: make(map[string][]domain.GoalProgress)}
		m.users[id] = u
	}
	return u
}

func (m *MemoryStore) Profile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok || u.profile == nil {
		return nil, nil
	}
	p := *u.profile
	return &p, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user(p.UserID).profile = &p
	return nil
}

func (m *MemoryStore) AppendEntry(_ context.Context, userID string, e domain.HealthEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(userID)
	i := sort.Search(len(u.entries), func(i int) bool { return !u.entries[i].Timestamp.Before(e.Timestamp) })
	if i < len(u.entries) && u.entries[i].Timestamp.Equal(e.Timestamp) {
		return fmt.Errorf("healthstore: append %s at %d: %w", userID, e.Timestamp.UnixMilli(), domain.ErrDuplicateEntry)
	}
	u.entries = append(u.entries, domain.HealthEntry{})
	copy(u.entries[i+1:], u.entries[i:])
	u.entries[i] = e
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, userID string, from, to time.Time, limit int) ([]domain.HealthEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	var out []domain.HealthEntry
	for _, e := range u.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) Insights(_ context.Context, userID string) ([]domain.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]domain.Insight(nil), u.insights...), nil
}

func (m *MemoryStore) SaveInsights(_ context.Context, userID string, insights []domain.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(userID)
	u.insights = mergeInsights(u.insights, insights)
	return nil
}

func (m *MemoryStore) SaveGoalProgress(_ context.Context, userID string, progress []domain.GoalProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(userID)
	for _, p := range progress {
		day := u.progress[p.Date]
		replaced := false
		for i := range day {
			if day[i].Metric == p.Metric {
				day[i] = p
				replaced = true
			}
		}
		if !replaced {
			day = append(day, p)
		}
		u.progress[p.Date] = day
	}
	return nil
}

func (m *MemoryStore) GoalProgress(_ context.Context, userID, date string) ([]domain.GoalProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	out := append([]domain.GoalProgress(nil), u.progress[date]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}
