package uploads

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store and Visibility.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	records []Record
	hidden  map[string]map[string]time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{hidden: make(map[string]map[string]time.Time)}
}

func (m *Memory) InsertRecord(_ context.Context, r *Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *r
	cp.ID = m.nextID
	m.records = append(m.records, cp)
	return cp.ID, nil
}

func (m *Memory) ListByClient(_ context.Context, clientUserID string) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return r.ClientUserID != nil && *r.ClientUserID == clientUserID
	}), nil
}

func (m *Memory) ListByUsername(_ context.Context, usernameKey string) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return r.ClientUsername != nil && *r.ClientUsername == usernameKey
	}), nil
}

func (m *Memory) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) HiddenPaths(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.hidden[userID]))
	for path := range m.hidden[userID] {
		out[path] = true
	}
	return out, nil
}

func (m *Memory) SetHidden(_ context.Context, userID, path string, hidden bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !hidden {
		delete(m.hidden[userID], path)
		return nil
	}
	if m.hidden[userID] == nil {
		m.hidden[userID] = make(map[string]time.Time)
	}
	m.hidden[userID][path] = at
	return nil
}

// All returns every record in insertion order.
func (m *Memory) All() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records...)
}
