package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local runs without a
// bucket.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
	// FailOn makes Put fail for paths containing the substring.
	FailOn string
}

type memObject struct {
	data        []byte
	contentType string
	created     time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), now: time.Now}
}

// WithClock replaces the creation time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Put(_ context.Context, path string, data []byte, contentType string) error {
	if m.FailOn != "" && strings.Contains(path, m.FailOn) {
		return ErrUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; ok {
		return ErrExists
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = memObject{data: buf, contentType: contentType, created: m.now().UTC()}
	return nil
}

// List returns the direct children of prefix, newest first.
func (m *Memory) List(_ context.Context, prefix string, limit int) ([]Object, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	dir := strings.TrimSuffix(prefix, "/") + "/"
	m.mu.RLock()
	out := make([]Object, 0)
	for path, obj := range m.objects {
		name, ok := strings.CutPrefix(path, dir)
		if !ok || name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, Object{
			Name:        name,
			Path:        path,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			CreatedAt:   obj.created,
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, false
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
