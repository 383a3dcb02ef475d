package profile

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	clients   map[string]Client
	preparers map[string]Preparer
	contacts  []Contact
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		clients:   make(map[string]Client),
		preparers: make(map[string]Preparer),
	}
}

func (m *Memory) UpsertClient(_ context.Context, c Client) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.clients[c.UserID]; ok {
		c.Username = coalesce(c.Username, prev.Username)
		c.FullName = coalesce(c.FullName, prev.FullName)
		c.Phone = coalesce(c.Phone, prev.Phone)
		c.CreatedAt = prev.CreatedAt
	}
	m.clients[c.UserID] = c
	return c.UserID, nil
}

func (m *Memory) UpsertPreparer(_ context.Context, p Preparer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.preparers[p.UserID]; ok {
		p.FullName = coalesce(p.FullName, prev.FullName)
		p.Phone = coalesce(p.Phone, prev.Phone)
		p.CreatedAt = prev.CreatedAt
	}
	m.preparers[p.UserID] = p
	return p.UserID, nil
}

func (m *Memory) ClientUserID(_ context.Context, usernameKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.Username != nil && strings.ToLower(*c.Username) == usernameKey {
			return c.UserID, nil
		}
	}
	return "", ErrClientNotFound
}

func (m *Memory) InsertContact(_ context.Context, c Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, c)
	return nil
}

// Clients returns every client, newest first.
func (m *Memory) Clients() []Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Preparer returns the stored preparer profile.
func (m *Memory) Preparer(id string) (Preparer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preparers[id]
	return p, ok
}

// Contacts returns stored contact requests in arrival order.
func (m *Memory) Contacts() []Contact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Contact(nil), m.contacts...)
}

func coalesce(v, fallback *string) *string {
	if v != nil {
		return v
	}
	return fallback
}
