package intake

import (
	"context"
	"sync"

	"github.com/Davelummy/taxagent/internal/auth"
)

// InMemory is a process-local Store for tests and database-less runs.
type InMemory struct {
	mu     sync.RWMutex
	nextID int64
	rows   []Submission
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Insert(_ context.Context, sub *Submission) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub.ID = s.nextID
	s.rows = append(s.rows, *sub)
	return sub.ID, nil
}

func (s *InMemory) Get(_ context.Context, id int64) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.rows[i], nil
	}
	return Submission{}, ErrNotFound
}

func (s *InMemory) index(id int64) int {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *InMemory) Update(_ context.Context, sub Submission, ownerID, ownerEmail string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(sub.ID)
	if i < 0 {
		return 0, ErrNotFound
	}
	cur := s.rows[i]
	storedID := str(cur.ClientUserID)
	owned := (storedID != "" && storedID == ownerID) ||
		(storedID == "" && auth.NormalizeEmail(cur.Email) == auth.NormalizeEmail(ownerEmail))
	if !owned {
		return 0, ErrNotFound
	}
	if sub.SSNToken == nil {
		sub.SSNToken = cur.SSNToken
	}
	if sub.IPPINToken == nil {
		sub.IPPINToken = cur.IPPINToken
	}
	sub.CreatedAt = cur.CreatedAt
	s.rows[i] = sub
	return sub.ID, nil
}

// newest returns the index of the most recent row accepted by match.
func (s *InMemory) newest(match func(Submission) bool) int {
	best := -1
	for i, r := range s.rows {
		if !match(r) {
			continue
		}
		if best < 0 || !r.CreatedAt.Before(s.rows[best].CreatedAt) {
			best = i
		}
	}
	return best
}

func (s *InMemory) Latest(_ context.Context, userID, email string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = auth.NormalizeEmail(email)
	i := s.newest(func(r Submission) bool {
		return (userID != "" && str(r.ClientUserID) == userID) ||
			(email != "" && auth.NormalizeEmail(r.Email) == email)
	})
	if i < 0 {
		return Submission{}, ErrNotFound
	}
	return s.rows[i], nil
}

func (s *InMemory) LatestFor(_ context.Context, owner auth.Owner) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.newest(func(r Submission) bool { return ownedBy(r, owner) })
	if i < 0 {
		return Submission{}, ErrNotFound
	}
	return s.rows[i], nil
}

func ownedBy(r Submission, owner auth.Owner) bool {
	if id, ok := owner.ID(); ok {
		return str(r.ClientUserID) == id
	}
	if email, ok := owner.Email(); ok {
		return auth.NormalizeEmail(r.Email) == email
	}
	return false
}

func (s *InMemory) SetReview(_ context.Context, target ReviewTarget, change ReviewChange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := -1
	if target.IntakeID != 0 {
		i = s.index(target.IntakeID)
	} else if !target.Owner.IsZero() {
		i = s.newest(func(r Submission) bool { return ownedBy(r, target.Owner) })
	}
	if i < 0 {
		return 0, ErrNotFound
	}
	at := change.At
	s.rows[i].ReviewStatus = change.Status
	s.rows[i].ReviewNotes = change.Notes
	s.rows[i].ReviewUpdatedAt = &at
	return s.rows[i].ID, nil
}

// All returns a copy of every stored row in insertion order.
func (s *InMemory) All() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Submission(nil), s.rows...)
}
