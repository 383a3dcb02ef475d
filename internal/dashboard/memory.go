package dashboard

import (
	"context"
	"sort"
	"strings"

	"github.com/Davelummy/taxagent/internal/intake"
	"github.com/Davelummy/taxagent/internal/profile"
)

// MemorySource answers overview queries from the in-process stores.
type MemorySource struct {
	Intakes *intake.InMemory
	Clients *profile.Memory
}

func excluded(f Filter, email string) bool {
	return f.ExcludeDomain != "" && strings.HasSuffix(strings.ToLower(email), "@"+f.ExcludeDomain)
}

func (m MemorySource) intakes(f Filter) []intake.Submission {
	var out []intake.Submission
	for _, s := range m.Intakes.All() {
		if !excluded(f, s.Email) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m MemorySource) clients(f Filter) []profile.Client {
	var out []profile.Client
	for _, c := range m.Clients.Clients() {
		if !excluded(f, c.Email) {
			out = append(out, c)
		}
	}
	return out
}

func (m MemorySource) CountClients(_ context.Context, f Filter) (int, error) {
	return len(m.clients(f)), nil
}

func (m MemorySource) CountIntakes(_ context.Context, f Filter) (int, error) {
	return len(m.intakes(f)), nil
}

func (m MemorySource) StatusCounts(_ context.Context, f Filter) (map[string]int, error) {
	out := make(map[string]int)
	for _, s := range m.intakes(f) {
		out[string(s.ReviewStatus)]++
	}
	return out, nil
}

func (m MemorySource) RecentIntakes(_ context.Context, f Filter, limit int) ([]IntakeRow, error) {
	profiles := make(map[string]profile.Client)
	for _, c := range m.Clients.Clients() {
		profiles[c.UserID] = c
	}
	var out []IntakeRow
	for _, s := range m.intakes(f) {
		if len(out) == limit {
			break
		}
		year, status := s.FilingYear, string(s.ReviewStatus)
		row := IntakeRow{
			ID:              s.ID,
			ClientUserID:    s.ClientUserID,
			ClientUsername:  s.ClientUsername,
			Email:           s.Email,
			FirstName:       s.FirstName,
			LastName:        s.LastName,
			FilingYear:      &year,
			ReviewStatus:    &status,
			ReviewNotes:     s.ReviewNotes,
			ReviewUpdatedAt: s.ReviewUpdatedAt,
			CreatedAt:       s.CreatedAt,
		}
		if s.ClientUserID != nil {
			if p, ok := profiles[*s.ClientUserID]; ok {
				row.ProfileName, row.ProfilePhone = p.FullName, p.Phone
				if row.ClientUsername == nil {
					row.ClientUsername = p.Username
				}
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (m MemorySource) RecentClients(_ context.Context, f Filter, limit int) ([]ClientRow, error) {
	all := m.intakes(Filter{})
	var out []ClientRow
	for _, c := range m.clients(f) {
		if len(out) == limit {
			break
		}
		row := ClientRow{
			UserID:    c.UserID,
			Email:     c.Email,
			Username:  c.Username,
			FullName:  c.FullName,
			Phone:     c.Phone,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		for _, s := range all {
			if (s.ClientUserID != nil && *s.ClientUserID == c.UserID) || s.Email == c.Email {
				status, year, at := string(s.ReviewStatus), s.FilingYear, s.CreatedAt
				row.IntakeStatus, row.IntakeFilingYear, row.IntakeCreatedAt = &status, &year, &at
				break
			}
		}
		out = append(out, row)
	}
	return out, nil
}
