package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Davelummy/taxagent/internal/profile"
)

var _ profile.Store = (*Store)(nil)

func (s *Store) UpsertClient(ctx context.Context, c profile.Client) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		insert into client_profiles (supabase_user_id, email, username, full_name, phone, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (supabase_user_id) do update set
			email = excluded.email,
			username = coalesce(excluded.username, client_profiles.username),
			full_name = coalesce(excluded.full_name, client_profiles.full_name),
			phone = coalesce(excluded.phone, client_profiles.phone),
			updated_at = excluded.updated_at
		returning supabase_user_id`,
		c.UserID, c.Email, c.Username, c.FullName, c.Phone, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", classify(err, "pg: upsert client profile")
	}
	return id, nil
}

func (s *Store) UpsertPreparer(ctx context.Context, p profile.Preparer) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		insert into preparer_profiles (supabase_user_id, email, full_name, phone, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (supabase_user_id) do update set
			email = excluded.email,
			full_name = coalesce(excluded.full_name, preparer_profiles.full_name),
			phone = coalesce(excluded.phone, preparer_profiles.phone),
			updated_at = excluded.updated_at
		returning supabase_user_id`,
		p.UserID, p.Email, p.FullName, p.Phone, p.CreatedAt, p.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", classify(err, "pg: upsert preparer profile")
	}
	return id, nil
}

func (s *Store) ClientUserID(ctx context.Context, usernameKey string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`select supabase_user_id from client_profiles where lower(username) = $1 limit 1`, usernameKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", profile.ErrClientNotFound
	}
	if err != nil {
		return "", classify(err, "pg: lookup client")
	}
	return id, nil
}

func (s *Store) InsertContact(ctx context.Context, c profile.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		insert into contact_requests (name, email, company, role, preferred_time, message, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		c.Name, c.Email, c.Company, c.Role, c.PreferredTime, c.Message, c.CreatedAt)
	return classify(err, "pg: insert contact request")
}
