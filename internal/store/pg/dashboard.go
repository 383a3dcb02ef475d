package pg

import (
	"context"
	"fmt"

	"github.com/Davelummy/taxagent/internal/dashboard"
)

var _ dashboard.Source = (*Store)(nil)

// excludeClause returns a predicate on column and its argument list. The
// predicate is empty when no domain is excluded.
func excludeClause(f dashboard.Filter, column string, param int) (string, []any) {
	if f.ExcludeDomain == "" {
		return "", nil
	}
	return fmt.Sprintf("lower(%s) not like $%d", column, param), []any{"%@" + f.ExcludeDomain}
}

func where(clause string) string {
	if clause == "" {
		return ""
	}
	return " where " + clause
}

func (s *Store) count(ctx context.Context, table string, f dashboard.Filter) (int, error) {
	clause, args := excludeClause(f, "email", 1)
	var n int
	err := s.db.QueryRowContext(ctx, "select count(*) from "+table+where(clause), args...).Scan(&n)
	return n, classify(err, "pg: count "+table)
}

func (s *Store) CountClients(ctx context.Context, f dashboard.Filter) (int, error) {
	return s.count(ctx, "client_profiles", f)
}

func (s *Store) CountIntakes(ctx context.Context, f dashboard.Filter) (int, error) {
	return s.count(ctx, "intake_submissions", f)
}

func (s *Store) StatusCounts(ctx context.Context, f dashboard.Filter) (map[string]int, error) {
	clause, args := excludeClause(f, "email", 1)
	rows, err := s.db.QueryContext(ctx,
		"select review_status, count(*) from intake_submissions"+where(clause)+" group by review_status", args...)
	if err != nil {
		return nil, classify(err, "pg: status counts")
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify(err, "pg: scan status count")
		}
		out[status] = n
	}
	return out, classify(rows.Err(), "pg: status counts")
}

func (s *Store) RecentIntakes(ctx context.Context, f dashboard.Filter, limit int) ([]dashboard.IntakeRow, error) {
	clause, args := excludeClause(f, "i.email", 2)
	rows, err := s.db.QueryContext(ctx, `
		select i.id, i.client_user_id, coalesce(i.client_username, p.username), i.email, i.first_name, i.last_name,
			i.filing_year, i.review_status, i.review_notes, i.review_updated_at, i.created_at,
			p.full_name, p.phone
		from intake_submissions i
		left join client_profiles p on p.supabase_user_id = i.client_user_id`+where(clause)+`
		order by i.created_at desc
		limit $1`, append([]any{limit}, args...)...)
	if err != nil {
		return nil, classify(err, "pg: recent intakes")
	}
	defer rows.Close()

	out := []dashboard.IntakeRow{}
	for rows.Next() {
		var r dashboard.IntakeRow
		if err := rows.Scan(&r.ID, &r.ClientUserID, &r.ClientUsername, &r.Email, &r.FirstName, &r.LastName,
			&r.FilingYear, &r.ReviewStatus, &r.ReviewNotes, &r.ReviewUpdatedAt, &r.CreatedAt,
			&r.ProfileName, &r.ProfilePhone); err != nil {
			return nil, classify(err, "pg: scan recent intake")
		}
		out = append(out, r)
	}
	return out, classify(rows.Err(), "pg: recent intakes")
}

func (s *Store) RecentClients(ctx context.Context, f dashboard.Filter, limit int) ([]dashboard.ClientRow, error) {
	clause, args := excludeClause(f, "p.email", 2)
	rows, err := s.db.QueryContext(ctx, `
		select p.supabase_user_id, p.email, p.username, p.full_name, p.phone, p.created_at, p.updated_at,
			i.review_status, i.filing_year, i.created_at
		from client_profiles p
		left join lateral (
			select review_status, filing_year, created_at
			from intake_submissions
			where client_user_id = p.supabase_user_id or email = p.email
			order by created_at desc
			limit 1
		) i on true`+where(clause)+`
		order by p.created_at desc
		limit $1`, append([]any{limit}, args...)...)
	if err != nil {
		return nil, classify(err, "pg: recent clients")
	}
	defer rows.Close()

	out := []dashboard.ClientRow{}
	for rows.Next() {
		var r dashboard.ClientRow
		if err := rows.Scan(&r.UserID, &r.Email, &r.Username, &r.FullName, &r.Phone, &r.CreatedAt, &r.UpdatedAt,
			&r.IntakeStatus, &r.IntakeFilingYear, &r.IntakeCreatedAt); err != nil {
			return nil, classify(err, "pg: scan recent client")
		}
		out = append(out, r)
	}
	return out, classify(rows.Err(), "pg: recent clients")
}
