package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/estimate"
	"github.com/Davelummy/taxagent/internal/intake"
	"github.com/Davelummy/taxagent/internal/review"
)

var _ intake.Store = (*Store)(nil)

// intakeWritable lists the columns written on insert, in argument order.
var intakeWritable = []string{
	"first_name", "last_name", "ssn_encrypted", "ip_pin_encrypted", "filing_year", "dob",
	"email", "phone", "employer", "wages", "federal_withholding", "income_1099",
	"investment_income", "retirement", "other_income", "mortgage", "charity", "student_loan",
	"dependents", "hsa", "other_deductions", "filing_status", "filing_method", "contact_method",
	"notes", "consent", "client_user_id", "client_username",
	"estimated_income", "estimated_taxable", "estimated_tax", "estimated_withholding", "estimated_refund",
	"review_status", "review_notes", "review_updated_at", "created_at",
}

var intakeSelect = "select id, " + strings.Join(intakeWritable, ", ") + " from intake_submissions"

func intakeArgs(s *intake.Submission) []any {
	var est [5]*float64
	if e := s.Estimate; e != nil {
		est = [5]*float64{&e.Income, &e.Taxable, &e.Tax, &e.Withholding, &e.Refund}
	}
	return []any{
		s.FirstName, s.LastName, s.SSNToken, s.IPPINToken, s.FilingYear, s.DOB,
		s.Email, s.Phone, s.Employer, s.Wages, s.Withholding, s.Income1099,
		s.Investment, s.Retirement, s.OtherIncome, s.Mortgage, s.Charity, s.StudentLoan,
		s.Dependents, s.HSA, s.OtherDeductions, s.FilingStatus, s.FilingMethod, s.ContactMethod,
		s.Notes, s.Consent, s.ClientUserID, s.ClientUsername,
		est[0], est[1], est[2], est[3], est[4],
		string(s.ReviewStatus), s.ReviewNotes, s.ReviewUpdatedAt, s.CreatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntake(row scanner) (intake.Submission, error) {
	var (
		s      intake.Submission
		est    [5]*float64
		status string
	)
	err := row.Scan(
		&s.ID, &s.FirstName, &s.LastName, &s.SSNToken, &s.IPPINToken, &s.FilingYear, &s.DOB,
		&s.Email, &s.Phone, &s.Employer, &s.Wages, &s.Withholding, &s.Income1099,
		&s.Investment, &s.Retirement, &s.OtherIncome, &s.Mortgage, &s.Charity, &s.StudentLoan,
		&s.Dependents, &s.HSA, &s.OtherDeductions, &s.FilingStatus, &s.FilingMethod, &s.ContactMethod,
		&s.Notes, &s.Consent, &s.ClientUserID, &s.ClientUsername,
		&est[0], &est[1], &est[2], &est[3], &est[4],
		&status, &s.ReviewNotes, &s.ReviewUpdatedAt, &s.CreatedAt,
	)
	if err != nil {
		return intake.Submission{}, err
	}
	s.ReviewStatus = review.Status(status)
	if est[0] != nil && est[1] != nil && est[2] != nil && est[3] != nil && est[4] != nil {
		s.Estimate = &estimate.Snapshot{Income: *est[0], Taxable: *est[1], Tax: *est[2], Withholding: *est[3], Refund: *est[4]}
	}
	return s, nil
}

func (s *Store) Insert(ctx context.Context, sub *intake.Submission) (int64, error) {
	query := fmt.Sprintf("insert into intake_submissions (%s) values (%s) returning id",
		strings.Join(intakeWritable, ", "), placeholders(1, len(intakeWritable)))
	var id int64
	if err := s.db.QueryRowContext(ctx, query, intakeArgs(sub)...).Scan(&id); err != nil {
		return 0, classify(err, "pg: insert intake")
	}
	sub.ID = id
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (intake.Submission, error) {
	return s.oneIntake(ctx, intakeSelect+" where id = $1", id)
}

func (s *Store) oneIntake(ctx context.Context, query string, args ...any) (intake.Submission, error) {
	sub, err := scanIntake(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return intake.Submission{}, intake.ErrNotFound
	}
	if err != nil {
		return intake.Submission{}, classify(err, "pg: load intake")
	}
	return sub, nil
}

// Update keeps created_at and, for nil tokens, the stored ciphertext.
func (s *Store) Update(ctx context.Context, sub intake.Submission, ownerID, ownerEmail string) (int64, error) {
	args := []any{sub.ID}
	var sets []string
	for i, v := range intakeArgs(&sub) {
		col := intakeWritable[i]
		if col == "created_at" {
			continue
		}
		args = append(args, v)
		n := len(args)
		if col == "ssn_encrypted" || col == "ip_pin_encrypted" {
			sets = append(sets, fmt.Sprintf("%s = coalesce($%d, %s)", col, n, col))
		} else {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		}
	}
	args = append(args, ownerID, auth.NormalizeEmail(ownerEmail))
	query := fmt.Sprintf(`update intake_submissions set %s
		where id = $1
		  and ((coalesce(client_user_id, '') <> '' and client_user_id = $%d)
		    or (coalesce(client_user_id, '') = '' and lower(email) = $%d))
		returning id`, strings.Join(sets, ", "), len(args)-1, len(args))

	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, intake.ErrNotFound
	}
	if err != nil {
		return 0, classify(err, "pg: update intake")
	}
	return id, nil
}

func (s *Store) Latest(ctx context.Context, userID, email string) (intake.Submission, error) {
	return s.oneIntake(ctx, intakeSelect+`
		where ($1 <> '' and client_user_id = $1) or ($2 <> '' and lower(email) = $2)
		order by created_at desc limit 1`, userID, auth.NormalizeEmail(email))
}

func ownerClause(owner auth.Owner) (string, any, bool) {
	if id, ok := owner.ID(); ok {
		return "client_user_id = $1", id, true
	}
	if email, ok := owner.Email(); ok {
		return "lower(email) = $1", email, true
	}
	return "", nil, false
}

func (s *Store) LatestFor(ctx context.Context, owner auth.Owner) (intake.Submission, error) {
	clause, arg, ok := ownerClause(owner)
	if !ok {
		return intake.Submission{}, intake.ErrNotFound
	}
	return s.oneIntake(ctx, intakeSelect+" where "+clause+" order by created_at desc limit 1", arg)
}

func (s *Store) SetReview(ctx context.Context, target intake.ReviewTarget, change intake.ReviewChange) (int64, error) {
	var (
		query string
		arg   any
	)
	if target.IntakeID != 0 {
		query, arg = "id = $1", target.IntakeID
	} else {
		clause, v, ok := ownerClause(target.Owner)
		if !ok {
			return 0, intake.ErrNotFound
		}
		query = "id = (select id from intake_submissions where " + clause + " order by created_at desc limit 1)"
		arg = v
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `update intake_submissions
		set review_status = $2, review_notes = $3, review_updated_at = $4
		where `+query+` returning id`,
		arg, string(change.Status), change.Notes, change.At).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, intake.ErrNotFound
	}
	if err != nil {
		return 0, classify(err, "pg: set review")
	}
	return id, nil
}
