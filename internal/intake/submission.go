// Package intake validates, protects and stores tax intake submissions and
// serves the review status clients poll.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/estimate"
	"github.com/Davelummy/taxagent/internal/review"
)

var (
	// ErrNotFound is returned when no intake matches.
	ErrNotFound = errors.New("intake: not found")
	// ErrForbidden is returned when the caller does not own the intake.
	ErrForbidden = errors.New("intake: unauthorized update")
)

// Submission is a stored intake. Sensitive values exist only as codec
// tokens and are never serialized.
type Submission struct {
	ID              int64              `json:"id"`
	FirstName       string             `json:"first_name"`
	LastName        string             `json:"last_name"`
	SSNToken        *string            `json:"-"`
	IPPINToken      *string            `json:"-"`
	FilingYear      int                `json:"filing_year"`
	DOB             string             `json:"dob"`
	Email           string             `json:"email"`
	Phone           string             `json:"phone"`
	Employer        *string            `json:"employer"`
	Wages           *float64           `json:"wages"`
	Withholding     *float64           `json:"federal_withholding"`
	Income1099      *float64           `json:"income_1099"`
	Investment      *float64           `json:"investment_income"`
	Retirement      *float64           `json:"retirement"`
	OtherIncome     *string            `json:"other_income"`
	Mortgage        *float64           `json:"mortgage"`
	Charity         *float64           `json:"charity"`
	StudentLoan     *float64           `json:"student_loan"`
	Dependents      *int               `json:"dependents"`
	HSA             *float64           `json:"hsa"`
	OtherDeductions *string            `json:"other_deductions"`
	FilingStatus    string             `json:"filing_status"`
	FilingMethod    *string            `json:"filing_method"`
	ContactMethod   *string            `json:"contact_method"`
	Notes           *string            `json:"notes"`
	Consent         bool               `json:"consent"`
	ClientUserID    *string            `json:"client_user_id,omitempty"`
	ClientUsername  *string            `json:"client_username"`
	Estimate        *estimate.Snapshot `json:"-"`
	ReviewStatus    review.Status      `json:"-"`
	ReviewNotes     *string            `json:"-"`
	ReviewUpdatedAt *time.Time         `json:"-"`
	CreatedAt       time.Time          `json:"-"`
}

// Owner returns the id-based owner when a client user id is stored,
// otherwise the email-based one.
func (s Submission) Owner() auth.Owner {
	id := ""
	if s.ClientUserID != nil {
		id = *s.ClientUserID
	}
	o, _ := auth.OwnerOf(id, s.Email)
	return o
}

// StatusView is what an unauthenticated status poll returns.
type StatusView struct {
	ReviewStatus         review.Status `json:"review_status"`
	ReviewNotes          string        `json:"review_notes"`
	ReviewUpdatedAt      *time.Time    `json:"review_updated_at"`
	ReviewDetail         string        `json:"review_detail"`
	FilingYear           int           `json:"filing_year"`
	EstimatedRefund      *float64      `json:"estimated_refund"`
	EstimatedTax         *float64      `json:"estimated_tax"`
	EstimatedWithholding *float64      `json:"estimated_withholding"`
	EstimatedTaxable     *float64      `json:"estimated_taxable"`
	CreatedAt            time.Time     `json:"created_at"`
}

func statusView(s Submission) StatusView {
	status := review.OrDefault(string(s.ReviewStatus))
	v := StatusView{
		ReviewStatus:    status,
		ReviewUpdatedAt: s.ReviewUpdatedAt,
		ReviewDetail:    review.Detail(status),
		FilingYear:      s.FilingYear,
		CreatedAt:       s.CreatedAt,
	}
	if s.ReviewNotes != nil {
		v.ReviewNotes = *s.ReviewNotes
	}
	if e := s.Estimate; e != nil {
		v.EstimatedRefund = &e.Refund
		v.EstimatedTax = &e.Tax
		v.EstimatedWithholding = &e.Withholding
		v.EstimatedTaxable = &e.Taxable
	}
	return v
}

// ReviewTarget selects the intake a status change applies to: an explicit
// id, or else the newest intake of an owner.
type ReviewTarget struct {
	IntakeID int64
	Owner    auth.Owner
}

// ReviewChange is applied by SetReview.
type ReviewChange struct {
	Status review.Status
	Notes  *string
	At     time.Time
}

// Store persists submissions.
type Store interface {
	Insert(ctx context.Context, s *Submission) (int64, error)
	Get(ctx context.Context, id int64) (Submission, error)
	// Update overwrites the intake matching s.ID when the stored row belongs
	// to ownerID, or has no owner id and matches ownerEmail. Nil tokens keep
	// the stored ones. Returns ErrNotFound when nothing matched.
	Update(ctx context.Context, s Submission, ownerID, ownerEmail string) (int64, error)
	// Latest returns the newest intake with client_user_id = userID or
	// email = email.
	Latest(ctx context.Context, userID, email string) (Submission, error)
	// LatestFor returns the newest intake of one owner.
	LatestFor(ctx context.Context, owner auth.Owner) (Submission, error)
	SetReview(ctx context.Context, target ReviewTarget, change ReviewChange) (int64, error)
}
