package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Davelummy/taxagent/internal/audit"
	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/estimate"
	"github.com/Davelummy/taxagent/internal/fieldcrypt"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/review"
)

// ErrReviewTargetNotFound is returned by SetReviewStatus when no intake
// matched the target. It matches ErrNotFound.
var ErrReviewTargetNotFound = fmt.Errorf("%w: no submission for review target", ErrNotFound)

// Protector turns a sensitive value into an opaque token.
type Protector interface {
	ProtectOptional(plaintext string) (*string, error)
}

// RoleResolver classifies callers.
type RoleResolver interface {
	RoleOf(id auth.Identity) auth.Role
}

// Manager owns the intake lifecycle.
type Manager struct {
	store     Store
	codec     Protector
	estimator *estimate.Estimator
	audit     audit.Recorder
	roles     RoleResolver
	now       func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithAudit sets the audit recorder.
func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.audit = r
		}
	}
}

// WithEstimator overrides the tax tables.
func WithEstimator(e *estimate.Estimator) Option {
	return func(m *Manager) {
		if e != nil {
			m.estimator = e
		}
	}
}

// WithRoles sets how an authenticated submitter is classified.
func WithRoles(r RoleResolver) Option {
	return func(m *Manager) { m.roles = r }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires the store and codec.
func NewManager(store Store, codec Protector, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		codec:     codec,
		estimator: estimate.Default(),
		audit:     audit.Discard,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) protect(c checked) (ssn, pin *string, err error) {
	if m.codec == nil {
		return nil, nil, fieldcrypt.ErrConfiguration
	}
	if ssn, err = m.codec.ProtectOptional(c.SSN); err != nil {
		return nil, nil, eris.Wrap(err, "intake: protect ssn")
	}
	if pin, err = m.codec.ProtectOptional(c.IPPIN); err != nil {
		return nil, nil, eris.Wrap(err, "intake: protect ip pin")
	}
	return ssn, pin, nil
}

func (m *Manager) build(f Fields, c checked) Submission {
	return Submission{
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		FilingYear:      c.FilingYear,
		DOB:             c.DOB,
		Email:           c.Email,
		Phone:           c.Phone,
		Employer:        f.Employer.Text(),
		Wages:           f.Wages.Number(),
		Withholding:     f.Withholding.Number(),
		Income1099:      f.Income1099.Number(),
		Investment:      f.Investment.Number(),
		Retirement:      f.Retirement.Number(),
		OtherIncome:     f.OtherIncome.Text(),
		Mortgage:        f.Mortgage.Number(),
		Charity:         f.Charity.Number(),
		StudentLoan:     f.StudentLoan.Number(),
		Dependents:      c.Dependents,
		HSA:             f.HSA.Number(),
		OtherDeductions: f.OtherDeductions.Text(),
		FilingStatus:    c.FilingStatus,
		FilingMethod:    f.FilingMethod.Text(),
		ContactMethod:   f.ContactMethod.Text(),
		Notes:           f.Notes.Text(),
		Consent:         c.Consent,
		ClientUsername:  f.ClientUsername.Text(),
		Estimate:        m.estimator.Compute(f.estimateInput(c)),
	}
}

// Submit validates, protects and stores a new intake. caller is nil for
// anonymous submissions; an authenticated client becomes the owner unless
// the payload names a client user id.
func (m *Manager) Submit(ctx context.Context, f Fields, caller *auth.Identity) (int64, error) {
	c := f.normalized(str(f.Email.Text()))
	if err := validateChecked(c); err != nil {
		return 0, err
	}
	ssn, pin, err := m.protect(c)
	if err != nil {
		return 0, err
	}

	s := m.build(f, c)
	s.SSNToken, s.IPPINToken = ssn, pin
	s.ClientUserID = f.ClientUserID.Text()
	if s.ClientUserID == nil && caller != nil && caller.ID != "" && m.roleOf(*caller) == auth.RoleClient {
		id := caller.ID
		s.ClientUserID = &id
	}
	now := m.now().UTC()
	s.ReviewStatus = review.Received
	s.ReviewUpdatedAt = &now
	s.CreatedAt = now

	id, err := m.store.Insert(ctx, &s)
	if err != nil {
		return 0, eris.Wrap(err, "intake: insert")
	}
	m.audit.Record(ctx, audit.Event{
		ActorUserID:    str(s.ClientUserID),
		ActorEmail:     s.Email,
		ActorRole:      string(auth.RoleClient),
		Action:         audit.ActionIntakeSubmitted,
		TargetUserID:   str(s.ClientUserID),
		TargetEmail:    s.Email,
		TargetUsername: str(s.ClientUsername),
		Metadata:       map[string]any{"filing_year": s.FilingYear, "filing_status": s.FilingStatus},
	})
	return id, nil
}

// Update replaces an intake owned by requester. An omitted SSN or IP PIN
// keeps the stored token; one is required when none is stored yet.
func (m *Manager) Update(ctx context.Context, f Fields, requester auth.Identity) (int64, error) {
	idp := f.IntakeID.Int()
	if idp == nil || *idp == 0 {
		return 0, form.Invalid(MsgMissingIntakeID)
	}
	intakeID := int64(*idp)

	existing, err := m.store.Get(ctx, intakeID)
	if err != nil {
		return 0, err
	}
	if err := auth.AuthorizeOwnership(existing.Owner(), requester); err != nil {
		return 0, ErrForbidden
	}

	email := auth.NormalizeEmail(requester.Email)
	c := f.normalized(email)
	var extra []failure
	if c.SSN == "" && existing.SSNToken == nil {
		extra = append(extra, failure{1, MsgInvalidSSN})
	}
	if c.IPPIN == "" && existing.IPPINToken == nil {
		extra = append(extra, failure{2, MsgInvalidIPPIN})
	}
	if err := validateChecked(c, extra...); err != nil {
		return 0, err
	}
	ssn, pin, err := m.protect(c)
	if err != nil {
		return 0, err
	}

	s := m.build(f, c)
	s.ID = intakeID
	s.SSNToken, s.IPPINToken = ssn, pin
	if requester.ID != "" {
		uid := requester.ID
		s.ClientUserID = &uid
	}
	now := m.now().UTC()
	s.ReviewStatus = review.Received
	s.ReviewNotes = nil
	s.ReviewUpdatedAt = &now

	id, err := m.store.Update(ctx, s, requester.ID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, eris.Wrap(err, "intake: update")
	}
	m.audit.Record(ctx, audit.Event{
		ActorUserID:    requester.ID,
		ActorEmail:     email,
		ActorRole:      string(auth.RoleClient),
		Action:         audit.ActionIntakeUpdated,
		TargetUserID:   requester.ID,
		TargetEmail:    email,
		TargetUsername: str(s.ClientUsername),
		Metadata:       map[string]any{"filing_year": s.FilingYear, "filing_status": s.FilingStatus},
	})
	return id, nil
}

// GetLatest returns the caller's newest intake, matched by user id or email.
func (m *Manager) GetLatest(ctx context.Context, requester auth.Identity) (Submission, error) {
	return m.store.Latest(ctx, requester.ID, auth.NormalizeEmail(requester.Email))
}

// Status answers the unauthenticated status poll. The user id wins when both
// identifiers are given.
func (m *Manager) Status(ctx context.Context, clientUserID, email string) (StatusView, error) {
	owner, ok := auth.OwnerOf(clientUserID, email)
	if !ok {
		return StatusView{}, form.Invalid(MsgMissingClient)
	}
	s, err := m.store.LatestFor(ctx, owner)
	if err != nil {
		return StatusView{}, err
	}
	return statusView(s), nil
}

// ReviewRequest is the preparer's status change payload.
type ReviewRequest struct {
	IntakeID     form.Value `json:"intake_id"`
	ClientUserID form.Value `json:"client_user_id"`
	Email        form.Value `json:"email"`
	ReviewStatus form.Value `json:"review_status"`
	ReviewNotes  form.Value `json:"review_notes"`
}

// SetReviewStatus moves an intake to a new review status. Callers must have
// checked that actor is a preparer.
func (m *Manager) SetReviewStatus(ctx context.Context, req ReviewRequest, actor auth.Identity) (int64, error) {
	status, err := review.Parse(str(req.ReviewStatus.Text()))
	if err != nil {
		return 0, &form.ValidationError{Message: review.ErrUnknownStatus.Error(), Err: err}
	}
	var intakeID int64
	if p := req.IntakeID.Int(); p != nil {
		intakeID = int64(*p)
	}
	userID, email := str(req.ClientUserID.Text()), str(req.Email.Text())
	owner, hasOwner := auth.OwnerOf(userID, email)
	if intakeID == 0 && !hasOwner {
		return 0, form.Invalid(MsgMissingIntakeID)
	}

	notes := req.ReviewNotes.Text()
	id, err := m.store.SetReview(ctx, ReviewTarget{IntakeID: intakeID, Owner: owner}, ReviewChange{
		Status: status,
		Notes:  notes,
		At:     m.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrReviewTargetNotFound
		}
		return 0, eris.Wrap(err, "intake: set review status")
	}

	meta := map[string]any{
		"review_status": string(status),
		"review_notes":  str(notes),
		"intake_id":     nil,
	}
	if intakeID != 0 {
		meta["intake_id"] = intakeID
	}
	m.audit.Record(ctx, audit.Event{
		ActorUserID:  actor.ID,
		ActorEmail:   actor.Email,
		ActorRole:    string(auth.RolePreparer),
		Action:       audit.ActionIntakeStatusUpdated,
		TargetUserID: userID,
		TargetEmail:  email,
		Metadata:     meta,
	})
	return id, nil
}

func (m *Manager) roleOf(id auth.Identity) auth.Role {
	if m.roles == nil {
		return auth.RoleClient
	}
	return m.roles.RoleOf(id)
}
