package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davelummy/taxagent/internal/audit"
	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/fieldcrypt"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/review"
)

type auditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *auditLog) Record(_ context.Context, ev audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *auditLog) last() audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type staticRoles map[string]auth.Role

func (r staticRoles) RoleOf(id auth.Identity) auth.Role {
	if role, ok := r[id.Email]; ok {
		return role
	}
	return auth.RoleClient
}

type harness struct {
	store *InMemory
	audit *auditLog
	mgr   *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	codec, err := fieldcrypt.New(make([]byte, fieldcrypt.KeySize))
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	h := &harness{store: NewInMemory(), audit: &auditLog{}}
	h.mgr = NewManager(h.store, codec,
		WithAudit(h.audit),
		WithRoles(staticRoles{"prep@firm.com": auth.RolePreparer}),
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		}),
	)
	return h
}

func validFields() Fields {
	return Fields{
		FirstName:    form.V("Jane"),
		LastName:     form.V("Doe"),
		SSN:          form.V("123-45-6789"),
		IPPIN:        form.V("123456"),
		FilingYear:   form.V("2025"),
		DOB:          form.V("1990-01-01"),
		Email:        form.V("jane@example.com"),
		Phone:        form.V("555-0100"),
		Wages:        form.V("$60,000"),
		Withholding:  form.V("8000"),
		FilingStatus: form.V("single"),
		Consent:      form.V("on"),
	}
}

func TestSubmitStoresProtectedRecord(t *testing.T) {
	h := newHarness(t)
	id, err := h.mgr.Submit(context.Background(), validFields(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	stored, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored.SSNToken)
	require.NotNil(t, stored.IPPINToken)
	assert.Len(t, strings.Split(*stored.SSNToken, "."), 3)
	assert.NotContains(t, *stored.SSNToken, "123456789")
	assert.Equal(t, review.Received, stored.ReviewStatus)
	assert.Nil(t, stored.ClientUserID)
	assert.Equal(t, auth.ByEmail("jane@example.com"), stored.Owner())

	require.NotNil(t, stored.Estimate)
	assert.Equal(t, 2928.5, stored.Estimate.Refund)
	assert.Nil(t, stored.Wages, "currency strings are not plain numbers")
	require.NotNil(t, stored.Withholding)
	assert.Equal(t, 8000.0, *stored.Withholding)

	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "123456789")
	assert.NotContains(t, string(raw), *stored.SSNToken)

	ev := h.audit.last()
	assert.Equal(t, audit.ActionIntakeSubmitted, ev.Action)
	assert.Equal(t, "client", ev.ActorRole)
	assert.Equal(t, map[string]any{"filing_year": 2025, "filing_status": "single"}, ev.Metadata)
}

func TestSubmitOptionalSensitiveFields(t *testing.T) {
	h := newHarness(t)
	f := validFields()
	f.SSN = form.Value{}
	f.IPPIN = form.V("")
	id, err := h.mgr.Submit(context.Background(), f, nil)
	require.NoError(t, err)
	stored, _ := h.store.Get(context.Background(), id)
	assert.Nil(t, stored.SSNToken)
	assert.Nil(t, stored.IPPINToken)
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Fields)
		want   string
	}{
		{"missing first name", func(f *Fields) { f.FirstName = form.V("  ") }, MsgMissingFields},
		{"no consent", func(f *Fields) { f.Consent = form.V("false") }, MsgMissingFields},
		{"missing status", func(f *Fields) { f.FilingStatus = form.Value{} }, MsgMissingFields},
		{"short ssn", func(f *Fields) { f.SSN = form.V("12345678") }, MsgInvalidSSN},
		{"short pin", func(f *Fields) { f.IPPIN = form.V("12345") }, MsgInvalidIPPIN},
		{"old year", func(f *Fields) { f.FilingYear = form.V("1999") }, MsgInvalidYear},
		{"missing year", func(f *Fields) { f.FilingYear = form.Value{} }, MsgInvalidYear},
		{"too many dependents", func(f *Fields) { f.Dependents = form.V("21") }, MsgDependents},
		{"negative dependents", func(f *Fields) { f.Dependents = form.V("-1") }, MsgDependents},
		{"unknown status", func(f *Fields) { f.FilingStatus = form.V("widowed") }, MsgInvalidStatus},
		{"missing beats ssn", func(f *Fields) { f.Phone = form.Value{}; f.SSN = form.V("1") }, MsgMissingFields},
		{"ssn beats year", func(f *Fields) { f.SSN = form.V("1"); f.FilingYear = form.V("3000") }, MsgInvalidSSN},
		{"pin beats dependents", func(f *Fields) { f.IPPIN = form.V("1"); f.Dependents = form.V("40") }, MsgInvalidIPPIN},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			f := validFields()
			tc.mutate(&f)
			_, err := h.mgr.Submit(context.Background(), f, nil)
			var verr *form.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.want, verr.Message)
			assert.Empty(t, h.store.All(), "nothing persisted on validation failure")
		})
	}
}

func TestSubmitAcceptsEdgeValues(t *testing.T) {
	h := newHarness(t)
	f := validFields()
	f.Dependents = form.V("0")
	f.FilingYear = form.V("2100")
	f.SSN = form.V("123 45 6789 99")
	f.Consent = form.V("true")
	_, err := h.mgr.Submit(context.Background(), f, nil)
	require.NoError(t, err)
}

func TestSubmitOwnerFromCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.mgr.Submit(ctx, validFields(), &auth.Identity{ID: "user-1", Email: "jane@example.com"})
	require.NoError(t, err)
	stored, _ := h.store.Get(ctx, id)
	assert.Equal(t, auth.ByID("user-1"), stored.Owner())

	id, err = h.mgr.Submit(ctx, validFields(), &auth.Identity{ID: "prep-1", Email: "prep@firm.com"})
	require.NoError(t, err)
	stored, _ = h.store.Get(ctx, id)
	assert.Nil(t, stored.ClientUserID, "preparers do not become owners")

	f := validFields()
	f.ClientUserID = form.V("user-9")
	id, err = h.mgr.Submit(ctx, f, &auth.Identity{ID: "prep-1", Email: "prep@firm.com"})
	require.NoError(t, err)
	stored, _ = h.store.Get(ctx, id)
	assert.Equal(t, auth.ByID("user-9"), stored.Owner())
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := auth.Identity{ID: "user-1", Email: "jane@example.com"}
	id, err := h.mgr.Submit(ctx, validFields(), &owner)
	require.NoError(t, err)
	original, _ := h.store.Get(ctx, id)
	_, err = h.mgr.SetReviewStatus(ctx, ReviewRequest{IntakeID: form.V("1"), ReviewStatus: form.V("in_review"), ReviewNotes: form.V("checking")}, auth.Identity{ID: "p"})
	require.NoError(t, err)

	f := validFields()
	f.IntakeID = form.V("1")
	f.SSN = form.Value{}
	f.IPPIN = form.Value{}
	f.FirstName = form.V("Janet")
	got, err := h.mgr.Update(ctx, f, owner)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	updated, _ := h.store.Get(ctx, id)
	assert.Equal(t, "Janet", updated.FirstName)
	assert.Equal(t, original.SSNToken, updated.SSNToken, "omitted ssn keeps stored token")
	assert.Equal(t, review.Received, updated.ReviewStatus)
	assert.Nil(t, updated.ReviewNotes)
	assert.Equal(t, original.CreatedAt, updated.CreatedAt)
	assert.Equal(t, audit.ActionIntakeUpdated, h.audit.last().Action)

	f.SSN = form.V("987-65-4321")
	_, err = h.mgr.Update(ctx, f, owner)
	require.NoError(t, err)
	updated, _ = h.store.Get(ctx, id)
	assert.NotEqual(t, original.SSNToken, updated.SSNToken)
}

func TestUpdateErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := auth.Identity{ID: "user-1", Email: "jane@example.com"}

	f := validFields()
	f.SSN = form.Value{}
	f.IPPIN = form.Value{}
	_, err := h.mgr.Submit(ctx, f, nil)
	require.NoError(t, err)

	_, err = h.mgr.Update(ctx, validFields(), owner)
	var verr *form.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgMissingIntakeID, verr.Message)

	f.IntakeID = form.V("99")
	_, err = h.mgr.Update(ctx, f, owner)
	assert.ErrorIs(t, err, ErrNotFound)

	f.IntakeID = form.V("1")
	_, err = h.mgr.Update(ctx, f, auth.Identity{ID: "other", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrForbidden)

	// Email-owned record: the matching account may update, but no SSN is on
	// file yet so one must be supplied.
	_, err = h.mgr.Update(ctx, f, owner)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgInvalidSSN, verr.Message)

	f.SSN = form.V("123456789")
	_, err = h.mgr.Update(ctx, f, owner)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgInvalidIPPIN, verr.Message)

	f.IPPIN = form.V("654321")
	_, err = h.mgr.Update(ctx, f, auth.Identity{ID: "user-1", Email: "JANE@example.com"})
	require.NoError(t, err)
	stored, _ := h.store.Get(ctx, 1)
	assert.Equal(t, auth.ByID("user-1"), stored.Owner(), "update claims the record for the account")
}

func TestGetLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := auth.Identity{ID: "user-1", Email: "jane@example.com"}

	_, err := h.mgr.GetLatest(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.mgr.Submit(ctx, validFields(), nil)
	require.NoError(t, err)
	f := validFields()
	f.FilingYear = form.V("2024")
	_, err = h.mgr.Submit(ctx, f, &id)
	require.NoError(t, err)

	latest, err := h.mgr.GetLatest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.ID)
	assert.Equal(t, 2024, latest.FilingYear)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Status(ctx, "", " ")
	var verr *form.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgMissingClient, verr.Message)

	_, err = h.mgr.Status(ctx, "", "jane@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.mgr.Submit(ctx, validFields(), nil)
	require.NoError(t, err)
	view, err := h.mgr.Status(ctx, "", "Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, review.Received, view.ReviewStatus)
	assert.Equal(t, review.Detail(review.Received), view.ReviewDetail)
	assert.Equal(t, 2025, view.FilingYear)
	require.NotNil(t, view.EstimatedRefund)
	assert.Equal(t, 2928.5, *view.EstimatedRefund)

	_, err = h.mgr.Status(ctx, "user-1", "jane@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "user id takes precedence over email")
}

func TestSetReviewStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	prep := auth.Identity{ID: "prep-1", Email: "prep@firm.com"}

	_, err := h.mgr.SetReviewStatus(ctx, ReviewRequest{IntakeID: form.V("1"), ReviewStatus: form.V("done")}, prep)
	var verr *form.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Invalid review status.", verr.Message)
	assert.ErrorIs(t, err, review.ErrUnknownStatus)

	_, err = h.mgr.SetReviewStatus(ctx, ReviewRequest{ReviewStatus: form.V("filed")}, prep)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgMissingIntakeID, verr.Message)

	_, err = h.mgr.SetReviewStatus(ctx, ReviewRequest{Email: form.V("nobody@example.com"), ReviewStatus: form.V("filed")}, prep)
	assert.ErrorIs(t, err, ErrReviewTargetNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.mgr.Submit(ctx, validFields(), nil)
	require.NoError(t, err)
	_, err = h.mgr.Submit(ctx, validFields(), nil)
	require.NoError(t, err)

	id, err := h.mgr.SetReviewStatus(ctx, ReviewRequest{
		Email:        form.V("jane@example.com"),
		ReviewStatus: form.V("awaiting_documents"),
		ReviewNotes:  form.V("Need 1098"),
	}, prep)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id, "latest intake of the client")

	view, err := h.mgr.Status(ctx, "", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, review.AwaitingDocuments, view.ReviewStatus)
	assert.Equal(t, "Need 1098", view.ReviewNotes)

	ev := h.audit.last()
	assert.Equal(t, audit.ActionIntakeStatusUpdated, ev.Action)
	assert.Equal(t, "preparer", ev.ActorRole)
	assert.Equal(t, "awaiting_documents", ev.Metadata["review_status"])
	assert.Nil(t, ev.Metadata["intake_id"])

	// Any known status may follow any other.
	_, err = h.mgr.SetReviewStatus(ctx, ReviewRequest{IntakeID: form.V("2"), ReviewStatus: form.V("received")}, prep)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.audit.last().Metadata["intake_id"])
}

func TestFieldsDecodeMixedScalars(t *testing.T) {
	var f Fields
	payload := `{"first_name":" Jane ","filing_year":2025,"consent":true,"wages":"52,000","dependents":"2","hsa":1500.5,"notes":null,"employer":{}}`
	require.NoError(t, json.NewDecoder(strings.NewReader(payload)).Decode(&f))

	assert.Equal(t, "Jane", *f.FirstName.Text())
	assert.Equal(t, 2025, *f.FilingYear.Int())
	assert.True(t, f.Consent.Checked())
	assert.Equal(t, 52000.0, f.Wages.Amount())
	assert.Nil(t, f.Wages.Number())
	assert.Equal(t, 2, *f.Dependents.Int())
	assert.Equal(t, 1500.5, *f.HSA.Number())
	assert.False(t, f.Notes.IsSet())
	assert.False(t, f.Employer.IsSet())
	assert.Nil(t, f.FilingYear.Text(), "numbers are not text")

	out, err := json.Marshal(struct {
		A form.Value `json:"a"`
		B form.Value `json:"b"`
		C form.Value `json:"c"`
	}{A: f.FilingYear, B: f.FirstName})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2025,"b":" Jane ","c":null}`, string(out))
}

