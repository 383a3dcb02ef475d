package uploads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davelummy/taxagent/internal/audit"
	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/objectstore"
	"github.com/Davelummy/taxagent/internal/profile"
	"github.com/Davelummy/taxagent/internal/screen"
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

func (a *auditLog) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

var (
	client   = auth.Identity{ID: "u-1", Email: "jane@example.com"}
	preparer = auth.Identity{ID: "p-1", Email: "ann@firm.com"}
	pdf      = []byte("%PDF-1.4\nsome content\n%%EOF")
)

type harness struct {
	rec      *Recorder
	pipeline *Pipeline
	records  *Memory
	objects  *objectstore.Memory
	profiles *profile.Service
	audit    *auditLog
	clock    time.Time
}

func newHarness(t *testing.T, withObjects bool) *harness {
	t.Helper()
	h := &harness{
		records: NewMemory(),
		objects: objectstore.NewMemory(),
		audit:   &auditLog{},
		clock:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time {
		h.clock = h.clock.Add(time.Second)
		return h.clock
	}
	h.objects.WithClock(now)
	dir := profile.NewMemory()
	h.profiles = profile.NewService(dir, now)
	_, err := h.profiles.SyncClient(context.Background(), profile.ClientInput{
		UserID:   form.V(client.ID),
		Email:    form.V(client.Email),
		Username: form.V("JaneDoe"),
	})
	require.NoError(t, err)

	guard := auth.NewGuard(nil, auth.NewPreparerPolicy("firm.com", ""))
	opts := []Option{WithAudit(h.audit), WithClock(now), WithVisibility(h.records)}
	if withObjects {
		opts = append(opts, WithObjects(h.objects))
	}
	h.rec = NewRecorder(h.records, h.profiles, guard, opts...)
	h.pipeline = NewPipeline(h.rec)
	return h
}

func requireMessage(t *testing.T, err error, msg string) {
	t.Helper()
	var verr *form.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, msg, verr.Message)
}

func TestRecordDefaults(t *testing.T) {
	h := newHarness(t, true)
	rec, err := h.rec.Record(context.Background(), client, RecordInput{
		ClientUserID:   form.V("someone-else"),
		ClientUsername: form.V("JaneDoe"),
		FileName:       form.V("W-2_2025.pdf"),
		StoragePath:    form.V("uploads/janedoe/20250301-W-2_2025.pdf"),
		FileSize:       form.V("2048"),
		DLPHits:        form.V("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "u-1", *rec.ClientUserID, "clients record for themselves")
	assert.Equal(t, "janedoe", *rec.ClientUsername)
	assert.Equal(t, auth.RoleClient, rec.UploaderRole)
	assert.Equal(t, "documents", rec.Category)
	assert.Equal(t, "W-2", rec.DocumentType)
	assert.Equal(t, ScanFlagged, rec.ScanStatus)
	assert.Equal(t, 2, rec.DLPHits)
	assert.Equal(t, int64(2048), *rec.FileSize)

	ev := h.audit.events[0]
	assert.Equal(t, audit.ActionUploadRecorded, ev.Action)
	assert.Equal(t, "W-2_2025.pdf", ev.Metadata["file_name"])
	assert.Equal(t, ScanFlagged, ev.Metadata["scan_status"])
}

func TestRecordAuthorizationAndExplicitStatus(t *testing.T) {
	h := newHarness(t, true)
	rec, err := h.rec.Record(context.Background(), client, RecordInput{
		FileName:    form.V("signed.pdf"),
		StoragePath: form.V("authorizations/janedoe/x-signed.pdf"),
		Category:    form.V("authorizations"),
		ScanStatus:  form.V("unknown"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Form 8879", rec.DocumentType)
	assert.Equal(t, "unknown", rec.ScanStatus)
	assert.Zero(t, rec.DLPHits)
}

func TestRecordRequiresMetadata(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.rec.Record(context.Background(), client, RecordInput{FileName: form.V("a.pdf")})
	requireMessage(t, err, MsgMissingMetadata)
	assert.Empty(t, h.records.All())
}

func TestRecordPreparerResolvesClient(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	rec, err := h.rec.Record(ctx, preparer, RecordInput{
		ClientUsername: form.V("janedoe"),
		FileName:       form.V("1099-INT.pdf"),
		StoragePath:    form.V("uploads/janedoe/1-1099-INT.pdf"),
	})
	require.NoError(t, err)
	assert.Equal(t, auth.RolePreparer, rec.UploaderRole)
	assert.Equal(t, "u-1", *rec.ClientUserID)
	assert.Equal(t, "1099", rec.DocumentType)

	_, err = h.rec.Record(ctx, preparer, RecordInput{
		ClientUsername: form.V("ghost"),
		FileName:       form.V("a.pdf"),
		StoragePath:    form.V("uploads/ghost/a.pdf"),
	})
	assert.ErrorIs(t, err, profile.ErrClientNotFound)
}

func TestListForClient(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for _, name := range []string{"W-2.pdf", "1098.pdf"} {
		_, err := h.rec.Record(ctx, client, RecordInput{FileName: form.V(name), StoragePath: form.V("uploads/janedoe/" + name)})
		require.NoError(t, err)
	}
	recs, err := h.rec.ListForClient(ctx, client)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1098.pdf", recs[0].FileName)

	recs, err = h.rec.ListForClient(ctx, auth.Identity{ID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestListForPreparerMergesRecordsAndHidden(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	res, err := h.pipeline.Accept(ctx, client, Batch{
		Username: "JaneDoe",
		Files: []screen.File{
			{Name: "W-2_2025.pdf", ContentType: "application/pdf", Data: pdf},
			{Name: "1098 statement.pdf", ContentType: "application/pdf", Data: append(append([]byte{}, pdf...), " 123-45-6789 "...)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)

	require.NoError(t, h.objects.Put(ctx, "authorizations/janedoe/20250101-Form_8879.pdf", pdf, "application/pdf"))
	hidden, err := h.rec.SetHidden(ctx, preparer, HideInput{
		ClientUserID: form.V("u-1"),
		Path:         form.V(res.Files[0].Path),
		Hidden:       form.V("true"),
	})
	require.NoError(t, err)
	assert.True(t, hidden)

	listing, err := h.rec.ListForPreparer(ctx, " JaneDoe ", "")
	require.NoError(t, err)
	assert.Equal(t, "janedoe", listing.Username)
	require.NotNil(t, listing.ClientUserID)
	assert.Equal(t, "u-1", *listing.ClientUserID)
	require.Len(t, listing.Files, 3)

	auth8879 := listing.Files[0]
	assert.Equal(t, "authorization", auth8879.Category)
	assert.Equal(t, "Form 8879", auth8879.DocumentType)
	assert.Nil(t, auth8879.ScanStatus)

	flagged := listing.Files[1]
	assert.Equal(t, res.Files[1].Path, flagged.Path)
	require.NotNil(t, flagged.ScanStatus)
	assert.Equal(t, ScanFlagged, *flagged.ScanStatus)
	assert.Equal(t, 1, *flagged.DLPHits)
	assert.Equal(t, "1098", flagged.DocumentType)
	assert.False(t, flagged.Hidden)

	w2 := listing.Files[2]
	assert.True(t, w2.Hidden)
	assert.Equal(t, ScanClean, *w2.ScanStatus)
	assert.Equal(t, "W-2", w2.DocumentType)
}

func TestListForPreparerErrors(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.rec.ListForPreparer(context.Background(), "janedoe", "")
	assert.ErrorIs(t, err, ErrStorageNotConfigured)

	h = newHarness(t, true)
	_, err = h.rec.ListForPreparer(context.Background(), "  ", "")
	requireMessage(t, err, profile.MsgMissingUsername)

	listing, err := h.rec.ListForPreparer(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.Nil(t, listing.ClientUserID)
	assert.Empty(t, listing.Files)
}

func TestSetHidden(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.rec.SetHidden(ctx, preparer, HideInput{Path: form.V("uploads/x")})
	requireMessage(t, err, MsgMissingUploadID)

	in := HideInput{ClientUserID: form.V("u-1"), Path: form.V("uploads/janedoe/a.pdf"), Hidden: form.V("true")}
	_, err = h.rec.SetHidden(ctx, preparer, in)
	require.NoError(t, err)
	paths, _ := h.records.HiddenPaths(ctx, "u-1")
	assert.True(t, paths["uploads/janedoe/a.pdf"])

	in.Hidden = form.V("false")
	hidden, err := h.rec.SetHidden(ctx, preparer, in)
	require.NoError(t, err)
	assert.False(t, hidden)
	paths, _ = h.records.HiddenPaths(ctx, "u-1")
	assert.Empty(t, paths)

	assert.Equal(t, []audit.Action{audit.ActionUploadHidden, audit.ActionUploadUnhidden}, h.audit.actions())
	assert.Equal(t, "u-1", h.audit.events[0].TargetUserID)
	assert.Equal(t, "uploads/janedoe/a.pdf", h.audit.events[0].Metadata["path"])

	h = newHarness(t, false)
	_, err = h.rec.SetHidden(ctx, preparer, in)
	assert.ErrorIs(t, err, ErrStorageNotConfigured)
}

func TestAcceptSingleFileHasNoCounter(t *testing.T) {
	h := newHarness(t, true)
	res, err := h.pipeline.Accept(context.Background(), client, Batch{
		Username: "janedoe",
		Files:    []screen.File{{Name: "W-2 2025.pdf", Data: pdf}},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "uploads/janedoe/20250301120002000-W-2_2025.pdf", res.Files[0].Path)
	assert.Equal(t, "Uploads complete.", res.Message)
	assert.True(t, strings.HasPrefix(res.Receipt, "ASTA-"))

	recs := h.records.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "application/pdf", *recs[0].FileType, "type sniffed when undeclared")
	assert.Equal(t, ScanClean, recs[0].ScanStatus)
}

func TestAcceptAuthorization(t *testing.T) {
	h := newHarness(t, true)
	res, err := h.pipeline.Accept(context.Background(), preparer, Batch{
		Username: "janedoe",
		Category: "authorization",
		Files:    []screen.File{{Name: "Form_8879.pdf", ContentType: "application/pdf", Data: pdf}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Files[0].Path, "authorizations/janedoe/"))
	assert.Equal(t, "Form 8879", res.Files[0].DocumentType)

	rec := h.records.All()[0]
	assert.Equal(t, auth.RolePreparer, rec.UploaderRole)
	assert.Equal(t, "u-1", *rec.ClientUserID)
}

func TestAcceptAuthorizationsSameNameSameInstant(t *testing.T) {
	h := newHarness(t, true)
	frozen := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	guard := auth.NewGuard(nil, auth.NewPreparerPolicy("firm.com", ""))
	rec := NewRecorder(h.records, h.profiles, guard, WithClock(frozen), WithObjects(h.objects))

	res, err := NewPipeline(rec).Accept(context.Background(), preparer, Batch{
		Username: "janedoe",
		Category: "authorization",
		Files: []screen.File{
			{Name: "Form_8879.pdf", ContentType: "application/pdf", Data: pdf},
			{Name: "Form_8879.pdf", ContentType: "application/pdf", Data: pdf},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "authorizations/janedoe/20250301120000000-1-Form_8879.pdf", res.Files[0].Path)
	assert.Equal(t, "authorizations/janedoe/20250301120000000-2-Form_8879.pdf", res.Files[1].Path)
	assert.Equal(t, 2, h.objects.Len())
	assert.Len(t, h.records.All(), 2)
}

func TestAcceptRejections(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.pipeline.Accept(ctx, client, Batch{Username: "janedoe"})
	requireMessage(t, err, MsgNoFiles)

	_, err = h.pipeline.Accept(ctx, client, Batch{Files: []screen.File{{Name: "W-2.pdf", Data: pdf}}})
	requireMessage(t, err, MsgNoUsername)

	_, err = h.pipeline.Accept(ctx, client, Batch{Username: "janedoe", Files: []screen.File{{Name: "IMG_2041.jpg", Data: pdf}}})
	requireMessage(t, err, `Rename "IMG_2041.jpg" to include the document type (e.g., W-2_2025.pdf) and reselect it.`)

	_, err = h.pipeline.Accept(ctx, client, Batch{Username: "janedoe", Files: []screen.File{{Name: "W-2.txt", ContentType: "text/plain", Data: []byte("hi")}}})
	requireMessage(t, err, "Unsupported file or size too large: W-2.txt")

	big := make([]byte, MaxFileBytes+1)
	copy(big, pdf)
	_, err = h.pipeline.Accept(ctx, client, Batch{Username: "janedoe", Files: []screen.File{{Name: "W-2.pdf", ContentType: "application/pdf", Data: big}}})
	requireMessage(t, err, "Unsupported file or size too large: W-2.pdf")

	_, err = h.pipeline.Accept(ctx, client, Batch{Username: "janedoe", Files: []screen.File{
		{Name: "W-2.pdf", ContentType: "application/pdf", Data: pdf},
		{Name: "1099.pdf", ContentType: "application/pdf", Data: []byte("%PDF EICAR-STANDARD-ANTIVIRUS-TEST-FILE")},
	}})
	require.ErrorIs(t, err, screen.ErrRejected)
	assert.EqualError(t, err, "Malware test signature detected in 1099.pdf.")
	assert.Zero(t, h.objects.Len(), "nothing stored when screening fails")

	_, err = h.pipeline.Accept(ctx, auth.Identity{ID: "u-2", Email: "bob@example.com"}, Batch{
		Username: "janedoe",
		Files:    []screen.File{{Name: "W-2.pdf", ContentType: "application/pdf", Data: pdf}},
	})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = h.pipeline.Accept(ctx, preparer, Batch{
		Username: "ghost",
		Files:    []screen.File{{Name: "W-2.pdf", ContentType: "application/pdf", Data: pdf}},
	})
	assert.ErrorIs(t, err, profile.ErrClientNotFound)
}

func TestAcceptStorageFailureReportsProgress(t *testing.T) {
	h := newHarness(t, true)
	h.objects.FailOn = "-3-"
	res, err := h.pipeline.Accept(context.Background(), client, Batch{
		Username: "janedoe",
		Files: []screen.File{
			{Name: "W-2.pdf", ContentType: "application/pdf", Data: pdf},
			{Name: "1099.pdf", ContentType: "application/pdf", Data: pdf},
			{Name: "1098.pdf", ContentType: "application/pdf", Data: pdf},
		},
	})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, objectstore.ErrUnavailable)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 2, serr.Uploaded)
	assert.Equal(t, "1098.pdf", serr.Name)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 2, h.objects.Len())
	assert.Len(t, h.records.All(), 2)
}

func TestAcceptWithoutStorage(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.pipeline.Accept(context.Background(), client, Batch{Username: "janedoe", Files: []screen.File{{Name: "W-2.pdf", Data: pdf}}})
	assert.ErrorIs(t, err, ErrStorageNotConfigured)
}
