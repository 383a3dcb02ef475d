package uploads

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/Davelummy/taxagent/internal/audit"
	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/objectstore"
	"github.com/Davelummy/taxagent/internal/policy"
	"github.com/Davelummy/taxagent/internal/profile"
)

// Recorder writes and reads upload metadata.
type Recorder struct {
	store   Store
	clients Directory
	roles   RoleResolver
	objects objectstore.Store
	hidden  Visibility
	policy  *policy.Checker
	audit   audit.Recorder
	now     func() time.Time
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithObjects sets the object store listed for preparers and written by
// the pipeline.
func WithObjects(s objectstore.Store) Option {
	return func(r *Recorder) { r.objects = s }
}

// WithVisibility sets where hidden flags live.
func WithVisibility(v Visibility) Option {
	return func(r *Recorder) { r.hidden = v }
}

// WithPolicy overrides the naming rules used to classify documents.
func WithPolicy(c *policy.Checker) Option {
	return func(r *Recorder) {
		if c != nil {
			r.policy = c
		}
	}
}

// WithAudit sets the audit recorder.
func WithAudit(a audit.Recorder) Option {
	return func(r *Recorder) {
		if a != nil {
			r.audit = a
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder wires the record store, client directory and role resolver.
func NewRecorder(store Store, clients Directory, roles RoleResolver, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		clients: clients,
		roles:   roles,
		policy:  policy.Default(),
		audit:   audit.Discard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StorageConfigured reports whether an object store is wired.
func (r *Recorder) StorageConfigured() bool { return r.objects != nil }

// Record registers an object the caller already stored. Clients always
// record for themselves; a preparer naming client_username must name an
// existing client.
func (r *Recorder) Record(ctx context.Context, actor auth.Identity, in RecordInput) (Record, error) {
	fileName, path := in.FileName.Text(), in.StoragePath.Text()
	if fileName == nil || path == nil {
		return Record{}, form.Invalid(MsgMissingMetadata)
	}
	category := "documents"
	if c := in.Category.Text(); c != nil {
		category = *c
	}

	role := r.roleOf(actor)
	clientUserID := in.ClientUserID.Text()
	var usernameKey *string
	if u := in.ClientUsername.Text(); u != nil {
		key := objectstore.OwnerKey(*u)
		usernameKey = &key
		if role == auth.RolePreparer {
			id, err := r.clients.ClientUserID(ctx, *u)
			if err != nil {
				return Record{}, err
			}
			if clientUserID == nil {
				clientUserID = &id
			}
		}
	}
	if role == auth.RoleClient {
		id := actor.ID
		clientUserID = &id
	}

	dlp := 0
	if n := in.DLPHits.Int(); n != nil && *n > 0 {
		dlp = *n
	}
	status := ScanClean
	if dlp > 0 {
		status = ScanFlagged
	}
	if s := in.ScanStatus.Text(); s != nil {
		status = *s
	}
	var size *int64
	if n := in.FileSize.Number(); n != nil {
		v := int64(*n)
		size = &v
	}

	rec := Record{
		ClientUserID:   clientUserID,
		ClientUsername: usernameKey,
		UploaderUserID: actor.ID,
		UploaderRole:   role,
		Category:       category,
		DocumentType:   r.classify(*fileName, category),
		ScanStatus:     status,
		ScanNotes:      in.ScanNotes.Text(),
		DLPHits:        dlp,
		FileName:       *fileName,
		StoragePath:    *path,
		FileSize:       size,
		FileType:       in.FileType.Text(),
	}
	if err := r.insert(ctx, actor, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Recorder) insert(ctx context.Context, actor auth.Identity, rec *Record) error {
	rec.CreatedAt = r.now().UTC()
	id, err := r.store.InsertRecord(ctx, rec)
	if err != nil {
		return eris.Wrap(err, "uploads: insert record")
	}
	rec.ID = id
	r.audit.Record(ctx, audit.Event{
		ActorUserID:    actor.ID,
		ActorEmail:     actor.Email,
		ActorRole:      string(rec.UploaderRole),
		Action:         audit.ActionUploadRecorded,
		TargetUserID:   deref(rec.ClientUserID),
		TargetUsername: deref(rec.ClientUsername),
		Metadata: map[string]any{
			"file_name":     rec.FileName,
			"category":      rec.Category,
			"document_type": rec.DocumentType,
			"scan_status":   rec.ScanStatus,
			"dlp_hits":      rec.DLPHits,
		},
	})
	return nil
}

// ListForClient returns the caller's own records, newest first.
func (r *Recorder) ListForClient(ctx context.Context, actor auth.Identity) ([]Record, error) {
	recs, err := r.store.ListByClient(ctx, actor.ID)
	if err != nil {
		return nil, eris.Wrap(err, "uploads: list records")
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// ListForPreparer merges the stored objects of a client with their scan
// records and hidden flags. userID may be empty; it is then looked up from
// the username.
func (r *Recorder) ListForPreparer(ctx context.Context, username, userID string) (Listing, error) {
	if r.objects == nil {
		return Listing{}, ErrStorageNotConfigured
	}
	key, err := profile.UsernameKey(username)
	if err != nil {
		return Listing{}, err
	}

	clientID := strings.TrimSpace(userID)
	if clientID == "" {
		id, err := r.clients.ClientUserID(ctx, username)
		switch {
		case err == nil:
			clientID = id
		case !errors.Is(err, profile.ErrClientNotFound):
			return Listing{}, err
		}
	}

	docPrefix, authPrefix := objectstore.OwnerPrefixes(key)
	var (
		docs, auths []objectstore.Object
		records     []Record
		hidden      map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		docs, err = r.objects.List(gctx, docPrefix, objectstore.DefaultListLimit)
		return err
	})
	g.Go(func() (err error) {
		auths, err = r.objects.List(gctx, authPrefix, objectstore.DefaultListLimit)
		return err
	})
	g.Go(func() (err error) {
		records, err = r.store.ListByUsername(gctx, key)
		return err
	})
	if clientID != "" && r.hidden != nil {
		g.Go(func() (err error) {
			hidden, err = r.hidden.HiddenPaths(gctx, clientID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Listing{}, eris.Wrap(err, "uploads: list for preparer")
	}

	byPath := make(map[string]Record, len(records))
	for _, rec := range records {
		if _, seen := byPath[rec.StoragePath]; !seen {
			byPath[rec.StoragePath] = rec
		}
	}

	files := make([]File, 0, len(docs)+len(auths))
	add := func(objs []objectstore.Object, category string) {
		for _, o := range objs {
			if o.Name == "" {
				continue
			}
			f := File{
				Name:         o.Name,
				Path:         o.Path,
				CreatedAt:    o.CreatedAt,
				Size:         o.Size,
				Category:     category,
				DocumentType: r.policy.Classify(o.Name, category).Label,
				Hidden:       hidden[o.Path],
			}
			if rec, ok := byPath[o.Path]; ok {
				status, hits := rec.ScanStatus, rec.DLPHits
				f.ScanStatus, f.ScanNotes, f.DLPHits = &status, rec.ScanNotes, &hits
				if rec.DocumentType != "" {
					f.DocumentType = rec.DocumentType
				}
			}
			files = append(files, f)
		}
	}
	add(docs, policy.CategoryDocuments)
	add(auths, "authorization")
	sort.SliceStable(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })

	out := Listing{Username: key, Files: files}
	if clientID != "" {
		out.ClientUserID = &clientID
	}
	return out, nil
}

// SetHidden hides or reveals one stored object for preparers and returns
// the new state.
func (r *Recorder) SetHidden(ctx context.Context, actor auth.Identity, in HideInput) (bool, error) {
	if r.objects == nil || r.hidden == nil {
		return false, ErrStorageNotConfigured
	}
	userID, path := in.ClientUserID.Text(), in.Path.Text()
	if userID == nil || path == nil {
		return false, form.Invalid(MsgMissingUploadID)
	}
	hidden := in.Hidden.IsTrue()
	if err := r.hidden.SetHidden(ctx, *userID, *path, hidden, r.now().UTC()); err != nil {
		return false, eris.Wrap(err, "uploads: update visibility")
	}

	action := audit.ActionUploadUnhidden
	if hidden {
		action = audit.ActionUploadHidden
	}
	r.audit.Record(ctx, audit.Event{
		ActorUserID:  actor.ID,
		ActorEmail:   actor.Email,
		ActorRole:    string(auth.RolePreparer),
		Action:       action,
		TargetUserID: *userID,
		Metadata:     map[string]any{"path": *path},
	})
	return hidden, nil
}

func (r *Recorder) classify(fileName, category string) string {
	if category == policy.CategoryAuthorizations {
		return r.policy.Classify(fileName, "authorization").Label
	}
	return r.policy.Classify(fileName, policy.CategoryDocuments).Label
}

func (r *Recorder) roleOf(id auth.Identity) auth.Role {
	if r.roles == nil {
		return auth.RoleClient
	}
	return r.roles.RoleOf(id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
