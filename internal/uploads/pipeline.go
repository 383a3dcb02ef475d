package uploads

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/objectstore"
	"github.com/Davelummy/taxagent/internal/obs"
	"github.com/Davelummy/taxagent/internal/policy"
	"github.com/Davelummy/taxagent/internal/profile"
	"github.com/Davelummy/taxagent/internal/screen"
)

// MaxFileBytes is the per-file upload limit.
const MaxFileBytes = 10 << 20

const (
	MsgNoFiles         = "Select files to upload."
	MsgNoUsername      = "Username missing. Complete account setup to upload files."
	msgUnsupported     = "Unsupported file or size too large: %s"
	msgComplete        = "Uploads complete."
	msgCompleteFlagged = "Uploads complete. Sensitive data was detected and flagged for preparer review."
)

var allowedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// Batch is one multipart upload. Username names the owning client.
type Batch struct {
	Username string
	Category string
	Files    []screen.File
}

// Stored describes one file written by the pipeline.
type Stored struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	DocumentType string `json:"document_type"`
	ScanStatus   string `json:"scan_status"`
}

// Result is the outcome of an accepted batch.
type Result struct {
	Uploaded int      `json:"uploaded"`
	DLPHits  int      `json:"dlp_hits"`
	Warnings []string `json:"warnings,omitempty"`
	Files    []Stored `json:"files"`
	Message  string   `json:"message"`
	Receipt  string   `json:"receipt"`
}

// Pipeline checks, screens and stores a batch, then records each file.
type Pipeline struct {
	rec *Recorder
}

// NewPipeline uses rec's object store, policy and clock.
func NewPipeline(rec *Recorder) *Pipeline {
	return &Pipeline{rec: rec}
}

// Accept runs the whole batch through naming, type and size checks and the
// screener before any byte is stored. Files are then written in order; a
// failed write stops the batch with a *StorageError.
func (p *Pipeline) Accept(ctx context.Context, actor auth.Identity, b Batch) (Result, error) {
	r := p.rec
	if r.objects == nil {
		return Result{}, ErrStorageNotConfigured
	}
	if len(b.Files) == 0 {
		return Result{}, form.Invalid(MsgNoFiles)
	}
	key, err := profile.UsernameKey(b.Username)
	if err != nil {
		return Result{}, form.Invalid(MsgNoUsername)
	}
	category := normalizeCategory(b.Category)

	role := r.roleOf(actor)
	clientID, err := p.owner(ctx, actor, role, b.Username)
	if err != nil {
		return Result{}, err
	}

	for _, f := range b.Files {
		if err := r.policy.CheckName(f.Name, category); err != nil {
			var v *policy.Violation
			if errors.As(err, &v) {
				return Result{}, &form.ValidationError{Message: v.Message, Err: err}
			}
			return Result{}, err
		}
	}
	for i := range b.Files {
		f := &b.Files[i]
		f.ContentType = contentType(*f)
		if !allowedTypes[f.ContentType] || len(f.Data) > MaxFileBytes {
			return Result{}, form.Invalid(fmt.Sprintf(msgUnsupported, f.Name))
		}
	}

	scan := screen.ScanBatch(b.Files, nil)
	for _, res := range scan.Results {
		obs.ObserveScreening(res.Outcome())
	}
	if err := scan.Err(); err != nil {
		return Result{}, err
	}

	out := Result{DLPHits: scan.DLPHits, Warnings: scan.Warnings, Files: make([]Stored, 0, len(b.Files))}
	for i, f := range b.Files {
		now := r.now()
		ts := objectstore.Timestamp(now)
		path := objectstore.DocumentPath(key, ts, i+1, len(b.Files), f.Name)
		if category == policy.CategoryAuthorizations {
			path = objectstore.AuthorizationPath(key, ts, i+1, len(b.Files), f.Name)
		}
		if err := r.objects.Put(ctx, path, f.Data, f.ContentType); err != nil {
			return out, &StorageError{Uploaded: out.Uploaded, Name: f.Name, Err: err}
		}
		out.Uploaded++

		res := scan.Results[i]
		status, hits := ScanClean, 0
		if res.DLP {
			status, hits = ScanFlagged, 1
		}
		size := int64(len(f.Data))
		fileType := f.ContentType
		rec := Record{
			ClientUserID:   &clientID,
			ClientUsername: &key,
			UploaderUserID: actor.ID,
			UploaderRole:   role,
			Category:       category,
			DocumentType:   r.classify(f.Name, category),
			ScanStatus:     status,
			DLPHits:        hits,
			FileName:       f.Name,
			StoragePath:    path,
			FileSize:       &size,
			FileType:       &fileType,
		}
		if res.Message != "" {
			notes := res.Message
			rec.ScanNotes = &notes
		}
		if err := r.insert(ctx, actor, &rec); err != nil {
			zap.L().Warn("upload record failed", zap.String("path", path), zap.Error(err))
		}
		out.Files = append(out.Files, Stored{Name: f.Name, Path: path, DocumentType: rec.DocumentType, ScanStatus: status})
	}

	out.Message = msgComplete
	if out.DLPHits > 0 {
		out.Message = msgCompleteFlagged
	}
	out.Receipt = "ASTA-" + strings.ToUpper(strconv.FormatInt(r.now().UnixMilli(), 36))
	return out, nil
}

// owner resolves the client a batch is filed under. Preparers must name an
// existing client. A client may not file under another client's username.
func (p *Pipeline) owner(ctx context.Context, actor auth.Identity, role auth.Role, username string) (string, error) {
	id, err := p.rec.clients.ClientUserID(ctx, username)
	if role == auth.RolePreparer {
		return id, err
	}
	switch {
	case err == nil && id != actor.ID:
		return "", auth.ErrForbidden
	case err != nil && !errors.Is(err, profile.ErrClientNotFound):
		return "", err
	}
	return actor.ID, nil
}

func normalizeCategory(c string) string {
	switch c = strings.TrimSpace(c); c {
	case "", policy.CategoryDocuments:
		return policy.CategoryDocuments
	case "authorization":
		return policy.CategoryAuthorizations
	}
	return c
}

// contentType prefers the declared type and falls back to sniffing.
func contentType(f screen.File) string {
	ct := strings.ToLower(strings.TrimSpace(f.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = mimetype.Detect(f.Data).String()
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
	}
	return ct
}
