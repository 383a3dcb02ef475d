// Package uploads tracks stored client documents: the metadata recorded for
// each object, preparer visibility flags and the server-side upload pipeline.
package uploads

import (
	"context"
	"errors"
	"time"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/form"
)

const (
	MsgMissingMetadata = "Missing upload metadata."
	MsgMissingUploadID = "Missing upload identifier."
)

// Scan statuses stored with a record.
const (
	ScanClean   = "clean"
	ScanFlagged = "flagged"
)

var (
	// ErrStorageNotConfigured means no object store backs this deployment.
	ErrStorageNotConfigured = errors.New("uploads: storage not configured")
	// ErrStorageUnavailable matches every *StorageError.
	ErrStorageUnavailable = errors.New("uploads: storage unavailable")
)

// Record is the metadata row written for one stored object.
type Record struct {
	ID             int64     `json:"id"`
	ClientUserID   *string   `json:"client_user_id"`
	ClientUsername *string   `json:"client_username"`
	UploaderUserID string    `json:"uploader_user_id"`
	UploaderRole   auth.Role `json:"uploader_role"`
	Category       string    `json:"category"`
	DocumentType   string    `json:"document_type"`
	ScanStatus     string    `json:"scan_status"`
	ScanNotes      *string   `json:"scan_notes"`
	DLPHits        int       `json:"dlp_hits"`
	FileName       string    `json:"file_name"`
	StoragePath    string    `json:"storage_path"`
	FileSize       *int64    `json:"file_size"`
	FileType       *string   `json:"file_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordInput is the metadata a browser reports after a direct upload.
type RecordInput struct {
	ClientUserID   form.Value `json:"client_user_id"`
	ClientUsername form.Value `json:"client_username"`
	FileName       form.Value `json:"file_name"`
	StoragePath    form.Value `json:"storage_path"`
	FileSize       form.Value `json:"file_size"`
	FileType       form.Value `json:"file_type"`
	Category       form.Value `json:"category"`
	ScanStatus     form.Value `json:"scan_status"`
	ScanNotes      form.Value `json:"scan_notes"`
	DLPHits        form.Value `json:"dlp_hits"`
}

// HideInput toggles whether preparers see a stored object.
type HideInput struct {
	ClientUserID form.Value `json:"client_user_id"`
	Path         form.Value `json:"path"`
	Hidden       form.Value `json:"hidden"`
}

// File is one entry of the preparer listing.
type File struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int64     `json:"size"`
	Category     string    `json:"category"`
	DocumentType string    `json:"document_type"`
	ScanStatus   *string   `json:"scan_status,omitempty"`
	ScanNotes    *string   `json:"scan_notes,omitempty"`
	DLPHits      *int      `json:"dlp_hits,omitempty"`
	Hidden       bool      `json:"hidden"`
}

// Listing is everything stored for one client.
type Listing struct {
	Username     string  `json:"username"`
	ClientUserID *string `json:"client_user_id"`
	Files        []File  `json:"files"`
}

// Store persists upload records.
type Store interface {
	InsertRecord(ctx context.Context, r *Record) (int64, error)
	// ListByClient returns a client's records newest first.
	ListByClient(ctx context.Context, clientUserID string) ([]Record, error)
	// ListByUsername returns records filed under a normalized username key.
	ListByUsername(ctx context.Context, usernameKey string) ([]Record, error)
}

// Visibility stores which objects a preparer has hidden for a client.
type Visibility interface {
	HiddenPaths(ctx context.Context, userID string) (map[string]bool, error)
	SetHidden(ctx context.Context, userID, path string, hidden bool, at time.Time) error
}

// Directory resolves client usernames to user ids.
type Directory interface {
	ClientUserID(ctx context.Context, username string) (string, error)
}

// RoleResolver classifies callers.
type RoleResolver interface {
	RoleOf(id auth.Identity) auth.Role
}

// StorageError reports the file whose write failed and how many files of
// the batch were stored before it.
type StorageError struct {
	Uploaded int
	Name     string
	Err      error
}

func (e *StorageError) Error() string { return "Upload failed: " + e.Name }

func (e *StorageError) Unwrap() []error { return []error{e.Err, ErrStorageUnavailable} }
