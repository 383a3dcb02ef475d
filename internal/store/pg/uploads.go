package pg

import (
	"context"
	"time"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/uploads"
)

var (
	_ uploads.Store      = (*Store)(nil)
	_ uploads.Visibility = (*Store)(nil)
)

const uploadColumns = `client_user_id, client_username, uploader_user_id, uploader_role, category,
	document_type, scan_status, scan_notes, dlp_hits, file_name, storage_path, file_size, file_type, created_at`

func (s *Store) InsertRecord(ctx context.Context, r *uploads.Record) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `insert into upload_records (`+uploadColumns+`)
		values (`+placeholders(1, 14)+`) returning id`,
		r.ClientUserID, r.ClientUsername, nullIfEmpty(r.UploaderUserID), string(r.UploaderRole), r.Category,
		r.DocumentType, r.ScanStatus, r.ScanNotes, r.DLPHits, r.FileName, r.StoragePath, r.FileSize, r.FileType, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, classify(err, "pg: insert upload record")
	}
	r.ID = id
	return id, nil
}

func (s *Store) ListByClient(ctx context.Context, clientUserID string) ([]uploads.Record, error) {
	return s.listRecords(ctx, "client_user_id = $1", clientUserID)
}

func (s *Store) ListByUsername(ctx context.Context, usernameKey string) ([]uploads.Record, error) {
	return s.listRecords(ctx, "client_username = $1", usernameKey)
}

func (s *Store) listRecords(ctx context.Context, where string, arg any) ([]uploads.Record, error) {
	rows, err := s.db.QueryContext(ctx, `select id, `+uploadColumns+`
		from upload_records where `+where+` order by created_at desc, id desc`, arg)
	if err != nil {
		return nil, classify(err, "pg: list upload records")
	}
	defer rows.Close()

	var out []uploads.Record
	for rows.Next() {
		var (
			r        uploads.Record
			uploader *string
			role     string
			docType  *string
		)
		if err := rows.Scan(&r.ID,
			&r.ClientUserID, &r.ClientUsername, &uploader, &role, &r.Category,
			&docType, &r.ScanStatus, &r.ScanNotes, &r.DLPHits, &r.FileName, &r.StoragePath, &r.FileSize, &r.FileType, &r.CreatedAt,
		); err != nil {
			return nil, classify(err, "pg: scan upload record")
		}
		r.UploaderRole = auth.Role(role)
		if uploader != nil {
			r.UploaderUserID = *uploader
		}
		if docType != nil {
			r.DocumentType = *docType
		}
		out = append(out, r)
	}
	return out, classify(rows.Err(), "pg: list upload records")
}

func (s *Store) HiddenPaths(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `select path from upload_visibility where user_id = $1 and hidden`, userID)
	if err != nil {
		return nil, classify(err, "pg: hidden paths")
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, classify(err, "pg: scan hidden path")
		}
		out[path] = true
	}
	return out, classify(rows.Err(), "pg: hidden paths")
}

func (s *Store) SetHidden(ctx context.Context, userID, path string, hidden bool, at time.Time) error {
	if !hidden {
		_, err := s.db.ExecContext(ctx, `delete from upload_visibility where user_id = $1 and path = $2`, userID, path)
		return classify(err, "pg: unhide upload")
	}
	_, err := s.db.ExecContext(ctx, `insert into upload_visibility (user_id, path, hidden, updated_at)
		values ($1, $2, true, $3)
		on conflict (user_id, path) do update set hidden = true, updated_at = excluded.updated_at`,
		userID, path, at)
	return classify(err, "pg: hide upload")
}
