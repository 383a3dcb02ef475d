package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/Davelummy/taxagent/internal/screen"
	"github.com/Davelummy/taxagent/internal/uploads"
)

const (
	// maxBatchBytes bounds one multipart request.
	maxBatchBytes = 10 * uploads.MaxFileBytes
	multipartMem  = 32 << 20
)

type listingResponse struct {
	OK bool `json:"ok"`
	uploads.Listing
}

type batchResponse struct {
	OK bool `json:"ok"`
	uploads.Result
}

// uploadBatch takes a multipart form with username, category and one or
// more "files" parts and runs it through the pipeline.
func (a *API) uploadBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBytes)
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
			return
		}
		writeError(w, r, http.StatusBadRequest, uploads.MsgNoFiles)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files, err := readParts(r.MultipartForm.File["files"])
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	res, err := a.svc.Pipeline.Accept(r.Context(), caller, uploads.Batch{
		Username: r.FormValue("username"),
		Category: r.FormValue("category"),
		Files:    files,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{OK: true, Result: res})
}

// readParts loads each part, reading one byte past the file limit so the
// pipeline can reject oversized files by length.
func readParts(headers []*multipart.FileHeader) ([]screen.File, error) {
	files := make([]screen.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, uploads.MaxFileBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, screen.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func (a *API) recordUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var in uploads.RecordInput
	if !decodeOrReject(w, r, &in) {
		return
	}
	rec, err := a.svc.Uploads.Record(r.Context(), caller, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": rec.ID})
}

func (a *API) listUploadRecords(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	recs, err := a.svc.Uploads.ListForClient(r.Context(), caller)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "records": recs})
}

func (a *API) preparerUploads(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePreparer(w, r); !ok {
		return
	}
	q := r.URL.Query()
	listing, err := a.svc.Uploads.ListForPreparer(r.Context(), q.Get("username"), q.Get("user_id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingResponse{OK: true, Listing: listing})
}

func (a *API) hideUpload(w http.ResponseWriter, r *http.Request) {
	preparer, ok := a.requirePreparer(w, r)
	if !ok {
		return
	}
	var in uploads.HideInput
	if !decodeOrReject(w, r, &in) {
		return
	}
	hidden, err := a.svc.Uploads.SetHidden(r.Context(), preparer, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "hidden": hidden})
}
