package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/dashboard"
	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/intake"
	"github.com/Davelummy/taxagent/internal/profile"
	"github.com/Davelummy/taxagent/internal/screen"
	"github.com/Davelummy/taxagent/internal/uploads"
)

const (
	maxJSONBytes = 1 << 20

	msgInvalidJSON      = "Invalid JSON payload."
	msgPayloadTooLarge  = "Payload too large."
	msgServerError      = "Server error."
	msgMissingAuth      = "Missing authorization."
	msgInvalidSession   = "Invalid user session."
	msgAuthUnavailable  = "Preparer auth not configured."
	msgAccessRestricted = "Access restricted."
	msgUnauthorizedEdit = "Unauthorized update."
	msgIntakeNotFound   = "Intake record not found."
	msgReviewNotFound   = "Intake submission not found."
	msgClientNotFound   = "Client not found."
	msgNoTelemetry      = "Upload telemetry not configured."
	msgUploadFailed     = "Upload failed."
	msgSchemaMissing    = "Database schema missing. Run the migrations."
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads at most 1 MB into dst. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOrReject decodes the body and answers malformed input itself.
func decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(w, r, dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
		return false
	}
	writeError(w, r, http.StatusBadRequest, msgInvalidJSON)
	return false
}

// handleError maps domain errors onto status codes and client messages.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *form.ValidationError
		rejected *screen.RejectedError
		storage  *uploads.StorageError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, r, http.StatusBadRequest, invalid.Message)
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidScheme):
		writeError(w, r, http.StatusUnauthorized, msgMissingAuth)
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(w, r, http.StatusUnauthorized, msgAuthUnavailable)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, msgInvalidSession)
	case errors.Is(err, intake.ErrForbidden):
		writeError(w, r, http.StatusForbidden, msgUnauthorizedEdit)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, msgAccessRestricted)
	case errors.Is(err, intake.ErrReviewTargetNotFound):
		writeError(w, r, http.StatusNotFound, msgReviewNotFound)
	case errors.Is(err, intake.ErrNotFound):
		writeError(w, r, http.StatusNotFound, msgIntakeNotFound)
	case errors.Is(err, profile.ErrClientNotFound):
		writeError(w, r, http.StatusNotFound, msgClientNotFound)
	case errors.As(err, &rejected):
		writeErrorBody(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error":    rejected.Error(),
			"file":     rejected.Name,
			"uploaded": 0,
		})
	case errors.As(err, &storage):
		zap.L().Error("object store write failed", zap.String("file", storage.Name), zap.Error(storage.Err))
		writeErrorBody(w, r, http.StatusBadGateway, map[string]any{
			"error":    storage.Error(),
			"file":     storage.Name,
			"uploaded": storage.Uploaded,
		})
	case errors.Is(err, uploads.ErrStorageUnavailable):
		writeError(w, r, http.StatusBadGateway, msgUploadFailed)
	case errors.Is(err, uploads.ErrStorageNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, msgNoTelemetry)
	case errors.Is(err, dashboard.ErrSchemaMissing):
		zap.L().Error("database schema missing", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgSchemaMissing)
	default:
		zap.L().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgServerError)
	}
}
