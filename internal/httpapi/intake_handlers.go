package httpapi

import (
	"errors"
	"net/http"

	"github.com/Davelummy/taxagent/internal/intake"
)

type statusResponse struct {
	Found bool `json:"found"`
	intake.StatusView
}

// createIntake accepts anonymous submissions; a valid bearer token makes
// the caller the owner.
func (a *API) createIntake(w http.ResponseWriter, r *http.Request) {
	var f intake.Fields
	if !decodeOrReject(w, r, &f) {
		return
	}
	id, err := a.svc.Intake.Submit(r.Context(), f, a.optionalUser(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *API) updateIntake(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var f intake.Fields
	if !decodeOrReject(w, r, &f) {
		return
	}
	id, err := a.svc.Intake.Update(r.Context(), f, caller)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *API) latestIntake(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	sub, err := a.svc.Intake.GetLatest(r.Context(), caller)
	if errors.Is(err, intake.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "intake": sub})
}

// intakeStatus is unauthenticated; knowing the client id or email is the
// capability.
func (a *API) intakeStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := a.svc.Intake.Status(r.Context(), q.Get("client_user_id"), q.Get("email"))
	if errors.Is(err, intake.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Found: true, StatusView: view})
}

func (a *API) setIntakeStatus(w http.ResponseWriter, r *http.Request) {
	preparer, ok := a.requirePreparer(w, r)
	if !ok {
		return
	}
	var req intake.ReviewRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	id, err := a.svc.Intake.SetReviewStatus(r.Context(), req, preparer)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}
