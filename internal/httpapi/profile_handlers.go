package httpapi

import (
	"net/http"

	"github.com/Davelummy/taxagent/internal/dashboard"
	"github.com/Davelummy/taxagent/internal/profile"
)

type overviewResponse struct {
	OK bool `json:"ok"`
	dashboard.Overview
}

func (a *API) syncClientProfile(w http.ResponseWriter, r *http.Request) {
	var in profile.ClientInput
	if !decodeOrReject(w, r, &in) {
		return
	}
	id, err := a.svc.Profiles.SyncClient(r.Context(), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *API) syncPreparerProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePreparer(w, r); !ok {
		return
	}
	var in profile.PreparerInput
	if !decodeOrReject(w, r, &in) {
		return
	}
	id, err := a.svc.Profiles.SyncPreparer(r.Context(), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *API) validateClient(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePreparer(w, r); !ok {
		return
	}
	if err := a.svc.Profiles.ValidateClient(r.Context(), r.URL.Query().Get("username")); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) submitContact(w http.ResponseWriter, r *http.Request) {
	var in profile.ContactInput
	if !decodeOrReject(w, r, &in) {
		return
	}
	if err := a.svc.Profiles.SubmitContact(r.Context(), in); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// overview skips storage stats when telemetry=0.
func (a *API) overview(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePreparer(w, r); !ok {
		return
	}
	telemetry := r.URL.Query().Get("telemetry") != "0"
	ov, err := a.svc.Dashboard.Overview(r.Context(), telemetry)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overviewResponse{OK: true, Overview: ov})
}
