package httpapi

import (
	"net/http"
	"strings"

	"github.com/Davelummy/taxagent/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", auth.ErrInvalidScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}

// authenticate resolves the bearer token of r.
func (a *API) authenticate(r *http.Request) (auth.Identity, error) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.Identity{}, err
	}
	return a.guard.Authenticate(r.Context(), token)
}

// requireUser writes the failure and returns false when r is not signed in.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := a.authenticate(r)
	if err != nil {
		a.handleError(w, r, err)
		return auth.Identity{}, false
	}
	return id, true
}

// requirePreparer additionally checks the preparer policy.
func (a *API) requirePreparer(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if err := a.guard.RequirePreparer(id); err != nil {
		a.handleError(w, r, err)
		return auth.Identity{}, false
	}
	return id, true
}

// optionalUser returns the caller when a valid token is present. A missing
// or rejected token yields nil.
func (a *API) optionalUser(r *http.Request) *auth.Identity {
	if strings.TrimSpace(r.Header.Get(authHeader)) == "" {
		return nil
	}
	id, err := a.authenticate(r)
	if err != nil {
		return nil
	}
	return &id
}
