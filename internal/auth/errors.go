package auth

import "errors"

var (
	ErrMissingToken   = errors.New("auth: missing bearer token")
	ErrInvalidScheme  = errors.New("auth: invalid authorization scheme")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrInvalidSession = errors.New("auth: invalid user session")
	ErrForbidden      = errors.New("auth: forbidden")
	ErrNotConfigured  = errors.New("auth: identity provider not configured")
)
