package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IdentityProvider resolves a bearer token into the caller it belongs to.
type IdentityProvider interface {
	Identity(ctx context.Context, token string) (Identity, error)
}

// Guard authenticates callers and answers the preparer and ownership
// questions every protected operation asks.
type Guard struct {
	provider  IdentityProvider
	preparers PreparerPolicy
}

// NewGuard wires a provider and preparer policy. A nil provider makes every
// Authenticate call fail with ErrNotConfigured.
func NewGuard(provider IdentityProvider, preparers PreparerPolicy) *Guard {
	return &Guard{provider: provider, preparers: preparers}
}

// Preparers exposes the preparer policy.
func (g *Guard) Preparers() PreparerPolicy { return g.preparers }

// Authenticate resolves token. A blank token yields ErrMissingToken, a token
// the provider rejects or that carries no email yields ErrInvalidSession.
// Both match ErrUnauthorized.
func (g *Guard) Authenticate(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, unauthorized(ErrMissingToken)
	}
	if g == nil || g.provider == nil {
		return Identity{}, ErrNotConfigured
	}
	id, err := g.provider.Identity(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return Identity{}, err
		}
		return Identity{}, unauthorized(fmt.Errorf("%w: %v", ErrInvalidSession, err))
	}
	if strings.TrimSpace(id.Email) == "" {
		return Identity{}, unauthorized(ErrInvalidSession)
	}
	id.Email = strings.TrimSpace(id.Email)
	return id, nil
}

// AuthorizePreparer reports whether id may act as a preparer.
func (g *Guard) AuthorizePreparer(id Identity) bool {
	if g == nil {
		return false
	}
	return g.preparers.Allows(id.Email)
}

// RequirePreparer returns ErrForbidden for non-preparers.
func (g *Guard) RequirePreparer(id Identity) error {
	if !g.AuthorizePreparer(id) {
		return ErrForbidden
	}
	return nil
}

// RoleOf classifies the caller for audit and upload records.
func (g *Guard) RoleOf(id Identity) Role {
	if g.AuthorizePreparer(id) {
		return RolePreparer
	}
	return RoleClient
}

type authError struct {
	err error
}

func (e *authError) Error() string { return e.err.Error() }

func (e *authError) Unwrap() []error { return []error{e.err, ErrUnauthorized} }

func unauthorized(err error) error { return &authError{err: err} }
