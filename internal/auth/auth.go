package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience is the audience the hosted provider stamps on user sessions.
const DefaultAudience = "authenticated"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// SessionClaims are the claims carried by a hosted-provider access token.
type SessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates session tokens locally with the project's shared
// HS256 secret instead of calling the identity endpoint.
type JWTVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// VerifierOption customises a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithAudience overrides the expected audience.
func WithAudience(aud string) VerifierOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(aud)
	}
}

// WithLeeway allows clock skew when checking exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *JWTVerifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier returns ErrNotConfigured when secret is empty.
func NewJWTVerifier(secret string, opts ...VerifierOption) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	v := &JWTVerifier{
		secret:   []byte(secret),
		audience: DefaultAudience,
		leeway:   5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Identity implements IdentityProvider.
func (v *JWTVerifier) Identity(_ context.Context, token string) (Identity, error) {
	claims, err := v.ParseAndValidate(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (v *JWTVerifier) ParseAndValidate(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
