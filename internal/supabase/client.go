// Package supabase talks to the hosted identity, storage and REST endpoints
// of the project backing the service.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"

	"github.com/Davelummy/taxagent/internal/auth"
)

// ErrNotConfigured is returned when the URL or keys are missing.
var ErrNotConfigured = errors.New("supabase: not configured")

// APIError is a non-2xx answer from the hosted project.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: %d %s", e.Status, e.Message)
}

type errorBody struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Message, b.Msg, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Config carries the project coordinates.
type Config struct {
	URL            string
	ServiceRoleKey string
	AnonKey        string
	Bucket         string
	HiddenTable    string
}

// Client is safe for concurrent use.
type Client struct {
	http *resty.Client
	cfg  Config
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = resty.NewWithClient(hc).SetBaseURL(c.cfg.URL)
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// New returns ErrNotConfigured when the URL or both keys are missing.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" || (cfg.ServiceRoleKey == "" && cfg.AnonKey == "") {
		return nil, ErrNotConfigured
	}
	c := &Client{
		http: resty.New().SetBaseURL(cfg.URL).SetTimeout(15 * time.Second),
		cfg:  cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StorageConfigured reports whether service-role calls can be made.
func (c *Client) StorageConfigured() bool {
	return c != nil && c.cfg.ServiceRoleKey != "" && c.cfg.Bucket != ""
}

func (c *Client) apiKey() string {
	if c.cfg.ServiceRoleKey != "" {
		return c.cfg.ServiceRoleKey
	}
	return c.cfg.AnonKey
}

// service returns a request authenticated with the service role.
func (c *Client) service(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.ServiceRoleKey).
		SetHeader("apikey", c.cfg.ServiceRoleKey)
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return eris.Wrap(err, op)
	}
	if !resp.IsError() {
		return nil
	}
	msg := ""
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		msg = body.text()
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Identity resolves a user session token through /auth/v1/user.
func (c *Client) Identity(ctx context.Context, token string) (auth.Identity, error) {
	var out userResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("apikey", c.apiKey()).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/auth/v1/user")
	if err := check(resp, err, "supabase: fetch user"); err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{ID: out.ID, Email: out.Email}, nil
}

var _ auth.IdentityProvider = (*Client)(nil)
