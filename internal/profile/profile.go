// Package profile keeps the client and preparer directory plus inbound
// contact requests.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Davelummy/taxagent/internal/form"
	"github.com/Davelummy/taxagent/internal/objectstore"
)

const (
	MsgMissingProfile  = "Missing required profile fields."
	MsgMissingPreparer = "Missing required preparer fields."
	MsgMissingUsername = "Missing username."
	MsgInvalidUsername = "Invalid username."
	MsgMissingContact  = "Missing required fields."
)

// ErrClientNotFound is returned when no client profile carries a username.
var ErrClientNotFound = errors.New("profile: client not found")

// Client is one row of the client directory.
type Client struct {
	UserID    string    `json:"supabase_user_id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	FullName  *string   `json:"full_name"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preparer is one row of the preparer directory.
type Preparer struct {
	UserID    string    `json:"supabase_user_id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact is a message left through the public contact form.
type Contact struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Company       *string   `json:"company"`
	Role          *string   `json:"role"`
	PreferredTime *string   `json:"preferred_time"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// ClientInput is the client profile sync payload.
type ClientInput struct {
	UserID   form.Value `json:"supabase_user_id"`
	Email    form.Value `json:"email"`
	Username form.Value `json:"username"`
	FullName form.Value `json:"full_name"`
	Phone    form.Value `json:"phone"`
}

// PreparerInput is the preparer profile sync payload.
type PreparerInput struct {
	UserID   form.Value `json:"supabase_user_id"`
	Email    form.Value `json:"email"`
	FullName form.Value `json:"full_name"`
	Phone    form.Value `json:"phone"`
}

// ContactInput is the contact form payload.
type ContactInput struct {
	Name          form.Value `json:"name"`
	Email         form.Value `json:"email"`
	Company       form.Value `json:"company"`
	Role          form.Value `json:"role"`
	PreferredTime form.Value `json:"preferred_time"`
	Message       form.Value `json:"message"`
}

// Store persists profiles. Upserts keep stored optional columns when the
// new value is nil and return the profile's user id.
type Store interface {
	UpsertClient(ctx context.Context, c Client) (string, error)
	UpsertPreparer(ctx context.Context, p Preparer) (string, error)
	// ClientUserID resolves a normalized username key; ErrClientNotFound
	// when absent.
	ClientUserID(ctx context.Context, usernameKey string) (string, error)
	InsertContact(ctx context.Context, c Contact) error
}

// Service validates directory writes.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService wraps store. now may be nil.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// SyncClient creates or refreshes the caller's client profile.
func (s *Service) SyncClient(ctx context.Context, in ClientInput) (string, error) {
	id, email := in.UserID.Text(), in.Email.Text()
	if id == nil || email == nil {
		return "", form.Invalid(MsgMissingProfile)
	}
	now := s.now().UTC()
	out, err := s.store.UpsertClient(ctx, Client{
		UserID:    *id,
		Email:     *email,
		Username:  in.Username.Text(),
		FullName:  in.FullName.Text(),
		Phone:     in.Phone.Text(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", eris.Wrap(err, "profile: upsert client")
	}
	return out, nil
}

// SyncPreparer creates or refreshes a preparer profile.
func (s *Service) SyncPreparer(ctx context.Context, in PreparerInput) (string, error) {
	id, email := in.UserID.Text(), in.Email.Text()
	if id == nil || email == nil {
		return "", form.Invalid(MsgMissingPreparer)
	}
	now := s.now().UTC()
	out, err := s.store.UpsertPreparer(ctx, Preparer{
		UserID:    *id,
		Email:     *email,
		FullName:  in.FullName.Text(),
		Phone:     in.Phone.Text(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", eris.Wrap(err, "profile: upsert preparer")
	}
	return out, nil
}

// UsernameKey trims and folds username, rejecting blank and unusable input.
func UsernameKey(username string) (string, error) {
	raw := form.V(username).Text()
	if raw == nil {
		return "", form.Invalid(MsgMissingUsername)
	}
	key := objectstore.OwnerKey(*raw)
	if key == "" {
		return "", form.Invalid(MsgInvalidUsername)
	}
	return key, nil
}

// ValidateClient reports whether a client profile uses username.
func (s *Service) ValidateClient(ctx context.Context, username string) error {
	_, err := s.ClientUserID(ctx, username)
	return err
}

// ClientUserID resolves username to the client's user id.
func (s *Service) ClientUserID(ctx context.Context, username string) (string, error) {
	key, err := UsernameKey(username)
	if err != nil {
		return "", err
	}
	id, err := s.store.ClientUserID(ctx, key)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return "", ErrClientNotFound
		}
		return "", eris.Wrap(err, "profile: lookup client")
	}
	return id, nil
}

// SubmitContact stores a contact request.
func (s *Service) SubmitContact(ctx context.Context, in ContactInput) error {
	name, email, msg := in.Name.Text(), in.Email.Text(), in.Message.Text()
	if name == nil || email == nil || msg == nil {
		return form.Invalid(MsgMissingContact)
	}
	err := s.store.InsertContact(ctx, Contact{
		Name:          *name,
		Email:         *email,
		Company:       in.Company.Text(),
		Role:          in.Role.Text(),
		PreferredTime: in.PreferredTime.Text(),
		Message:       *msg,
		CreatedAt:     s.now().UTC(),
	})
	return eris.Wrap(err, "profile: insert contact")
}
