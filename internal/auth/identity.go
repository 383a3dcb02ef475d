package auth

import "strings"

// Identity is a caller resolved from a session token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Role is the uploader role recorded with audit entries and upload metadata.
type Role string

const (
	RoleClient   Role = "client"
	RolePreparer Role = "preparer"
)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OwnerKind tells which identifier an Owner carries.
type OwnerKind uint8

const (
	OwnerNone OwnerKind = iota
	OwnerByID
	OwnerByEmail
)

// Owner identifies the client a record belongs to: either a user id, or an
// email for records created before the client had an account.
type Owner struct {
	kind  OwnerKind
	value string
}

// ByID returns an id-based owner.
func ByID(userID string) Owner {
	return Owner{kind: OwnerByID, value: strings.TrimSpace(userID)}
}

// ByEmail returns an email-based owner. The address is normalized.
func ByEmail(email string) Owner {
	return Owner{kind: OwnerByEmail, value: NormalizeEmail(email)}
}

// OwnerOf prefers the user id and falls back to the email. ok is false when
// both are blank.
func OwnerOf(userID, email string) (Owner, bool) {
	if strings.TrimSpace(userID) != "" {
		return ByID(userID), true
	}
	if strings.TrimSpace(email) != "" {
		return ByEmail(email), true
	}
	return Owner{}, false
}

func (o Owner) Kind() OwnerKind { return o.kind }

func (o Owner) IsZero() bool { return o.kind == OwnerNone || o.value == "" }

// ID returns the user id when the owner is id-based.
func (o Owner) ID() (string, bool) {
	if o.kind != OwnerByID {
		return "", false
	}
	return o.value, true
}

// Email returns the normalized address when the owner is email-based.
func (o Owner) Email() (string, bool) {
	if o.kind != OwnerByEmail {
		return "", false
	}
	return o.value, true
}

func (o Owner) String() string {
	switch o.kind {
	case OwnerByID:
		return "id:" + o.value
	case OwnerByEmail:
		return "email:" + o.value
	default:
		return "none"
	}
}

// Matches reports whether id is the owner. An id-based owner only matches
// the same user id; an email-based owner matches the caller's email.
func (o Owner) Matches(id Identity) bool {
	if o.IsZero() {
		return false
	}
	switch o.kind {
	case OwnerByID:
		return id.ID != "" && id.ID == o.value
	case OwnerByEmail:
		return NormalizeEmail(id.Email) == o.value
	}
	return false
}

// AuthorizeOwnership returns ErrForbidden unless id owns the record.
func AuthorizeOwnership(owner Owner, id Identity) error {
	if !owner.Matches(id) {
		return ErrForbidden
	}
	return nil
}
