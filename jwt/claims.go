package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags a token as either an access or a refresh credential.
type Kind string

const (
	// KindAccess marks short-lived tokens accepted by Authenticate.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens accepted only by Refresh.
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the signed payload of every token the codec issues.
type Claims struct {
	Kind   Kind     `json:"knd"`
	Family string   `json:"fam,omitempty"`
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// Validate is invoked by the parser after the registered claims pass.
func (c *Claims) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: missing or unknown kind %q", ErrMalformed, c.Kind)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: missing jti", ErrMalformed)
	}
	return nil
}

// IssuedAtTime returns iat or the zero time.
func (c *Claims) IssuedAtTime() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
