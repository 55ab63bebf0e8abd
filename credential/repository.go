package credential

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Repository when no row matches.
	ErrNotFound = errors.New("credential not found")
	// ErrExists is returned by a Repository when the identity is already taken.
	ErrExists = errors.New("credential already exists")
)

// Repository persists credentials. Implementations must be safe for
// concurrent use.
type Repository interface {
	GetByIdentity(ctx context.Context, identity string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	UpdateHash(ctx context.Context, identity, hash string) error
	Delete(ctx context.Context, identity string) error
}
