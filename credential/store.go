package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate/password"
)

var (
	// ErrUnavailable wraps repository faults other than not-found.
	ErrUnavailable = errors.New("credential store unavailable")
	// ErrInvalidIdentity is returned for empty identities.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrMismatch is returned by ChangeSecret when the current secret is wrong.
	ErrMismatch = errors.New("current secret does not match")
	// ErrSecretReuse is returned when the new secret equals the current one.
	ErrSecretReuse = errors.New("new secret must differ from current secret")
)

// Store verifies and manages credentials.
type Store struct {
	repo           Repository
	hasher         *password.Bcrypt
	log            logrus.FieldLogger
	upgradeOnLogin bool
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for background faults such as failed
// cost upgrades.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithUpgradeOnLogin enables transparent rehashing when the stored cost is
// below the configured cost.
func WithUpgradeOnLogin(enabled bool) Option {
	return func(s *Store) { s.upgradeOnLogin = enabled }
}

// NewStore creates a Store over repo using hasher.
func NewStore(repo Repository, hasher *password.Bcrypt, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		hasher: hasher,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify checks secret against the stored hash for identity.
//
// It returns (cred, true, nil) on a match and (nil, false, nil) when the
// identity is unknown or the secret is wrong. The two negative cases perform
// the same bcrypt work. A repository fault returns ErrUnavailable.
func (s *Store) Verify(ctx context.Context, identity, secret string) (*Credential, bool, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		s.hasher.VerifyDummy(secret)
		return nil, false, nil
	}

	cred, err := s.repo.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.VerifyDummy(secret)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := s.hasher.Verify(secret, cred.Hash)
	if err != nil {
		s.log.WithError(err).Warn("credential: stored hash unreadable")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	if s.upgradeOnLogin {
		s.maybeUpgrade(ctx, cred, secret)
	}
	return cred, true, nil
}

// Register stores a new credential for identity.
func (s *Store) Register(ctx context.Context, identity, secret, role string) (*Credential, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return nil, ErrInvalidIdentity
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	cred := &Credential{Identity: identity, Hash: hash, Role: role}
	if err := s.repo.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return cred, nil
}

// ChangeSecret replaces the secret for identity after verifying the current one.
func (s *Store) ChangeSecret(ctx context.Context, identity, current, next string) error {
	cred, ok, err := s.Verify(ctx, identity, current)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMismatch
	}

	same, err := s.hasher.Verify(next, cred.Hash)
	if err == nil && same {
		return ErrSecretReuse
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateHash(ctx, cred.Identity, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Remove deletes the credential for identity.
func (s *Store) Remove(ctx context.Context, identity string) error {
	identity = normalizeIdentity(identity)
	if err := s.repo.Delete(ctx, identity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) maybeUpgrade(ctx context.Context, cred *Credential, secret string) {
	needs, err := s.hasher.NeedsUpgrade(cred.Hash)
	if err != nil || !needs {
		return
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		s.log.WithError(err).Warn("credential: rehash failed")
		return
	}
	if err := s.repo.UpdateHash(ctx, cred.Identity, hash); err != nil {
		s.log.WithError(err).Warn("credential: cost upgrade not persisted")
		return
	}
	cred.Hash = hash
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
