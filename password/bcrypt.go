package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the bcrypt input limit.
const MaxSecretBytes = 72

const dummySecret = "authgate-dummy-secret-for-timing"

var (
	// ErrPolicy is returned when a secret fails the configured minimum length.
	ErrPolicy = errors.New("secret does not satisfy policy")
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("invalid bcrypt hash")
)

// Config controls bcrypt hashing.
type Config struct {
	Cost      int
	MinLength int
}

// Bcrypt hashes and verifies secrets. It is safe for concurrent use.
type Bcrypt struct {
	config Config
	dummy  []byte
}

// NewBcrypt validates cfg and precomputes the dummy hash used to equalise
// timing for unknown identities.
func NewBcrypt(cfg Config) (*Bcrypt, error) {
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.MinLength < 0 {
		return nil, errors.New("minimum secret length must be >= 0")
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummySecret), cfg.Cost)
	if err != nil {
		return nil, err
	}

	return &Bcrypt{config: cfg, dummy: dummy}, nil
}

// Cost returns the configured cost factor.
func (b *Bcrypt) Cost() int {
	return b.config.Cost
}

// Hash returns a salted bcrypt hash of secret.
func (b *Bcrypt) Hash(secret string) (string, error) {
	if len(secret) < b.config.MinLength {
		return "", ErrPolicy
	}
	hash, err := bcrypt.GenerateFromPassword(truncate(secret), b.config.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares secret against encodedHash in constant time.
// A mismatch returns false with a nil error.
func (b *Bcrypt) Verify(secret, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), truncate(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}

// VerifyDummy spends the same work as Verify against a hash that never
// matches. Call it when the identity is unknown.
func (b *Bcrypt) VerifyDummy(secret string) {
	_ = bcrypt.CompareHashAndPassword(b.dummy, truncate(secret))
}

// NeedsUpgrade reports whether encodedHash was produced with a lower cost
// than configured.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return cost < b.config.Cost, nil
}

// HashCost returns the cost factor embedded in encodedHash.
func HashCost(encodedHash string) (int, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return cost, nil
}

func truncate(secret string) []byte {
	raw := []byte(secret)
	if len(raw) > MaxSecretBytes {
		raw = raw[:MaxSecretBytes]
	}
	return raw
}
