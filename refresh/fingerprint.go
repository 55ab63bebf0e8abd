package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const familyIDSize = 16

// ErrInvalidFamilyID is returned when a family identifier does not decode to 16 bytes.
var ErrInvalidFamilyID = errors.New("invalid session family id")

// NewFamilyID returns a random base64url (unpadded) session family identifier.
func NewFamilyID() (string, error) {
	var raw [familyIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidateFamilyID checks that id has the shape produced by NewFamilyID.
func ValidateFamilyID(id string) error {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) != familyIDSize {
		return ErrInvalidFamilyID
	}
	return nil
}

// Fingerprint returns the hex SHA-256 of token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Equal compares two fingerprints in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
