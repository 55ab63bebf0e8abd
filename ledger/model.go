package ledger

import "time"

// Record is the persisted state of one session family. It never holds the
// raw refresh token, only its fingerprint.
type Record struct {
	Family      string
	Subject     string
	Role        string
	Fingerprint string
	Generation  int64
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
