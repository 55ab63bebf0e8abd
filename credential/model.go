package credential

import "time"

// Credential is one stored identity. Hash embeds the bcrypt cost factor.
type Credential struct {
	ID        int64
	Identity  string
	Hash      string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
