package authgate

import (
	"time"

	internalaudit "github.com/smartbag/authgate/internal/audit"
	"github.com/smartbag/authgate/internal/rate"
)

// ValidationMode selects how much work Authenticate does per call.
type ValidationMode int

const (
	// ModeJWTOnly verifies signature, kind and validity window locally.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict additionally consults the Redis denylist and fails closed
	// when it cannot be reached.
	ModeStrict
)

func (m ValidationMode) String() string {
	switch m {
	case ModeJWTOnly:
		return "jwt_only"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// TrafficClass selects the store-failure policy applied by Admit.
type TrafficClass = rate.Class

const (
	ClassReadOnly = rate.ClassReadOnly
	ClassAuth     = rate.ClassAuth
	ClassMutation = rate.ClassMutation
)

// Decision is the outcome of an admission check. It carries what the HTTP
// layer needs for X-RateLimit-* headers.
type Decision = rate.Decision

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int64  `json:"expires_in"`
	Family    string `json:"-"`
}

// Claim is the authenticated view of a verified access token.
type Claim struct {
	Subject   string
	Role      string
	Scopes    []string
	Family    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type (
	// AuditEvent is one security-relevant event emitted by the Gate.
	AuditEvent = internalaudit.Event
	// AuditSink receives audit events from the dispatcher goroutine.
	AuditSink = internalaudit.Sink
)
