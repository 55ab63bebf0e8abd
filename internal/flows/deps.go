package flows

import (
	"context"
	"time"

	"github.com/smartbag/authgate/credential"
	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"github.com/smartbag/authgate/ledger"
)

// Deps groups the dependency sets the root gate builds once at construction.
type Deps struct {
	Login        LoginDeps
	Refresh      RefreshDeps
	Authenticate AuthenticateDeps
	Logout       LogoutDeps
}

// AdmitFunc charges one call against the caller's rate budget.
type AdmitFunc func(ctx context.Context, class rate.Class) (rate.Decision, error)

type CredentialVerifier interface {
	Verify(ctx context.Context, identity, secret string) (*credential.Credential, bool, error)
}

type TokenIssuer interface {
	Issue(subject string, kind jwt.Kind, ttl time.Duration, opts jwt.IssueOptions) (string, *jwt.Claims, error)
}

type AccessDecoder interface {
	DecodeAccess(token string) (*jwt.Claims, error)
}

type RefreshDecoder interface {
	DecodeRefresh(token string) (*jwt.Claims, error)
}

type FamilyOpener interface {
	Open(ctx context.Context, rec ledger.Record, ttl time.Duration) error
}

type FamilyRotator interface {
	Rotate(ctx context.Context, family, presentedFP, nextFP string, ttl time.Duration) (*ledger.Record, error)
}

type FamilyRevoker interface {
	Revoke(ctx context.Context, family string) (bool, error)
	RevokeAllForSubject(ctx context.Context, subject string) (int, error)
}

type Denylist interface {
	Deny(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeSubject(ctx context.Context, subject string, ttl time.Duration) error
	Check(ctx context.Context, jti, subject string, issuedAt time.Time) error
}
