package flows

import (
	"context"
	"errors"

	"github.com/smartbag/authgate/denylist"
	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
)

// AuthenticateFailureKind classifies access-token validation failures.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureAdmission
	AuthenticateFailureDecode
	AuthenticateFailureRevoked
	AuthenticateFailureDenylist
)

// AuthenticateResult returns either verified claims or a classified failure.
type AuthenticateResult struct {
	Failure  AuthenticateFailureKind
	Err      error
	Decision rate.Decision
	Claims   *jwt.Claims
}

// AuthenticateDeps captures authenticate flow dependencies. Denylist is only
// consulted when Strict is set.
type AuthenticateDeps struct {
	Admit    AdmitFunc
	Decoder  AccessDecoder
	Strict   bool
	Denylist Denylist
}

// RunAuthenticate verifies an access token. In JWT-only mode it performs no
// store I/O beyond admission.
func RunAuthenticate(ctx context.Context, accessToken string, deps AuthenticateDeps) AuthenticateResult {
	if deps.Admit != nil {
		decision, err := deps.Admit(ctx, rate.ClassReadOnly)
		if err != nil {
			return AuthenticateResult{Failure: AuthenticateFailureAdmission, Err: err, Decision: decision}
		}
	}

	claims, err := deps.Decoder.DecodeAccess(accessToken)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureDecode, Err: err}
	}

	if deps.Strict {
		if deps.Denylist == nil {
			return AuthenticateResult{Failure: AuthenticateFailureDenylist, Err: denylist.ErrStoreUnavailable}
		}
		if err := deps.Denylist.Check(ctx, claims.ID, claims.Subject, claims.IssuedAtTime()); err != nil {
			if errors.Is(err, denylist.ErrRevoked) {
				return AuthenticateResult{Failure: AuthenticateFailureRevoked, Err: err, Claims: claims}
			}
			return AuthenticateResult{Failure: AuthenticateFailureDenylist, Err: err, Claims: claims}
		}
	}

	return AuthenticateResult{Claims: claims}
}
