package flows

import (
	"context"
	"errors"
	"time"

	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"github.com/smartbag/authgate/ledger"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureAdmission
	RefreshFailureDecode
	RefreshFailureExpired
	RefreshFailureReplay
	RefreshFailureUnknownSession
	RefreshFailureLedger
	RefreshFailureIssue
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	Decision rate.Decision

	Subject      string
	Role         string
	Family       string
	Generation   int64
	AccessToken  string
	RefreshToken string
	AccessClaims *jwt.Claims
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Admit       AdmitFunc
	Decoder     RefreshDecoder
	Tokens      TokenIssuer
	Ledger      FamilyRotator
	Fingerprint func(string) string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// RunRefresh exchanges a live refresh token for a new pair. The ledger swap
// is the single point of serialisation: of any number of concurrent calls
// presenting the same token, at most one succeeds.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Admit != nil {
		decision, err := deps.Admit(ctx, rate.ClassAuth)
		if err != nil {
			return RefreshResult{Failure: RefreshFailureAdmission, Err: err, Decision: decision}
		}
	}

	claims, err := deps.Decoder.DecodeRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	if claims.Family == "" {
		return RefreshResult{Failure: RefreshFailureDecode, Err: jwt.ErrMalformed, Subject: claims.Subject}
	}

	next, _, err := deps.Tokens.Issue(claims.Subject, jwt.KindRefresh, deps.RefreshTTL, jwt.IssueOptions{
		Family: claims.Family,
		Role:   claims.Role,
		Scopes: claims.Scopes,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, Subject: claims.Subject, Family: claims.Family}
	}

	rec, err := deps.Ledger.Rotate(ctx, claims.Family, deps.Fingerprint(refreshToken), deps.Fingerprint(next), deps.RefreshTTL)
	if err != nil {
		failure := RefreshFailureLedger
		switch {
		case errors.Is(err, ledger.ErrReplayDetected):
			failure = RefreshFailureReplay
		case errors.Is(err, ledger.ErrUnknownSession), errors.Is(err, ledger.ErrCorrupt):
			failure = RefreshFailureUnknownSession
		case errors.Is(err, ledger.ErrSessionExpired):
			failure = RefreshFailureExpired
		}
		return RefreshResult{Failure: failure, Err: err, Subject: claims.Subject, Family: claims.Family}
	}

	access, accessClaims, err := deps.Tokens.Issue(rec.Subject, jwt.KindAccess, deps.AccessTTL, jwt.IssueOptions{
		Family: rec.Family,
		Role:   rec.Role,
		Scopes: claims.Scopes,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, Subject: rec.Subject, Family: rec.Family}
	}

	return RefreshResult{
		Subject:      rec.Subject,
		Role:         rec.Role,
		Family:       rec.Family,
		Generation:   rec.Generation,
		AccessToken:  access,
		RefreshToken: next,
		AccessClaims: accessClaims,
	}
}
