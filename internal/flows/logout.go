package flows

import (
	"context"
	"errors"
	"time"

	"github.com/smartbag/authgate/internal/rate"
)

// LogoutFailureKind classifies logout failures.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureAdmission
	LogoutFailureDecode
	LogoutFailureStore
)

// LogoutResult reports what a logout removed.
type LogoutResult struct {
	Failure  LogoutFailureKind
	Err      error
	Decision rate.Decision

	Subject string
	Family  string
	// Revoked counts the session families deleted.
	Revoked int
}

// LogoutDeps captures logout flow dependencies. Denylist may be nil, in
// which case access tokens stay valid until they expire.
type LogoutDeps struct {
	Admit     AdmitFunc
	Decoder   AccessDecoder
	Ledger    FamilyRevoker
	Denylist  Denylist
	AccessTTL time.Duration
}

// RunLogout revokes one session family. Revoking a missing family succeeds.
func RunLogout(ctx context.Context, family string, deps LogoutDeps) LogoutResult {
	if res, ok := admitLogout(ctx, deps); !ok {
		return res
	}

	existed, err := deps.Ledger.Revoke(ctx, family)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err, Family: family}
	}
	res := LogoutResult{Family: family}
	if existed {
		res.Revoked = 1
	}
	return res
}

// RunLogoutByAccessToken revokes the family the access token belongs to and
// denylists the token itself until its natural expiry.
func RunLogoutByAccessToken(ctx context.Context, accessToken string, deps LogoutDeps) LogoutResult {
	if res, ok := admitLogout(ctx, deps); !ok {
		return res
	}

	claims, err := deps.Decoder.DecodeAccess(accessToken)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureDecode, Err: err}
	}

	res := LogoutResult{Subject: claims.Subject, Family: claims.Family}
	var errs []error
	if claims.Family != "" {
		existed, err := deps.Ledger.Revoke(ctx, claims.Family)
		if err != nil {
			errs = append(errs, err)
		} else if existed {
			res.Revoked = 1
		}
	}
	if deps.Denylist != nil {
		if err := deps.Denylist.Deny(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		res.Failure = LogoutFailureStore
		res.Err = errors.Join(errs...)
	}
	return res
}

// RunLogoutAll revokes every family of subject and refuses access tokens
// issued before now.
func RunLogoutAll(ctx context.Context, subject string, deps LogoutDeps) LogoutResult {
	if res, ok := admitLogout(ctx, deps); !ok {
		return res
	}

	res := LogoutResult{Subject: subject}
	var errs []error
	n, err := deps.Ledger.RevokeAllForSubject(ctx, subject)
	if err != nil {
		errs = append(errs, err)
	}
	res.Revoked = n
	if deps.Denylist != nil {
		if err := deps.Denylist.RevokeSubject(ctx, subject, deps.AccessTTL); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		res.Failure = LogoutFailureStore
		res.Err = errors.Join(errs...)
	}
	return res
}

func admitLogout(ctx context.Context, deps LogoutDeps) (LogoutResult, bool) {
	if deps.Admit == nil {
		return LogoutResult{}, true
	}
	decision, err := deps.Admit(ctx, rate.ClassAuth)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureAdmission, Err: err, Decision: decision}, false
	}
	return LogoutResult{}, true
}
