package flows

import (
	"context"
	"strconv"
	"time"

	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"github.com/smartbag/authgate/ledger"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureAdmission
	LoginFailureInvalidCredentials
	LoginFailureCredentialStore
	LoginFailureFamilyID
	LoginFailureIssue
	LoginFailureLedger
)

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure  LoginFailureKind
	Err      error
	Decision rate.Decision

	Subject      string
	Role         string
	Family       string
	AccessToken  string
	RefreshToken string
	AccessClaims *jwt.Claims
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Admit       AdmitFunc
	Credentials CredentialVerifier
	Tokens      TokenIssuer
	Ledger      FamilyOpener
	NewFamilyID func() (string, error)
	Fingerprint func(string) string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// RunLogin verifies the secret, issues an access and refresh token for a new
// session family, and records the refresh fingerprint in the ledger.
func RunLogin(ctx context.Context, identity, secret string, deps LoginDeps) LoginResult {
	if deps.Admit != nil {
		decision, err := deps.Admit(ctx, rate.ClassAuth)
		if err != nil {
			return LoginResult{Failure: LoginFailureAdmission, Err: err, Decision: decision}
		}
	}

	cred, ok, err := deps.Credentials.Verify(ctx, identity, secret)
	if err != nil {
		return LoginResult{Failure: LoginFailureCredentialStore, Err: err}
	}
	if !ok || cred == nil {
		return LoginResult{Failure: LoginFailureInvalidCredentials}
	}

	subject := strconv.FormatInt(cred.ID, 10)
	family, err := deps.NewFamilyID()
	if err != nil {
		return LoginResult{Failure: LoginFailureFamilyID, Err: err, Subject: subject}
	}

	opts := jwt.IssueOptions{Family: family, Role: cred.Role}
	access, accessClaims, err := deps.Tokens.Issue(subject, jwt.KindAccess, deps.AccessTTL, opts)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, Subject: subject}
	}
	refreshToken, refreshClaims, err := deps.Tokens.Issue(subject, jwt.KindRefresh, deps.RefreshTTL, opts)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, Subject: subject}
	}

	err = deps.Ledger.Open(ctx, ledger.Record{
		Family:      family,
		Subject:     subject,
		Role:        cred.Role,
		Fingerprint: deps.Fingerprint(refreshToken),
		IssuedAt:    refreshClaims.IssuedAtTime(),
		ExpiresAt:   refreshClaims.ExpiresAtTime(),
	}, deps.RefreshTTL)
	if err != nil {
		return LoginResult{Failure: LoginFailureLedger, Err: err, Subject: subject, Family: family}
	}

	return LoginResult{
		Subject:      subject,
		Role:         cred.Role,
		Family:       family,
		AccessToken:  access,
		RefreshToken: refreshToken,
		AccessClaims: accessClaims,
	}
}
