package authgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate/credential"
	"github.com/smartbag/authgate/denylist"
	internalaudit "github.com/smartbag/authgate/internal/audit"
	"github.com/smartbag/authgate/internal/flows"
	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"github.com/smartbag/authgate/ledger"
	"github.com/smartbag/authgate/refresh"
)

const (
	// ScopeGlobal is the per-client budget every request is charged against.
	ScopeGlobal = "global"
	// ScopeLogin is the additional budget charged by Login.
	ScopeLogin = "login"

	anonymousClientKey = "anonymous"
	tokenTypeBearer    = "bearer"
)

// Gate is the authentication and rate-limiting gate. It keeps no mutable
// per-session or per-client state in process; all coordination goes through
// Redis. A Gate is safe for concurrent use once built.
type Gate struct {
	config      Config
	tokens      *jwt.Manager
	ledger      *ledger.Store
	limiter     *rate.Limiter
	denylist    *denylist.Store
	credentials *credential.Store
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	log         logrus.FieldLogger
	now         func() time.Time
	flows       flows.Deps

	anonymousOnce sync.Once
}

// Close flushes pending audit events.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	g.audit.Close()
}

// AuditDropped reports audit events lost to dispatcher backpressure.
func (g *Gate) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot returns a copy of the gate counters.
func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	if g == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return g.metrics.Snapshot()
}

// Credentials exposes the credential store for registration and secret changes.
func (g *Gate) Credentials() *credential.Store {
	if g == nil {
		return nil
	}
	return g.credentials
}

// Config returns a copy of the configuration the gate was built with.
func (g *Gate) Config() Config {
	return cloneConfig(g.config)
}

// Ping checks that the shared store answers.
func (g *Gate) Ping(ctx context.Context) error {
	if g == nil || g.ledger == nil {
		return ErrGateNotReady
	}
	if _, err := g.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Admit charges one call against the caller's global budget. The caller is
// identified by the key attached with WithClientKey.
//
// It returns a *RateLimitedError once the ceiling is exceeded and
// ErrStoreUnavailable when the store is down and class fails closed.
func (g *Gate) Admit(ctx context.Context, class TrafficClass) (Decision, error) {
	if g == nil || g.limiter == nil {
		return Decision{}, ErrGateNotReady
	}
	return g.admit(ctx, ScopeGlobal, class)
}

// Login verifies identity and secret and opens a new session family.
//
// An unknown identity and a wrong secret both yield ErrInvalidCredentials.
func (g *Gate) Login(ctx context.Context, identity, secret string) (*TokenPair, error) {
	if g == nil || g.tokens == nil {
		return nil, ErrGateNotReady
	}

	res := flows.RunLogin(ctx, identity, secret, g.flows.Login)
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureAdmission:
		return nil, res.Err
	case flows.LoginFailureInvalidCredentials:
		g.metrics.Inc(MetricLoginFailure)
		g.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	case flows.LoginFailureCredentialStore, flows.LoginFailureLedger:
		g.metrics.Inc(MetricLoginFailure)
		g.metrics.Inc(MetricStoreUnavailable)
		g.log.WithError(res.Err).Error("authgate: login store failure")
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		g.emitAudit(ctx, auditEventLoginFailure, false, res.Subject, res.Family, err, nil)
		return nil, err
	default:
		g.metrics.Inc(MetricLoginFailure)
		g.log.WithError(res.Err).Error("authgate: login issuance failed")
		return nil, fmt.Errorf("login: %w", res.Err)
	}

	g.metrics.Inc(MetricLoginSuccess)
	g.emitAudit(ctx, auditEventLoginSuccess, true, res.Subject, res.Family, nil, nil)
	return g.tokenPair(res.AccessToken, res.RefreshToken, res.Family), nil
}

// Authenticate verifies an access token and returns its claims.
//
// In ModeJWTOnly the check is local apart from rate admission. In ModeStrict
// the denylist is consulted too and a store outage fails the call.
func (g *Gate) Authenticate(ctx context.Context, accessToken string) (*Claim, error) {
	if g == nil || g.tokens == nil {
		return nil, ErrGateNotReady
	}

	start := time.Now()
	res := flows.RunAuthenticate(ctx, accessToken, g.flows.Authenticate)
	g.metrics.Observe(MetricAuthenticateLatency, time.Since(start))

	switch res.Failure {
	case flows.AuthenticateFailureNone:
	case flows.AuthenticateFailureAdmission:
		return nil, res.Err
	case flows.AuthenticateFailureDecode:
		g.metrics.Inc(MetricAuthenticateFailure)
		err := mapDecodeError(res.Err)
		g.log.WithError(res.Err).Debug("authgate: access token rejected")
		return nil, err
	case flows.AuthenticateFailureRevoked:
		g.metrics.Inc(MetricAuthenticateFailure)
		return nil, ErrTokenRevoked
	default:
		g.metrics.Inc(MetricAuthenticateFailure)
		g.metrics.Inc(MetricStoreUnavailable)
		g.log.WithError(res.Err).Warn("authgate: denylist unavailable, failing closed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}

	g.metrics.Inc(MetricAuthenticateSuccess)
	return claimFrom(res.Claims), nil
}

// Refresh rotates refreshToken and returns a new pair.
//
// Presenting a token that was already rotated revokes its whole family and
// yields ErrReplayDetected; any later use of the family yields ErrUnknownSession.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if g == nil || g.tokens == nil {
		return nil, ErrGateNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, g.flows.Refresh)
	var err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		g.metrics.Inc(MetricRefreshSuccess)
		g.emitAudit(ctx, auditEventRefreshSuccess, true, res.Subject, res.Family, nil, nil)
		return g.tokenPair(res.AccessToken, res.RefreshToken, res.Family), nil
	case flows.RefreshFailureAdmission:
		return nil, res.Err
	case flows.RefreshFailureReplay:
		g.metrics.Inc(MetricRefreshFailure)
		g.metrics.Inc(MetricReplayDetected)
		g.log.WithFields(logrus.Fields{
			"subject": res.Subject,
			"family":  res.Family,
		}).Warn("authgate: refresh token replay, session family revoked")
		g.emitAudit(ctx, auditEventRefreshReplayDetected, false, res.Subject, res.Family, ErrReplayDetected, nil)
		return nil, ErrReplayDetected
	case flows.RefreshFailureUnknownSession:
		err = ErrUnknownSession
	case flows.RefreshFailureExpired:
		err = ErrExpiredRefresh
	case flows.RefreshFailureDecode:
		err = mapDecodeError(res.Err)
	case flows.RefreshFailureLedger:
		g.metrics.Inc(MetricStoreUnavailable)
		g.log.WithError(res.Err).Error("authgate: refresh ledger unavailable")
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	default:
		g.log.WithError(res.Err).Error("authgate: refresh issuance failed")
		err = fmt.Errorf("refresh: %w", res.Err)
	}

	g.metrics.Inc(MetricRefreshFailure)
	g.emitAudit(ctx, auditEventRefreshInvalid, false, res.Subject, res.Family, err, nil)
	return nil, err
}

// Logout revokes one session family. Revoking an unknown family succeeds.
func (g *Gate) Logout(ctx context.Context, family string) error {
	if g == nil || g.ledger == nil {
		return ErrGateNotReady
	}
	if err := refresh.ValidateFamilyID(family); err != nil {
		return ErrUnknownSession
	}

	res := flows.RunLogout(ctx, family, g.flows.Logout)
	return g.finishLogout(ctx, auditEventLogout, MetricLogout, res)
}

// LogoutByAccessToken revokes the family of accessToken and, when the
// denylist is available, refuses the token itself until it expires.
func (g *Gate) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if g == nil || g.ledger == nil {
		return ErrGateNotReady
	}
	res := flows.RunLogoutByAccessToken(ctx, accessToken, g.flows.Logout)
	return g.finishLogout(ctx, auditEventLogout, MetricLogout, res)
}

// LogoutAll revokes every session family of subject and refuses access tokens
// issued before the current second.
func (g *Gate) LogoutAll(ctx context.Context, subject string) error {
	if g == nil || g.ledger == nil {
		return ErrGateNotReady
	}
	if subject == "" {
		return ErrMalformed
	}
	res := flows.RunLogoutAll(ctx, subject, g.flows.Logout)
	return g.finishLogout(ctx, auditEventLogoutAll, MetricLogoutAll, res)
}

func (g *Gate) finishLogout(ctx context.Context, eventType string, metric MetricID, res flows.LogoutResult) error {
	switch res.Failure {
	case flows.LogoutFailureNone:
		g.metrics.Inc(metric)
		g.emitAudit(ctx, eventType, true, res.Subject, res.Family, nil, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
		})
		return nil
	case flows.LogoutFailureAdmission:
		return res.Err
	case flows.LogoutFailureDecode:
		return mapDecodeError(res.Err)
	default:
		g.metrics.Inc(MetricStoreUnavailable)
		g.log.WithError(res.Err).Error("authgate: logout store failure")
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		g.emitAudit(ctx, eventType, false, res.Subject, res.Family, err, nil)
		return err
	}
}

func (g *Gate) admitFunc(scope string) flows.AdmitFunc {
	return func(ctx context.Context, class rate.Class) (rate.Decision, error) {
		var decision Decision
		if !AdmittedFromContext(ctx) {
			d, err := g.admit(ctx, ScopeGlobal, class)
			if err != nil {
				return d, err
			}
			decision = d
		}
		if scope == ScopeGlobal {
			return decision, nil
		}
		return g.admit(ctx, scope, class)
	}
}

func (g *Gate) admit(ctx context.Context, scope string, class TrafficClass) (Decision, error) {
	decision, err := g.limiter.Admit(ctx, scope, g.clientKey(ctx, scope), class)
	switch {
	case err == nil:
		if decision.Degraded {
			g.metrics.Inc(MetricAdmitDegraded)
			g.log.WithFields(logrus.Fields{"scope": scope, "class": class.String()}).
				Warn("authgate: rate store unavailable, admitting read-only traffic")
		}
		g.metrics.Inc(MetricAdmitted)
		return decision, nil
	case errors.Is(err, rate.ErrRateLimited):
		if scope == ScopeLogin {
			g.metrics.Inc(MetricLoginRateLimited)
		} else {
			g.metrics.Inc(MetricRateLimited)
		}
		g.emitAudit(ctx, auditEventRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{"scope": scope, "class": class.String()}
		})
		return decision, &RateLimitedError{Scope: scope, Limit: decision.Limit, RetryAfter: decision.RetryAfter}
	default:
		g.metrics.Inc(MetricStoreUnavailable)
		g.log.WithError(err).WithField("scope", scope).Error("authgate: rate store unavailable, failing closed")
		g.emitAudit(ctx, auditEventStoreUnavailable, false, "", "", ErrStoreUnavailable, func() map[string]string {
			return map[string]string{"scope": scope, "class": class.String()}
		})
		return decision, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// clientKey picks the rate bucket for scope. The login scope prefers the
// address-only key.
func (g *Gate) clientKey(ctx context.Context, scope string) string {
	if scope == ScopeLogin {
		if addr, _ := ClientAddressFromContext(ctx); addr != "" {
			return addr
		}
	}
	if key, _ := ClientKeyFromContext(ctx); key != "" {
		return key
	}
	if g.limiter.Enabled() {
		g.anonymousOnce.Do(func() {
			g.log.WithField("scope", scope).
				Warn("authgate: call without a client key, all such callers share one rate bucket; use WithClientKey")
		})
	}
	return anonymousClientKey
}

func (g *Gate) tokenPair(access, refreshToken, family string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(g.config.JWT.AccessTTL / time.Second),
		Family:       family,
	}
}

func mapDecodeError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrBadSignature):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}

func claimFrom(c *jwt.Claims) *Claim {
	return &Claim{
		Subject:   c.Subject,
		Role:      c.Role,
		Scopes:    c.Scopes,
		Family:    c.Family,
		TokenID:   c.ID,
		IssuedAt:  c.IssuedAtTime(),
		ExpiresAt: c.ExpiresAtTime(),
	}
}
