package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/smartbag/authgate/credential"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type gateFixture struct {
	gate  *Gate
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
	sink  *auditCollector
	logs  *test.Hook
}

// auditCollector records events synchronously.
type auditCollector struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *auditCollector) Emit(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *auditCollector) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.EventType)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("k")
	cfg.JWT.AccessTTL = 30 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.Password.Cost = 4
	cfg.RateLimit.PerMinute = 1000
	cfg.RateLimit.LoginLimit = 0
	cfg.RateLimit.RetryBackoff = time.Millisecond
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newGateFixture(t *testing.T, mutate func(*Config)) *gateFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	log, logs := test.NewNullLogger()
	clock := newTestClock(time.Unix(1_700_000_000, 0))
	sink := &auditCollector{}

	gate, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialRepository(credential.NewMemoryRepository()).
		WithLogger(log).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}

	t.Cleanup(func() {
		gate.Close()
		rdb.Close()
		mr.Close()
	})

	if _, err := gate.Credentials().Register(context.Background(), "alice@example.com", "correct horse battery", "member"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &gateFixture{gate: gate, mr: mr, rdb: rdb, clock: clock, sink: sink, logs: logs}
}

func (f *gateFixture) login(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := f.gate.Login(WithClientKey(context.Background(), "client-1"), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}

func TestLoginThenAuthenticateSameSubject(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)
	if pair.TokenType != "bearer" || pair.ExpiresIn != int64((30*time.Minute)/time.Second) {
		t.Fatalf("unexpected pair metadata: %+v", pair)
	}

	claim, err := f.gate.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claim.Subject != "1" {
		t.Fatalf("expected subject 1, got %q", claim.Subject)
	}
	if claim.Role != "member" || claim.Family != pair.Family || claim.TokenID == "" {
		t.Fatalf("unexpected claim: %+v", claim)
	}

	if got := f.gate.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected 1 login success, got %d", got)
	}
}

func TestAccessTokenValidityWindow(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()

	issuedAt := f.clock.Now()
	pair := f.login(t)

	f.clock.Advance(29 * time.Minute)
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("expected token valid at iat+29m, got %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken at iat+31m, got %v", err)
	}

	f.clock.mu.Lock()
	f.clock.t = issuedAt.Add(-time.Minute)
	f.clock.mu.Unlock()
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken before iat, got %v", err)
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()

	r0 := f.login(t).RefreshToken

	pair1, err := f.gate.Refresh(ctx, r0)
	if err != nil {
		t.Fatalf("refresh R0: %v", err)
	}
	r1 := pair1.RefreshToken
	if r1 == r0 {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := f.gate.Authenticate(ctx, pair1.AccessToken); err != nil {
		t.Fatalf("authenticate rotated access token: %v", err)
	}

	if _, err := f.gate.Refresh(ctx, r0); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected for R0 reuse, got %v", err)
	}
	if _, err := f.gate.Refresh(ctx, r1); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession for R1 after replay, got %v", err)
	}

	snap := f.gate.MetricsSnapshot()
	if snap.Counters[MetricReplayDetected] != 1 || snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newGateFixture(t, nil)
	pair := f.login(t)

	if _, err := f.gate.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for access token at refresh, got %v", err)
	}
	if _, err := f.gate.Authenticate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for refresh token at authenticate, got %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	f := newGateFixture(t, nil)
	pair := f.login(t)

	f.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := f.gate.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrExpiredRefresh) {
		t.Fatalf("expected ErrExpiredRefresh, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newGateFixture(t, nil)
	r0 := f.login(t).RefreshToken

	const n = 24
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.gate.Refresh(context.Background(), r0)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrReplayDetected), errors.Is(err, ErrUnknownSession):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestUnknownIdentityAndWrongSecretAreIndistinguishable(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()

	_, errUnknown := f.gate.Login(ctx, "nobody@example.com", "whatever-secret")
	_, errWrong := f.gate.Login(ctx, "alice@example.com", "wrong secret value")

	if errUnknown != ErrInvalidCredentials || errWrong != ErrInvalidCredentials {
		t.Fatalf("expected identical ErrInvalidCredentials, got %v / %v", errUnknown, errWrong)
	}
	if PublicMessage(errUnknown) != PublicMessage(errWrong) {
		t.Fatalf("public messages differ")
	}
	if got := f.gate.MetricsSnapshot().Counters[MetricLoginFailure]; got != 2 {
		t.Fatalf("expected 2 login failures, got %d", got)
	}
}

func TestAdmitBoundary(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) { cfg.RateLimit.PerMinute = 5 })
	ctx := WithClientKey(context.Background(), "client-b")

	for i := 1; i <= 5; i++ {
		if _, err := f.gate.Admit(ctx, ClassMutation); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	_, err := f.gate.Admit(ctx, ClassMutation)
	var limited *RateLimitedError
	if !errors.As(err, &limited) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitedError on 6th call, got %v", err)
	}
	// 1_700_000_000 is 20s into its minute bucket.
	if limited.RetryAfter != 40*time.Second || limited.RetryAfterSeconds() != 40 {
		t.Fatalf("expected retry after 40s, got %v", limited.RetryAfter)
	}
	if PublicMessage(err) != MessageRateLimited {
		t.Fatalf("unexpected public message %q", PublicMessage(err))
	}

	f.clock.Advance(limited.RetryAfter)
	if _, err := f.gate.Admit(ctx, ClassMutation); err != nil {
		t.Fatalf("expected admission in next window, got %v", err)
	}
}

func TestLoginScopeLimit(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) {
		cfg.RateLimit.LoginLimit = 2
		cfg.RateLimit.LoginWindow = 5 * time.Minute
	})
	ctx := WithClientKey(context.Background(), "client-c")

	for i := 0; i < 2; i++ {
		if _, err := f.gate.Login(ctx, "alice@example.com", "wrong secret value"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	_, err := f.gate.Login(ctx, "alice@example.com", "correct horse battery")
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.Scope != ScopeLogin {
		t.Fatalf("expected login-scope rate limit, got %v", err)
	}
	if got := f.gate.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected one login-scope rejection counted, got %d", got)
	}

	if _, err := f.gate.Authenticate(ctx, "x.y.z"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected other operations unaffected, got %v", err)
	}
}

func TestLoginScopeKeyedOnClientAddress(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) {
		cfg.RateLimit.LoginLimit = 3
		cfg.RateLimit.LoginWindow = 5 * time.Minute
	})

	for i := 0; i < 3; i++ {
		ctx := WithClientAddress(WithClientKey(context.Background(), fmt.Sprintf("ua-%d", i)), "addr-1")
		if _, err := f.gate.Login(ctx, "alice@example.com", "wrong secret value"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	ctx := WithClientAddress(WithClientKey(context.Background(), "ua-fresh"), "addr-1")
	if _, err := f.gate.Login(ctx, "alice@example.com", "correct horse battery"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected a new client key on the same address to stay limited, got %v", err)
	}

	other := WithClientAddress(WithClientKey(context.Background(), "ua-fresh"), "addr-2")
	if _, err := f.gate.Login(other, "alice@example.com", "correct horse battery"); err != nil {
		t.Fatalf("expected another address to log in, got %v", err)
	}
}

func TestAnonymousCallerWarnsOnce(t *testing.T) {
	f := newGateFixture(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.gate.Admit(context.Background(), ClassReadOnly); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	if _, err := f.gate.Admit(WithClientKey(context.Background(), "client-w"), ClassReadOnly); err != nil {
		t.Fatalf("admit: %v", err)
	}

	warnings := 0
	for _, entry := range f.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "without a client key") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Fatalf("expected exactly one anonymous-caller warning, got %d", warnings)
	}
}

func TestWithAdmittedSkipsGlobalBudget(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) { cfg.RateLimit.PerMinute = 1 })
	ctx := WithClientKey(context.Background(), "client-d")

	if _, err := f.gate.Admit(ctx, ClassAuth); err != nil {
		t.Fatalf("admit: %v", err)
	}
	pair, err := f.gate.Login(WithAdmitted(ctx), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("expected admitted login to skip global budget, got %v", err)
	}
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected unmarked call to be charged, got %v", err)
	}
}

func TestStoreUnavailablePolicy(t *testing.T) {
	f := newGateFixture(t, nil)
	pair := f.login(t)
	f.mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	claim, err := f.gate.Authenticate(ctx, pair.AccessToken)
	if err != nil || claim.Subject != "1" {
		t.Fatalf("expected read-only authenticate to fail open, got %v", err)
	}
	if f.gate.MetricsSnapshot().Counters[MetricAdmitDegraded] == 0 {
		t.Fatalf("expected degraded admission to be counted")
	}

	if _, err := f.gate.Login(ctx, "alice@example.com", "correct horse battery"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected login to fail closed, got %v", err)
	}
	if _, err := f.gate.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected refresh to fail closed, got %v", err)
	}
	if PublicMessage(ErrStoreUnavailable) != MessageUnavailable {
		t.Fatalf("unexpected public message")
	}
}

func TestRateLimitingDisabled(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.PerMinute = 1
	})
	for i := 0; i < 10; i++ {
		if _, err := f.gate.Admit(context.Background(), ClassMutation); err != nil {
			t.Fatalf("disabled limiter rejected call %d: %v", i, err)
		}
	}
}

func TestLogoutRevokesFamily(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()
	pair := f.login(t)

	if err := f.gate.Logout(ctx, pair.Family); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := f.gate.Logout(ctx, pair.Family); err != nil {
		t.Fatalf("second logout should be idempotent, got %v", err)
	}
	if _, err := f.gate.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after logout, got %v", err)
	}
	if err := f.gate.Logout(ctx, "not a family"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected malformed family to be unknown, got %v", err)
	}
}

func TestStrictModeLogoutByAccessToken(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) { cfg.ValidationMode = ModeStrict })
	ctx := context.Background()
	pair := f.login(t)

	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("authenticate before logout: %v", err)
	}
	if err := f.gate.LogoutByAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("logout by access token: %v", err)
	}
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if _, err := f.gate.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected family revoked, got %v", err)
	}
}

func TestStrictModeLogoutAll(t *testing.T) {
	f := newGateFixture(t, func(cfg *Config) { cfg.ValidationMode = ModeStrict })
	ctx := context.Background()

	first := f.login(t)
	second := f.login(t)

	if err := f.gate.LogoutAll(ctx, "1"); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, pair := range []*TokenPair{first, second} {
		if _, err := f.gate.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected access token revoked, got %v", err)
		}
		if _, err := f.gate.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnknownSession) {
			t.Fatalf("expected family revoked, got %v", err)
		}
	}

	sameSecond := f.login(t)
	if _, err := f.gate.Authenticate(ctx, sameSecond.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected token minted in the logout-all second to be revoked, got %v", err)
	}

	f.clock.Advance(time.Second)
	fresh := f.login(t)
	if _, err := f.gate.Authenticate(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("expected token issued after logout-all to pass, got %v", err)
	}
}

func TestJWTOnlyModeIgnoresDenylist(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()
	pair := f.login(t)

	if err := f.gate.LogoutByAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.gate.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("jwt-only mode should accept the token until expiry, got %v", err)
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	f := newGateFixture(t, nil)
	ctx := context.Background()

	r0 := f.login(t).RefreshToken
	if _, err := f.gate.Refresh(ctx, r0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = f.gate.Refresh(ctx, r0)
	f.gate.Close()

	want := []string{auditEventLoginSuccess, auditEventRefreshSuccess, auditEventRefreshReplayDetected}
	got := f.sink.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBuilderRejectsReuseAndBadConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.JWT.RefreshTTL = cfg.JWT.AccessTTL
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithCredentialRepository(credential.NewMemoryRepository()).Build(); err == nil {
		t.Fatalf("expected refresh <= access to be rejected")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialRepository(credential.NewMemoryRepository())
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer g.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}

	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatalf("expected missing redis to be rejected")
	}
}
