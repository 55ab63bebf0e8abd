package authgate

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate/credential"
	"github.com/smartbag/authgate/denylist"
	internalaudit "github.com/smartbag/authgate/internal/audit"
	"github.com/smartbag/authgate/internal/flows"
	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"github.com/smartbag/authgate/ledger"
	"github.com/smartbag/authgate/password"
	"github.com/smartbag/authgate/refresh"
)

// Builder assembles a Gate. A Builder can be built once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	repo      credential.Repository
	log       logrus.FieldLogger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialRepository sets where credentials live. It is required.
func (b *Builder) WithCredentialRepository(repo credential.Repository) *Builder {
	b.repo = repo
	return b
}

func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithAuditSink sets the audit destination. With auditing enabled and no
// sink, events go to the logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces the wall clock for token, ledger and window timing.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.repo == nil {
		return nil, errors.New("credential repository required")
	}

	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	method, err := jwt.ParseSigningMethod(cfg.JWT.SigningMethod)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: method,
		Secret:        cfg.JWT.Secret,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewBcrypt(password.Config{
		Cost:      cfg.Password.Cost,
		MinLength: cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if cfg.Audit.Enabled && sink == nil {
		sink = internalaudit.NewLogrusSink(log)
	}

	sessions := ledger.NewStore(b.redis, cfg.Session.RedisPrefix).
		WithClock(now).
		WithRetryBackoff(cfg.RateLimit.RetryBackoff)
	revoked := denylist.NewStore(b.redis, cfg.Session.RedisPrefix).
		WithClock(now).
		WithRetryBackoff(cfg.RateLimit.RetryBackoff)

	g := &Gate{
		config:   cfg,
		tokens:   tokens,
		ledger:   sessions,
		limiter:  rate.New(b.redis, cfg.rateConfig()).WithClock(now),
		denylist: revoked,
		credentials: credential.NewStore(b.repo, hasher,
			credential.WithLogger(log),
			credential.WithUpgradeOnLogin(cfg.Password.UpgradeOnLogin),
		),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
		log:     log,
		now:     now,
	}

	loginScope := ScopeGlobal
	if cfg.RateLimit.LoginLimit > 0 {
		loginScope = ScopeLogin
	}

	g.flows = flows.Deps{
		Login: flows.LoginDeps{
			Admit:       g.admitFunc(loginScope),
			Credentials: g.credentials,
			Tokens:      g.tokens,
			Ledger:      g.ledger,
			NewFamilyID: refresh.NewFamilyID,
			Fingerprint: refresh.Fingerprint,
			AccessTTL:   cfg.JWT.AccessTTL,
			RefreshTTL:  cfg.JWT.RefreshTTL,
		},
		Refresh: flows.RefreshDeps{
			Admit:       g.admitFunc(ScopeGlobal),
			Decoder:     g.tokens,
			Tokens:      g.tokens,
			Ledger:      g.ledger,
			Fingerprint: refresh.Fingerprint,
			AccessTTL:   cfg.JWT.AccessTTL,
			RefreshTTL:  cfg.JWT.RefreshTTL,
		},
		Authenticate: flows.AuthenticateDeps{
			Admit:    g.admitFunc(ScopeGlobal),
			Decoder:  g.tokens,
			Strict:   cfg.ValidationMode == ModeStrict,
			Denylist: g.denylist,
		},
		Logout: flows.LogoutDeps{
			Admit:     g.admitFunc(ScopeGlobal),
			Decoder:   g.tokens,
			Ledger:    g.ledger,
			Denylist:  g.denylist,
			AccessTTL: cfg.JWT.AccessTTL,
		},
	}

	b.built = true
	return g, nil
}
