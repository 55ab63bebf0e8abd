package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/smartbag/authgate/internal/rate"
	"github.com/smartbag/authgate/jwt"
	"golang.org/x/crypto/bcrypt"
)

// Config is the programmatic configuration of a Gate. Build it once at
// startup, either by hand or with LoadConfig, and treat it as immutable.
type Config struct {
	JWT            JWTConfig
	Password       PasswordConfig
	RateLimit      RateLimitConfig
	Session        SessionConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token codec.
type JWTConfig struct {
	// SigningMethod is HS256, HS384 or HS512.
	SigningMethod string
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures bcrypt hashing of secrets.
type PasswordConfig struct {
	Cost           int
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the shared fixed-window limiter.
type RateLimitConfig struct {
	Enabled bool
	// PerMinute is the global ceiling per client per Window.
	PerMinute int
	Window    time.Duration

	// LoginLimit and LoginWindow add a tighter ceiling for Login.
	// A zero LoginLimit disables the login scope.
	LoginLimit  int
	LoginWindow time.Duration

	FailOpenReadOnly bool
	FailOpenAuth     bool
	FailOpenMutation bool

	StoreTimeout time.Duration
	RetryBackoff time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis keyspace shared by the ledger, the
// limiter and the denylist.
type SessionConfig struct {
	RedisPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults every environment setting falls back to.
// The signing secret is left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: string(jwt.MethodHS256),
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Cost:           10,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			PerMinute:        1000,
			Window:           time.Minute,
			LoginLimit:       5,
			LoginWindow:      5 * time.Minute,
			FailOpenReadOnly: true,
			StoreTimeout:     250 * time.Millisecond,
			RetryBackoff:     25 * time.Millisecond,
		},
		Session: SessionConfig{
			RedisPrefix: "ag",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		ValidationMode: ModeJWTOnly,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.JWT.Secret) > 0 {
		out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate fails fast on configurations the gate cannot run safely with.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) == 0 {
		return errors.New("JWT Secret is required")
	}
	if _, err := jwt.ParseSigningMethod(c.JWT.SigningMethod); err != nil {
		return err
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	if c.Password.Cost < bcrypt.MinCost || c.Password.Cost > bcrypt.MaxCost {
		return fmt.Errorf("Password Cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Password.MinLength < 0 {
		return errors.New("Password MinLength must be >= 0")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.PerMinute <= 0 {
			return errors.New("RateLimit PerMinute must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.LoginLimit < 0 {
			return errors.New("RateLimit LoginLimit must be >= 0")
		}
		if c.RateLimit.LoginLimit > 0 && c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit LoginWindow must be > 0 when LoginLimit is set")
		}
	}
	if c.RateLimit.StoreTimeout < 0 || c.RateLimit.RetryBackoff < 0 {
		return errors.New("RateLimit timeouts must be >= 0")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return errors.New("invalid ValidationMode")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}

func (c *Config) rateConfig() rate.Config {
	rc := rate.Config{
		Enabled: c.RateLimit.Enabled,
		Prefix:  c.Session.RedisPrefix,
		Default: rate.Rule{Limit: c.RateLimit.PerMinute, Window: c.RateLimit.Window},
		Failure: rate.FailurePolicy{
			ReadOnlyOpen: c.RateLimit.FailOpenReadOnly,
			AuthOpen:     c.RateLimit.FailOpenAuth,
			MutationOpen: c.RateLimit.FailOpenMutation,
		},
		StoreTimeout: c.RateLimit.StoreTimeout,
		RetryBackoff: c.RateLimit.RetryBackoff,
	}
	if c.RateLimit.LoginLimit > 0 {
		rc.Scopes = map[string]rate.Rule{
			ScopeLogin: {Limit: c.RateLimit.LoginLimit, Window: c.RateLimit.LoginWindow},
		}
	}
	return rc
}
