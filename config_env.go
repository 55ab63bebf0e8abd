package authgate

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the process configuration read from the environment: the Gate
// config plus the wiring a server needs around it.
type Settings struct {
	Gate Config

	RedisURL           string
	DatabaseURL        string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string
	// RegistrationRole is given to self-registered identities; empty
	// disables self-registration.
	RegistrationRole string
	// TrustedProxyHops counts the reverse proxies whose X-Forwarded-For
	// entries are believed. 0 keys callers on the socket address.
	TrustedProxyHops int
	HSTS             bool
	// MetricsLogInterval is how often OTel metrics are logged; 0 disables.
	MetricsLogInterval time.Duration
}

type envSettings struct {
	SecretKey                string `mapstructure:"secret_key" validate:"required"`
	Algorithm                string `mapstructure:"algorithm" validate:"required"`
	BcryptRounds             int    `mapstructure:"bcrypt_rounds" validate:"min=4,max=31"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes" validate:"gt=0"`
	RefreshTokenExpireDays   int    `mapstructure:"refresh_token_expire_days" validate:"gt=0"`
	TokenIssuer              string `mapstructure:"token_issuer"`
	ValidationMode           string `mapstructure:"validation_mode" validate:"oneof=jwt_only strict"`

	EnableRateLimiting        bool `mapstructure:"enable_rate_limiting"`
	APIRateLimitPerMinute     int  `mapstructure:"api_rate_limit_per_minute" validate:"gt=0"`
	LoginRateLimit            int  `mapstructure:"login_rate_limit" validate:"min=0"`
	LoginRateWindowSeconds    int  `mapstructure:"login_rate_window_seconds" validate:"gt=0"`
	RateLimitFailOpenReadonly bool `mapstructure:"rate_limit_fail_open_readonly"`
	RateLimitFailOpenAuth     bool `mapstructure:"rate_limit_fail_open_auth"`
	RateLimitFailOpenMutation bool `mapstructure:"rate_limit_fail_open_mutation"`
	RateLimitStoreTimeoutMs   int  `mapstructure:"rate_limit_store_timeout_ms" validate:"gt=0"`

	RedisURL           string `mapstructure:"redis_url" validate:"required"`
	RedisPrefix        string `mapstructure:"redis_prefix" validate:"required"`
	DatabaseURL        string `mapstructure:"database_url"`
	HTTPAddr           string `mapstructure:"http_addr" validate:"required"`
	LogLevel           string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat          string `mapstructure:"log_format" validate:"oneof=json text"`
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`
	RegistrationRole   string `mapstructure:"registration_role" validate:"omitempty,alphanum,max=32"`
	TrustedProxyHops   int    `mapstructure:"trusted_proxy_hops" validate:"min=0,max=16"`
	HSTSEnabled        bool   `mapstructure:"hsts_enabled"`
	AuditEnabled       bool   `mapstructure:"audit_enabled"`
	MetricsEnabled     bool   `mapstructure:"metrics_enabled"`
	MetricsLogSeconds  int    `mapstructure:"metrics_log_interval_seconds" validate:"min=0"`
}

var envDefaults = map[string]any{
	"secret_key":                    "",
	"algorithm":                     "HS256",
	"bcrypt_rounds":                 10,
	"access_token_expire_minutes":   30,
	"refresh_token_expire_days":     7,
	"token_issuer":                  "",
	"validation_mode":               "jwt_only",
	"enable_rate_limiting":          true,
	"api_rate_limit_per_minute":     1000,
	"login_rate_limit":              5,
	"login_rate_window_seconds":     300,
	"rate_limit_fail_open_readonly": true,
	"rate_limit_fail_open_auth":     false,
	"rate_limit_fail_open_mutation": false,
	"rate_limit_store_timeout_ms":   250,
	"redis_url":                     "redis://localhost:6379/0",
	"redis_prefix":                  "ag",
	"database_url":                  "",
	"http_addr":                     ":8080",
	"log_level":                     "info",
	"log_format":                    "json",
	"cors_allowed_origins":          "",
	"registration_role":             "member",
	"trusted_proxy_hops":            0,
	"hsts_enabled":                  false,
	"audit_enabled":                 true,
	"metrics_enabled":               true,
	"metrics_log_interval_seconds":  60,
}

var validate = validator.New()

// LoadSettings reads the environment, after loading any of envFiles that
// exist (".env" when none are given), and validates the result.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	// An empty variable is a value: REGISTRATION_ROLE= turns registration off.
	v.AllowEmptyEnv(true)
	for key, value := range envDefaults {
		v.SetDefault(key, value)
	}

	var env envSettings
	if err := v.Unmarshal(&env); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	settings := env.toSettings()
	if err := settings.Gate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}
	return settings, nil
}

func (e envSettings) toSettings() *Settings {
	cfg := defaultConfig()

	cfg.JWT.Secret = []byte(e.SecretKey)
	cfg.JWT.SigningMethod = e.Algorithm
	cfg.JWT.Issuer = e.TokenIssuer
	cfg.JWT.AccessTTL = time.Duration(e.AccessTokenExpireMinutes) * time.Minute
	cfg.JWT.RefreshTTL = time.Duration(e.RefreshTokenExpireDays) * 24 * time.Hour

	cfg.Password.Cost = e.BcryptRounds

	cfg.RateLimit.Enabled = e.EnableRateLimiting
	cfg.RateLimit.PerMinute = e.APIRateLimitPerMinute
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.LoginLimit = e.LoginRateLimit
	cfg.RateLimit.LoginWindow = time.Duration(e.LoginRateWindowSeconds) * time.Second
	cfg.RateLimit.FailOpenReadOnly = e.RateLimitFailOpenReadonly
	cfg.RateLimit.FailOpenAuth = e.RateLimitFailOpenAuth
	cfg.RateLimit.FailOpenMutation = e.RateLimitFailOpenMutation
	cfg.RateLimit.StoreTimeout = time.Duration(e.RateLimitStoreTimeoutMs) * time.Millisecond

	cfg.Session.RedisPrefix = e.RedisPrefix
	cfg.Audit.Enabled = e.AuditEnabled
	cfg.Metrics.Enabled = e.MetricsEnabled

	if e.ValidationMode == "strict" {
		cfg.ValidationMode = ModeStrict
	}

	return &Settings{
		Gate:               cfg,
		RedisURL:           e.RedisURL,
		DatabaseURL:        e.DatabaseURL,
		HTTPAddr:           e.HTTPAddr,
		LogLevel:           e.LogLevel,
		LogFormat:          e.LogFormat,
		CORSAllowedOrigins: splitList(e.CORSAllowedOrigins),
		RegistrationRole:   e.RegistrationRole,
		TrustedProxyHops:   e.TrustedProxyHops,
		HSTS:               e.HSTSEnabled,
		MetricsLogInterval: time.Duration(e.MetricsLogSeconds) * time.Second,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
