package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod names an HMAC algorithm accepted by the codec.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256. It is the default.
	MethodHS256 SigningMethod = "HS256"
	// MethodHS384 signs with HMAC-SHA384.
	MethodHS384 SigningMethod = "HS384"
	// MethodHS512 signs with HMAC-SHA512.
	MethodHS512 SigningMethod = "HS512"
)

var (
	// ErrExpiredToken is returned when the current time is outside [iat, exp).
	ErrExpiredToken = errors.New("token expired")
	// ErrBadSignature is returned for a MAC mismatch or an unexpected algorithm.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrMalformed is returned when the token or its claims cannot be interpreted.
	ErrMalformed = errors.New("token malformed")
	// ErrWrongKind is returned when a token of one kind is presented where the other is required.
	ErrWrongKind = fmt.Errorf("%w: unexpected token kind", ErrMalformed)
)

// ParseSigningMethod maps an ALGORITHM setting to a SigningMethod.
// Both JOSE names ("HS256") and long forms ("HMAC-SHA256") are accepted.
func ParseSigningMethod(name string) (SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "HS256", "HMAC-SHA256", "HMAC_SHA256":
		return MethodHS256, nil
	case "HS384", "HMAC-SHA384", "HMAC_SHA384":
		return MethodHS384, nil
	case "HS512", "HMAC-SHA512", "HMAC_SHA512":
		return MethodHS512, nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", name)
	}
}

// Config configures a Manager.
type Config struct {
	SigningMethod SigningMethod
	Secret        []byte
	Issuer        string
	Leeway        time.Duration
	// Now overrides the wall clock. Tests inject a fixed clock here.
	Now func() time.Time
}

// Manager issues and decodes signed access and refresh tokens.
//
// A Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// IssueOptions carries the optional claims attached to a token.
type IssueOptions struct {
	Family string
	Role   string
	Scopes []string
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var method jwt.SigningMethod
	switch cfg.SigningMethod {
	case MethodHS256:
		method = jwt.SigningMethodHS256
	case MethodHS384:
		method = jwt.SigningMethodHS384
	case MethodHS512:
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("unsupported signing method")
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &Manager{config: cfg, method: method}, nil
}

// Issue signs a token of the given kind for subject, valid for ttl from now.
// The returned claims mirror what was signed so callers can record jti and expiry.
func (m *Manager) Issue(subject string, kind Kind, ttl time.Duration, opts IssueOptions) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("subject is required")
	}
	if !kind.Valid() {
		return "", nil, ErrWrongKind
	}
	if ttl <= 0 {
		return "", nil, errors.New("ttl must be > 0")
	}

	now := m.config.Now().Truncate(time.Second)
	claims := &Claims{
		Kind:   kind,
		Family: opts.Family,
		Role:   opts.Role,
		Scopes: opts.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Decode verifies algorithm and signature, then checks that the current time
// lies within the token's validity window. It performs no I/O.
func (m *Manager) Decode(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}

// DecodeAccess decodes token and requires it to be an access token.
func (m *Manager) DecodeAccess(token string) (*Claims, error) {
	return m.decodeKind(token, KindAccess)
}

// DecodeRefresh decodes token and requires it to be a refresh token.
func (m *Manager) DecodeRefresh(token string) (*Claims, error) {
	return m.decodeKind(token, KindRefresh)
}

func (m *Manager) decodeKind(token string, want Kind) (*Claims, error) {
	claims, err := m.Decode(token)
	if err != nil {
		return nil, err
	}

	switch claims.Kind {
	case KindAccess, KindRefresh:
		if claims.Kind != want {
			return nil, ErrWrongKind
		}
	default:
		return nil, ErrWrongKind
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, ErrMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
