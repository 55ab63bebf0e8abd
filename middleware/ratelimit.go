package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartbag/authgate"
)

// Admitter charges one call against a caller's budget.
type Admitter interface {
	Admit(ctx context.Context, class authgate.TrafficClass) (authgate.Decision, error)
}

// DefaultExemptPaths are never charged.
var DefaultExemptPaths = []string{"/health", "/metrics"}

type rateLimitOptions struct {
	exempt         map[string]struct{}
	classify       func(*http.Request) authgate.TrafficClass
	clientKey      func(*http.Request) string
	trustedProxies int
}

// RateLimitOption customises RateLimit.
type RateLimitOption func(*rateLimitOptions)

// WithExemptPaths replaces DefaultExemptPaths.
func WithExemptPaths(paths ...string) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.exempt = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			o.exempt[p] = struct{}{}
		}
	}
}

// WithClassifier replaces Classify.
func WithClassifier(fn func(*http.Request) authgate.TrafficClass) RateLimitOption {
	return func(o *rateLimitOptions) { o.classify = fn }
}

// WithClientKeyFunc replaces the address and User-Agent key used for the
// global budget. The login budget stays keyed on the address.
func WithClientKeyFunc(fn func(*http.Request) string) RateLimitOption {
	return func(o *rateLimitOptions) { o.clientKey = fn }
}

// WithTrustedProxies sets how many reverse proxies sit in front of the
// server. See ClientIP.
func WithTrustedProxies(n int) RateLimitOption {
	return func(o *rateLimitOptions) { o.trustedProxies = max(n, 0) }
}

// RateLimit admits each request through the gate before calling next. The
// request context is marked admitted so gate operations invoked by next do not
// charge the global budget twice.
func RateLimit(gate Admitter, opts ...RateLimitOption) func(http.Handler) http.Handler {
	o := rateLimitOptions{classify: Classify}
	WithExemptPaths(DefaultExemptPaths...)(&o)
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := o.exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if gate == nil {
				WriteError(w, authgate.ErrGateNotReady)
				return
			}

			ip := ClientIP(r, o.trustedProxies)
			key := clientKey(ip, r.UserAgent())
			if o.clientKey != nil {
				key = o.clientKey(r)
			}
			ctx := authgate.WithClientKey(r.Context(), key)
			ctx = authgate.WithClientAddress(ctx, AddressKey(ip))
			decision, err := gate.Admit(ctx, o.classify(r))
			setRateHeaders(w.Header(), decision)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(authgate.WithAdmitted(ctx)))
		})
	}
}

// Classify treats safe methods as read-only, /auth/ paths as auth traffic and
// everything else as a mutation.
func Classify(r *http.Request) authgate.TrafficClass {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return authgate.ClassReadOnly
	}
	if strings.HasPrefix(r.URL.Path, "/auth/") {
		return authgate.ClassAuth
	}
	return authgate.ClassMutation
}

// Decisions that never reached the store (limiting disabled, degraded) carry
// no window and get no headers.
func setRateHeaders(h http.Header, d authgate.Decision) {
	if d.Limit <= 0 || d.ResetAt.IsZero() {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
