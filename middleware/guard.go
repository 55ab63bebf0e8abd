package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/smartbag/authgate"
)

// Authenticator validates an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*authgate.Claim, error)
}

type claimContextKey struct{}

// ClaimFromContext returns the claim stored by Guard.
func ClaimFromContext(ctx context.Context) (*authgate.Claim, bool) {
	claim, ok := ctx.Value(claimContextKey{}).(*authgate.Claim)
	return claim, ok
}

// WithClaim stores claim on ctx the way Guard does.
func WithClaim(ctx context.Context, claim *authgate.Claim) context.Context {
	return context.WithValue(ctx, claimContextKey{}, claim)
}

// Guard requires a valid bearer access token.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				WriteError(w, authgate.ErrGateNotReady)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, authgate.ErrMalformed)
				return
			}

			claim, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), claim)))
		})
	}
}

// RequireRole must run inside Guard.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, ok := ClaimFromContext(r.Context())
			if !ok || claim.Role != role {
				writeJSON(w, http.StatusForbidden, errorBody{Detail: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
