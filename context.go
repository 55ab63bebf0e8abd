package authgate

import "context"

type clientKeyContextKey struct{}
type clientAddressContextKey struct{}
type admittedContextKey struct{}

// WithClientKey attaches the caller's rate-limit key to ctx. Callers without
// one share the "anonymous" bucket.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyContextKey{}, key)
}

// WithClientAddress attaches a key derived from the caller's network address
// alone. Login charges its brute-force budget against it when present, so
// callers cannot open new login buckets by varying request headers.
func WithClientAddress(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientAddressContextKey{}, key)
}

// WithAdmitted marks ctx as already charged against the global rate budget,
// so gate operations only apply their own scoped limits. The HTTP rate-limit
// middleware sets it after a successful Admit.
func WithAdmitted(ctx context.Context) context.Context {
	return context.WithValue(ctx, admittedContextKey{}, true)
}

// ClientKeyFromContext returns the key set by WithClientKey.
func ClientKeyFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, ok := ctx.Value(clientKeyContextKey{}).(string)
	return key, ok
}

// ClientAddressFromContext returns the key set by WithClientAddress.
func ClientAddressFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, ok := ctx.Value(clientAddressContextKey{}).(string)
	return key, ok
}

// AdmittedFromContext reports whether WithAdmitted marked ctx.
func AdmittedFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	admitted, _ := ctx.Value(admittedContextKey{}).(bool)
	return admitted
}
