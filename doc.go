// Package authgate is the authentication token lifecycle and distributed
// rate-limiting gate every inbound request passes through.
//
// A [Gate] issues short-lived access tokens and rotating refresh tokens,
// refuses replay of any rotated refresh token by revoking its whole session
// family, and charges every caller against a fixed-window budget kept in
// Redis so that any number of workers share one limit.
//
// # Architecture boundaries
//
// authgate is the public surface: [Gate], [Builder], [Config], [Settings] and
// the error taxonomy. Token encoding lives in jwt, the rotation ledger in
// ledger, credentials in credential, the denylist in denylist and the limiter
// in internal/rate. Orchestration lives in internal/flows.
//
// # Failure policy
//
// A store outage is never treated as "allowed" silently. Read-only traffic
// may be admitted in a degraded state when configured; authentication and
// mutating traffic fail with [ErrStoreUnavailable] by default.
//
// # Performance contract
//
// Authenticate in [ModeJWTOnly] costs one limiter round trip and no other
// I/O. Refresh is one limiter round trip plus one Lua script.
package authgate
