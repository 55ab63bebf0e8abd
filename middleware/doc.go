// Package middleware adapts a Gate to net/http.
//
//   - [RateLimit] charges every request against the caller's global budget
//     and writes the X-RateLimit-* headers.
//   - [Guard] turns a bearer access token into a Claim on the request context.
//   - [RequireRole] rejects guarded requests whose claim carries another role.
//   - [SecurityHeaders] sets browser hardening headers on every response.
//
// Callers are keyed by [ClientIP]. X-Forwarded-For is only believed when
// [WithTrustedProxies] says how many proxies sit in front of the server.
//
// Decisions are delegated to the Gate; this package only maps them to HTTP.
package middleware
