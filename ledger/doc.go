// Package ledger provides the Redis-backed refresh rotation ledger.
//
// # Keys
//
//   - <prefix>:fam:<family>: hash {fp, sub, role, gen, iat, exp}, TTL = refresh lifetime
//   - <prefix>:sub:<subject>: set of family ids for logout-all
//
// # Rotation
//
// Rotate is a single Lua check-and-swap: exactly one of any number of
// concurrent callers presenting the live fingerprint wins. Any other
// fingerprint, including one that was live a moment ago, destroys the family.
//
// # What this package must NOT do
//
//   - Parse or sign tokens.
//   - Keep per-process session state.
package ledger
