// Package refresh holds the pure helpers shared by refresh rotation:
// session family identifiers and refresh-token fingerprints.
//
// Raw refresh tokens are never persisted. The ledger stores only the
// SHA-256 fingerprint produced here, so a leaked store does not leak
// usable credentials.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Implement rotation or replay policy.
package refresh
