// Package password implements secret hashing and verification with bcrypt.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$<cost>$...). The cost factor is
// embedded in the hash, so [Bcrypt.NeedsUpgrade] can tell whether a stored
// hash was produced with a lower cost than currently configured and the
// caller can re-hash on the next successful login.
//
// Secrets longer than 72 bytes are truncated to 72 bytes before hashing and
// verification; bcrypt ignores everything past that point anyway.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets. Callers supply plaintext and receive hashes.
//   - Import any other authgate package.
//   - Log plaintext secrets.
package password
