// Package credential verifies identity/secret pairs against salted bcrypt
// hashes held in a [Repository].
//
// [Store.Verify] never distinguishes an unknown identity from a wrong secret:
// both return (nil, false) after the same amount of bcrypt work. Only
// repository faults surface as errors, wrapped in [ErrUnavailable].
//
// [PostgresRepository] is the production backing store; its schema is
// applied by [Migrate]. [MemoryRepository] serves tests and local runs.
package credential
