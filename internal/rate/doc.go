// Package rate provides the Redis-backed fixed-window limiter that gates
// every inbound call.
//
// # Window semantics
//
// bucket = floor(now / window). Each (scope, client key, bucket) triple owns
// one counter, created by an atomic INCR + PEXPIRE on the first hit. A call
// is admitted while the post-increment count is at or below the ceiling.
// Key layout:
//   - <prefix>:rl:<scope>:<client key>:<bucket>
//
// # Store failure
//
// A failed or timed-out increment is retried once after a short pause. If it
// still fails, the per-class FailurePolicy decides: read-only traffic may be
// admitted, auth and mutation traffic are rejected with ErrRedisUnavailable.
//
// # What this package must NOT do
//
//   - Keep counters in process memory.
//   - Be imported outside the authgate module.
package rate
