// Package denylist records access tokens and subjects that must be refused
// before their natural expiry.
//
// Two kinds of entries exist:
//
//   - <prefix>:deny:<jti>: a single revoked access token, kept until the
//     token would have expired anyway.
//   - <prefix>:rvk:<subject>: a unix timestamp; access tokens for subject
//     issued before it are refused (logout everywhere).
//
// Both checks run in one pipelined round trip. Store errors are surfaced so
// that callers can fail closed.
package denylist
