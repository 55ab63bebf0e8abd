package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnknownSession is returned when the family does not exist or was revoked.
	ErrUnknownSession = errors.New("unknown session family")
	// ErrReplayDetected is returned when a superseded fingerprint is presented.
	// The family has already been destroyed when this error is returned.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrSessionExpired is returned when the family outlived its stored expiry.
	ErrSessionExpired = errors.New("session family expired")
	// ErrCorrupt is returned when a stored record is missing required fields.
	ErrCorrupt = errors.New("session family record corrupt")
	// ErrStoreUnavailable wraps every Redis transport failure.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

const (
	fieldFingerprint = "fp"
	fieldSubject     = "sub"
	fieldRole        = "role"
	fieldGeneration  = "gen"
	fieldIssuedAt    = "iat"
	fieldExpiresAt   = "exp"
)

const rotateScript = `
local fam_key = KEYS[1]
local sub_prefix = ARGV[1]
local family = ARGV[2]
local presented = ARGV[3]
local next_fp = ARGV[4]
local ttl_ms = tonumber(ARGV[5])
local now_unix = tonumber(ARGV[6])
local next_exp = ARGV[7]

if redis.call("EXISTS", fam_key) == 0 then
  return {0}
end

local fields = redis.call("HMGET", fam_key, "fp", "sub", "exp", "iat", "role")
local fp = fields[1]
local sub = fields[2]
if not fp or not sub then
  redis.call("DEL", fam_key)
  return {4}
end

local exp = tonumber(fields[3] or "0") or 0
if exp > 0 and exp <= now_unix then
  redis.call("DEL", fam_key)
  redis.call("SREM", sub_prefix .. sub, family)
  return {1}
end

if fp ~= presented then
  redis.call("DEL", fam_key)
  redis.call("SREM", sub_prefix .. sub, family)
  return {2, sub}
end

redis.call("HSET", fam_key, "fp", next_fp, "exp", next_exp)
local gen = redis.call("HINCRBY", fam_key, "gen", 1)
redis.call("PEXPIRE", fam_key, ttl_ms)
redis.call("PEXPIRE", sub_prefix .. sub, ttl_ms)

return {3, sub, tostring(gen), fields[4] or "0", next_exp, fields[5] or ""}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
local sub = redis.call("HGET", KEYS[1], "sub")
local existed = redis.call("DEL", KEYS[1])
if sub then
  redis.call("SREM", ARGV[1] .. sub, ARGV[2])
end
return existed
`

var revokeLua = redis.NewScript(revokeScript)

// Store is the Redis-backed refresh rotation ledger. Each session family is a
// hash holding the fingerprint of the one refresh token currently allowed to
// rotate it. Store keeps no process-local state; every check-and-swap runs
// inside a single Lua script.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
	// backoff is the pause before the single retry of an idempotent call.
	backoff time.Duration
}

// NewStore creates a ledger Store. prefix namespaces every key the store writes.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ag"
	}
	return &Store{
		redis:   client,
		prefix:  prefix,
		now:     time.Now,
		backoff: 25 * time.Millisecond,
	}
}

// WithClock replaces the wall clock used for expiry stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// WithRetryBackoff sets the pause before Open, Revoke, RevokeAllForSubject
// and Get retry a failed store call. Rotate is never retried: if the first
// attempt swapped the fingerprint and only the reply was lost, a retry would
// present the old fingerprint and destroy the family.
func (s *Store) WithRetryBackoff(d time.Duration) *Store {
	if d > 0 {
		s.backoff = d
	}
	return s
}

// retry runs op, and once more after the backoff if it fails.
func (s *Store) retry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || ctx.Err() != nil {
		return err
	}
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return op()
}

func (s *Store) familyKey(family string) string {
	return s.prefix + ":fam:" + family
}

func (s *Store) subjectPrefix() string {
	return s.prefix + ":sub:"
}

func (s *Store) subjectKey(subject string) string {
	return s.subjectPrefix() + subject
}

// Open records the first refresh fingerprint of a new family and indexes the
// family under its subject. The record expires after ttl.
func (s *Store) Open(ctx context.Context, rec Record, ttl time.Duration) error {
	if rec.Family == "" || rec.Subject == "" || rec.Fingerprint == "" {
		return errors.New("ledger: family, subject and fingerprint are required")
	}
	if ttl <= 0 {
		return errors.New("ledger: ttl must be > 0")
	}

	now := s.now()
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(ttl)
	}

	famKey := s.familyKey(rec.Family)
	subKey := s.subjectKey(rec.Subject)

	err := s.retry(ctx, func() error {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, famKey,
				fieldFingerprint, rec.Fingerprint,
				fieldSubject, rec.Subject,
				fieldRole, rec.Role,
				fieldGeneration, rec.Generation,
				fieldIssuedAt, rec.IssuedAt.Unix(),
				fieldExpiresAt, rec.ExpiresAt.Unix(),
			)
			pipe.PExpire(ctx, famKey, ttl)
			pipe.SAdd(ctx, subKey, rec.Family)
			pipe.PExpire(ctx, subKey, ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Rotate atomically swaps presentedFP for nextFP on family.
//
// A missing family yields ErrUnknownSession. A fingerprint that does not match
// the live one destroys the family and yields ErrReplayDetected, so every
// token ever issued for it stops working. On success the generation is
// incremented and the record TTL is reset to ttl.
//
//	Performance: 1 Lua script round trip.
func (s *Store) Rotate(ctx context.Context, family, presentedFP, nextFP string, ttl time.Duration) (*Record, error) {
	if ttl <= 0 {
		return nil, errors.New("ledger: ttl must be > 0")
	}
	now := s.now()
	nextExp := now.Add(ttl).Unix()

	raw, err := rotateLua.Run(ctx, s.redis,
		[]string{s.familyKey(family)},
		s.subjectPrefix(),
		family,
		presentedFP,
		nextFP,
		ttl.Milliseconds(),
		now.Unix(),
		nextExp,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply", ErrStoreUnavailable)
	}
	status, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status", ErrStoreUnavailable)
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrUnknownSession
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrReplayDetected
	case rotateStatusCorrupt:
		return nil, ErrCorrupt
	case rotateStatusRotated:
		if len(values) < 6 {
			return nil, ErrCorrupt
		}
		rec := &Record{
			Family:      family,
			Fingerprint: nextFP,
			Subject:     asString(values[1]),
			Role:        asString(values[5]),
		}
		rec.Generation, _ = strconv.ParseInt(asString(values[2]), 10, 64)
		rec.IssuedAt = unixString(asString(values[3]))
		rec.ExpiresAt = unixString(asString(values[4]))
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrStoreUnavailable, status)
	}
}

// Revoke destroys family. Revoking a missing family is not an error.
func (s *Store) Revoke(ctx context.Context, family string) (bool, error) {
	var existed int64
	err := s.retry(ctx, func() error {
		var err error
		existed, err = revokeLua.Run(ctx, s.redis,
			[]string{s.familyKey(family)},
			s.subjectPrefix(),
			family,
		).Int64()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return existed == 1, nil
}

// RevokeAllForSubject destroys every family indexed under subject and returns
// how many were removed.
//
// This is not a single atomic step: a family opened between the index read
// and the delete survives until it expires or the call is repeated.
func (s *Store) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	subKey := s.subjectKey(subject)

	var families []string
	err := s.retry(ctx, func() error {
		var err error
		families, err = s.redis.SMembers(ctx, subKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	keys := make([]string, 0, len(families))
	for _, family := range families {
		keys = append(keys, s.familyKey(family))
	}

	var deleted *redis.IntCmd
	err = s.retry(ctx, func() error {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(keys) > 0 {
				deleted = pipe.Del(ctx, keys...)
			}
			pipe.Del(ctx, subKey)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// Get returns the live record for family without mutating it.
func (s *Store) Get(ctx context.Context, family string) (*Record, error) {
	var fields map[string]string
	err := s.retry(ctx, func() error {
		var err error
		fields, err = s.redis.HGetAll(ctx, s.familyKey(family)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownSession
	}

	rec := &Record{
		Family:      family,
		Fingerprint: fields[fieldFingerprint],
		Subject:     fields[fieldSubject],
		Role:        fields[fieldRole],
		IssuedAt:    unixString(fields[fieldIssuedAt]),
		ExpiresAt:   unixString(fields[fieldExpiresAt]),
	}
	rec.Generation, _ = strconv.ParseInt(fields[fieldGeneration], 10, 64)
	if rec.Fingerprint == "" || rec.Subject == "" {
		return nil, ErrCorrupt
	}
	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return rec, nil
}

// FamiliesForSubject lists the family ids currently indexed under subject.
// The index may briefly include families that already expired.
func (s *Store) FamiliesForSubject(ctx context.Context, subject string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func unixString(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
