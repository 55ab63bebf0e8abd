package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class partitions traffic for the store-failure policy.
type Class uint8

const (
	// ClassReadOnly covers safe reads and health-adjacent traffic.
	ClassReadOnly Class = iota
	// ClassAuth covers login, refresh and logout.
	ClassAuth
	// ClassMutation covers every other state-changing call.
	ClassMutation
)

func (c Class) String() string {
	switch c {
	case ClassReadOnly:
		return "read_only"
	case ClassAuth:
		return "auth"
	case ClassMutation:
		return "mutation"
	default:
		return "unknown"
	}
}

// FailurePolicy selects, per class, whether a call is admitted when the
// counter store is unavailable.
type FailurePolicy struct {
	ReadOnlyOpen bool
	AuthOpen     bool
	MutationOpen bool
}

// DefaultFailurePolicy fails open for read-only traffic and closed otherwise.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{ReadOnlyOpen: true}
}

// FailOpen reports whether class c is admitted on store failure.
func (p FailurePolicy) FailOpen(c Class) bool {
	switch c {
	case ClassReadOnly:
		return p.ReadOnlyOpen
	case ClassAuth:
		return p.AuthOpen
	case ClassMutation:
		return p.MutationOpen
	default:
		return false
	}
}

// Rule is a ceiling per window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled      bool
	Prefix       string
	Default      Rule
	Scopes       map[string]Rule
	Failure      FailurePolicy
	StoreTimeout time.Duration
	RetryBackoff time.Duration
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	// Degraded is set when the call was admitted without consulting the store.
	Degraded bool
}

const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrementLua = redis.NewScript(incrementScript)

// Limiter enforces fixed-window ceilings using shared Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ag"
	}
	if cfg.Default.Window <= 0 {
		cfg.Default.Window = time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock used for bucket selection.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Enabled reports whether Admit consults the store.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Rule returns the rule applied to scope.
func (l *Limiter) Rule(scope string) Rule {
	if rule, ok := l.config.Scopes[scope]; ok && rule.Limit > 0 && rule.Window > 0 {
		return rule
	}
	return l.config.Default
}

// Admit counts one call for clientKey under scope.
//
// It returns ErrRateLimited with a populated Decision once the ceiling is
// exceeded, and ErrRedisUnavailable when the store fails and class fails
// closed. Admit never blocks beyond the store timeout and one retry.
//
//	Performance: 1 Lua script round trip (2 on retry).
func (l *Limiter) Admit(ctx context.Context, scope, clientKey string, class Class) (Decision, error) {
	rule := l.Rule(scope)
	if !l.Enabled() || rule.Limit <= 0 {
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}

	now := l.now()
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	bucket := now.UnixMilli() / windowMs
	resetAt := time.UnixMilli((bucket + 1) * windowMs)
	key := l.config.Prefix + ":rl:" + scope + ":" + clientKey + ":" + strconv.FormatInt(bucket, 10)

	count, err := l.incrementWithRetry(ctx, key, windowMs)
	if err != nil {
		if l.config.Failure.FailOpen(class) {
			return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, Degraded: true}, nil
		}
		return Decision{Limit: rule.Limit}, err
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
		return decision, ErrRateLimited
	}
	return decision, nil
}

func (l *Limiter) incrementWithRetry(ctx context.Context, key string, windowMs int64) (int64, error) {
	count, err := l.increment(ctx, key, windowMs)
	if err == nil {
		return count, nil
	}

	timer := time.NewTimer(l.config.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, ctx.Err())
	case <-timer.C:
	}

	return l.increment(ctx, key, windowMs)
}

func (l *Limiter) increment(ctx context.Context, key string, windowMs int64) (int64, error) {
	if l.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.StoreTimeout)
		defer cancel()
	}

	// Fixed-window semantics: the TTL is set only on the first hit in the bucket.
	count, err := incrementLua.Run(ctx, l.redis, []string{key}, windowMs).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
