package denylist

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDenylistTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	store, mr, _ := newDenylistClient(t)
	return store, mr
}

func newDenylistClient(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "ag"), mr, rdb
}

func TestDenyAndCheck(t *testing.T) {
	store, mr := newDenylistTest(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Check(ctx, "jti-1", "user-1", now); err != nil {
		t.Fatalf("expected clean token, got %v", err)
	}
	if err := store.Deny(ctx, "jti-1", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if err := store.Check(ctx, "jti-1", "user-1", now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if err := store.Check(ctx, "jti-2", "user-1", now); err != nil {
		t.Fatalf("expected other jti unaffected, got %v", err)
	}

	mr.FastForward(11 * time.Minute)
	if err := store.Check(ctx, "jti-1", "user-1", now); err != nil {
		t.Fatalf("expected entry to expire with the token, got %v", err)
	}
}

func TestDenyIgnoresExpiredTokens(t *testing.T) {
	store, mr := newDenylistTest(t)
	if err := store.Deny(context.Background(), "old", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if mr.Exists("ag:deny:old") {
		t.Fatal("expected no entry for an already-expired token")
	}
}

func TestRevokeSubjectCutoff(t *testing.T) {
	store, _ := newDenylistTest(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	store.WithClock(func() time.Time { return base })

	if err := store.RevokeSubject(ctx, "user-1", time.Hour); err != nil {
		t.Fatalf("revoke subject: %v", err)
	}
	if err := store.Check(ctx, "jti-a", "user-1", base.Add(-time.Minute)); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected older token revoked, got %v", err)
	}
	if err := store.Check(ctx, "jti-same", "user-1", base.Add(900*time.Millisecond)); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected token from the revocation second revoked, got %v", err)
	}
	if err := store.Check(ctx, "jti-b", "user-1", base.Add(time.Second)); err != nil {
		t.Fatalf("expected newer token accepted, got %v", err)
	}
	if err := store.Check(ctx, "jti-c", "user-2", base.Add(-time.Minute)); err != nil {
		t.Fatalf("expected other subject unaffected, got %v", err)
	}
}

func TestCheckStoreUnavailable(t *testing.T) {
	store, mr := newDenylistTest(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Check(ctx, "jti", "user", time.Now()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// flakyPipelines fails the next n pipelines.
type flakyPipelines struct {
	n        atomic.Int32
	attempts atomic.Int32
}

func (h *flakyPipelines) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *flakyPipelines) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *flakyPipelines) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.attempts.Add(1)
		if h.n.Add(-1) >= 0 {
			err := errors.New("connection reset")
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		return next(ctx, cmds)
	}
}

func TestCheckRetriesOnce(t *testing.T) {
	store, _, rdb := newDenylistClient(t)
	store.WithRetryBackoff(time.Millisecond)
	ctx := context.Background()
	now := time.Now()
	if err := store.Deny(ctx, "jti-r", now.Add(time.Minute)); err != nil {
		t.Fatalf("deny: %v", err)
	}

	hook := &flakyPipelines{}
	hook.n.Store(1)
	rdb.AddHook(hook)
	if err := store.Check(ctx, "jti-r", "user-r", now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected the retry to reach the store, got %v", err)
	}
	if got := hook.attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}

	hook.n.Store(2)
	hook.attempts.Store(0)
	if err := store.Check(ctx, "jti-r", "user-r", now); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after two failures, got %v", err)
	}
	if got := hook.attempts.Load(); got != 2 {
		t.Fatalf("expected no more than one retry, got %d attempts", got)
	}
}
