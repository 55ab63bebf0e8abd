package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T, cost int) *Bcrypt {
	t.Helper()
	h, err := NewBcrypt(Config{Cost: cost, MinLength: 8})
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t, bcrypt.MinCost)

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Fatalf("unexpected bcrypt prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher(t, bcrypt.MinCost)
	a, _ := h.Hash("same-secret")
	b, _ := h.Hash("same-secret")
	if a == b {
		t.Fatal("expected distinct salts for identical secrets")
	}
}

func TestLongSecretsTruncatedTo72Bytes(t *testing.T) {
	h := testHasher(t, bcrypt.MinCost)
	long := strings.Repeat("x", 100)

	hash, err := h.Hash(long)
	if err != nil {
		t.Fatalf("expected long secret to hash, got %v", err)
	}
	ok, err := h.Verify(strings.Repeat("x", 72)+"different-tail", hash)
	if err != nil || !ok {
		t.Fatalf("expected bytes past 72 to be ignored, ok=%v err=%v", ok, err)
	}
}

func TestPolicyMinLength(t *testing.T) {
	h := testHasher(t, bcrypt.MinCost)
	if _, err := h.Hash("short"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	low := testHasher(t, bcrypt.MinCost)
	high := testHasher(t, bcrypt.MinCost+1)

	hash, err := low.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if up, err := high.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade for lower cost, up=%v err=%v", up, err)
	}
	if up, err := low.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("expected no upgrade at same cost, up=%v err=%v", up, err)
	}
	if cost, err := HashCost(hash); err != nil || cost != bcrypt.MinCost {
		t.Fatalf("HashCost = %d, %v", cost, err)
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher(t, bcrypt.MinCost)
	if _, err := h.Verify("secret", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if _, err := h.NeedsUpgrade("not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash from NeedsUpgrade, got %v", err)
	}
}

func TestNewBcryptRejectsBadCost(t *testing.T) {
	for _, cost := range []int{0, 3, 32} {
		if _, err := NewBcrypt(Config{Cost: cost}); err == nil {
			t.Fatalf("expected cost %d rejected", cost)
		}
	}
}
