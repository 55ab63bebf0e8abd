package refresh

import (
	"strings"
	"testing"
)

func TestNewFamilyIDShape(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id, err := NewFamilyID()
		if err != nil {
			t.Fatalf("new family id: %v", err)
		}
		if err := ValidateFamilyID(id); err != nil {
			t.Fatalf("generated id %q did not validate: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate family id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidateFamilyIDRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "!!!", strings.Repeat("A", 40)} {
		if err := ValidateFamilyID(in); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("token-a")
	if a != Fingerprint("token-a") {
		t.Fatal("fingerprint not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if Equal(a, Fingerprint("token-b")) {
		t.Fatal("distinct tokens share a fingerprint")
	}
	if !Equal(a, Fingerprint("token-a")) {
		t.Fatal("Equal rejected identical fingerprints")
	}
}

func FuzzValidateFamilyID(f *testing.F) {
	f.Add("")
	f.Add("AAAAAAAAAAAAAAAAAAAAAA")
	f.Add("!!!not-base64!!!")
	f.Fuzz(func(t *testing.T, input string) {
		_ = ValidateFamilyID(input)
		_ = Fingerprint(input)
	})
}
