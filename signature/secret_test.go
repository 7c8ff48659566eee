package signature_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/beacon/signature"
)

func TestGenerateSecret(t *testing.T) {
	secret := signature.GenerateSecret()

	if !strings.HasPrefix(secret, signature.SecretPrefix) {
		t.Fatalf("expected prefix %q, got %q", signature.SecretPrefix, secret)
	}
	if len(secret) != 70 {
		t.Fatalf("expected length 70, got %d", len(secret))
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(secret, signature.SecretPrefix))
	if err != nil {
		t.Fatalf("suffix is not hex: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 random bytes, got %d", len(raw))
	}
}

func TestGenerateSecretUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 16 {
		s := signature.GenerateSecret()
		if seen[s] {
			t.Fatalf("duplicate secret %q", s)
		}
		seen[s] = true
	}
}
