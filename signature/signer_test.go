package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/beacon/signature"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"event_type":"deal.won","event_id":"evt_1"}`)
	secret := "whsec_testsecret123"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := signature.Sign(secret, body); got != want {
		t.Fatalf("Sign() = %q, want %q", got, want)
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	a := signature.Sign("s", body)
	b := signature.Sign("s", body)
	if a != b {
		t.Fatalf("same input produced %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestVerify(t *testing.T) {
	signer := signature.NewSigner()
	body := []byte(`{"record_id":42,"status":"won"}`)
	secret := "whsec_correct"
	sig := signer.Sign(secret, body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{"valid", secret, body, sig, true},
		{"other secret", "whsec_wrong", body, sig, false},
		{"other body", secret, []byte(`{"record_id":43,"status":"won"}`), sig, false},
		{"single byte appended", secret, append(append([]byte{}, body...), ' '), sig, false},
		{"signature from other secret", secret, body, signer.Sign("whsec_wrong", body), false},
		{"uppercase hex", secret, body, strings.ToUpper(sig), true},
		{"malformed hex", secret, body, "zz" + sig[2:], false},
		{"truncated", secret, body, sig[:32], false},
		{"empty", secret, body, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signer.Verify(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Fatalf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}
