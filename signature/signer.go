// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// The signature is the lowercase hex HMAC-SHA256 of the exact request body
// bytes, keyed with the subscription secret. Subscribers recompute it over
// the raw body they received, never over a re-serialized document.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes and checks webhook payload signatures.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func (s *Signer) Sign(secret string, body []byte) string {
	return Sign(secret, body)
}

// Verify reports whether sig is the signature of body under secret.
func (s *Signer) Verify(secret string, body []byte, sig string) bool {
	return Verify(secret, body, sig)
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(compute(secret, body))
}

// Verify reports whether sig is the signature of body under secret.
// Malformed hex never matches.
func Verify(secret string, body []byte, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(compute(secret, body), got)
}

func compute(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
