// Package signature provides HMAC-SHA256 webhook signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes HMAC-SHA256 signatures for webhook payloads.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign generates the HMAC-SHA256 signature for the given payload,
// keyed by the webhook's secret token. Returns the digest hex-encoded.
// Sign is a pure function: identical inputs always yield the same digest.
func (s *Signer) Sign(payload []byte, secret string) string {
	return Sign(payload, secret)
}

// Sign generates the HMAC-SHA256 signature for the given payload,
// keyed by the webhook's secret token. Returns the digest hex-encoded.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
