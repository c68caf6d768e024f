// Package signer implements packet signing and the API key authority.
//
// Signatures are HMAC-SHA256 over the RFC 8785 canonical JSON form of the
// packet, keyed by the caller's raw API key. Verification is strictly
// boolean: any mismatch reports invalid, never an error that could be
// mistaken for a valid response.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/canonical"
)

// Envelope is the result of signing a packet.
type Envelope struct {
	Signature string    `json:"signature"`
	KeyPrefix string    `json:"keyPrefix"`
	Timestamp time.Time `json:"timestamp"`
}

// Sign canonicalizes the packet and computes its HMAC-SHA256 signature.
func Sign(packet any, rawKey string) (*Envelope, error) {
	payload, err := canonical.Marshal(packet)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, []byte(rawKey))
	mac.Write(payload)

	return &Envelope{
		Signature: hex.EncodeToString(mac.Sum(nil)),
		KeyPrefix: KeyPrefix(rawKey),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Verify recomputes the signature and compares in constant time.
// It fails closed: a packet that cannot be canonicalized is invalid.
func Verify(packet any, signature, rawKey string) bool {
	payload, err := canonical.Marshal(packet)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(rawKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
