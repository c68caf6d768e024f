// Package kms provides secret-at-rest encryption for tokens and provider
// credentials.
//
// The symmetric key is derived from a server-held master secret with
// PBKDF2-SHA256 and a static application-level salt. Each encryption uses a
// fresh random 96-bit IV; ciphertext, IV, and authentication tag are stored
// as separate fields. Plaintext is never logged or returned by any API that
// does not explicitly decrypt.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 round count. Do not lower.
	Iterations = 100_000

	keyLen   = 32 // AES-256
	nonceLen = 12 // 96-bit IV, per AES-GCM recommendation
	tagLen   = 16
)

// appSalt is the static application-level salt for key derivation. It is
// not a secret; uniqueness per plaintext comes from the IV.
var appSalt = []byte("ucp-core/secret-at-rest/v1")

var (
	ErrEmptyMasterSecret = errors.New("kms: master secret is empty")
	ErrMalformedBox      = errors.New("kms: malformed sealed box")
	ErrDecryptFailed     = errors.New("kms: decryption failed")
)

// SealedBox is the stored form of an encrypted secret. Ciphertext excludes
// the GCM tag, which is kept in its own field.
type SealedBox struct {
	Ciphertext string `json:"ciphertext"` // base64
	IV         string `json:"iv"`         // base64, 12 bytes
	Tag        string `json:"tag"`        // base64, 16 bytes
}

// Vault encrypts and decrypts secrets with a key derived from the master
// secret. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the symmetric key and prepares the AEAD.
func NewVault(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrEmptyMasterSecret
	}

	key := pbkdf2.Key([]byte(masterSecret), appSalt, Iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm init: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random IV.
func (v *Vault) Seal(plaintext []byte) (*SealedBox, error) {
	iv := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("kms: iv generation: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, plaintext, nil)
	// Seal appends the tag to the ciphertext; split them for storage.
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	return &SealedBox{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Open decrypts a sealed box. Any tampering with ciphertext, IV, or tag
// fails with ErrDecryptFailed.
func (v *Vault) Open(box *SealedBox) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(box.Ciphertext)
	if err != nil {
		return nil, ErrMalformedBox
	}
	iv, err := base64.StdEncoding.DecodeString(box.IV)
	if err != nil || len(iv) != nonceLen {
		return nil, ErrMalformedBox
	}
	tag, err := base64.StdEncoding.DecodeString(box.Tag)
	if err != nil || len(tag) != tagLen {
		return nil, ErrMalformedBox
	}

	plaintext, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
