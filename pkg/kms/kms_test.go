package kms

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := NewVault("master-secret")
	require.NoError(t, err)

	box, err := v.Seal([]byte("provider-api-token"))
	require.NoError(t, err)

	plain, err := v.Open(box)
	require.NoError(t, err)
	assert.Equal(t, "provider-api-token", string(plain))
}

func TestSealUsesFreshIV(t *testing.T) {
	v, err := NewVault("master-secret")
	require.NoError(t, err)

	a, err := v.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := v.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

	iv, err := base64.StdEncoding.DecodeString(a.IV)
	require.NoError(t, err)
	assert.Len(t, iv, 12)
}

func TestOpenRejectsTampering(t *testing.T) {
	v, err := NewVault("master-secret")
	require.NoError(t, err)

	box, err := v.Seal([]byte("secret"))
	require.NoError(t, err)

	ct, _ := base64.StdEncoding.DecodeString(box.Ciphertext)
	if len(ct) == 0 {
		t.Fatal("empty ciphertext")
	}
	ct[0] ^= 0xff
	tampered := *box
	tampered.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	_, err = v.Open(&tampered)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsWrongMasterSecret(t *testing.T) {
	v1, err := NewVault("master-secret")
	require.NoError(t, err)
	v2, err := NewVault("other-secret")
	require.NoError(t, err)

	box, err := v1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = v2.Open(box)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewVaultRequiresSecret(t *testing.T) {
	_, err := NewVault("")
	assert.ErrorIs(t, err, ErrEmptyMasterSecret)
}

func TestOpenRejectsMalformedBox(t *testing.T) {
	v, err := NewVault("master-secret")
	require.NoError(t, err)

	_, err = v.Open(&SealedBox{Ciphertext: "!!!", IV: "!!!", Tag: "!!!"})
	assert.ErrorIs(t, err, ErrMalformedBox)
}
