package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glytch-labs/ucp/core/pkg/kms"
)

func TestResolveSecretPassesPlainValuesThrough(t *testing.T) {
	got, err := ResolveSecret(nil, "plain-api-key")
	require.NoError(t, err)
	assert.Equal(t, "plain-api-key", got)
}

func TestSealedSecretRoundTrip(t *testing.T) {
	vault, err := kms.NewVault("master-secret")
	require.NoError(t, err)

	sealed, err := SealSecret(vault, "sk-very-secret")
	require.NoError(t, err)
	assert.Contains(t, sealed, "sealed:")

	got, err := ResolveSecret(vault, sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-very-secret", got)
}

func TestSealedSecretRequiresVault(t *testing.T) {
	vault, err := kms.NewVault("master-secret")
	require.NoError(t, err)
	sealed, err := SealSecret(vault, "sk-very-secret")
	require.NoError(t, err)

	_, err = ResolveSecret(nil, sealed)
	require.Error(t, err)
}

func TestSealedSecretWrongMasterFails(t *testing.T) {
	vault, err := kms.NewVault("master-secret")
	require.NoError(t, err)
	sealed, err := SealSecret(vault, "sk-very-secret")
	require.NoError(t, err)

	other, err := kms.NewVault("different-master")
	require.NoError(t, err)
	_, err = ResolveSecret(other, sealed)
	require.Error(t, err)
}
