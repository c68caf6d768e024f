package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glytch-labs/ucp/core/pkg/kms"
)

// sealedPrefix marks an env value holding an encrypted secret rather than
// the plaintext: "sealed:" followed by a base64-encoded kms.SealedBox.
const sealedPrefix = "sealed:"

// ResolveSecret returns the plaintext of a possibly sealed config value.
// Plain values pass through untouched. A sealed value requires a vault;
// deployments that seal secrets must set UCP_MASTER_SECRET.
func ResolveSecret(vault *kms.Vault, value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if vault == nil {
		return "", fmt.Errorf("config: sealed secret present but no master secret configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("config: sealed secret is not valid base64: %w", err)
	}
	var box kms.SealedBox
	if err := json.Unmarshal(raw, &box); err != nil {
		return "", fmt.Errorf("config: sealed secret is not a valid box: %w", err)
	}
	plaintext, err := vault.Open(&box)
	if err != nil {
		return "", fmt.Errorf("config: open sealed secret: %w", err)
	}
	return string(plaintext), nil
}

// SealSecret encrypts a plaintext into the env-value form ResolveSecret
// accepts. Used by operators to prepare sealed deployment secrets.
func SealSecret(vault *kms.Vault, plaintext string) (string, error) {
	box, err := vault.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(box)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}
