package signer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glytch-labs/ucp/core/pkg/kernel"
)

// memKeyStore is an in-memory KeyStore for tests.
type memKeyStore struct {
	byHash map[string]*Key
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{byHash: make(map[string]*Key)}
}

func (m *memKeyStore) GetKeyByHash(ctx context.Context, hash string) (*Key, error) {
	k, ok := m.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memKeyStore) PutKey(ctx context.Context, k *Key) error {
	cp := *k
	m.byHash[k.KeyHash] = &cp
	return nil
}

func (m *memKeyStore) RecordKeyUsage(ctx context.Context, id string, at time.Time) error {
	for _, k := range m.byHash {
		if k.ID == id {
			k.UsageCount++
			used := at
			k.LastUsedAt = &used
			return nil
		}
	}
	return ErrKeyNotFound
}

func (m *memKeyStore) ListKeys(ctx context.Context, ownerID string) ([]*Key, error) {
	var out []*Key
	for _, k := range m.byHash {
		if k.OwnerID == ownerID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func issueTestKey(t *testing.T, a *Authority, perms []string, rateLimit int) (*Key, string) {
	t.Helper()
	k, raw, err := a.Issue(context.Background(), "user-1", "test key", perms, rateLimit, nil)
	require.NoError(t, err)
	return k, raw
}

func TestIssueNeverStoresRawKey(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, kernel.NewInMemoryLimiterStore())

	k, raw, err := a.Issue(context.Background(), "user-1", "ci key", []string{"execute"}, 100, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, ProductPrefix))
	assert.Len(t, raw, len(ProductPrefix)+32)
	assert.Equal(t, HashKey(raw), k.KeyHash)
	assert.Equal(t, raw[:12]+"...", k.KeyPrefix)

	stored := store.byHash[k.KeyHash]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.KeyPrefix, raw[12:])
}

func TestValidateSuccessIncrementsUsage(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, kernel.NewInMemoryLimiterStore())
	_, raw := issueTestKey(t, a, []string{"execute", "http"}, 100)

	k, err := a.Validate(context.Background(), raw, []Operation{{Op: "http.get"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), k.UsageCount)
	require.NotNil(t, k.LastUsedAt)
}

func TestValidateInvalidFormat(t *testing.T) {
	a := NewAuthority(newMemKeyStore(), nil)

	_, err := a.Validate(context.Background(), "sk-wrongprefix", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonInvalidFormat, verr.Reason)
}

func TestValidateNotFound(t *testing.T) {
	a := NewAuthority(newMemKeyStore(), nil)

	_, err := a.Validate(context.Background(), ProductPrefix+strings.Repeat("a", 32), nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonNotFound, verr.Reason)
}

func TestValidateRevokedKey(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, kernel.NewInMemoryLimiterStore())
	k, raw := issueTestKey(t, a, []string{"execute"}, 100)

	require.NoError(t, a.Revoke(context.Background(), k))

	// A structurally correct signature does not rescue a revoked key.
	_, err := a.Validate(context.Background(), raw, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonRevoked, verr.Reason)
}

func TestValidateExpiredKey(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, nil)

	past := time.Now().Add(-time.Hour)
	k, raw, err := a.Issue(context.Background(), "user-1", "expired", []string{"execute"}, 100, &past)
	require.NoError(t, err)
	require.NotNil(t, k.ExpiresAt)

	_, err = a.Validate(context.Background(), raw, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonExpired, verr.Reason)
}

func TestValidateRateLimitedWithinWindow(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, kernel.NewInMemoryLimiterStore())
	_, raw := issueTestKey(t, a, []string{"execute"}, 2)

	for i := 0; i < 2; i++ {
		_, err := a.Validate(context.Background(), raw, nil)
		require.NoError(t, err)
	}

	_, err := a.Validate(context.Background(), raw, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonRateLimited, verr.Reason)
	assert.Greater(t, verr.Reset, 0)
}

func TestValidateRollingDayCap(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, nil)
	k, raw := issueTestKey(t, a, []string{"execute"}, 10)

	// Pre-load a day's worth of usage.
	stored := store.byHash[k.KeyHash]
	stored.UsageCount = int64(k.RateLimit) * 24

	_, err := a.Validate(context.Background(), raw, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonRateLimited, verr.Reason)
}

func TestValidateMissingPermissions(t *testing.T) {
	store := newMemKeyStore()
	a := NewAuthority(store, kernel.NewInMemoryLimiterStore())
	_, raw := issueTestKey(t, a, []string{"execute"}, 100)

	ops := []Operation{{Op: "http.get", Then: []Operation{{Op: "llm.invoke"}}}}
	_, err := a.Validate(context.Background(), raw, ops)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonMissingPermissions, verr.Reason)
	assert.Equal(t, []string{"http", "llm"}, verr.Missing)

	// Failed validation must not consume usage.
	k2, err := store.GetKeyByHash(context.Background(), HashKey(raw))
	require.NoError(t, err)
	assert.Zero(t, k2.UsageCount)
}
