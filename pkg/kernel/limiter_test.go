package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLimiterAllowsUnderLimit(t *testing.T) {
	store := NewInMemoryLimiterStore()
	policy := WindowPolicy{Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		allowed, _, err := store.Allow(context.Background(), "key-1", policy)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
}

func TestInMemoryLimiterRejectsOverLimit(t *testing.T) {
	store := NewInMemoryLimiterStore()
	policy := WindowPolicy{Limit: 2, Window: time.Hour}

	for i := 0; i < 2; i++ {
		allowed, _, err := store.Allow(context.Background(), "key-1", policy)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, reset, err := store.Allow(context.Background(), "key-1", policy)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, reset, 0)
}

func TestInMemoryLimiterWindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewInMemoryLimiterStore().WithClock(func() time.Time { return now })
	policy := WindowPolicy{Limit: 1, Window: time.Hour}

	allowed, _, err := store.Allow(context.Background(), "key-1", policy)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = store.Allow(context.Background(), "key-1", policy)
	require.NoError(t, err)
	require.False(t, allowed)

	// Next window: requests succeed again.
	now = now.Add(time.Hour + time.Second)
	allowed, _, err = store.Allow(context.Background(), "key-1", policy)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInMemoryLimiterIsolatesActors(t *testing.T) {
	store := NewInMemoryLimiterStore()
	policy := WindowPolicy{Limit: 1, Window: time.Hour}

	allowed, _, err := store.Allow(context.Background(), "key-a", policy)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = store.Allow(context.Background(), "key-b", policy)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInMemoryLimiterRejectsInvalidPolicy(t *testing.T) {
	store := NewInMemoryLimiterStore()
	_, _, err := store.Allow(context.Background(), "key-1", WindowPolicy{})
	assert.Error(t, err)
}
