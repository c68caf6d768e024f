package signer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glytch-labs/ucp/core/pkg/kernel"
)

// ProductPrefix is the mandatory prefix of every issued raw key.
const ProductPrefix = "ucp_"

const rawKeyLen = 32

// Key statuses.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Reason codes for validation failures.
type Reason string

const (
	ReasonInvalidFormat      Reason = "INVALID_FORMAT"
	ReasonNotFound           Reason = "NOT_FOUND"
	ReasonRevoked            Reason = "REVOKED"
	ReasonExpired            Reason = "EXPIRED"
	ReasonRateLimited        Reason = "RATE_LIMITED"
	ReasonMissingPermissions Reason = "MISSING_PERMISSIONS"
)

var ErrKeyNotFound = errors.New("signer: api key not found")

// ValidationError carries the structured failure reason.
type ValidationError struct {
	Reason  Reason
	Missing []string // populated for MISSING_PERMISSIONS
	Reset   int      // seconds until window reset, for RATE_LIMITED
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("signer: validation failed: %s (%s)", e.Reason, strings.Join(e.Missing, ","))
	}
	return fmt.Sprintf("signer: validation failed: %s", e.Reason)
}

// Key is a stored API key. The raw key is never persisted; only its
// SHA-256 hash and display prefix survive issuance.
type Key struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	OwnerID     string     `json:"owner_id"`
	KeyHash     string     `json:"keyHash"`
	KeyPrefix   string     `json:"keyPrefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rateLimit"` // requests per hour
	UsageCount  int64      `json:"usageCount"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// HasPermission reports whether the key carries the permission.
func (k *Key) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// KeyStore abstracts key persistence. Keys are never deleted, only revoked.
type KeyStore interface {
	GetKeyByHash(ctx context.Context, hash string) (*Key, error)
	PutKey(ctx context.Context, k *Key) error
	RecordKeyUsage(ctx context.Context, id string, at time.Time) error
	ListKeys(ctx context.Context, ownerID string) ([]*Key, error)
}

// Authority owns the ApiKey lifecycle: issuance, validation, revocation.
type Authority struct {
	store   KeyStore
	limiter kernel.LimiterStore
	clock   func() time.Time
}

// NewAuthority creates a key authority. The limiter enforces the per-key
// hourly window; pass a Redis-backed store for multi-instance deployments.
func NewAuthority(store KeyStore, limiter kernel.LimiterStore) *Authority {
	return &Authority{store: store, limiter: limiter, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (a *Authority) WithClock(clock func() time.Time) *Authority {
	a.clock = clock
	return a
}

// Issue mints a new key. The raw key is returned exactly once and never
// stored.
func (a *Authority) Issue(ctx context.Context, ownerID, name string, permissions []string, rateLimit int, expiresAt *time.Time) (*Key, string, error) {
	raw, err := generateRawKey()
	if err != nil {
		return nil, "", err
	}

	k := &Key{
		ID:          uuid.New().String(),
		Name:        name,
		OwnerID:     ownerID,
		KeyHash:     HashKey(raw),
		KeyPrefix:   KeyPrefix(raw),
		Permissions: permissions,
		RateLimit:   rateLimit,
		Status:      StatusActive,
		ExpiresAt:   expiresAt,
		CreatedAt:   a.clock().UTC(),
	}
	if err := a.store.PutKey(ctx, k); err != nil {
		return nil, "", err
	}
	return k, raw, nil
}

// Revoke marks a key revoked. The record stays for the audit trail.
func (a *Authority) Revoke(ctx context.Context, k *Key) error {
	k.Status = StatusRevoked
	return a.store.PutKey(ctx, k)
}

// Keys lists the owner's keys, most recent first per the store's order.
func (a *Authority) Keys(ctx context.Context, ownerID string) ([]*Key, error) {
	return a.store.ListKeys(ctx, ownerID)
}

// Validate checks a presented raw key against the packet's operation tree.
// Usage is incremented only when every check passes.
func (a *Authority) Validate(ctx context.Context, rawKey string, ops []Operation) (*Key, error) {
	if !strings.HasPrefix(rawKey, ProductPrefix) || len(rawKey) != len(ProductPrefix)+rawKeyLen {
		return nil, &ValidationError{Reason: ReasonInvalidFormat}
	}

	k, err := a.store.GetKeyByHash(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, &ValidationError{Reason: ReasonNotFound}
		}
		return nil, fmt.Errorf("signer: key lookup: %w", err)
	}

	now := a.clock()
	if k.Status != StatusActive {
		return nil, &ValidationError{Reason: ReasonRevoked}
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return nil, &ValidationError{Reason: ReasonExpired}
	}

	// Conservative rolling-day cap on top of the hourly window.
	if k.RateLimit > 0 && k.UsageCount >= int64(k.RateLimit)*24 {
		return nil, &ValidationError{Reason: ReasonRateLimited, Reset: 3600}
	}
	if k.RateLimit > 0 && a.limiter != nil {
		allowed, reset, err := a.limiter.Allow(ctx, "key:"+k.ID,
			kernel.WindowPolicy{Limit: k.RateLimit, Window: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("signer: rate limiter: %w", err)
		}
		if !allowed {
			return nil, &ValidationError{Reason: ReasonRateLimited, Reset: reset}
		}
	}

	var missing []string
	for _, perm := range RequiredPermissions(ops) {
		if !k.HasPermission(perm) {
			missing = append(missing, perm)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Reason: ReasonMissingPermissions, Missing: missing}
	}

	if err := a.store.RecordKeyUsage(ctx, k.ID, now); err != nil {
		return nil, fmt.Errorf("signer: record usage: %w", err)
	}
	k.UsageCount++
	used := now
	k.LastUsedAt = &used
	return k, nil
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// KeyPrefix is the display form of a key: first 12 characters plus ellipsis.
func KeyPrefix(raw string) string {
	if len(raw) <= 12 {
		return raw
	}
	return raw[:12] + "..."
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func generateRawKey() (string, error) {
	buf := make([]byte, rawKeyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("signer: key generation: %w", err)
	}
	out := make([]byte, rawKeyLen)
	for i, b := range buf {
		out[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return ProductPrefix + string(out), nil
}
