package dictionary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory Store for tests.
type memStore struct {
	byID map[string]*Entry
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*Entry)}
}

func (m *memStore) ListEntries(ctx context.Context) ([]*Entry, error) {
	out := make([]*Entry, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) GetEntry(ctx context.Context, id string) (*Entry, error) {
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *memStore) GetEntryByCode(ctx context.Context, code string) (*Entry, error) {
	for _, e := range m.byID {
		if e.Code == code {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) PutEntry(ctx context.Context, e *Entry) error {
	cp := *e
	m.byID[e.ID] = &cp
	return nil
}

func TestDetokenizeSanitizesParams(t *testing.T) {
	dict := Dictionary{
		"SND-EML": {
			Code: "SND-EML", Active: true,
			Steps: []Step{{Action: "send", Target: "email", Params: map[string]any{"smtp_host": "internal"}}},
		},
	}

	results := Detokenize([]string{"SND-EML"}, dict)
	require.Len(t, results, 1)
	assert.Equal(t, SanitizedStep{Action: "send", Target: "email", From: "SND-EML"}, results[0].Step)
	assert.Nil(t, results[0].Warning)
}

func TestDetokenizeMissingCodeDegrades(t *testing.T) {
	results := Detokenize([]string{"GONE-1"}, Dictionary{})
	require.Len(t, results, 1)
	assert.Equal(t, "noop", results[0].Step.Action)
	assert.Equal(t, "dictionary", results[0].Step.Target)
	assert.Equal(t, "GONE-1", results[0].Step.From)
	require.NotNil(t, results[0].Warning)
	assert.Equal(t, "GONE-1", results[0].Warning.Code)

	warnings := Warnings(results)
	require.Len(t, warnings, 1)
}

func TestDetokenizeStable(t *testing.T) {
	entries := DefaultEntries()
	for _, e := range entries {
		e.Active = true
		e.Version = 1
	}
	dict := Index(entries)
	codes := []string{"SUM-1", "GEN-RPT", "MISSING"}

	first := Detokenize(codes, dict)
	second := Detokenize(codes, dict)
	assert.Equal(t, first, second)
}

func TestServiceCreateRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, &Entry{Code: "SUM-1", Category: CategoryIntent}, "admin@test")
	require.NoError(t, err)

	_, err = svc.Create(ctx, &Entry{Code: "SUM-1", Category: CategoryIntent}, "admin@test")
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestServiceCreateValidates(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, &Entry{Code: "X"}, "admin@test")
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.Create(ctx, &Entry{Code: "X", Category: "bogus"}, "admin@test")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestServiceUpdateBumpsVersion(t *testing.T) {
	svc := NewService(newMemStore()).WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	})
	ctx := context.Background()

	created, err := svc.Create(ctx, &Entry{Code: "SUM-1", Category: CategoryIntent,
		Steps: []Step{{Action: "summarize", Target: "doc"}}}, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	updated, err := svc.Update(ctx, created.ID, &Entry{
		Steps: []Step{{Action: "summarize", Target: "document"}},
	}, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Len(t, updated.AuditLog, 2)
	assert.Equal(t, "updated", updated.AuditLog[1].Action)
}

func TestServiceDeactivateHidesFromSnapshot(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	created, err := svc.Create(ctx, &Entry{Code: "SUM-1", Category: CategoryIntent}, "admin@test")
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, created.ID, "admin@test")
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap["SUM-1"]
	assert.False(t, ok)
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	n, err := svc.Seed(ctx, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultEntries()), n)

	n, err = svc.Seed(ctx, "admin@test")
	require.NoError(t, err)
	assert.Zero(t, n)
}
