package dictionary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store abstracts dictionary persistence. Implementations live in pkg/store.
type Store interface {
	ListEntries(ctx context.Context) ([]*Entry, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
	GetEntryByCode(ctx context.Context, code string) (*Entry, error)
	PutEntry(ctx context.Context, e *Entry) error
}

// Service is the administrative path for dictionary mutation. Request
// processing reads only the immutable Dictionary snapshot.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService creates a dictionary admin service.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// List returns all entries, including inactive ones.
func (s *Service) List(ctx context.Context) ([]*Entry, error) {
	return s.store.ListEntries(ctx)
}

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// Snapshot builds the active read-only dictionary for request processing.
func (s *Service) Snapshot(ctx context.Context) (Dictionary, error) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("dictionary: snapshot: %w", err)
	}
	return Index(entries), nil
}

// Create adds a new entry at version 1. Duplicate codes are rejected.
func (s *Service) Create(ctx context.Context, e *Entry, actor string) (*Entry, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if existing, err := s.store.GetEntryByCode(ctx, e.Code); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, e.Code)
	}

	e.ID = uuid.New().String()
	e.Version = 1
	e.Active = true
	e.AuditLog = []AuditRecord{{Action: "created", By: actor, At: s.clock(), Version: 1}}
	if err := s.store.PutEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Update applies a patch as a new version of the entry.
func (s *Service) Update(ctx context.Context, id string, patch *Entry, actor string) (*Entry, error) {
	current, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	next.Version = current.Version + 1
	if patch.Category != "" {
		next.Category = patch.Category
	}
	if patch.Steps != nil {
		next.Steps = patch.Steps
	}
	if patch.Examples != nil {
		next.Examples = patch.Examples
	}
	if err := next.validate(); err != nil {
		return nil, err
	}
	next.AuditLog = append(next.AuditLog, AuditRecord{
		Action: "updated", By: actor, At: s.clock(), Version: next.Version,
	})

	if err := s.store.PutEntry(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Deactivate retires an entry. Compiled packets referencing the code will
// detokenize to noop steps from then on; the entry itself is never deleted.
func (s *Service) Deactivate(ctx context.Context, id, actor string) (*Entry, error) {
	current, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	next.Active = false
	next.Version = current.Version + 1
	next.AuditLog = append(next.AuditLog, AuditRecord{
		Action: "deactivated", By: actor, At: s.clock(), Version: next.Version,
	})

	if err := s.store.PutEntry(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Seed inserts the default entries that are missing. Returns how many were
// created.
func (s *Service) Seed(ctx context.Context, actor string) (int, error) {
	created := 0
	for _, def := range DefaultEntries() {
		if existing, err := s.store.GetEntryByCode(ctx, def.Code); err == nil && existing != nil {
			continue
		}
		if _, err := s.Create(ctx, def, actor); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// DefaultEntries is the stock dictionary shipped with a new deployment.
func DefaultEntries() []*Entry {
	return []*Entry{
		{
			Code: "SUM-1", Category: CategoryIntent,
			Steps:    []Step{{Action: "summarize", Target: "input_document"}},
			Examples: []string{"summarize this report", "give me a summary"},
		},
		{
			Code: "GEN-RPT", Category: CategoryIntent,
			Steps:    []Step{{Action: "generate", Target: "report"}},
			Examples: []string{"generate a summary report"},
		},
		{
			Code: "SND-EML", Category: CategoryTool,
			Steps:    []Step{{Action: "send", Target: "email", Params: map[string]any{"transport": "smtp"}}},
			Examples: []string{"email it to the team"},
		},
		{
			Code: "ANL-1", Category: CategoryIntent,
			Steps:    []Step{{Action: "analyze", Target: "dataset"}},
			Examples: []string{"analyze the Q3 sales data"},
		},
		{
			Code: "FMT-JSON", Category: CategoryConstraint,
			Steps: []Step{{Action: "format", Target: "json"}},
		},
		{
			Code: "SAFE-PII", Category: CategorySafety,
			Steps: []Step{{Action: "redact", Target: "pii"}},
		},
		{
			Code: "EXEC-SEQ", Category: CategoryExecution,
			Steps: []Step{{Action: "execute", Target: "sequential_plan"}},
		},
		{
			Code: "FB-RETRY", Category: CategoryFallback,
			Steps: []Step{{Action: "retry", Target: "previous_step", Params: map[string]any{"max_retries": 2}}},
		},
	}
}
