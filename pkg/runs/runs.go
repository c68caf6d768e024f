// Package runs persists compiled command packets. A record is created
// once per compile-and-store call and is immutable afterwards; later
// receipts reference it by id.
package runs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/estimator"
)

var ErrRunNotFound = errors.New("runs: record not found")

// Record is one persisted command packet.
type Record struct {
	ID               string                     `json:"id"`
	OwnerID          string                     `json:"owner_id"`
	InputCommand     string                     `json:"input_command"`
	CompiledCodes    []string                   `json:"compiled_codes"`
	IntentPacket     string                     `json:"intent_packet"`
	DetokenizedSteps []dictionary.SanitizedStep `json:"detokenized_steps"`
	Complexity       float64                    `json:"complexity"`
	StandardCap      int                        `json:"standard_cap"`
	UCPCap           int                        `json:"ucp_cap"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// Store abstracts record persistence. Records are never updated or
// deleted.
type Store interface {
	InsertRun(ctx context.Context, r *Record) error
	GetRun(ctx context.Context, id string) (*Record, error)
	ListRuns(ctx context.Context, ownerID string, limit, offset int) ([]*Record, error)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Service builds and serves run records.
type Service struct {
	store  Store
	params estimator.Params
	clock  func() time.Time
}

func NewService(store Store, params estimator.Params) *Service {
	return &Service{store: store, params: params, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create persists one compile result as an immutable record.
func (s *Service) Create(ctx context.Context, ownerID string, res *compiler.Result, steps []dictionary.SanitizedStep) (*Record, error) {
	std, ucp := s.params.Caps(res.Complexity)
	rec := &Record{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		InputCommand:     res.Input,
		CompiledCodes:    res.Codes,
		IntentPacket:     res.IntentPacket,
		DetokenizedSteps: steps,
		Complexity:       res.Complexity,
		StandardCap:      std,
		UCPCap:           ucp,
		CreatedAt:        s.clock().UTC(),
	}
	if err := s.store.InsertRun(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.GetRun(ctx, id)
}

// List pages the caller's records newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRuns(ctx, ownerID, limit, offset)
}
