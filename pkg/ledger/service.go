package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store abstracts session/hop persistence. Implementations live in
// pkg/store. DeleteSession must remove hops before the session row.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendHop(ctx context.Context, h *Hop) error
	ListHops(ctx context.Context, sessionID string) ([]*Hop, error)
	GetHop(ctx context.Context, sessionID string, hopIndex int) (*Hop, error)
}

// Caller identifies who is asking. Admin callers may access any session.
type Caller struct {
	ID    string
	Admin bool
}

// Service owns the Session/Hop lifecycle. Hop-index assignment is
// serialized per session, so concurrent appends never produce duplicate
// indices.
type Service struct {
	store         Store
	contextWindow int
	clock         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a ledger service. contextWindow feeds hop scoring;
// zero means the 4096 default.
func NewService(store Store, contextWindow int) *Service {
	return &Service{
		store:         store,
		contextWindow: contextWindow,
		clock:         time.Now,
		locks:         make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Start opens a new session seeded at the genesis hash.
func (s *Service) Start(ctx context.Context, ownerID string, replay *ReplayData) (*Session, error) {
	now := s.clock().UTC()
	sess := &Session{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Status:     StatusCompiling,
		ChainHash:  GenesisHash,
		ReplayData: replay,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("ledger: create session: %w", err)
	}
	return sess, nil
}

// Append writes one hop and advances the session chain. The hop hash
// incorporates the previous hash and the new content.
func (s *Service) Append(ctx context.Context, sessionID, hopType, content string, tokensIn, tokensOut int, latencyMS int64, costEstimate float64) (*Hop, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	score, breakdown := ScoreHop(hopType, content, tokensIn, tokensOut, latencyMS, s.contextWindow)
	hop := &Hop{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		HopIndex:       sess.HopCount,
		HopType:        hopType,
		Content:        content,
		TokensIn:       tokensIn,
		TokensOut:      tokensOut,
		LatencyMS:      latencyMS,
		Score:          score,
		ScoreBreakdown: breakdown,
		Hash:           ChainHash(sess.ChainHash, content),
		PrevHash:       sess.ChainHash,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.store.AppendHop(ctx, hop); err != nil {
		return nil, fmt.Errorf("ledger: append hop: %w", err)
	}

	sess.HopCount++
	sess.ChainHash = hop.Hash
	sess.TotalTokens += tokensIn + tokensOut
	sess.TotalLatencyMS += latencyMS
	sess.TotalCostEstimate += costEstimate
	sess.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("ledger: update session: %w", err)
	}
	return hop, nil
}

// Finish marks the session's terminal status.
func (s *Service) Finish(ctx context.Context, sessionID, status string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.UpdatedAt = s.clock().UTC()
	return s.store.UpdateSession(ctx, sess)
}

func (s *Service) authorize(sess *Session, caller Caller) error {
	if caller.Admin || sess.OwnerID == caller.ID {
		return nil
	}
	return ErrNotOwner
}

// Get returns a session with its hops sorted by index.
func (s *Service) Get(ctx context.Context, caller Caller, sessionID string) (*Session, []*Hop, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(sess, caller); err != nil {
		return nil, nil, err
	}
	hops, err := s.store.ListHops(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, hops, nil
}

// HopContent returns one hop's immutable content snapshot.
func (s *Service) HopContent(ctx context.Context, caller Caller, sessionID string, hopIndex int) (*Hop, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(sess, caller); err != nil {
		return nil, err
	}
	return s.store.GetHop(ctx, sessionID, hopIndex)
}

// List returns the caller's sessions, most recent first.
func (s *Service) List(ctx context.Context, caller Caller, limit, offset int) ([]*Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListSessions(ctx, caller.ID, limit, offset)
}

// Delete removes a session and its hops, owner-or-admin only.
func (s *Service) Delete(ctx context.Context, caller Caller, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.authorize(sess, caller); err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// Replay returns the original-input snapshot tagged with the session id and
// chain hash for provenance.
func (s *Service) Replay(ctx context.Context, caller Caller, sessionID string) (*ReplaySnapshot, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(sess, caller); err != nil {
		return nil, err
	}
	if sess.ReplayData == nil {
		return nil, fmt.Errorf("%w: session has no replay data", ErrHopNotFound)
	}
	return &ReplaySnapshot{
		SessionID: sess.ID,
		ChainHash: sess.ChainHash,
		Replay:    *sess.ReplayData,
	}, nil
}

// Stats aggregates token, cost, latency, and score averages over the
// caller's sessions.
func (s *Service) Stats(ctx context.Context, caller Caller) (*Stats, error) {
	sessions, err := s.store.ListSessions(ctx, caller.ID, 100, 0)
	if err != nil {
		return nil, err
	}

	st := &Stats{SessionCount: len(sessions)}
	var latencies int64
	var scoreSum, scoreCount int
	intact := 0
	for _, sess := range sessions {
		st.TotalTokens += sess.TotalTokens
		st.TotalCost += sess.TotalCostEstimate
		latencies += sess.TotalLatencyMS
		if st.LastActivityAt == nil || sess.UpdatedAt.After(*st.LastActivityAt) {
			t := sess.UpdatedAt
			st.LastActivityAt = &t
		}

		hops, err := s.store.ListHops(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		st.TotalHops += len(hops)
		for _, h := range hops {
			scoreSum += h.Score
			scoreCount++
		}
		if ok, _ := VerifyChain(hops, sess.ChainHash); ok {
			intact++
		}
	}

	if len(sessions) > 0 {
		st.AvgLatencyMS = float64(latencies) / float64(len(sessions))
		st.ChainIntactPct = float64(intact) / float64(len(sessions)) * 100
	}
	if scoreCount > 0 {
		st.AvgHopScore = float64(scoreSum) / float64(scoreCount)
	}
	return st, nil
}

// VerifyChain recomputes the hash chain over hops sorted by index and
// checks it terminates at the expected head.
func VerifyChain(hops []*Hop, expectedHead string) (bool, string) {
	prev := GenesisHash
	for i, h := range hops {
		if h.HopIndex != i {
			return false, fmt.Sprintf("hop index gap at %d", i)
		}
		if h.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at hop %d", i)
		}
		if ChainHash(prev, h.Content) != h.Hash {
			return false, fmt.Sprintf("hash mismatch at hop %d", i)
		}
		prev = h.Hash
	}
	if len(hops) > 0 && prev != expectedHead {
		return false, "head hash does not match session chain_hash"
	}
	return true, "chain verified"
}
