package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/ledger"
)

// PostgresLedgerStore implements ledger.Store on Postgres.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) (*PostgresLedgerStore, error) {
	s := &PostgresLedgerStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresLedgerStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL,
        status TEXT NOT NULL,
        chain_hash TEXT NOT NULL,
        hop_count INTEGER NOT NULL DEFAULT 0,
        total_tokens INTEGER NOT NULL DEFAULT 0,
        total_cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
        total_latency_ms BIGINT NOT NULL DEFAULT 0,
        replay_data JSONB,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, created_at DESC);

    CREATE TABLE IF NOT EXISTS hops (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        hop_index INTEGER NOT NULL,
        hop_type TEXT NOT NULL,
        content TEXT NOT NULL,
        tokens_in INTEGER NOT NULL DEFAULT 0,
        tokens_out INTEGER NOT NULL DEFAULT 0,
        latency_ms BIGINT NOT NULL DEFAULT 0,
        score INTEGER NOT NULL DEFAULT 0,
        score_breakdown JSONB,
        sha256_hash TEXT NOT NULL,
        prev_hash TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        UNIQUE(session_id, hop_index)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresLedgerStore) CreateSession(ctx context.Context, sess *ledger.Session) error {
	replayJSON, _ := json.Marshal(sess.ReplayData)
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.OwnerID, sess.Status, sess.ChainHash, sess.HopCount,
		sess.TotalTokens, sess.TotalCostEstimate, sess.TotalLatencyMS,
		string(replayJSON), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) GetSession(ctx context.Context, id string) (*ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSessionRowPG(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrSessionNotFound
	}
	return sess, err
}

func (s *PostgresLedgerStore) UpdateSession(ctx context.Context, sess *ledger.Session) error {
	replayJSON, _ := json.Marshal(sess.ReplayData)
	query := `UPDATE sessions SET status = $1, chain_hash = $2, hop_count = $3, total_tokens = $4,
        total_cost_estimate = $5, total_latency_ms = $6, replay_data = $7, updated_at = $8
        WHERE id = $9`
	res, err := s.db.ExecContext(ctx, query,
		sess.Status, sess.ChainHash, sess.HopCount, sess.TotalTokens,
		sess.TotalCostEstimate, sess.TotalLatencyMS, string(replayJSON),
		sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSessionNotFound
	}
	return nil
}

func (s *PostgresLedgerStore) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*ledger.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Session
	for rows.Next() {
		sess, err := scanSessionRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresLedgerStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hops WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("store: delete hops: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) AppendHop(ctx context.Context, h *ledger.Hop) error {
	bdJSON, _ := json.Marshal(h.ScoreBreakdown)
	query := `INSERT INTO hops (` + hopColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, query,
		h.ID, h.SessionID, h.HopIndex, h.HopType, h.Content,
		h.TokensIn, h.TokensOut, h.LatencyMS, h.Score, string(bdJSON),
		h.Hash, h.PrevHash, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert hop: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) ListHops(ctx context.Context, sessionID string) ([]*ledger.Hop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hopColumns+` FROM hops WHERE session_id = $1 ORDER BY hop_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Hop
	for rows.Next() {
		h, err := scanHopRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresLedgerStore) GetHop(ctx context.Context, sessionID string, hopIndex int) (*ledger.Hop, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hopColumns+` FROM hops WHERE session_id = $1 AND hop_index = $2`, sessionID, hopIndex)
	h, err := scanHopRowPG(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrHopNotFound
	}
	return h, err
}

func scanSessionRowPG(row rowScanner) (*ledger.Session, error) {
	var (
		sess       ledger.Session
		replayJSON sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Status, &sess.ChainHash, &sess.HopCount,
		&sess.TotalTokens, &sess.TotalCostEstimate, &sess.TotalLatencyMS,
		&replayJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if replayJSON.Valid && replayJSON.String != "" && replayJSON.String != "null" {
		var rd ledger.ReplayData
		if json.Unmarshal([]byte(replayJSON.String), &rd) == nil {
			sess.ReplayData = &rd
		}
	}
	sess.CreatedAt = createdAt
	sess.UpdatedAt = updatedAt
	return &sess, nil
}

func scanHopRowPG(row rowScanner) (*ledger.Hop, error) {
	var (
		h      ledger.Hop
		bdJSON sql.NullString
	)
	err := row.Scan(&h.ID, &h.SessionID, &h.HopIndex, &h.HopType, &h.Content,
		&h.TokensIn, &h.TokensOut, &h.LatencyMS, &h.Score, &bdJSON,
		&h.Hash, &h.PrevHash, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	if bdJSON.Valid && bdJSON.String != "" {
		_ = json.Unmarshal([]byte(bdJSON.String), &h.ScoreBreakdown)
	}
	return &h, nil
}
