package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/glytch-labs/ucp/core/pkg/ledger"
)

// SQLiteLedgerStore implements ledger.Store. Hops are append-only; the
// schema has no UPDATE or DELETE path for them short of deleting the
// whole session.
type SQLiteLedgerStore struct {
	db *sql.DB
}

func NewSQLiteLedgerStore(db *sql.DB) (*SQLiteLedgerStore, error) {
	s := &SQLiteLedgerStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteLedgerStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL,
        status TEXT NOT NULL,
        chain_hash TEXT NOT NULL,
        hop_count INTEGER NOT NULL DEFAULT 0,
        total_tokens INTEGER NOT NULL DEFAULT 0,
        total_cost_estimate REAL NOT NULL DEFAULT 0,
        total_latency_ms INTEGER NOT NULL DEFAULT 0,
        replay_data JSON,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
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
        latency_ms INTEGER NOT NULL DEFAULT 0,
        score INTEGER NOT NULL DEFAULT 0,
        score_breakdown JSON,
        sha256_hash TEXT NOT NULL,
        prev_hash TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        UNIQUE(session_id, hop_index)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const sessionColumns = `id, owner_id, status, chain_hash, hop_count, total_tokens, total_cost_estimate, total_latency_ms, replay_data, created_at, updated_at`

func (s *SQLiteLedgerStore) CreateSession(ctx context.Context, sess *ledger.Session) error {
	replayJSON, _ := json.Marshal(sess.ReplayData)
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.OwnerID, sess.Status, sess.ChainHash, sess.HopCount,
		sess.TotalTokens, sess.TotalCostEstimate, sess.TotalLatencyMS,
		string(replayJSON), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

func (s *SQLiteLedgerStore) GetSession(ctx context.Context, id string) (*ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrSessionNotFound
	}
	return sess, err
}

func (s *SQLiteLedgerStore) UpdateSession(ctx context.Context, sess *ledger.Session) error {
	replayJSON, _ := json.Marshal(sess.ReplayData)
	query := `UPDATE sessions SET status = ?, chain_hash = ?, hop_count = ?, total_tokens = ?,
        total_cost_estimate = ?, total_latency_ms = ?, replay_data = ?, updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		sess.Status, sess.ChainHash, sess.HopCount, sess.TotalTokens,
		sess.TotalCostEstimate, sess.TotalLatencyMS, string(replayJSON),
		formatTime(sess.UpdatedAt), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteLedgerStore) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]*ledger.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteLedgerStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hops WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete hops: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

const hopColumns = `id, session_id, hop_index, hop_type, content, tokens_in, tokens_out, latency_ms, score, score_breakdown, sha256_hash, prev_hash, created_at`

func (s *SQLiteLedgerStore) AppendHop(ctx context.Context, h *ledger.Hop) error {
	bdJSON, _ := json.Marshal(h.ScoreBreakdown)
	query := `INSERT INTO hops (` + hopColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		h.ID, h.SessionID, h.HopIndex, h.HopType, h.Content,
		h.TokensIn, h.TokensOut, h.LatencyMS, h.Score, string(bdJSON),
		h.Hash, h.PrevHash, formatTime(h.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert hop: %w", err)
	}
	return nil
}

func (s *SQLiteLedgerStore) ListHops(ctx context.Context, sessionID string) ([]*ledger.Hop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hopColumns+` FROM hops WHERE session_id = ? ORDER BY hop_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Hop
	for rows.Next() {
		h, err := scanHopRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteLedgerStore) GetHop(ctx context.Context, sessionID string, hopIndex int) (*ledger.Hop, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hopColumns+` FROM hops WHERE session_id = ? AND hop_index = ?`, sessionID, hopIndex)
	h, err := scanHopRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrHopNotFound
	}
	return h, err
}

func scanSessionRow(row rowScanner) (*ledger.Session, error) {
	var (
		sess       ledger.Session
		replayJSON sql.NullString
		createdAt  string
		updatedAt  string
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
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func scanHopRow(row rowScanner) (*ledger.Hop, error) {
	var (
		h         ledger.Hop
		bdJSON    sql.NullString
		createdAt string
	)
	err := row.Scan(&h.ID, &h.SessionID, &h.HopIndex, &h.HopType, &h.Content,
		&h.TokensIn, &h.TokensOut, &h.LatencyMS, &h.Score, &bdJSON,
		&h.Hash, &h.PrevHash, &createdAt)
	if err != nil {
		return nil, err
	}
	if bdJSON.Valid && bdJSON.String != "" {
		_ = json.Unmarshal([]byte(bdJSON.String), &h.ScoreBreakdown)
	}
	h.CreatedAt = parseTime(createdAt)
	return &h, nil
}
