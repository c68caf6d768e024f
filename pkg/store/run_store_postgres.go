package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/glytch-labs/ucp/core/pkg/runs"
)

// PostgresRunStore implements runs.Store on Postgres for multi-instance
// deployments.
type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(db *sql.DB) (*PostgresRunStore, error) {
	s := &PostgresRunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRunStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL,
        input_command TEXT NOT NULL,
        compiled_codes JSONB,
        intent_packet TEXT NOT NULL,
        detokenized_steps JSONB,
        complexity DOUBLE PRECISION NOT NULL,
        standard_cap INTEGER NOT NULL,
        ucp_cap INTEGER NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_runs_owner_created ON runs(owner_id, created_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresRunStore) InsertRun(ctx context.Context, r *runs.Record) error {
	codesJSON, _ := json.Marshal(r.CompiledCodes)
	stepsJSON, _ := json.Marshal(r.DetokenizedSteps)

	query := `INSERT INTO runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OwnerID, r.InputCommand, string(codesJSON), r.IntentPacket,
		string(stepsJSON), r.Complexity, r.StandardCap, r.UCPCap, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (*runs.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	rec, err := scanRunRowPG(row)
	if err == sql.ErrNoRows {
		return nil, runs.ErrRunNotFound
	}
	return rec, err
}

func (s *PostgresRunStore) ListRuns(ctx context.Context, ownerID string, limit, offset int) ([]*runs.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*runs.Record
	for rows.Next() {
		rec, err := scanRunRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanRunRowPG scans created_at as a native timestamp; lib/pq returns
// time.Time for TIMESTAMPTZ columns.
func scanRunRowPG(row rowScanner) (*runs.Record, error) {
	var (
		rec       runs.Record
		codesJSON sql.NullString
		stepsJSON sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.InputCommand, &codesJSON, &rec.IntentPacket,
		&stepsJSON, &rec.Complexity, &rec.StandardCap, &rec.UCPCap, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if codesJSON.Valid && codesJSON.String != "" {
		_ = json.Unmarshal([]byte(codesJSON.String), &rec.CompiledCodes)
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		_ = json.Unmarshal([]byte(stepsJSON.String), &rec.DetokenizedSteps)
	}
	return &rec, nil
}
