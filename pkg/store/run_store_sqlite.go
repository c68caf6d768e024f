package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/runs"
)

type SQLiteRunStore struct {
	db *sql.DB
}

func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL,
        input_command TEXT NOT NULL,
        compiled_codes JSON,
        intent_packet TEXT NOT NULL,
        detokenized_steps JSON,
        complexity REAL NOT NULL,
        standard_cap INTEGER NOT NULL,
        ucp_cap INTEGER NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_runs_owner_created ON runs(owner_id, created_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const runColumns = `id, owner_id, input_command, compiled_codes, intent_packet, detokenized_steps, complexity, standard_cap, ucp_cap, created_at`

func (s *SQLiteRunStore) InsertRun(ctx context.Context, r *runs.Record) error {
	codesJSON, _ := json.Marshal(r.CompiledCodes)
	stepsJSON, _ := json.Marshal(r.DetokenizedSteps)

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OwnerID, r.InputCommand, string(codesJSON), r.IntentPacket,
		string(stepsJSON), r.Complexity, r.StandardCap, r.UCPCap, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*runs.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRunRow(row)
	if err == sql.ErrNoRows {
		return nil, runs.ErrRunNotFound
	}
	return rec, err
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context, ownerID string, limit, offset int) ([]*runs.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*runs.Record
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(row rowScanner) (*runs.Record, error) {
	var (
		rec       runs.Record
		codesJSON sql.NullString
		stepsJSON sql.NullString
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.InputCommand, &codesJSON, &rec.IntentPacket,
		&stepsJSON, &rec.Complexity, &rec.StandardCap, &rec.UCPCap, &createdAt)
	if err != nil {
		return nil, err
	}
	if codesJSON.Valid && codesJSON.String != "" {
		_ = json.Unmarshal([]byte(codesJSON.String), &rec.CompiledCodes)
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		var steps []dictionary.SanitizedStep
		_ = json.Unmarshal([]byte(stepsJSON.String), &steps)
		rec.DetokenizedSteps = steps
	}
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}
