package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/glytch-labs/ucp/core/pkg/dictionary"
)

// PostgresDictionaryStore implements dictionary.Store on Postgres.
type PostgresDictionaryStore struct {
	db *sql.DB
}

func NewPostgresDictionaryStore(db *sql.DB) (*PostgresDictionaryStore, error) {
	s := &PostgresDictionaryStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresDictionaryStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS dictionary_entries (
        id TEXT PRIMARY KEY,
        code TEXT NOT NULL,
        category TEXT NOT NULL,
        steps JSONB,
        version INTEGER NOT NULL DEFAULT 1,
        examples JSONB,
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        audit_log JSONB
    );
    CREATE INDEX IF NOT EXISTS idx_dictionary_code ON dictionary_entries(code);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresDictionaryStore) ListEntries(ctx context.Context) ([]*dictionary.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM dictionary_entries ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*dictionary.Entry
	for rows.Next() {
		e, err := scanEntryRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresDictionaryStore) GetEntry(ctx context.Context, id string) (*dictionary.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM dictionary_entries WHERE id = $1`, id)
	e, err := scanEntryRowPG(row)
	if err == sql.ErrNoRows {
		return nil, dictionary.ErrNotFound
	}
	return e, err
}

func (s *PostgresDictionaryStore) GetEntryByCode(ctx context.Context, code string) (*dictionary.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM dictionary_entries WHERE code = $1 ORDER BY version DESC LIMIT 1`, code)
	e, err := scanEntryRowPG(row)
	if err == sql.ErrNoRows {
		return nil, dictionary.ErrNotFound
	}
	return e, err
}

func (s *PostgresDictionaryStore) PutEntry(ctx context.Context, e *dictionary.Entry) error {
	stepsJSON, _ := json.Marshal(e.Steps)
	examplesJSON, _ := json.Marshal(e.Examples)
	auditJSON, _ := json.Marshal(e.AuditLog)

	query := `INSERT INTO dictionary_entries (` + entryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT(id) DO UPDATE SET
            code = excluded.code,
            category = excluded.category,
            steps = excluded.steps,
            version = excluded.version,
            examples = excluded.examples,
            is_active = excluded.is_active,
            audit_log = excluded.audit_log`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Code, string(e.Category), string(stepsJSON), e.Version,
		string(examplesJSON), e.Active, string(auditJSON),
	)
	if err != nil {
		return fmt.Errorf("store: put dictionary entry: %w", err)
	}
	return nil
}

func scanEntryRowPG(row rowScanner) (*dictionary.Entry, error) {
	var (
		e            dictionary.Entry
		category     string
		stepsJSON    sql.NullString
		examplesJSON sql.NullString
		auditJSON    sql.NullString
	)
	err := row.Scan(&e.ID, &e.Code, &category, &stepsJSON, &e.Version,
		&examplesJSON, &e.Active, &auditJSON)
	if err != nil {
		return nil, err
	}
	e.Category = dictionary.Category(category)
	if stepsJSON.Valid && stepsJSON.String != "" {
		_ = json.Unmarshal([]byte(stepsJSON.String), &e.Steps)
	}
	if examplesJSON.Valid && examplesJSON.String != "" {
		_ = json.Unmarshal([]byte(examplesJSON.String), &e.Examples)
	}
	if auditJSON.Valid && auditJSON.String != "" {
		_ = json.Unmarshal([]byte(auditJSON.String), &e.AuditLog)
	}
	return &e, nil
}
