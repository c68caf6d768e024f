package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/glytch-labs/ucp/core/pkg/dictionary"
)

// SQLiteDictionaryStore implements dictionary.Store.
type SQLiteDictionaryStore struct {
	db *sql.DB
}

func NewSQLiteDictionaryStore(db *sql.DB) (*SQLiteDictionaryStore, error) {
	s := &SQLiteDictionaryStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDictionaryStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS dictionary_entries (
        id TEXT PRIMARY KEY,
        code TEXT NOT NULL,
        category TEXT NOT NULL,
        steps JSON,
        version INTEGER NOT NULL DEFAULT 1,
        examples JSON,
        is_active INTEGER NOT NULL DEFAULT 1,
        audit_log JSON
    );
    CREATE INDEX IF NOT EXISTS idx_dictionary_code ON dictionary_entries(code);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const entryColumns = `id, code, category, steps, version, examples, is_active, audit_log`

func (s *SQLiteDictionaryStore) ListEntries(ctx context.Context) ([]*dictionary.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM dictionary_entries ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*dictionary.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteDictionaryStore) GetEntry(ctx context.Context, id string) (*dictionary.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM dictionary_entries WHERE id = ?`, id)
	e, err := scanEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, dictionary.ErrNotFound
	}
	return e, err
}

func (s *SQLiteDictionaryStore) GetEntryByCode(ctx context.Context, code string) (*dictionary.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM dictionary_entries WHERE code = ? ORDER BY version DESC LIMIT 1`, code)
	e, err := scanEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, dictionary.ErrNotFound
	}
	return e, err
}

func (s *SQLiteDictionaryStore) PutEntry(ctx context.Context, e *dictionary.Entry) error {
	stepsJSON, _ := json.Marshal(e.Steps)
	examplesJSON, _ := json.Marshal(e.Examples)
	auditJSON, _ := json.Marshal(e.AuditLog)

	query := `INSERT INTO dictionary_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
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
		string(examplesJSON), boolToInt(e.Active), string(auditJSON),
	)
	if err != nil {
		return fmt.Errorf("store: put dictionary entry: %w", err)
	}
	return nil
}

func scanEntryRow(row rowScanner) (*dictionary.Entry, error) {
	var (
		e            dictionary.Entry
		category     string
		stepsJSON    sql.NullString
		examplesJSON sql.NullString
		auditJSON    sql.NullString
		active       int
	)
	err := row.Scan(&e.ID, &e.Code, &category, &stepsJSON, &e.Version,
		&examplesJSON, &active, &auditJSON)
	if err != nil {
		return nil, err
	}
	e.Category = dictionary.Category(category)
	e.Active = active != 0
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
