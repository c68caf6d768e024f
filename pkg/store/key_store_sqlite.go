package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/signer"
)

// SQLiteKeyStore implements signer.KeyStore. Rows are never deleted;
// revocation is a status flip so the audit trail survives.
type SQLiteKeyStore struct {
	db *sql.DB
}

func NewSQLiteKeyStore(db *sql.DB) (*SQLiteKeyStore, error) {
	s := &SQLiteKeyStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKeyStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS api_keys (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        owner_id TEXT NOT NULL,
        key_hash TEXT NOT NULL UNIQUE,
        key_prefix TEXT NOT NULL,
        permissions JSON,
        rate_limit INTEGER NOT NULL DEFAULT 0,
        usage_count INTEGER NOT NULL DEFAULT 0,
        last_used_at DATETIME,
        status TEXT NOT NULL,
        expires_at DATETIME,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const keyColumns = `id, name, owner_id, key_hash, key_prefix, permissions, rate_limit, usage_count, last_used_at, status, expires_at, created_at`

func (s *SQLiteKeyStore) GetKeyByHash(ctx context.Context, hash string) (*signer.Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanKeyRow(row)
	if err == sql.ErrNoRows {
		return nil, signer.ErrKeyNotFound
	}
	return k, err
}

// PutKey upserts on id. Issuance inserts; revocation and other status
// changes update in place.
func (s *SQLiteKeyStore) PutKey(ctx context.Context, k *signer.Key) error {
	permsJSON, _ := json.Marshal(k.Permissions)
	query := `INSERT INTO api_keys (` + keyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            permissions = excluded.permissions,
            rate_limit = excluded.rate_limit,
            status = excluded.status,
            expires_at = excluded.expires_at`
	_, err := s.db.ExecContext(ctx, query,
		k.ID, k.Name, k.OwnerID, k.KeyHash, k.KeyPrefix, string(permsJSON),
		k.RateLimit, k.UsageCount, nullableTime(k.LastUsedAt), k.Status,
		nullableTime(k.ExpiresAt), formatTime(k.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: put key: %w", err)
	}
	return nil
}

func (s *SQLiteKeyStore) RecordKeyUsage(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("store: record key usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return signer.ErrKeyNotFound
	}
	return nil
}

func (s *SQLiteKeyStore) ListKeys(ctx context.Context, ownerID string) ([]*signer.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*signer.Key
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanKeyRow(row rowScanner) (*signer.Key, error) {
	var (
		k          signer.Key
		permsJSON  sql.NullString
		lastUsedAt sql.NullString
		expiresAt  sql.NullString
		createdAt  string
	)
	err := row.Scan(&k.ID, &k.Name, &k.OwnerID, &k.KeyHash, &k.KeyPrefix, &permsJSON,
		&k.RateLimit, &k.UsageCount, &lastUsedAt, &k.Status, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if permsJSON.Valid && permsJSON.String != "" {
		_ = json.Unmarshal([]byte(permsJSON.String), &k.Permissions)
	}
	if lastUsedAt.Valid && lastUsedAt.String != "" {
		t := parseTime(lastUsedAt.String)
		k.LastUsedAt = &t
	}
	if expiresAt.Valid && expiresAt.String != "" {
		t := parseTime(expiresAt.String)
		k.ExpiresAt = &t
	}
	k.CreatedAt = parseTime(createdAt)
	return &k, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
