package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/signer"
)

// PostgresKeyStore implements signer.KeyStore on Postgres.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) (*PostgresKeyStore, error) {
	s := &PostgresKeyStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresKeyStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS api_keys (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        owner_id TEXT NOT NULL,
        key_hash TEXT NOT NULL UNIQUE,
        key_prefix TEXT NOT NULL,
        permissions JSONB,
        rate_limit INTEGER NOT NULL DEFAULT 0,
        usage_count BIGINT NOT NULL DEFAULT 0,
        last_used_at TIMESTAMPTZ,
        status TEXT NOT NULL,
        expires_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresKeyStore) GetKeyByHash(ctx context.Context, hash string) (*signer.Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	k, err := scanKeyRowPG(row)
	if err == sql.ErrNoRows {
		return nil, signer.ErrKeyNotFound
	}
	return k, err
}

func (s *PostgresKeyStore) PutKey(ctx context.Context, k *signer.Key) error {
	permsJSON, _ := json.Marshal(k.Permissions)
	query := `INSERT INTO api_keys (` + keyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            permissions = excluded.permissions,
            rate_limit = excluded.rate_limit,
            status = excluded.status,
            expires_at = excluded.expires_at`
	_, err := s.db.ExecContext(ctx, query,
		k.ID, k.Name, k.OwnerID, k.KeyHash, k.KeyPrefix, string(permsJSON),
		k.RateLimit, k.UsageCount, k.LastUsedAt, k.Status,
		k.ExpiresAt, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: put key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) RecordKeyUsage(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("store: record key usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return signer.ErrKeyNotFound
	}
	return nil
}

func (s *PostgresKeyStore) ListKeys(ctx context.Context, ownerID string) ([]*signer.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*signer.Key
	for rows.Next() {
		k, err := scanKeyRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanKeyRowPG(row rowScanner) (*signer.Key, error) {
	var (
		k          signer.Key
		permsJSON  sql.NullString
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(&k.ID, &k.Name, &k.OwnerID, &k.KeyHash, &k.KeyPrefix, &permsJSON,
		&k.RateLimit, &k.UsageCount, &lastUsedAt, &k.Status, &expiresAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	if permsJSON.Valid && permsJSON.String != "" {
		_ = json.Unmarshal([]byte(permsJSON.String), &k.Permissions)
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}
