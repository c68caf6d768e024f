package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
	"github.com/glytch-labs/ucp/core/pkg/runs"
	"github.com/glytch-labs/ucp/core/pkg/signer"
)

func newMockRunStore(t *testing.T) (*SQLiteRunStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteRunStore(db)
	require.NoError(t, err)
	return s, mock, func() { _ = db.Close() }
}

func TestRunStoreInsert(t *testing.T) {
	s, mock, done := newMockRunStore(t)
	defer done()

	rec := &runs.Record{
		ID:            "run-1",
		OwnerID:       "user-1",
		InputCommand:  "summarize the report",
		CompiledCodes: []string{"SUM-1"},
		IntentPacket:  "UCP::EXEC::[SUM-1]",
		Complexity:    0.4,
		StandardCap:   870,
		UCPCap:        44,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(rec.ID, rec.OwnerID, rec.InputCommand, `["SUM-1"]`, rec.IntentPacket,
			"null", rec.Complexity, rec.StandardCap, rec.UCPCap, "2025-06-01T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.InsertRun(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetNotFound(t *testing.T) {
	s, mock, done := newMockRunStore(t)
	defer done()

	mock.ExpectQuery("SELECT .+ FROM runs WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
}

func TestRunStoreListScansRows(t *testing.T) {
	s, mock, done := newMockRunStore(t)
	defer done()

	cols := []string{"id", "owner_id", "input_command", "compiled_codes", "intent_packet",
		"detokenized_steps", "complexity", "standard_cap", "ucp_cap", "created_at"}
	mock.ExpectQuery("SELECT .+ FROM runs WHERE owner_id").
		WithArgs("user-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-2", "user-1", "send email", `["SND-EML"]`, "UCP::EXEC::[SND-EML]",
				`[{"action":"compose","target":"email","from":"dictionary"}]`, 0.5, 925, 48, "2025-06-02T09:00:00Z").
			AddRow("run-1", "user-1", "summarize", `["SUM-1"]`, "UCP::EXEC::[SUM-1]",
				`[]`, 0.3, 815, 40, "2025-06-01T12:00:00Z"))

	out, err := s.ListRuns(context.Background(), "user-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"SND-EML"}, out[0].CompiledCodes)
	assert.Equal(t, dictionary.SanitizedStep{Action: "compose", Target: "email", From: "dictionary"},
		out[0].DetokenizedSteps[0])
	assert.Equal(t, 2025, out[1].CreatedAt.Year())
}

func TestKeyStoreRecordUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteKeyStore(db)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE api_keys SET usage_count = usage_count").
		WithArgs("2025-06-01T12:00:00Z", "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RecordKeyUsage(context.Background(), "key-1", at))

	// No matching row surfaces as a not-found error.
	mock.ExpectExec("UPDATE api_keys SET usage_count = usage_count").
		WithArgs("2025-06-01T12:00:00Z", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.RecordKeyUsage(context.Background(), "ghost", at), signer.ErrKeyNotFound)
}

func TestKeyStoreGetByHashNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteKeyStore(db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM api_keys WHERE key_hash").
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = s.GetKeyByHash(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, signer.ErrKeyNotFound)
}

func TestLedgerStoreUpdateMissingSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteLedgerStore(db)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE sessions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sess := &ledger.Session{ID: "ghost", Status: ledger.StatusCompiling, ChainHash: ledger.GenesisHash}
	assert.ErrorIs(t, s.UpdateSession(context.Background(), sess), ledger.ErrSessionNotFound)
}
