// Package store implements the Postgres-backed fallback path for the
// command catalog (§4.C) plus durable invocation log persistence.
//
// Two contract tables back the catalog fallback:
//
//	avap_bytecode(command_name PK, bytecode BYTEA, source_hash TEXT)
//	obex_dapl_functions(name PK, code TEXT, interface TEXT)
//
// avap_bytecode holds pre-packed, already-signed bytecode. When a lookup
// misses there, obex_dapl_functions holds the raw source and JSON
// interface description that the catalog client packs (via the HMAC
// packer) and upserts back into avap_bytecode, so later lookups for the
// same command are served pre-packed.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BytecodeRow is one row of the avap_bytecode fallback table.
type BytecodeRow struct {
	CommandName string
	Bytecode    []byte
	SourceHash  string
}

// FunctionRow is one row of the obex_dapl_functions fallback table: a
// command's raw source plus its JSON-encoded interface description.
type FunctionRow struct {
	Name      string
	Code      string
	Interface string
}

// InvocationLog is one durable record of a completed /api/v1/execute
// call, persisted to avap_invocation_logs.
type InvocationLog struct {
	ID         string
	RequestID  string
	ScriptHash string
	NodeCount  int
	DurationMs int64
	Success    bool
	Error      string
	Status     int
	CreatedAt  time.Time
}

// Store is the Postgres-backed fallback and invocation-log store.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against dsn, applying minConns/maxConns,
// and ensures the fallback schema exists.
func New(ctx context.Context, dsn string, minConns, maxConns int32) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &Store{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping verifies connectivity to Postgres.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("store: postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS avap_bytecode (
			command_name TEXT PRIMARY KEY,
			bytecode     BYTEA NOT NULL,
			source_hash  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS obex_dapl_functions (
			name      TEXT PRIMARY KEY,
			code      TEXT NOT NULL,
			interface TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS avap_invocation_logs (
			id          TEXT PRIMARY KEY,
			request_id  TEXT NOT NULL,
			script_hash TEXT NOT NULL,
			node_count  INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL,
			success     BOOLEAN NOT NULL DEFAULT TRUE,
			error_message TEXT,
			status      INTEGER NOT NULL DEFAULT 200,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_avap_invocation_logs_created_at ON avap_invocation_logs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_avap_invocation_logs_script_hash ON avap_invocation_logs(script_hash)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetBytecode returns the pre-packed bytecode row for name, if one exists.
func (s *Store) GetBytecode(ctx context.Context, name string) (*BytecodeRow, error) {
	row := BytecodeRow{CommandName: name}
	err := s.pool.QueryRow(ctx, `
		SELECT bytecode, source_hash FROM avap_bytecode WHERE command_name = $1
	`, name).Scan(&row.Bytecode, &row.SourceHash)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bytecode %s: %w", name, err)
	}
	return &row, nil
}

// UpsertBytecode writes (or replaces) the pre-packed bytecode row for a
// command, so future lookups skip the repack step.
func (s *Store) UpsertBytecode(ctx context.Context, row BytecodeRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO avap_bytecode (command_name, bytecode, source_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (command_name) DO UPDATE SET
			bytecode = EXCLUDED.bytecode,
			source_hash = EXCLUDED.source_hash
	`, row.CommandName, row.Bytecode, row.SourceHash)
	if err != nil {
		return fmt.Errorf("upsert bytecode %s: %w", row.CommandName, err)
	}
	return nil
}

// GetFunction returns the raw source + interface row for name, if one exists.
func (s *Store) GetFunction(ctx context.Context, name string) (*FunctionRow, error) {
	row := FunctionRow{Name: name}
	err := s.pool.QueryRow(ctx, `
		SELECT code, interface FROM obex_dapl_functions WHERE name = $1
	`, name).Scan(&row.Code, &row.Interface)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get function %s: %w", name, err)
	}
	return &row, nil
}

// ListFunctions returns every registered command's raw source row, used
// by sync_full's DB-fallback path when the Definition Engine is entirely
// unreachable at startup.
func (s *Store) ListFunctions(ctx context.Context) ([]FunctionRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, code, interface FROM obex_dapl_functions`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var out []FunctionRow
	for rows.Next() {
		var r FunctionRow
		if err := rows.Scan(&r.Name, &r.Code, &r.Interface); err != nil {
			return nil, fmt.Errorf("scan function row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveInvocationLog persists a single invocation log entry.
func (s *Store) SaveInvocationLog(ctx context.Context, log *InvocationLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO avap_invocation_logs
			(id, request_id, script_hash, node_count, duration_ms, success, error_message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, log.ID, log.RequestID, log.ScriptHash, log.NodeCount, log.DurationMs, log.Success, log.Error, log.Status, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("save invocation log: %w", err)
	}
	return nil
}

// SaveInvocationLogs persists a batch of invocation log entries in a
// single round trip using pgx's batch API.
func (s *Store) SaveInvocationLogs(ctx context.Context, logs []*InvocationLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		batch.Queue(`
			INSERT INTO avap_invocation_logs
				(id, request_id, script_hash, node_count, duration_ms, success, error_message, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, log.ID, log.RequestID, log.ScriptHash, log.NodeCount, log.DurationMs, log.Success, log.Error, log.Status, log.CreatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save invocation log batch: %w", err)
		}
	}
	return nil
}

// ListInvocationLogs returns the most recent invocation logs, newest first.
func (s *Store) ListInvocationLogs(ctx context.Context, limit int) ([]*InvocationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, script_hash, node_count, duration_ms, success, error_message, status, created_at
		FROM avap_invocation_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocation logs: %w", err)
	}
	defer rows.Close()

	var out []*InvocationLog
	for rows.Next() {
		var l InvocationLog
		var errMsg *string
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ScriptHash, &l.NodeCount, &l.DurationMs, &l.Success, &errMsg, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation log: %w", err)
		}
		if errMsg != nil {
			l.Error = *errMsg
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
