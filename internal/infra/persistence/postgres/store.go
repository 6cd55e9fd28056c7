// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while snapshotting state and ledger blocks into JSONB tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"growpod/internal/infra/persistence/memory"
	"growpod/internal/ledger"
	"growpod/pkg/domain"
)

// Compile-time contract assertions ensuring the store satisfies the domain and ledger interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ ledger.BlockStore      = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/growpod?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		number BIGINT PRIMARY KEY,
		hash TEXT NOT NULL,
		payload JSONB NOT NULL
	)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to DefaultDSN).
// It ensures the state and blocks tables exist and hydrates the in-memory
// store from any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	snapshot, found, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots to Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := snapshot.Buckets()
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	buckets := snapshot.Buckets()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.BucketNames() {
		data, err := json.Marshal(buckets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// AppendBlock inserts b into the blocks table.
func (s *Store) AppendBlock(ctx context.Context, b ledger.Block) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Number, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO blocks(number,hash,payload) VALUES($1,$2,$3)`, int64(b.Number), b.Hash, payload); err != nil {
		return fmt.Errorf("insert block %d: %w", b.Number, err)
	}
	return nil
}

// LoadBlocks returns every stored block ordered by number.
func (s *Store) LoadBlocks(ctx context.Context) ([]ledger.Block, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM blocks ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("select blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ledger.Block
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		var b ledger.Block
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return out, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
