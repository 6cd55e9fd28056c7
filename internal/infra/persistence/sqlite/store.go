// Package sqlite persists the registry and the ledger into a single SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"growpod/internal/infra/persistence/memory"
	"growpod/internal/ledger"
	"growpod/pkg/domain"
)

var (
	_ domain.PersistentStore = (*Store)(nil)
	_ ledger.BlockStore      = (*Store)(nil)
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "growpod.db"

const schema = `
CREATE TABLE IF NOT EXISTS state (
	bucket TEXT PRIMARY KEY,
	payload BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS blocks (
	number INTEGER PRIMARY KEY,
	hash TEXT NOT NULL,
	payload BLOB NOT NULL
);`

// Store persists the in-memory state to a SQLite table as JSON blobs. It
// snapshots the full state after every successful transaction and mirrors
// ledger blocks into an append-only table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer; serialising through one connection
	// avoids SQLITE_BUSY between snapshot and block writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := snapshot.Buckets()
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	buckets := snapshot.Buckets()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.BucketNames() {
		data, err := json.Marshal(buckets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// AppendBlock stores b. Block numbers are primary keys so a replayed block
// is rejected rather than overwritten.
func (s *Store) AppendBlock(ctx context.Context, b ledger.Block) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Number, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO blocks(number,hash,payload) VALUES(?,?,?)`, int64(b.Number), b.Hash, payload); err != nil {
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

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
