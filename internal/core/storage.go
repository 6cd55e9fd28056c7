package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"growpod/internal/config"
	"growpod/internal/environment"
	"growpod/internal/growth"
	"growpod/internal/infra/ledger/leveldb"
	"growpod/internal/infra/persistence/memory"
	"growpod/internal/infra/persistence/postgres"
	"growpod/internal/infra/persistence/sqlite"
	"growpod/internal/ledger"
	"growpod/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

// Registry backends.
const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// LedgerDriver identifies where ledger blocks are mirrored.
type LedgerDriver string

// Block store backends. SQLite and Postgres reuse the registry database
// settings.
const (
	LedgerMemory   LedgerDriver = "memory"
	LedgerLevelDB  LedgerDriver = "leveldb"
	LedgerSQLite   LedgerDriver = "sqlite"
	LedgerPostgres LedgerDriver = "postgres"
)

// Backend bundles the opened registry and block store.
type Backend struct {
	Store  domain.PersistentStore
	Blocks ledger.BlockStore
	closer []io.Closer
}

// Close releases every opened handle.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closer) - 1; i >= 0; i-- {
		errs = append(errs, b.closer[i].Close())
	}
	return errors.Join(errs...)
}

// OpenBackend opens the registry and block store selected by cfg. When the
// ledger shares the registry's database the same handle serves both.
func OpenBackend(ctx context.Context, cfg config.Config, engine *domain.RulesEngine) (*Backend, error) {
	b := &Backend{}
	fail := func(err error) (*Backend, error) {
		_ = b.Close()
		return nil, err
	}

	var sqliteStore *sqlite.Store
	var pgStore *postgres.Store
	openSQLite := func() (*sqlite.Store, error) {
		if sqliteStore != nil {
			return sqliteStore, nil
		}
		s, err := sqlite.NewStore(cfg.Storage.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, s)
		sqliteStore = s
		return s, nil
	}
	openPostgres := func() (*postgres.Store, error) {
		if pgStore != nil {
			return pgStore, nil
		}
		s, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, s)
		pgStore = s
		return s, nil
	}

	switch StorageDriver(cfg.Storage.Driver) {
	case StorageMemory, "":
		b.Store = memory.NewStore(engine)
	case StorageSQLite:
		s, err := openSQLite()
		if err != nil {
			return fail(err)
		}
		b.Store = s
	case StoragePostgres:
		s, err := openPostgres()
		if err != nil {
			return fail(err)
		}
		b.Store = s
	default:
		return fail(fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver))
	}

	switch LedgerDriver(cfg.Ledger.Driver) {
	case LedgerMemory, "":
	case LedgerLevelDB:
		s, err := leveldb.Open(cfg.Ledger.LevelDBPath)
		if err != nil {
			return fail(err)
		}
		b.closer = append(b.closer, s)
		b.Blocks = s
	case LedgerSQLite:
		s, err := openSQLite()
		if err != nil {
			return fail(err)
		}
		b.Blocks = s
	case LedgerPostgres:
		s, err := openPostgres()
		if err != nil {
			return fail(err)
		}
		b.Blocks = s
	default:
		return fail(fmt.Errorf("unknown ledger driver %s", cfg.Ledger.Driver))
	}
	return b, nil
}

// OpenBlockStore opens only the configured block store for inspection. It
// never creates storage: a missing LevelDB directory or SQLite file is an
// error, and the memory driver has nothing to inspect.
func OpenBlockStore(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{}
	switch LedgerDriver(cfg.Ledger.Driver) {
	case LedgerMemory, "":
		return nil, fmt.Errorf("ledger driver memory: %w", ledger.ErrEmptyStore)
	case LedgerLevelDB:
		s, err := leveldb.OpenExisting(cfg.Ledger.LevelDBPath)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, s)
		b.Blocks = s
	case LedgerSQLite:
		if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		s, err := sqlite.NewStore(cfg.Storage.SQLitePath, nil)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, s)
		b.Blocks = s
	case LedgerPostgres:
		s, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, nil)
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, s)
		b.Blocks = s
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", cfg.Ledger.Driver)
	}
	return b, nil
}

// OpenService opens the configured backend, rebuilds the chain from its
// block store and returns a service over both. Callers close the backend.
func OpenService(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Service, *Backend, error) {
	backend, err := OpenBackend(ctx, cfg, NewDefaultRulesEngine())
	if err != nil {
		return nil, nil, err
	}
	chain, err := ledger.Open(ctx, backend.Blocks, ledger.WithLogger(logger))
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	svc := NewService(backend.Store, chain, growth.NewTracker(), environment.NewMonitor(), opts...)
	return svc, backend, nil
}
