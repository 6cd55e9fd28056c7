// Package leveldb mirrors ledger blocks into a LevelDB directory.
package leveldb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"growpod/internal/ledger"
)

var _ ledger.BlockStore = (*Store)(nil)

// DefaultPath is used when no directory is configured.
const DefaultPath = "./ledger.db"

const keyPrefix = "block:"

// Store keeps one key per block. Keys zero-pad the block number so LevelDB's
// lexical ordering matches chain order.
type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens or creates the LevelDB directory at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// OpenExisting opens the LevelDB directory at path read-only. A missing
// database is an error rather than a fresh one.
func OpenExisting(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: true, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func blockKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, n))
}

// AppendBlock writes b, refusing to overwrite an existing block number.
func (s *Store) AppendBlock(_ context.Context, b ledger.Block) error {
	key := blockKey(b.Number)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("probe block %d: %w", b.Number, err)
	}
	if exists {
		return fmt.Errorf("block %d already stored", b.Number)
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Number, err)
	}
	if err := s.db.Put(key, raw, nil); err != nil {
		return fmt.Errorf("store block %d: %w", b.Number, err)
	}
	return nil
}

// LoadBlocks iterates the block keyspace in order.
func (s *Store) LoadBlocks(ctx context.Context) ([]ledger.Block, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var out []ledger.Block
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var b ledger.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return out, nil
}

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }
