// Package ledger implements the tamper-evident, append-only record chain
// that captures every mutating cultivation event.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"growpod/internal/logging"
)

// Chain is an ordered, append-only sequence of blocks starting with a
// genesis block. All methods are safe for concurrent use.
type Chain struct {
	mu     sync.RWMutex
	blocks []Block
	store  BlockStore
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the time source used to stamp blocks and records.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger for append and integrity events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Chain) { c.logger = logging.Component(logger, "ledger") }
}

func newChain(opts []Option) *Chain {
	c := &Chain{
		now:    func() time.Time { return time.Now().UTC() },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New constructs a volatile chain holding only the genesis block.
func New(opts ...Option) *Chain {
	c := newChain(opts)
	c.blocks = []Block{newGenesis(c.now())}
	return c
}

// ErrEmptyStore reports a block store that holds no chain yet.
var ErrEmptyStore = errors.New("block store holds no chain")

// Open rebuilds a chain from store, writing a genesis block when the store
// is empty. Every subsequent append is mirrored to store before it becomes
// visible. A chain whose hashes no longer verify is still opened; callers
// learn about it through Verify.
func Open(ctx context.Context, store BlockStore, opts ...Option) (*Chain, error) {
	if store == nil {
		return New(opts...), nil
	}
	c := newChain(opts)
	blocks, err := store.LoadBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if len(blocks) == 0 {
		genesis := newGenesis(c.now())
		if err := store.AppendBlock(ctx, genesis); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
		c.blocks = []Block{genesis}
		c.store = store
		return c, nil
	}
	if err := c.adopt(blocks); err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

// Load reads an existing chain from store for inspection. Unlike Open it
// never writes: an empty store yields ErrEmptyStore, and the returned chain
// is detached from store so appends stay in memory.
func Load(ctx context.Context, store BlockStore, opts ...Option) (*Chain, error) {
	if store == nil {
		return nil, ErrEmptyStore
	}
	blocks, err := store.LoadBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, ErrEmptyStore
	}
	c := newChain(opts)
	if err := c.adopt(blocks); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) adopt(blocks []Block) error {
	for i, b := range blocks {
		if b.Number != uint64(i) {
			return fmt.Errorf("block store out of sequence: position %d holds block %d", i, b.Number)
		}
	}
	if !blocks[0].IsGenesis() {
		return fmt.Errorf("block store does not start with a genesis block")
	}
	c.blocks = blocks
	if report := verifyBlocks(c.blocks); !report.Valid {
		c.logger.Warn().Int("block", report.FailedAt).Str("reason", report.Reason).Msg("persisted chain failed verification")
	}
	c.logger.Debug().Int("blocks", len(blocks)).Msg("chain opened")
	return nil
}

// Append seals payload into a new block linked to the current tail. Reading
// the tail, persisting and publishing the block happen under one lock so
// concurrent appends never share a sequence number or previous hash.
func (c *Chain) Append(ctx context.Context, payload Payload) (Block, error) {
	normalized, err := payload.normalize()
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.blocks[len(c.blocks)-1]
	b := newBlock(uint64(len(c.blocks)), c.now(), normalized, tail.Hash)
	if c.store != nil {
		if err := c.store.AppendBlock(ctx, b); err != nil {
			return Block{}, fmt.Errorf("persist block %d: %w", b.Number, err)
		}
	}
	c.blocks = append(c.blocks, b)
	c.logger.Debug().
		Uint64("block", b.Number).
		Str("type", string(b.Payload.Kind)).
		Str("id", b.Payload.SubjectID).
		Str("hash", b.Hash).
		Msg("block appended")
	return b.clone(), nil
}

// RecordPlantData appends a plant_data record for plantID.
func (c *Chain) RecordPlantData(ctx context.Context, plantID string, data map[string]any) (Block, error) {
	return c.Append(ctx, Payload{Kind: KindPlantData, SubjectID: plantID, RecordedAt: c.now(), Data: data})
}

// RecordEnvironmentalData appends an environmental_data record for podID.
func (c *Chain) RecordEnvironmentalData(ctx context.Context, podID string, data any) (Block, error) {
	return c.Append(ctx, Payload{Kind: KindEnvironmentalData, SubjectID: podID, RecordedAt: c.now(), Data: data})
}

// RecordHarvest appends a harvest record for plantID.
func (c *Chain) RecordHarvest(ctx context.Context, plantID string, data map[string]any) (Block, error) {
	return c.Append(ctx, Payload{Kind: KindHarvest, SubjectID: plantID, RecordedAt: c.now(), Data: data})
}

// Len returns the number of blocks including genesis.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Latest returns the tail block.
func (c *Chain) Latest() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].clone()
}

// Blocks returns a copy of the whole chain, genesis first.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneBlocks(c.blocks)
}

// Verify reports whether every block re-hashes to its stored hash and links
// to its predecessor.
func (c *Chain) Verify() bool {
	return c.VerifyReport().Valid
}

// VerifyReport is Verify with the first offending block for diagnostics.
func (c *Chain) VerifyReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifyBlocks(c.blocks)
}

// RecordsFor returns the non-genesis blocks whose subject is id, in chain order.
func (c *Chain) RecordsFor(id string) []Block {
	return c.filter(func(b Block) bool { return b.Payload.SubjectID == id })
}

// RecordsOfType returns the non-genesis blocks of the given kind, in chain order.
func (c *Chain) RecordsOfType(kind RecordKind) []Block {
	return c.filter(func(b Block) bool { return b.Payload.Kind == kind })
}

func (c *Chain) filter(keep func(Block) bool) []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Block
	for _, b := range c.blocks[1:] {
		if keep(b) {
			out = append(out, b.clone())
		}
	}
	return out
}

// Info summarizes the chain.
type Info struct {
	TotalBlocks       int       `json:"total_blocks"`
	IsValid           bool      `json:"is_valid"`
	LatestBlockNumber uint64    `json:"latest_block_number"`
	LatestHash        string    `json:"latest_hash"`
	LatestTimestamp   time.Time `json:"latest_timestamp"`
}

// Info snapshots length, validity and the tail block in one read.
func (c *Chain) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return infoFor(c.blocks)
}

func infoFor(blocks []Block) Info {
	latest := blocks[len(blocks)-1]
	return Info{
		TotalBlocks:       len(blocks),
		IsValid:           verifyBlocks(blocks).Valid,
		LatestBlockNumber: latest.Number,
		LatestHash:        latest.Hash,
		LatestTimestamp:   latest.CreatedAt,
	}
}

func cloneBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.clone()
	}
	return out
}
