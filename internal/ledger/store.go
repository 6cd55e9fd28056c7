package ledger

import "context"

// BlockStore mirrors appended blocks to durable storage. LoadBlocks returns
// blocks in sequence order.
type BlockStore interface {
	AppendBlock(ctx context.Context, b Block) error
	LoadBlocks(ctx context.Context) ([]Block, error)
}
