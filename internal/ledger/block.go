package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Block is an immutable, hashed unit of record data. Hash covers every other
// field and links to the predecessor through PreviousHash.
type Block struct {
	Number       uint64    `json:"block_number"`
	CreatedAt    time.Time `json:"timestamp"`
	Payload      Payload   `json:"data"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// newBlock builds a block and seals it with its hash. The payload must
// already be normalized.
func newBlock(number uint64, createdAt time.Time, payload Payload, previousHash string) Block {
	b := Block{
		Number:       number,
		CreatedAt:    createdAt.UTC(),
		Payload:      payload,
		PreviousHash: previousHash,
	}
	b.Hash = b.ComputeHash()
	return b
}

func newGenesis(createdAt time.Time) Block {
	return newBlock(0, createdAt, Payload{Kind: KindGenesis, Data: genesisMarker}, GenesisPreviousHash)
}

// ComputeHash recomputes the SHA-256 digest of the block's canonical
// encoding, hex encoded. Stored blocks are never re-sealed; verification
// compares this value with Hash.
func (b Block) ComputeHash() string {
	encoded, err := encodeCanonical(map[string]any{
		"block_number":  b.Number,
		"timestamp":     formatTimestamp(b.CreatedAt),
		"data":          b.Payload.canonical(),
		"previous_hash": b.PreviousHash,
	})
	if err != nil {
		// Only reachable when a stored payload was altered into an
		// unencodable value; an empty digest never matches.
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Sealed reports whether the stored hash matches the block contents.
func (b Block) Sealed() bool {
	return b.Hash != "" && b.Hash == b.ComputeHash()
}

// IsGenesis reports whether b is the chain's first block.
func (b Block) IsGenesis() bool {
	return b.Number == 0 && b.PreviousHash == GenesisPreviousHash && b.Payload.Kind == KindGenesis
}

func (b Block) clone() Block {
	b.Payload = b.Payload.clone()
	return b
}
