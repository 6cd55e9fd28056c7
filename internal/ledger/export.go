package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	blobcore "growpod/internal/blob/core"
)

// ArchivePrefix is the blob key prefix under which chain exports are written.
const ArchivePrefix = "ledger/"

// Archive is the exported form of a chain.
type Archive struct {
	Info   Info    `json:"info"`
	Blocks []Block `json:"blocks"`
}

// Export writes a point-in-time copy of the chain to store and returns the
// stored blob's info. Keys embed the tail block, so exporting an unchanged
// chain again returns the existing archive instead of writing a duplicate.
func Export(ctx context.Context, c *Chain, store blobcore.Store) (blobcore.Info, error) {
	c.mu.RLock()
	archive := Archive{Info: infoFor(c.blocks), Blocks: cloneBlocks(c.blocks)}
	c.mu.RUnlock()

	encoded, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return blobcore.Info{}, fmt.Errorf("encode archive: %w", err)
	}
	hash := archive.Info.LatestHash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	key := fmt.Sprintf("%s%08d-%s.json", ArchivePrefix, archive.Info.LatestBlockNumber, hash)
	info, err := store.Put(ctx, key, bytes.NewReader(encoded), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"latest-hash": archive.Info.LatestHash,
			"blocks":      strconv.Itoa(archive.Info.TotalBlocks),
			"valid":       strconv.FormatBool(archive.Info.IsValid),
		},
	})
	if errors.Is(err, blobcore.ErrExists) {
		info, err = store.Head(ctx, key)
	}
	if err != nil {
		return blobcore.Info{}, fmt.Errorf("store archive %s: %w", key, err)
	}
	return info, nil
}

// ReadArchive loads an exported chain from store.
func ReadArchive(ctx context.Context, store blobcore.Store, key string) (Archive, error) {
	_, body, err := store.Get(ctx, key)
	if err != nil {
		return Archive{}, fmt.Errorf("read archive %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()
	raw, err := io.ReadAll(body)
	if err != nil {
		return Archive{}, fmt.Errorf("read archive %s: %w", key, err)
	}
	var archive Archive
	if err := json.Unmarshal(raw, &archive); err != nil {
		return Archive{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return archive, nil
}

// VerifyArchive re-verifies an exported chain offline.
func VerifyArchive(ctx context.Context, store blobcore.Store, key string) (Report, error) {
	archive, err := ReadArchive(ctx, store, key)
	if err != nil {
		return Report{}, err
	}
	if len(archive.Blocks) == 0 || !archive.Blocks[0].IsGenesis() {
		return Report{Blocks: len(archive.Blocks), FailedAt: 0, Reason: "archive does not start with a genesis block"}, nil
	}
	return verifyBlocks(archive.Blocks), nil
}
