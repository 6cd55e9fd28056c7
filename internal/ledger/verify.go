package ledger

import "fmt"

// Report describes the outcome of a chain verification. FailedAt is the
// index of the first offending block, or -1 when the chain is valid.
type Report struct {
	Valid    bool   `json:"valid"`
	Blocks   int    `json:"blocks"`
	FailedAt int    `json:"failed_at"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyBlocks checks hash seals and linkage of an ordered block sequence
// such as one read back from an archive.
func VerifyBlocks(blocks []Block) Report {
	return verifyBlocks(blocks)
}

func verifyBlocks(blocks []Block) Report {
	for i := 1; i < len(blocks); i++ {
		current, previous := blocks[i], blocks[i-1]
		if current.Hash != current.ComputeHash() {
			return Report{Blocks: len(blocks), FailedAt: i, Reason: fmt.Sprintf("block %d hash mismatch", current.Number)}
		}
		if current.PreviousHash != previous.Hash {
			return Report{Blocks: len(blocks), FailedAt: i, Reason: fmt.Sprintf("block %d does not link to block %d", current.Number, previous.Number)}
		}
	}
	return Report{Valid: true, Blocks: len(blocks), FailedAt: -1}
}
