package merge_mining

import (
	"errors"
	"fmt"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/block"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
)

// LinkAuxiliary Records the mined primary block inside the auxiliary block's parent block.
// The primary coinbase must already carry the commitment from EmbedCommitment.
func LinkAuxiliary(primary, auxiliary *block.Block) {
	txHashes := primary.TransactionHashes()

	auxiliary.Timestamp = primary.Timestamp
	auxiliary.Parent = block.ParentBlock{
		MajorVersion:     primary.MajorVersion,
		MinorVersion:     primary.MinorVersion,
		Nonce:            primary.Nonce,
		PreviousId:       primary.PreviousId,
		TransactionCount: uint64(len(txHashes)),
		CoinbaseBranch:   txHashes.MainBranch(),
		Coinbase:         primary.Coinbase.Clone(),
		// no sibling auxiliary chains
		BlockchainBranch: []types.Hash{},
	}
}

var ErrCommitmentMismatch = errors.New("merge mining tag does not commit to auxiliary block")

// VerifyAuxiliary Checks the parent block of a merge mined block the way the auxiliary chain does:
// the parent coinbase must commit to this block's header hash.
func VerifyAuxiliary(auxiliary *block.Block) error {
	if !auxiliary.IsMergeMined() {
		return fmt.Errorf("%w %d", block.ErrUnsupportedVersion, auxiliary.MajorVersion)
	}

	tag, err := FindTag(auxiliary.Parent.Coinbase.Extra)
	if err != nil {
		return err
	}
	if tag.Depth != 0 || len(auxiliary.Parent.BlockchainBranch) != 0 {
		return fmt.Errorf("unsupported merge mining depth %d", tag.Depth)
	}
	if tag.MerkleRoot != auxiliary.HeaderHash() {
		return ErrCommitmentMismatch
	}
	return nil
}
