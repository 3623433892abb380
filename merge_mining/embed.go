package merge_mining

import (
	"bytes"
	"errors"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/block"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/transaction"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
)

// ReservedSize Extra nonce bytes requested from the primary chain for the commitment:
// tag marker, data length, maximum varint depth and the merkle root.
const ReservedSize = 1 + 1 + 9 + types.HashSize

var (
	ErrPlaceholderNotFound = errors.New("reserved merge mining placeholder not found in extra")
	ErrTagTooLarge         = errors.New("merge mining tag does not fit in reserved space")
)

// Placeholder Byte pattern the daemon writes into extra when asked to reserve size bytes
func Placeholder(size int) []byte {
	buf := make([]byte, 2+size)
	buf[0] = transaction.TxExtraTagNonce
	buf[1] = byte(size)
	return buf
}

// EmbedCommitment Replaces the reserved placeholder in the primary coinbase extra with a tag
// committing to the auxiliary block header. Extra length is unchanged.
func EmbedCommitment(primary, auxiliary *block.Block) error {
	tag := Tag{
		Depth:      0,
		MerkleRoot: auxiliary.HeaderHash(),
	}
	return embedTag(primary.Coinbase.Extra, tag.AppendExtra(make([]byte, 0, tag.ExtraBufferLength())), ReservedSize)
}

// embedTag Writes tagExtra over the placeholder of the given reserved size. Leftover bytes are
// absorbed by an extra nonce filler field whose payload is the remaining zeroes of the placeholder.
// extra is only modified on success.
func embedTag(extra, tagExtra []byte, reserved int) error {
	if reserved < 0 || reserved > transaction.TxExtraNonceMaxCount {
		return ErrTagTooLarge
	}
	placeholder := Placeholder(reserved)

	pos := bytes.Index(extra, placeholder)
	if pos == -1 {
		return ErrPlaceholderNotFound
	}

	diff := len(placeholder) - len(tagExtra)
	if diff < 0 || diff == 1 {
		// a single leftover byte cannot be framed as a field
		return ErrTagTooLarge
	}

	n := copy(extra[pos:], tagExtra)
	if diff > 0 {
		extra[pos+n] = transaction.TxExtraTagNonce
		extra[pos+n+1] = byte(diff - 2)
	}
	return nil
}
