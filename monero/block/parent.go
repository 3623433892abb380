package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"git.gammaspectra.live/P2Pool/merged-miner/monero"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/crypto"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/transaction"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

// ParentBlock Proof of work linkage of a merge mined block. It carries the header and
// coinbase of the block that was actually mined, plus the branch proving that coinbase
// belongs to that block's transaction set.
type ParentBlock struct {
	MajorVersion uint8 `json:"major_version"`
	MinorVersion uint8 `json:"minor_version"`
	// Nonce re-arranged here to improve memory layout space
	Nonce uint32 `json:"nonce"`

	PreviousId       types.Hash `json:"previous_id"`
	TransactionCount uint64     `json:"transaction_count"`

	// CoinbaseBranch Merkle branch of the coinbase, leaf level first. Serialized root level first.
	CoinbaseBranch crypto.MerkleProof `json:"coinbase_branch"`

	Coinbase transaction.CoinbaseTransaction `json:"coinbase"`

	// BlockchainBranch Merkle branch of auxiliary chains, length is the merge mining tag depth
	BlockchainBranch []types.Hash `json:"blockchain_branch"`
}

var ErrMissingMergeMiningTag = errors.New("parent coinbase has no merge mining tag")

// MergeMiningDepth Reads the depth field of the merge mining tag present in coinbase extra
func MergeMiningDepth(c *transaction.CoinbaseTransaction) (uint64, error) {
	tags, err := c.Tags()
	if err != nil {
		return 0, err
	}
	tag := tags.GetTag(transaction.TxExtraTagMergeMining)
	if tag == nil {
		return 0, ErrMissingMergeMiningTag
	}
	depth, n := utils.CanonicalUvarint(tag.Data)
	if n <= 0 {
		return 0, ErrInvalidVarint
	}
	return depth, nil
}

// MerkleRoot Transaction tree root reconstructed from the coinbase and its branch
func (p *ParentBlock) MerkleRoot() types.Hash {
	return p.CoinbaseBranch.GetRoot(p.Coinbase.CalculateId(), 0, int(p.TransactionCount))
}

func (p *ParentBlock) headerBufferLength(timestamp uint64) int {
	return utils.UVarInt64Size(p.MajorVersion) +
		utils.UVarInt64Size(p.MinorVersion) +
		utils.UVarInt64Size(timestamp) +
		types.HashSize +
		4
}

func (p *ParentBlock) BufferLength(timestamp uint64) int {
	return p.headerBufferLength(timestamp) +
		utils.UVarInt64Size(p.TransactionCount) +
		types.HashSize*len(p.CoinbaseBranch) +
		p.Coinbase.BufferLength() +
		types.HashSize*len(p.BlockchainBranch)
}

func (p *ParentBlock) appendHeader(preAllocatedBuf []byte, timestamp uint64) []byte {
	buf := preAllocatedBuf
	buf = binary.AppendUvarint(buf, uint64(p.MajorVersion))
	buf = binary.AppendUvarint(buf, uint64(p.MinorVersion))
	buf = binary.AppendUvarint(buf, timestamp)
	buf = append(buf, p.PreviousId[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, p.Nonce)
	return buf
}

// AppendBinary Wire form. The timestamp belongs to the merge mined block but is serialized here.
func (p *ParentBlock) AppendBinary(preAllocatedBuf []byte, timestamp uint64) (buf []byte, err error) {
	if len(p.CoinbaseBranch) != crypto.TreeDepth(int(p.TransactionCount)) {
		return nil, fmt.Errorf("coinbase branch length %d does not match transaction count %d", len(p.CoinbaseBranch), p.TransactionCount)
	}

	buf = p.appendHeader(preAllocatedBuf, timestamp)
	buf = binary.AppendUvarint(buf, p.TransactionCount)
	for i := len(p.CoinbaseBranch) - 1; i >= 0; i-- {
		buf = append(buf, p.CoinbaseBranch[i][:]...)
	}
	if buf, err = p.Coinbase.AppendBinary(buf); err != nil {
		return nil, err
	}
	for _, h := range p.BlockchainBranch {
		buf = append(buf, h[:]...)
	}
	return buf, nil
}

// HashingBlob Header, reconstructed transaction root and transaction count. This is the proof of work input.
func (p *ParentBlock) HashingBlob(preAllocatedBuf []byte, timestamp uint64) []byte {
	buf := p.appendHeader(preAllocatedBuf, timestamp)
	root := p.MerkleRoot()
	buf = append(buf, root[:]...)
	buf = binary.AppendUvarint(buf, p.TransactionCount)
	return buf
}

// appendIdBlob Hashing form that also commits to branches and coinbase, used for block ids
func (p *ParentBlock) appendIdBlob(preAllocatedBuf []byte, timestamp uint64) (buf []byte, err error) {
	buf = p.HashingBlob(preAllocatedBuf, timestamp)
	for i := len(p.CoinbaseBranch) - 1; i >= 0; i-- {
		buf = append(buf, p.CoinbaseBranch[i][:]...)
	}
	if buf, err = p.Coinbase.AppendBinary(buf); err != nil {
		return nil, err
	}
	for _, h := range p.BlockchainBranch {
		buf = append(buf, h[:]...)
	}
	return buf, nil
}

// NonceOffset Position of the nonce inside HashingBlob
func (p *ParentBlock) NonceOffset(timestamp uint64) int {
	return p.headerBufferLength(timestamp) - 4
}

// FromReader Decodes the wire form, returns the timestamp stored inside
func (p *ParentBlock) FromReader(reader utils.ReaderAndByteReader) (timestamp uint64, err error) {
	if p.MajorVersion, err = reader.ReadByte(); err != nil {
		return 0, err
	}
	if p.MinorVersion, err = reader.ReadByte(); err != nil {
		return 0, err
	}
	if p.MajorVersion > 127 || p.MinorVersion > 127 {
		return 0, errors.New("parent version larger than maximum byte varint size")
	}
	if timestamp, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return 0, err
	}
	if _, err = io.ReadFull(reader, p.PreviousId[:]); err != nil {
		return 0, err
	}
	if err = binary.Read(reader, binary.LittleEndian, &p.Nonce); err != nil {
		return 0, err
	}

	if p.TransactionCount, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return 0, err
	} else if p.TransactionCount == 0 || p.TransactionCount > MaxTransactionCount {
		return 0, fmt.Errorf("invalid parent transaction count %d", p.TransactionCount)
	}

	depth := crypto.TreeDepth(int(p.TransactionCount))
	p.CoinbaseBranch = make(crypto.MerkleProof, depth)
	for i := depth - 1; i >= 0; i-- {
		if _, err = io.ReadFull(reader, p.CoinbaseBranch[i][:]); err != nil {
			return 0, err
		}
	}

	if err = p.Coinbase.FromReader(reader); err != nil {
		return 0, err
	}

	mmDepth, err := MergeMiningDepth(&p.Coinbase)
	if err != nil {
		return 0, err
	} else if mmDepth > monero.MaxMergeMiningDepth {
		return 0, fmt.Errorf("merge mining depth too large: %d", mmDepth)
	}

	p.BlockchainBranch = make([]types.Hash, mmDepth)
	for i := range p.BlockchainBranch {
		if _, err = io.ReadFull(reader, p.BlockchainBranch[i][:]); err != nil {
			return 0, err
		}
	}

	return timestamp, nil
}
