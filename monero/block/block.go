package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"git.gammaspectra.live/P2Pool/merged-miner/monero"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/crypto"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/transaction"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

const MaxTransactionCount = uint64(math.MaxUint64) / types.HashSize

var ErrUnsupportedVersion = errors.New("unsupported block version")

type Block struct {
	MajorVersion uint8 `json:"major_version"`
	MinorVersion uint8 `json:"minor_version"`
	// Nonce re-arranged here to improve memory layout space. Only serialized in version 1, version 2 carries it in Parent
	Nonce uint32 `json:"nonce"`

	Timestamp  uint64     `json:"timestamp"`
	PreviousId types.Hash `json:"previous_id"`
	//Nonce would be here

	// Parent only present in version 2
	Parent ParentBlock `json:"parent,omitempty"`

	Coinbase transaction.CoinbaseTransaction `json:"coinbase"`

	Transactions []types.Hash `json:"transactions,omitempty"`
}

func (b *Block) IsMergeMined() bool {
	return b.MajorVersion >= monero.BlockMajorVersion2
}

func (b *Block) MarshalBinary() (buf []byte, err error) {
	return b.AppendBinary(make([]byte, 0, b.BufferLength()))
}

func (b *Block) BufferLength() int {
	length := b.HeaderBlobBufferLength()

	if b.IsMergeMined() {
		length += b.Parent.BufferLength(b.Timestamp)
	}

	length += b.Coinbase.BufferLength()

	length += utils.UVarInt64Size(len(b.Transactions)) + types.HashSize*len(b.Transactions)
	return length
}

func (b *Block) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	if b.MajorVersion == 0 || b.MajorVersion > monero.HardForkSupportedVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, b.MajorVersion)
	}
	buf = b.HeaderBlob(preAllocatedBuf)

	if b.IsMergeMined() {
		if buf, err = b.Parent.AppendBinary(buf, b.Timestamp); err != nil {
			return nil, err
		}
	}

	if buf, err = b.Coinbase.AppendBinary(buf); err != nil {
		return nil, err
	}

	buf = binary.AppendUvarint(buf, uint64(len(b.Transactions)))
	for _, txId := range b.Transactions {
		buf = append(buf, txId[:]...)
	}
	return buf, nil
}

func (b *Block) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	err := b.FromReader(reader)
	if err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}

func (b *Block) FromReader(reader utils.ReaderAndByteReader) (err error) {
	var (
		txCount         uint64
		transactionHash types.Hash
	)

	if b.MajorVersion, err = reader.ReadByte(); err != nil {
		return err
	}

	if b.MajorVersion == 0 || b.MajorVersion > monero.HardForkSupportedVersion {
		return fmt.Errorf("%w %d", ErrUnsupportedVersion, b.MajorVersion)
	}

	if b.MinorVersion, err = reader.ReadByte(); err != nil {
		return err
	}

	if b.MinorVersion > 127 {
		return fmt.Errorf("minor version %d larger than maximum byte varint size", b.MinorVersion)
	}

	if !b.IsMergeMined() {
		if b.Timestamp, err = utils.ReadCanonicalUvarint(reader); err != nil {
			return err
		}
	}

	if _, err = io.ReadFull(reader, b.PreviousId[:]); err != nil {
		return err
	}

	if b.IsMergeMined() {
		if b.Timestamp, err = b.Parent.FromReader(reader); err != nil {
			return err
		}
	} else if err = binary.Read(reader, binary.LittleEndian, &b.Nonce); err != nil {
		return err
	}

	// Coinbase Tx Decoding
	{
		if err = b.Coinbase.FromReader(reader); err != nil {
			return err
		}
	}

	if txCount, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	} else if txCount > MaxTransactionCount {
		return fmt.Errorf("transaction count count too large: %d > %d", txCount, MaxTransactionCount)
	} else if txCount > 0 {
		// preallocate with soft cap
		b.Transactions = make([]types.Hash, 0, min(monero.MaxTransactionHashes, txCount))

		for i := 0; i < int(txCount); i++ {
			if _, err = io.ReadFull(reader, transactionHash[:]); err != nil {
				return err
			}
			b.Transactions = append(b.Transactions, transactionHash)
		}
	}

	return nil
}

// Clone Deep copy, safe to mutate independently of the original
func (b *Block) Clone() *Block {
	clone := *b
	clone.Coinbase = b.Coinbase.Clone()
	clone.Parent.Coinbase = b.Parent.Coinbase.Clone()
	clone.Parent.CoinbaseBranch = append(crypto.MerkleProof(nil), b.Parent.CoinbaseBranch...)
	clone.Parent.BlockchainBranch = append([]types.Hash(nil), b.Parent.BlockchainBranch...)
	clone.Transactions = append([]types.Hash(nil), b.Transactions...)
	return &clone
}

func (b *Block) HeaderBlobBufferLength() int {
	if b.IsMergeMined() {
		return utils.UVarInt64Size(b.MajorVersion) +
			utils.UVarInt64Size(b.MinorVersion) +
			types.HashSize
	}
	return utils.UVarInt64Size(b.MajorVersion) +
		utils.UVarInt64Size(b.MinorVersion) +
		utils.UVarInt64Size(b.Timestamp) +
		types.HashSize +
		4
}

// HeaderBlob Version 1 headers carry timestamp and nonce, version 2 headers only the previous id
func (b *Block) HeaderBlob(preAllocatedBuf []byte) []byte {
	buf := preAllocatedBuf
	buf = binary.AppendUvarint(buf, uint64(b.MajorVersion))
	buf = binary.AppendUvarint(buf, uint64(b.MinorVersion))
	if b.IsMergeMined() {
		buf = append(buf, b.PreviousId[:]...)
		return buf
	}
	buf = binary.AppendUvarint(buf, b.Timestamp)
	buf = append(buf, b.PreviousId[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, b.Nonce)

	return buf
}

// TransactionHashes Coinbase id followed by all other transaction ids, in tree leaf order
func (b *Block) TransactionHashes() crypto.BinaryTreeHash {
	merkleTree := make(crypto.BinaryTreeHash, len(b.Transactions)+1)
	merkleTree[0] = b.Coinbase.CalculateId()
	copy(merkleTree[1:], b.Transactions)
	return merkleTree
}

func (b *Block) TxTreeHash() types.Hash {
	return b.TransactionHashes().RootHash()
}

func (b *Block) HashingBlobBufferLength() int {
	return b.HeaderBlobBufferLength() +
		types.HashSize + utils.UVarInt64Size(len(b.Transactions)+1)
}

func (b *Block) HashingBlob(preAllocatedBuf []byte) []byte {
	buf := b.HeaderBlob(preAllocatedBuf)

	txTreeHash := b.TxTreeHash()
	buf = append(buf, txTreeHash[:]...)

	buf = binary.AppendUvarint(buf, uint64(len(b.Transactions)+1))

	return buf
}

func hashBlob(blob []byte) types.Hash {
	var varIntBuf [binary.MaxVarintLen64]byte
	return crypto.PooledKeccak256(varIntBuf[:binary.PutUvarint(varIntBuf[:], uint64(len(blob)))], blob)
}

// HeaderHash Hash of the hashing blob alone. This is what a merge mining tag commits to.
func (b *Block) HeaderHash() types.Hash {
	return hashBlob(b.HashingBlob(make([]byte, 0, b.HashingBlobBufferLength())))
}

func (b *Block) Id() types.Hash {
	if !b.IsMergeMined() {
		return b.HeaderHash()
	}

	buf := b.HashingBlob(make([]byte, 0, b.HashingBlobBufferLength()+b.Parent.BufferLength(b.Timestamp)+types.HashSize))
	buf, err := b.Parent.appendIdBlob(buf, b.Timestamp)
	if err != nil {
		return types.ZeroHash
	}
	return hashBlob(buf)
}

// PowHashingBlob Input of the proof of work function. Version 2 blocks are proven by their parent.
func (b *Block) PowHashingBlob(preAllocatedBuf []byte) []byte {
	if b.IsMergeMined() {
		return b.Parent.HashingBlob(preAllocatedBuf, b.Timestamp)
	}
	return b.HashingBlob(preAllocatedBuf)
}

// NonceOffset Position of the 4-byte little endian nonce inside PowHashingBlob
func (b *Block) NonceOffset() int {
	if b.IsMergeMined() {
		return b.Parent.NonceOffset(b.Timestamp)
	}
	return b.HeaderBlobBufferLength() - 4
}

var (
	ErrInvalidVarint = errors.New("invalid varint")
)
