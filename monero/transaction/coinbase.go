package transaction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/crypto"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

// CoinbaseTransaction Miner transaction with a single generation input.
// Extra is kept as raw bytes so merge mining tags can be written in place without re-encoding.
type CoinbaseTransaction struct {
	Version uint8 `json:"version"`
	// UnlockTime would be here
	InputCount uint8 `json:"input_count"`
	InputType  uint8 `json:"input_type"`
	// UnlockTime re-arranged here to improve memory layout space
	UnlockTime uint64  `json:"unlock_time"`
	GenHeight  uint64  `json:"gen_height"`
	Outputs    Outputs `json:"outputs"`

	Extra types.Bytes `json:"extra"`

	// ExtraBaseRCT RingCT type, only present in version 2 and later
	ExtraBaseRCT uint8 `json:"extra_base_rct"`
}

var ErrUnsupportedInput = errors.New("coinbase must have a single generation input")

func (c *CoinbaseTransaction) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	err := c.FromReader(reader)
	if err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}

func (c *CoinbaseTransaction) FromReader(reader utils.ReaderAndByteReader) (err error) {
	var (
		txExtraSize uint64
		version     uint64
	)

	if version, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	} else if version == 0 || version > 2 {
		return fmt.Errorf("unsupported transaction version %d", version)
	}
	c.Version = uint8(version)

	if c.UnlockTime, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if c.InputCount, err = reader.ReadByte(); err != nil {
		return err
	} else if c.InputCount != 1 {
		return ErrUnsupportedInput
	}

	if c.InputType, err = reader.ReadByte(); err != nil {
		return err
	} else if c.InputType != TxInGen {
		return ErrUnsupportedInput
	}

	if c.GenHeight, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if err = c.Outputs.FromReader(reader); err != nil {
		return err
	}

	if txExtraSize, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	} else if txExtraSize > MaxExtraSize {
		return fmt.Errorf("extra too large: %d > %d", txExtraSize, MaxExtraSize)
	}

	c.Extra = make(types.Bytes, txExtraSize)
	if _, err = io.ReadFull(reader, c.Extra); err != nil {
		return err
	}

	if c.Version >= 2 {
		if c.ExtraBaseRCT, err = reader.ReadByte(); err != nil {
			return err
		} else if c.ExtraBaseRCT != 0 {
			return fmt.Errorf("unexpected coinbase rct type %d", c.ExtraBaseRCT)
		}
	}

	return nil
}

func (c *CoinbaseTransaction) prefixBufferLength() int {
	return utils.UVarInt64Size(c.Version) +
		utils.UVarInt64Size(c.UnlockTime) +
		1 + 1 +
		utils.UVarInt64Size(c.GenHeight) +
		c.Outputs.BufferLength() +
		utils.UVarInt64Size(len(c.Extra)) + len(c.Extra)
}

func (c *CoinbaseTransaction) BufferLength() int {
	n := c.prefixBufferLength()
	if c.Version >= 2 {
		n++
	}
	return n
}

func (c *CoinbaseTransaction) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, c.BufferLength()))
}

func (c *CoinbaseTransaction) appendPrefix(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = preAllocatedBuf
	buf = binary.AppendUvarint(buf, uint64(c.Version))
	buf = binary.AppendUvarint(buf, c.UnlockTime)
	buf = append(buf, c.InputCount)
	buf = append(buf, c.InputType)
	buf = binary.AppendUvarint(buf, c.GenHeight)

	if buf, err = c.Outputs.AppendBinary(buf); err != nil {
		return nil, err
	}

	buf = binary.AppendUvarint(buf, uint64(len(c.Extra)))
	buf = append(buf, c.Extra...)
	return buf, nil
}

func (c *CoinbaseTransaction) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	if buf, err = c.appendPrefix(preAllocatedBuf); err != nil {
		return nil, err
	}
	if c.Version >= 2 {
		buf = append(buf, c.ExtraBaseRCT)
	}
	return buf, nil
}

// CalculateId Transaction hash. Version 1 hashes the whole blob, version 2 hashes prefix, base RCT and prunable RCT hashes together
func (c *CoinbaseTransaction) CalculateId() (hash types.Hash) {
	buf, _ := c.appendPrefix(make([]byte, 0, c.BufferLength()))

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	if c.Version < 2 {
		_, _ = hasher.Write(buf)
		crypto.HashFastSum(hasher, hash[:])
		return hash
	}

	var txHashingBlob [3 * types.HashSize]byte

	_, _ = hasher.Write(buf)
	crypto.HashFastSum(hasher, txHashingBlob[:])

	hasher.Reset()
	_, _ = hasher.Write([]byte{c.ExtraBaseRCT})
	crypto.HashFastSum(hasher, txHashingBlob[types.HashSize:])

	// prunable RCT hash is zero for coinbase

	hasher.Reset()
	_, _ = hasher.Write(txHashingBlob[:])
	crypto.HashFastSum(hasher, hash[:])

	return hash
}

// Tags Parsed view of Extra
func (c *CoinbaseTransaction) Tags() (ExtraTags, error) {
	return ParseExtra(c.Extra)
}

// Clone Deep copy, mutations of Extra or Outputs on the copy do not affect the original
func (c *CoinbaseTransaction) Clone() CoinbaseTransaction {
	clone := *c
	clone.Outputs = append(Outputs(nil), c.Outputs...)
	clone.Extra = append(types.Bytes(nil), c.Extra...)
	return clone
}
