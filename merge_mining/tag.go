package merge_mining

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/transaction"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

// Tag Merge mining commitment stored in the primary coinbase extra.
// Depth is the length of the blockchain branch, always 0 when a single auxiliary chain is mined.
type Tag struct {
	Depth      uint64     `json:"depth"`
	MerkleRoot types.Hash `json:"merkle_root"`
}

var ErrTagNotFound = errors.New("merge mining tag not found")

func (t *Tag) BufferLength() int {
	return utils.UVarInt64Size(t.Depth) + types.HashSize
}

func (t *Tag) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, t.BufferLength())), nil
}

func (t *Tag) AppendBinary(preAllocatedBuf []byte) []byte {
	buf := binary.AppendUvarint(preAllocatedBuf, t.Depth)
	buf = append(buf, t.MerkleRoot[:]...)
	return buf
}

// FromReader Decodes the tag data, without extra field framing
func (t *Tag) FromReader(reader utils.ReaderAndByteReader) (err error) {
	if t.Depth, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}
	if _, err = io.ReadFull(reader, t.MerkleRoot[:]); err != nil {
		return err
	}
	return nil
}

func (t *Tag) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	if err := t.FromReader(reader); err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}

// ExtraBufferLength Size of the tag once framed as an extra field
func (t *Tag) ExtraBufferLength() int {
	n := t.BufferLength()
	return 1 + utils.UVarInt64Size(n) + n
}

// AppendExtra Frames the tag as an extra field: tag marker, varint data length, tag data
func (t *Tag) AppendExtra(preAllocatedBuf []byte) []byte {
	buf := append(preAllocatedBuf, transaction.TxExtraTagMergeMining)
	buf = binary.AppendUvarint(buf, uint64(t.BufferLength()))
	return t.AppendBinary(buf)
}

// FindTag Locates and decodes the merge mining tag inside a coinbase extra field
func FindTag(extra []byte) (tag Tag, err error) {
	tags, err := transaction.ParseExtra(extra)
	if err != nil {
		return tag, err
	}
	extraTag := tags.GetTag(transaction.TxExtraTagMergeMining)
	if extraTag == nil {
		return tag, ErrTagNotFound
	}
	if err = tag.UnmarshalBinary(extraTag.Data); err != nil {
		return tag, err
	}
	return tag, nil
}
