package transaction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

const (
	TxExtraTagPadding             = 0x00
	TxExtraTagPubKey              = 0x01
	TxExtraTagNonce               = 0x02
	TxExtraTagMergeMining         = 0x03
	TxExtraTagAdditionalPubKeys   = 0x04
	TxExtraTagMysteriousMinergate = 0xde
)

const (
	// TxExtraPaddingMaxCount Upper bound of a padding run, its tag byte included
	TxExtraPaddingMaxCount = 255
	TxExtraNonceMaxCount   = 255
)

var ErrExtraTagNoMoreTags = errors.New("no more tags")

type ExtraTags []ExtraTag

// ExtraTag One field of a transaction extra. For length prefixed tags VarInt is the prefix:
// a byte count, or a key count for TxExtraTagAdditionalPubKeys.
type ExtraTag struct {
	VarInt    uint64      `json:"var_int"`
	Tag       uint8       `json:"tag"`
	HasVarInt bool        `json:"has_var_int"`
	Data      types.Bytes `json:"data"`
}

// ParseExtra Decodes a raw extra field into its tags. Every tag may appear once.
func ParseExtra(extra []byte) (tags ExtraTags, err error) {
	if err = tags.UnmarshalBinary(extra); err != nil {
		return nil, err
	}
	return tags, nil
}

func (t *ExtraTags) UnmarshalBinary(data []byte) error {
	return unmarshalAll(data, t.FromReader)
}

func (t *ExtraTags) FromReader(reader utils.ReaderAndByteReader) error {
	for {
		var tag ExtraTag
		if err := tag.FromReader(reader); errors.Is(err, ErrExtraTagNoMoreTags) {
			return nil
		} else if err != nil {
			return err
		}
		if t.GetTag(tag.Tag) != nil {
			return fmt.Errorf("duplicate extra tag %d", tag.Tag)
		}
		*t = append(*t, tag)
	}
}

func (t *ExtraTags) GetTag(tag uint8) *ExtraTag {
	for i := range *t {
		if (*t)[i].Tag == tag {
			return &(*t)[i]
		}
	}
	return nil
}

func (t *ExtraTags) BufferLength() (length int) {
	for i := range *t {
		length += (*t)[i].BufferLength()
	}
	return length
}

func (t *ExtraTags) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, t.BufferLength()))
}

func (t *ExtraTags) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = preAllocatedBuf
	for i := range *t {
		if buf, err = (*t)[i].AppendBinary(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (t *ExtraTag) UnmarshalBinary(data []byte) error {
	return unmarshalAll(data, t.FromReader)
}

func (t *ExtraTag) BufferLength() int {
	if t.HasVarInt {
		return 1 + utils.UVarInt64Size(t.VarInt) + len(t.Data)
	}
	return 1 + len(t.Data)
}

func (t *ExtraTag) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, t.BufferLength()))
}

func (t *ExtraTag) AppendBinary(preAllocatedBuf []byte) ([]byte, error) {
	buf := append(preAllocatedBuf, t.Tag)
	if t.HasVarInt {
		buf = binary.AppendUvarint(buf, t.VarInt)
	}
	return append(buf, t.Data...), nil
}

// FromReader Returns ErrExtraTagNoMoreTags when reader is exhausted before a tag byte
func (t *ExtraTag) FromReader(reader utils.ReaderAndByteReader) (err error) {
	if t.Tag, err = reader.ReadByte(); err == io.EOF {
		return ErrExtraTagNoMoreTags
	} else if err != nil {
		return err
	}
	t.VarInt, t.HasVarInt, t.Data = 0, false, nil

	switch t.Tag {
	case TxExtraTagPadding:
		return t.readPadding(reader)
	case TxExtraTagPubKey:
		t.Data = make([]byte, types.HashSize)
		_, err = io.ReadFull(reader, t.Data)
		return err
	case TxExtraTagNonce:
		return t.readPrefixed(reader, 1, TxExtraNonceMaxCount)
	case TxExtraTagAdditionalPubKeys:
		return t.readPrefixed(reader, types.HashSize, MaxExtraSize/types.HashSize)
	case TxExtraTagMergeMining, TxExtraTagMysteriousMinergate:
		return t.readPrefixed(reader, 1, MaxExtraSize)
	default:
		return fmt.Errorf("unknown extra tag %d", t.Tag)
	}
}

// readPadding Padding runs to the end of the extra and must be all zero
func (t *ExtraTag) readPadding(reader io.ByteReader) error {
	var zeros int
	for {
		b, err := reader.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if b != 0 {
			return errors.New("padding is not zero")
		}
		if zeros++; zeros >= TxExtraPaddingMaxCount {
			return errors.New("padding is too big")
		}
	}
	t.Data = make([]byte, zeros)
	return nil
}

// readPrefixed Reads a varint count of unit sized items, at most limit of them
func (t *ExtraTag) readPrefixed(reader utils.ReaderAndByteReader, unit, limit uint64) (err error) {
	t.HasVarInt = true
	if t.VarInt, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}
	if t.VarInt > limit {
		return fmt.Errorf("extra tag %d too big: %d > %d", t.Tag, t.VarInt, limit)
	}

	t.Data = make([]byte, t.VarInt*unit)
	_, err = io.ReadFull(reader, t.Data)
	return err
}

func unmarshalAll(data []byte, fromReader func(utils.ReaderAndByteReader) error) error {
	reader := bytes.NewReader(data)
	if err := fromReader(reader); err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}
