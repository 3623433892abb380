package transaction

import (
	"encoding/binary"
	"fmt"
	"io"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

// Output Coinbase output paying Reward atomic units to a one-time key
type Output struct {
	Index              uint64     `json:"index"`
	Reward             uint64     `json:"reward"`
	EphemeralPublicKey types.Hash `json:"ephemeral_public_key"`
	Type               uint8      `json:"type"`
	// ViewTag only serialized for TxOutToTaggedKey
	ViewTag uint8 `json:"view_tag"`
}

func (o *Output) BufferLength() int {
	n := utils.UVarInt64Size(o.Reward) + 1 + types.HashSize
	if o.Type == TxOutToTaggedKey {
		n++
	}
	return n
}

func (o *Output) AppendBinary(preAllocatedBuf []byte) ([]byte, error) {
	if o.Type != TxOutToKey && o.Type != TxOutToTaggedKey {
		return nil, fmt.Errorf("unknown output type %d", o.Type)
	}

	buf := binary.AppendUvarint(preAllocatedBuf, o.Reward)
	buf = append(buf, o.Type)
	buf = append(buf, o.EphemeralPublicKey[:]...)
	if o.Type == TxOutToTaggedKey {
		buf = append(buf, o.ViewTag)
	}
	return buf, nil
}

func (o *Output) FromReader(reader utils.ReaderAndByteReader) (err error) {
	if o.Reward, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}
	if o.Type, err = reader.ReadByte(); err != nil {
		return err
	}
	if o.Type != TxOutToKey && o.Type != TxOutToTaggedKey {
		return fmt.Errorf("unknown output type %d", o.Type)
	}
	if _, err = io.ReadFull(reader, o.EphemeralPublicKey[:]); err != nil {
		return err
	}

	o.ViewTag = 0
	if o.Type == TxOutToTaggedKey {
		o.ViewTag, err = reader.ReadByte()
	}
	return err
}

type Outputs []Output

func (s *Outputs) FromReader(reader utils.ReaderAndByteReader) (err error) {
	var count uint64
	if count, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	// count is untrusted, grow past the soft cap only as outputs actually decode
	*s = make(Outputs, 0, min(MaxOutputCount, count))
	for i := range count {
		o := Output{Index: i}
		if err = o.FromReader(reader); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		*s = append(*s, o)
	}
	return nil
}

func (s *Outputs) BufferLength() (n int) {
	n = utils.UVarInt64Size(len(*s))
	for i := range *s {
		n += (*s)[i].BufferLength()
	}
	return n
}

func (s *Outputs) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, s.BufferLength()))
}

func (s *Outputs) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = binary.AppendUvarint(preAllocatedBuf, uint64(len(*s)))
	for i := range *s {
		if buf, err = (*s)[i].AppendBinary(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
