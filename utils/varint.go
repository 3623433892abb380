package utils

import (
	"encoding/binary"
	"errors"
	"io"
	"math/bits"
)

var (
	ErrVarIntOverflow       = errors.New("varint: overflows a 64-bit integer")
	ErrNonCanonicalEncoding = errors.New("varint: non canonical encoding")
)

// uvarintStep Folds b, byte i of an encoded uvarint, into x. done is set once the final byte was folded.
// A zero final byte past the first position means a shorter encoding exists.
func uvarintStep(x uint64, i int, b byte) (_ uint64, done bool, err error) {
	switch {
	case b >= 0x80:
		return x | uint64(b&0x7f)<<(7*i), false, nil
	case i > 0 && b == 0:
		return 0, false, ErrNonCanonicalEncoding
	case i == binary.MaxVarintLen64-1 && b > 1:
		return 0, false, ErrVarIntOverflow
	}
	return x | uint64(b)<<(7*i), true, nil
}

// ReadCanonicalUvarint Like binary.ReadUvarint, but rejects encodings that are not the shortest form.
// io.EOF is only returned when no bytes were read, io.ErrUnexpectedEOF otherwise.
func ReadCanonicalUvarint(r io.ByteReader) (x uint64, err error) {
	var (
		b    byte
		done bool
	)
	for i := range binary.MaxVarintLen64 {
		if b, err = r.ReadByte(); err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if x, done, err = uvarintStep(x, i, b); err != nil || done {
			return x, err
		}
	}
	return 0, ErrVarIntOverflow
}

// CanonicalUvarint Same results as binary.Uvarint: n == 0 when buf is too short,
// n < 0 with -n bytes consumed on overflow or non canonical encoding.
func CanonicalUvarint(buf []byte) (x uint64, n int) {
	var (
		done bool
		err  error
	)
	for i, b := range buf {
		if i == binary.MaxVarintLen64 {
			return 0, -(i + 1)
		}
		if x, done, err = uvarintStep(x, i, b); err != nil {
			return 0, -(i + 1)
		} else if done {
			return x, i + 1
		}
	}
	return 0, 0
}

func UVarInt64Size[T uint64 | int | uint8](v T) (n int) {
	return 1 + (bits.Len64(uint64(v))*9)/64
}
