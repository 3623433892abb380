package types

import (
	"errors"
	"io"
	"math/big"
	"strconv"
	"strings"

	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	fasthex "github.com/tmthrgd/go-hex"
	"lukechampine.com/uint128"
)

const DifficultySize = 16

var (
	ZeroDifficulty = Difficulty(uint128.Zero)
	MaxDifficulty  = Difficulty(uint128.Max)
)

var errDifficultyOverflow = errors.New("difficulty overflows 128 bits")

// Difficulty 128-bit chain difficulty. Wide difficulties reported by daemons fit without loss.
type Difficulty uint128.Uint128

func NewDifficulty(lo, hi uint64) Difficulty {
	return Difficulty{Lo: lo, Hi: hi}
}

func DifficultyFrom64(v uint64) Difficulty {
	return NewDifficulty(v, 0)
}

// DifficultyFromBytes buf holds 16 big endian bytes
func DifficultyFromBytes(buf []byte) Difficulty {
	return Difficulty(uint128.FromBytesBE(buf))
}

// DifficultyFromString Accepts "0x" prefixed hex of up to 128 bits, or exactly 16 hex encoded bytes
func DifficultyFromString(s string) (Difficulty, error) {
	hexDigits, prefixed := strings.CutPrefix(s, "0x")
	if prefixed && len(hexDigits)%2 != 0 {
		hexDigits = "0" + hexDigits
	}

	buf, err := fasthex.DecodeString(hexDigits)
	if err != nil {
		return ZeroDifficulty, err
	}

	switch {
	case !prefixed && len(buf) != DifficultySize:
		return ZeroDifficulty, errors.New("wrong difficulty size")
	case len(buf) > DifficultySize:
		return ZeroDifficulty, errDifficultyOverflow
	}

	var be [DifficultySize]byte
	copy(be[DifficultySize-len(buf):], buf)
	return DifficultyFromBytes(be[:]), nil
}

// MinDifficulty returns the easier of two difficulties
func MinDifficulty(a, b Difficulty) Difficulty {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func (d Difficulty) IsZero() bool {
	return uint128.Uint128(d).IsZero()
}

func (d Difficulty) Equals(v Difficulty) bool {
	return d == v
}

func (d Difficulty) Equals64(v uint64) bool {
	return uint128.Uint128(d).Equals64(v)
}

func (d Difficulty) Cmp(v Difficulty) int {
	return uint128.Uint128(d).Cmp(uint128.Uint128(v))
}

func (d Difficulty) Bytes() []byte {
	var buf [DifficultySize]byte
	uint128.Uint128(d).PutBytesBE(buf[:])
	return buf[:]
}

func (d Difficulty) String() string {
	return uint128.Uint128(d).String()
}

func (d Difficulty) StringHex() string {
	return fasthex.EncodeToString(d.Bytes())
}

// MarshalJSON Numbers while they fit 64 bits, 32 hex digits in a string beyond that
func (d Difficulty) MarshalJSON() ([]byte, error) {
	if d.Hi == 0 {
		return strconv.AppendUint(nil, d.Lo, 10), nil
	}

	buf := make([]byte, 0, DifficultySize*2+2)
	buf = append(buf, '"')
	buf = append(buf, d.StringHex()...)
	return append(buf, '"'), nil
}

// UnmarshalJSON Accepts numbers of any width up to 128 bits and hex strings
func (d *Difficulty) UnmarshalJSON(b []byte) (err error) {
	if len(b) == 0 {
		return io.ErrUnexpectedEOF
	}

	if b[0] == '"' {
		if len(b) < 2 || b[len(b)-1] != '"' {
			return errors.New("invalid bytes")
		}
		*d, err = DifficultyFromString(string(b[1 : len(b)-1]))
		return err
	}

	lo, err := utils.ParseUint64(b)
	if err == nil {
		*d = DifficultyFrom64(lo)
		return nil
	} else if !errors.Is(err, strconv.ErrRange) {
		return err
	}

	// daemons report wide difficulty as a plain number too
	var wide big.Int
	if err = wide.UnmarshalText(b); err != nil {
		return err
	}
	if wide.Sign() < 0 || wide.BitLen() > 128 {
		return errDifficultyOverflow
	}
	*d = Difficulty(uint128.FromBig(&wide))
	return nil
}
