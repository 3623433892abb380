package types

import (
	"encoding/binary"
	"math/bits"

	"lukechampine.com/uint128"
)

// DifficultyFromPoW Approximate difficulty of a PoW hash, from its upper 128 bits. Used for display only.
func DifficultyFromPoW(powHash Hash) Difficulty {
	if powHash == ZeroHash {
		return ZeroDifficulty
	}

	upper := uint128.FromBytes(powHash[16:])
	if upper.IsZero() {
		return MaxDifficulty
	}
	return Difficulty(uint128.Max.Div(upper))
}

// CheckPoW Verifies hash * difficulty < 2^256, with hash read as a little endian 256-bit number.
// This is the same as hash <= (2^256 - 1) / difficulty. A zero difficulty never passes.
func (d Difficulty) CheckPoW(pow Hash) bool {
	if d.IsZero() {
		return false
	}

	limbs := [4]uint64{
		binary.LittleEndian.Uint64(pow[:]),
		binary.LittleEndian.Uint64(pow[8:]),
		binary.LittleEndian.Uint64(pow[16:]),
		binary.LittleEndian.Uint64(pow[24:]),
	}
	factor := [2]uint64{d.Lo, d.Hi}

	// schoolbook 256x128 product, only limbs past the fourth matter
	var product [6]uint64
	for i, x := range limbs {
		var carry uint64
		for j, y := range factor {
			hi, lo := bits.Mul64(x, y)
			var c1, c2 uint64
			product[i+j], c1 = bits.Add64(product[i+j], lo, 0)
			product[i+j], c2 = bits.Add64(product[i+j], carry, 0)
			// x*y + two words below 2^64 still fits 128 bits
			carry = hi + c1 + c2
		}
		product[i+len(factor)] = carry
	}

	return product[4]|product[5] == 0
}
