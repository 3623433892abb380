package utils

import (
	"math/bits"
	"strconv"
)

func PreviousPowerOfTwo(x uint64) int {
	if x == 0 {
		return 0
	}
	return 1 << (bits.Len64(x) - 1)
}

// ParseUint64 Decimal digits only, no sign or whitespace. Out of range values fail with strconv.ErrRange.
func ParseUint64(s []byte) (uint64, error) {
	if len(s) == 0 {
		return 0, &strconv.NumError{Func: "ParseUint64", Num: "", Err: strconv.ErrSyntax}
	}

	var d uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &strconv.NumError{Func: "ParseUint64", Num: string(s), Err: strconv.ErrSyntax}
		}
		hi, lo := bits.Mul64(d, 10)
		lo, carry := bits.Add64(lo, uint64(c-'0'), 0)
		if hi|carry != 0 {
			return 0, &strconv.NumError{Func: "ParseUint64", Num: string(s), Err: strconv.ErrRange}
		}
		d = lo
	}
	return d, nil
}
