package utils

import (
	"errors"
	"strconv"
	"testing"
)

func TestParseUint64(t *testing.T) {
	for _, e := range []struct {
		in    string
		value uint64
		err   error
	}{
		{"0", 0, nil},
		{"12345", 12345, nil},
		{"18446744073709551615", 18446744073709551615, nil},
		{"18446744073709551616", 0, strconv.ErrRange},
		{"340282366920938463463374607431768211455", 0, strconv.ErrRange},
		{"", 0, strconv.ErrSyntax},
		{"-1", 0, strconv.ErrSyntax},
		{"12a", 0, strconv.ErrSyntax},
	} {
		value, err := ParseUint64([]byte(e.in))
		if !errors.Is(err, e.err) {
			t.Fatalf("%q: expected error %v, got %v", e.in, e.err, err)
		}
		if value != e.value {
			t.Fatalf("%q: expected %d, got %d", e.in, e.value, value)
		}
	}
}

func TestSiUnits(t *testing.T) {
	for _, e := range []struct {
		number float64
		out    string
	}{
		{0, "0.00 "},
		{999, "999.00 "},
		{1234.5, "1.23 K"},
		{2_500_000, "2.50 M"},
		{7e9, "7.00 G"},
		{3e15, "3000.00 T"},
	} {
		if out := SiUnits(e.number, 2); out != e.out {
			t.Fatalf("%f: expected %q, got %q", e.number, e.out, out)
		}
	}
}
