package types

import (
	"bytes"
	"errors"

	fasthex "github.com/tmthrgd/go-hex"
)

const HashSize = 32

type Hash [HashSize]byte

var ZeroHash Hash


func (h Hash) String() string {
	return fasthex.EncodeToString(h[:])
}

func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func MustHashFromString(s string) Hash {
	if h, err := HashFromString(s); err != nil {
		panic(err)
	} else {
		return h
	}
}

func HashFromString(s string) (Hash, error) {
	var h Hash
	if buf, err := fasthex.DecodeString(s); err != nil {
		return h, err
	} else {
		if len(buf) != HashSize {
			return h, errors.New("wrong hash size")
		}
		copy(h[:], buf)
		return h, nil
	}
}


func (h Hash) MarshalJSON() ([]byte, error) {
	var buf [HashSize*2 + 2]byte
	buf[0] = '"'
	buf[HashSize*2+1] = '"'
	fasthex.Encode(buf[1:], h[:])
	return buf[:], nil
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	if len(b) == 2 {
		// empty string
		*h = ZeroHash
		return nil
	}
	if len(b) != HashSize*2+2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("wrong hash size")
	}

	if _, err := fasthex.Decode(h[:], b[1:len(b)-1]); err != nil {
		return err
	}
	return nil
}

// Bytes is a byte slice that encodes to hex in JSON
type Bytes []byte

func (b Bytes) String() string {
	return fasthex.EncodeToString(b)
}

func (b Bytes) MarshalJSON() ([]byte, error) {
	buf := make([]byte, len(b)*2+2)
	buf[0] = '"'
	buf[len(buf)-1] = '"'
	fasthex.Encode(buf[1:], b)
	return buf, nil
}

func (b *Bytes) UnmarshalJSON(buf []byte) error {
	if len(buf) < 2 || (len(buf)%2) != 0 || buf[0] != '"' || buf[len(buf)-1] != '"' {
		return errors.New("invalid bytes")
	}

	*b = make(Bytes, (len(buf)-2)/2)

	if _, err := fasthex.Decode(*b, buf[1:len(buf)-1]); err != nil {
		return err
	}
	return nil
}
