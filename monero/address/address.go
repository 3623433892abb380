package address

import (
	"bytes"
	"encoding/binary"
	"errors"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/crypto"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	base58 "git.gammaspectra.live/P2Pool/monero-base58"
)

// Address CryptoNote public address: varint network tag, spend key, view key, checksum.
// Keys are not checked to be valid curve points.
type Address struct {
	SpendPub    types.Hash
	ViewPub     types.Hash
	TypeNetwork uint64
	hasChecksum bool
	checksum    Checksum
}

const ChecksumLength = 4

// keys and checksum following the network tag
const addressDataLength = types.HashSize*2 + ChecksumLength

type Checksum [ChecksumLength]byte

var (
	ErrInvalidEncoding = errors.New("invalid base58 address encoding")
	ErrInvalidLength   = errors.New("invalid address length")
	ErrInvalidChecksum = errors.New("invalid address checksum")
)

func FromBase58(address string) (*Address, error) {
	preAllocatedBuf := make([]byte, 0, 128)
	raw := base58.DecodeMoneroBase58PreAllocated(preAllocatedBuf, []byte(address))
	if len(raw) == 0 {
		return nil, ErrInvalidEncoding
	}

	tag, varintLen := utils.CanonicalUvarint(raw)
	if varintLen <= 0 {
		return nil, ErrInvalidEncoding
	}

	if len(raw)-varintLen != addressDataLength {
		return nil, ErrInvalidLength
	}

	a := &Address{
		TypeNetwork: tag,
		checksum:    checksumHash(raw[:len(raw)-ChecksumLength]),
		hasChecksum: true,
	}

	if !bytes.Equal(a.checksum[:], raw[len(raw)-ChecksumLength:]) {
		return nil, ErrInvalidChecksum
	}

	copy(a.SpendPub[:], raw[varintLen:varintLen+types.HashSize])
	copy(a.ViewPub[:], raw[varintLen+types.HashSize:varintLen+types.HashSize*2])

	return a, nil
}

// Validate Checks a wallet address is well-formed base58 with a matching checksum
func Validate(address string) error {
	_, err := FromBase58(address)
	return err
}

func FromRawAddress(typeNetwork uint64, spend, view types.Hash) *Address {
	return &Address{
		TypeNetwork: typeNetwork,
		SpendPub:    spend,
		ViewPub:     view,
	}
}

func checksumHash(data []byte) (sum Checksum) {
	h := crypto.PooledKeccak256(data)
	copy(sum[:], h[:ChecksumLength])
	return
}

func (a *Address) rawData() []byte {
	data := make([]byte, 0, binary.MaxVarintLen64+addressDataLength)
	data = binary.AppendUvarint(data, a.TypeNetwork)
	data = append(data, a.SpendPub[:]...)
	data = append(data, a.ViewPub[:]...)
	return data
}

func (a *Address) verifyChecksum() {
	if !a.hasChecksum {
		a.checksum = checksumHash(a.rawData())
		a.hasChecksum = true
	}
}

func (a *Address) ToBase58() []byte {
	a.verifyChecksum()

	data := append(a.rawData(), a.checksum[:]...)

	buf := make([]byte, 0, 128)
	return base58.EncodeMoneroBase58PreAllocated(buf, data)
}

func (a *Address) String() string {
	return string(a.ToBase58())
}

func (a *Address) MarshalJSON() ([]byte, error) {
	b58 := a.ToBase58()
	result := make([]byte, len(b58)+2)
	result[0] = '"'
	copy(result[1:], b58)
	result[len(result)-1] = '"'
	return result, nil
}

func (a *Address) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("unsupported length")
	}
	addr, err := FromBase58(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*a = *addr
	return nil
}
