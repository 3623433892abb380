package crypto

import (
	"sync"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/sha3"
)

var keccak256Pool = sync.Pool{
	New: func() any {
		return sha3.NewLegacyKeccak256()
	},
}

func GetKeccak256Hasher() *sha3.HasherState {
	h := keccak256Pool.Get().(*sha3.HasherState)
	h.Reset()
	return h
}

func PutKeccak256Hasher(h *sha3.HasherState) {
	keccak256Pool.Put(h)
}

// HashFastSum Reads the digest into b[:32] without the state copy sha3 Sum makes. b must hold at least 32 bytes.
func HashFastSum(hash *sha3.HasherState, b []byte) []byte {
	_ = b[types.HashSize-1]
	_, _ = hash.Read(b[:hash.Size()])
	return b
}

func sum(h *sha3.HasherState, data ...[]byte) (result types.Hash) {
	for _, b := range data {
		_, _ = h.Write(b)
	}
	HashFastSum(h, result[:])
	return result
}

// Keccak256 CryptoNote cn_fast_hash over the concatenation of data
func Keccak256(data ...[]byte) types.Hash {
	return sum(sha3.NewLegacyKeccak256(), data...)
}

func Keccak256Single(data []byte) types.Hash {
	return sum(sha3.NewLegacyKeccak256(), data)
}

// PooledKeccak256 Same as Keccak256 with hasher state taken from a pool, for hot paths
func PooledKeccak256(data ...[]byte) types.Hash {
	h := GetKeccak256Hasher()
	defer PutKeccak256Hasher(h)
	return sum(h, data...)
}
