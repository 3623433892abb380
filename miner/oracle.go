package miner

import (
	"crypto/subtle"
	"errors"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/crypto"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
)

// HashOracle Proof of work function. Implementations must be safe for concurrent use;
// scratch is exclusively owned by the caller for the duration of the call.
type HashOracle interface {
	// ScratchSize Bytes of per worker scratch memory required by Hash, or zero
	ScratchSize() int
	Hash(seed types.Hash, height uint64, blob, scratch []byte) (types.Hash, error)
}

const DefaultKeccakScratchpadSize = 1 << 16

var ErrScratchTooSmall = errors.New("scratch buffer too small")

// KeccakScratchpadOracle Memory bound development hash for regtest daemons.
// Fills the scratchpad with chained Keccak and folds it down to a single hash.
type KeccakScratchpadOracle struct {
	size int
}

func NewKeccakScratchpadOracle(size int) *KeccakScratchpadOracle {
	if size <= 0 {
		size = DefaultKeccakScratchpadSize
	}
	// whole hashes only
	size = max(types.HashSize, size-size%types.HashSize)
	return &KeccakScratchpadOracle{size: size}
}

func (o *KeccakScratchpadOracle) ScratchSize() int {
	return o.size
}

func (o *KeccakScratchpadOracle) Hash(seed types.Hash, height uint64, blob, scratch []byte) (types.Hash, error) {
	if len(scratch) < o.size {
		return types.ZeroHash, ErrScratchTooSmall
	}
	scratch = scratch[:o.size]

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	_, _ = hasher.Write(seed[:])
	_, _ = hasher.Write(blob)
	crypto.HashFastSum(hasher, scratch[:types.HashSize])

	for i := types.HashSize; i < len(scratch); i += types.HashSize {
		hasher.Reset()
		_, _ = hasher.Write(scratch[i-types.HashSize : i])
		crypto.HashFastSum(hasher, scratch[i:i+types.HashSize])
	}

	const stride = types.HashSize * 8
	top := scratch[:min(stride, len(scratch))]
	for i := len(top); i < len(scratch); i += stride {
		chunk := scratch[i:min(i+stride, len(scratch))]
		subtle.XORBytes(top[:len(chunk)], top[:len(chunk)], chunk)
	}

	return crypto.PooledKeccak256(top, blob), nil
}
