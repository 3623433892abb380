package crypto

import (
	"math/bits"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"git.gammaspectra.live/P2Pool/sha3"
)

// BinaryTreeHash Leaves of a CryptoNote transaction tree, coinbase id first
type BinaryTreeHash []types.Hash

// pairHash Parent of h and its sibling p, index is the position of h within its level
func pairHash(index int, h, p types.Hash, hasher *sha3.HasherState) (out types.Hash) {
	hasher.Reset()
	if index&1 == 1 {
		h, p = p, h
	}
	_, _ = hasher.Write(h[:])
	_, _ = hasher.Write(p[:])
	HashFastSum(hasher, out[:])
	return out
}

// fold Reduces the leaves to the root. Leaves past the first 2*width-count are paired first
// so the remaining levels form a full binary tree of width leaves. If branch is set, the
// sibling on the path of leaf 0 is appended at every level.
func (t BinaryTreeHash) fold(branch *[]types.Hash) types.Hash {
	count := len(t)
	switch count {
	case 0:
		return types.ZeroHash
	case 1:
		return t[0]
	}

	hasher := GetKeccak256Hasher()
	defer PutKeccak256Hasher(hasher)

	width := utils.PreviousPowerOfTwo(uint64(count))
	unpaired := width*2 - count

	// leaf 0 is never paired here, unpaired is at least 1
	level := make([]types.Hash, width)
	copy(level, t[:unpaired])
	for i := unpaired; i < width; i++ {
		j := 2*i - unpaired
		level[i] = pairHash(0, t[j], t[j+1], hasher)
	}

	for ; width > 1; width >>= 1 {
		if branch != nil {
			*branch = append(*branch, level[1])
		}
		for i := range width / 2 {
			level[i] = pairHash(0, level[2*i], level[2*i+1], hasher)
		}
	}
	return level[0]
}

// RootHash Tree hash of the leaves, zero for an empty tree
func (t BinaryTreeHash) RootHash() types.Hash {
	return t.fold(nil)
}

// MainBranch Merkle branch of the first leaf, ordered from the leaf level up to the root
func (t BinaryTreeHash) MainBranch() (mainBranch []types.Hash) {
	if len(t) < 2 {
		return nil
	}
	t.fold(&mainBranch)
	return mainBranch
}

// TreeDepth Number of branch hashes needed to prove a leaf in a tree of count leaves
func TreeDepth(count int) int {
	if count <= 1 {
		return 0
	}
	return bits.Len64(uint64(count)) - 1
}

type MerkleProof []types.Hash

func (proof MerkleProof) Verify(h types.Hash, index, count int, rootHash types.Hash) bool {
	return proof.GetRoot(h, index, count) == rootHash
}

// GetRoot Walks proof up from leaf h at index, zero when the proof is too short or index out of range
func (proof MerkleProof) GetRoot(h types.Hash, index, count int) types.Hash {
	switch {
	case count == 1:
		return h
	case index >= count:
		return types.ZeroHash
	}

	hasher := GetKeccak256Hasher()
	defer PutKeccak256Hasher(hasher)

	width := utils.PreviousPowerOfTwo(uint64(count))
	unpaired := width*2 - count

	if index >= unpaired {
		if len(proof) == 0 {
			return types.ZeroHash
		}
		index -= unpaired
		h = pairHash(index, h, proof[0], hasher)
		index = index>>1 + unpaired
		proof = proof[1:]
	}

	for ; width >= 2; width >>= 1 {
		if len(proof) == 0 {
			return types.ZeroHash
		}
		h = pairHash(index, h, proof[0], hasher)
		proof = proof[1:]
		index >>= 1
	}
	return h
}
