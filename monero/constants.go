package monero

// Block layouts
const (
	// BlockMajorVersion1 Standalone block, timestamp and nonce are part of the header
	BlockMajorVersion1 = 1
	// BlockMajorVersion2 Merge mined block, proof of work is carried by an embedded parent block
	BlockMajorVersion2 = 2

	HardForkSupportedVersion = BlockMajorVersion2
)

// MaxMergeMiningDepth Upper bound on blockchain branch length, one bit per chain slot of a hash
const MaxMergeMiningDepth = 8 * 32

// MaxTransactionHashes Soft cap used when preallocating transaction lists
const MaxTransactionHashes = 8192
