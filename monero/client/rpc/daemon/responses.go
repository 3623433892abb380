package daemon

import "git.gammaspectra.live/P2Pool/merged-miner/types"

// RPCResultFooter Fields common to most daemon responses
type RPCResultFooter struct {
	Status    string `json:"status,omitempty"`
	Untrusted bool   `json:"untrusted,omitempty"`
}

// GetBlockTemplateResult Response of getblocktemplate. Older daemons omit the wide and seed fields.
type GetBlockTemplateResult struct {
	// BlockhashingBlob Proof of work input of the template, nonce zeroed
	BlockhashingBlob types.Bytes `json:"blockhashing_blob,omitempty"`

	// BlocktemplateBlob Full serialized block template
	BlocktemplateBlob types.Bytes `json:"blocktemplate_blob"`

	Difficulty     types.Difficulty `json:"difficulty"`
	WideDifficulty types.Difficulty `json:"wide_difficulty,omitempty"`

	ExpectedReward uint64 `json:"expected_reward,omitempty"`
	Height         uint64 `json:"height"`

	PrevHash types.Hash `json:"prev_hash,omitempty"`

	// ReservedOffset Position of the reserved bytes inside BlocktemplateBlob
	ReservedOffset uint64 `json:"reserved_offset"`

	// SeedHash RandomX key, zero on chains that do not use it
	SeedHash types.Hash `json:"seed_hash,omitempty"`

	RPCResultFooter `json:",inline"`
}

type SubmitBlockResult struct {
	RPCResultFooter `json:",inline"`
}
