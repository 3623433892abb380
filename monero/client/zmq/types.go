package zmq

import "git.gammaspectra.live/P2Pool/merged-miner/types"

type Topic string

const (
	TopicUnknown Topic = "unknown"

	TopicMinimalChainMain Topic = "json-minimal-chain_main"
	TopicFullMinerData    Topic = "json-full-miner_data"
)

// MinimalChainMain Published whenever the daemon main chain tip changes
type MinimalChainMain struct {
	FirstHeight uint64       `json:"first_height"`
	FirstPrevID types.Hash   `json:"first_prev_id"`
	Ids         []types.Hash `json:"ids"`
}

// FullMinerData Published with new mining parameters, on tip change or when the mempool changes enough
type FullMinerData struct {
	MajorVersion          uint8            `json:"major_version"`
	Height                uint64           `json:"height"`
	PrevId                types.Hash       `json:"prev_id"`
	SeedHash              types.Hash       `json:"seed_hash"`
	Difficulty            types.Difficulty `json:"difficulty"`
	MedianWeight          uint64           `json:"median_weight"`
	AlreadyGeneratedCoins uint64           `json:"already_generated_coins"`
}
