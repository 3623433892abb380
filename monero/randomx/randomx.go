package randomx

import (
	"errors"
	"sync"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

type Flag int

const (
	FlagLargePages Flag = 1 << iota
	FlagFullMemory
	FlagSecure
)

// DefaultCachedStates Current and next seed epoch
const DefaultCachedStates = 2

var (
	ErrNoSeed       = errors.New("could not get seed")
	errStateClosed  = errors.New("randomx state closed")
	errStateRetries = errors.New("randomx state evicted while hashing")
)

// Oracle RandomX proof of work hasher. Keeps one initialized state per seed in an LRU,
// each state hands out virtual machines to concurrent callers.
type Oracle struct {
	flags []Flag

	lock   sync.Mutex
	states *lru.Cache[types.Hash, *seedState]
}

func NewOracle(cachedStates int, flags ...Flag) (*Oracle, error) {
	if cachedStates <= 0 {
		cachedStates = DefaultCachedStates
	}
	o := &Oracle{
		flags: flags,
	}

	var err error
	o.states, err = lru.NewWithEvict[types.Hash, *seedState](cachedStates, func(seed types.Hash, state *seedState) {
		utils.Logf("RandomX", "Releasing state for seed %s", seed)
		// in-flight hashes hold the state read lock
		go state.Close()
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ScratchSize RandomX virtual machines own their scratchpad
func (o *Oracle) ScratchSize() int {
	return 0
}

func (o *Oracle) state(seed types.Hash) (*seedState, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if state, ok := o.states.Get(seed); ok {
		return state, nil
	}

	state, err := newSeedState(seed, o.flags...)
	if err != nil {
		return nil, err
	}
	o.states.Add(seed, state)
	return state, nil
}

func (o *Oracle) Hash(seed types.Hash, height uint64, blob, scratch []byte) (types.Hash, error) {
	if seed == types.ZeroHash {
		return types.ZeroHash, ErrNoSeed
	}

	for range 2 {
		state, err := o.state(seed)
		if err != nil {
			return types.ZeroHash, err
		}
		hash, err := state.Hash(blob)
		if errors.Is(err, errStateClosed) {
			continue
		}
		return hash, err
	}
	return types.ZeroHash, errStateRetries
}

// Close Releases all states. Hashing after Close reinitializes states on demand.
func (o *Oracle) Close() {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.states.Purge()
}
