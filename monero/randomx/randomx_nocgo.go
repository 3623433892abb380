//go:build !cgo || !enable_randomx_library || purego

package randomx

import (
	"fmt"
	"runtime"
	"slices"
	"sync"

	"git.gammaspectra.live/P2Pool/go-randomx/v4"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

type seedState struct {
	lock    sync.RWMutex
	closed  bool
	cache   *randomx.Cache
	dataset *randomx.Dataset
	flags   randomx.Flags

	vmLock sync.Mutex
	idle   []*randomx.VM
	all    []*randomx.VM
}

func newSeedState(seed types.Hash, flags ...Flag) (*seedState, error) {
	applyFlags := randomx.GetFlags()
	for _, f := range flags {
		if f == FlagLargePages {
			applyFlags |= randomx.RANDOMX_FLAG_LARGE_PAGES
		} else if f == FlagFullMemory {
			applyFlags |= randomx.RANDOMX_FLAG_FULL_MEM
		} else if f == FlagSecure {
			applyFlags |= randomx.RANDOMX_FLAG_SECURE
		}
	}
	s := &seedState{
		flags: applyFlags,
	}
	var err error

	utils.Logf("RandomX", "Initializing to seed %s", seed)

	s.cache, err = randomx.NewCache(s.flags)
	if err != nil {
		return nil, err
	}
	s.cache.Init(seed[:])

	if slices.Contains(flags, FlagFullMemory) {
		if dataset, err := randomx.NewDataset(s.flags); err != nil {
			s.Close()
			return nil, fmt.Errorf("couldn't initialize dataset: %w", err)
		} else {
			s.dataset = dataset
		}
		s.dataset.InitDatasetParallel(s.cache, utils.GOMAXPROCS)
	}

	utils.Logf("RandomX", "Initialized to seed %s", seed)

	return s, nil
}

func (s *seedState) getVM() (vm *randomx.VM, err error) {
	s.vmLock.Lock()
	defer s.vmLock.Unlock()
	if n := len(s.idle); n > 0 {
		vm = s.idle[n-1]
		s.idle = s.idle[:n-1]
		return vm, nil
	}
	if vm, err = randomx.NewVM(s.flags, s.cache, s.dataset); err != nil {
		return nil, fmt.Errorf("couldn't initialize vm: %w", err)
	}
	s.all = append(s.all, vm)
	return vm, nil
}

func (s *seedState) putVM(vm *randomx.VM) {
	s.vmLock.Lock()
	defer s.vmLock.Unlock()
	s.idle = append(s.idle, vm)
}

func (s *seedState) Hash(input []byte) (output types.Hash, err error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return types.ZeroHash, errStateClosed
	}

	vm, err := s.getVM()
	if err != nil {
		return types.ZeroHash, err
	}
	defer s.putVM(vm)

	vm.CalculateHash(input, (*[32]byte)(&output))
	runtime.KeepAlive(input)
	return output, nil
}

func (s *seedState) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, vm := range s.all {
		vm.Close()
	}
	s.all, s.idle = nil, nil
	if s.dataset != nil {
		s.dataset.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
}
