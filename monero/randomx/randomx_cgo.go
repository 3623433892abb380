//go:build cgo && enable_randomx_library && !purego

package randomx

import (
	"errors"
	"runtime"
	"sync"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"git.gammaspectra.live/P2Pool/randomx-go-bindings"
)

type seedState struct {
	lock    sync.RWMutex
	closed  bool
	dataset *randomx.RxDataset
	flags   randomx.Flag

	vmLock sync.Mutex
	idle   []*randomx.RxVM
	all    []*randomx.RxVM
}

func newSeedState(seed types.Hash, flags ...Flag) (*seedState, error) {
	applyFlags := randomx.GetFlags()
	for _, f := range flags {
		if f == FlagLargePages {
			applyFlags |= randomx.FlagLargePages
		} else if f == FlagFullMemory {
			applyFlags |= randomx.FlagFullMEM
		} else if f == FlagSecure {
			applyFlags |= randomx.FlagSecure
		}
	}
	s := &seedState{
		flags: applyFlags,
	}
	if dataset, err := randomx.NewRxDataset(s.flags); err != nil {
		return nil, err
	} else {
		s.dataset = dataset
	}

	utils.Logf("RandomX", "Initializing to seed %s", seed)
	if s.dataset.GoInit(seed[:], uint32(utils.GOMAXPROCS)) == false {
		s.dataset.Close()
		return nil, errors.New("could not initialize dataset")
	}
	utils.Logf("RandomX", "Initialized to seed %s", seed)

	return s, nil
}

func (s *seedState) getVM() (vm *randomx.RxVM, err error) {
	s.vmLock.Lock()
	defer s.vmLock.Unlock()
	if n := len(s.idle); n > 0 {
		vm = s.idle[n-1]
		s.idle = s.idle[:n-1]
		return vm, nil
	}
	if vm, err = randomx.NewRxVM(s.dataset, s.flags); err != nil {
		return nil, err
	}
	s.all = append(s.all, vm)
	return vm, nil
}

func (s *seedState) putVM(vm *randomx.RxVM) {
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

	outputBuf := vm.CalcHash(input)
	copy(output[:], outputBuf[:])
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
	s.dataset.Close()
}
