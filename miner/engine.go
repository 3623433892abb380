package miner

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidJob  = errors.New("invalid mining job")
	ErrJobRunning  = errors.New("a search is already running")
	errNonceOffset = errors.New("nonce offset outside of blob")
)

// Job A single nonce search. Blob is copied per worker, the nonce is written little endian at NonceOffset.
type Job struct {
	Blob        []byte
	NonceOffset int

	Height     uint64
	Seed       types.Hash
	Difficulty types.Difficulty

	Threads    int
	StartNonce uint32
}

func (j *Job) verify() error {
	if j.NonceOffset < 0 || j.NonceOffset+4 > len(j.Blob) {
		return errNonceOffset
	}
	if j.Difficulty.IsZero() {
		return ErrInvalidJob
	}
	return nil
}

// Solution Winning nonce and its proof of work hash, always published together
type Solution struct {
	Nonce uint32     `json:"nonce"`
	Hash  types.Hash `json:"hash"`
}

// Engine Parallel nonce search. Each worker walks the nonce space with a stride of the thread count,
// starting at a distinct offset. The first worker to satisfy the difficulty wins.
type Engine struct {
	oracle HashOracle
	arena  ScratchArena

	running atomic.Bool

	found    atomic.Bool
	hashes   atomic.Uint64
	started  atomic.Uint32
	solution atomic.Pointer[Solution]

	// cancelled is replaced per search, late cancellations of a previous search cannot leak into the next
	cancelled atomic.Pointer[atomic.Bool]

	// threads is only written while no search runs
	threads int
}

func NewEngine(oracle HashOracle) *Engine {
	return &Engine{
		oracle: oracle,
	}
}

// Hashes Hash count of the current or last search, minus what the pipeline already collected
func (e *Engine) Hashes() uint64 {
	return e.hashes.Load()
}

// Solution Winning solution of the current or last search, nil if none yet
func (e *Engine) Solution() *Solution {
	return e.solution.Load()
}

// Cancel Stops all workers of the running search within one hash computation
func (e *Engine) Cancel() {
	if cancelled := e.cancelled.Load(); cancelled != nil {
		cancelled.Store(true)
	}
}

func (e *Engine) reset(job *Job) *atomic.Bool {
	cancelled := &atomic.Bool{}
	e.cancelled.Store(cancelled)
	e.found.Store(false)
	e.hashes.Store(0)
	e.started.Store(0)
	e.solution.Store(nil)
	e.threads = max(1, job.Threads)
	e.arena.Reset(e.threads, e.oracle.ScratchSize(), len(job.Blob))
	return cancelled
}

// Search Runs job until a solution is found, the nonce space is exhausted or the search is cancelled.
// A nil solution with nil error means no solution. The returned error is the first hash oracle failure,
// only reported when no worker found a solution.
func (e *Engine) Search(ctx context.Context, job *Job) (*Solution, error) {
	if err := job.verify(); err != nil {
		return nil, err
	}

	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer e.running.Store(false)

	cancelled := e.reset(job)

	stop := context.AfterFunc(ctx, func() {
		cancelled.Store(true)
	})
	defer stop()

	utils.Debugf("Engine", "Searching height %d, difficulty %s, %d threads", job.Height, job.Difficulty, e.threads)

	var g errgroup.Group
	for i := range e.threads {
		g.Go(func() error {
			start := job.StartNonce
			if i != 0 {
				// offsets are handed out in start order, so ranges never overlap
				start += e.started.Add(1)
			}
			return e.work(i, job, start, cancelled)
		})
	}

	err := g.Wait()

	if solution := e.solution.Load(); solution != nil {
		return solution, nil
	}
	return nil, err
}

func (e *Engine) work(worker int, job *Job, nonce uint32, cancelled *atomic.Bool) error {
	stride := uint32(e.threads)

	blob := e.arena.Blob(worker)
	copy(blob, job.Blob)
	scratch := e.arena.Scratch(worker)
	nonceBuf := blob[job.NonceOffset : job.NonceOffset+4]

	for !e.found.Load() && !cancelled.Load() {
		binary.LittleEndian.PutUint32(nonceBuf, nonce)

		hash, err := e.oracle.Hash(job.Seed, job.Height, blob, scratch)
		e.hashes.Add(1)
		if err != nil {
			return err
		}

		if job.Difficulty.CheckPoW(hash) {
			if e.found.CompareAndSwap(false, true) {
				e.solution.Store(&Solution{Nonce: nonce, Hash: hash})
				utils.Debugf("Engine", "Worker %d found nonce %d", worker, nonce)
			}
			return nil
		}

		if math.MaxUint32-nonce < stride {
			return nil
		}
		nonce += stride
	}
	return nil
}
