package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/merge_mining"
	"git.gammaspectra.live/P2Pool/merged-miner/monero"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/address"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/block"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"golang.org/x/sync/errgroup"
)

// ChainClient Template source and block sink of one chain, implemented by client.Client
type ChainClient interface {
	GetTemplate(ctx context.Context, wallet string, reserveSize uint) (*client.Template, error)
	Submit(ctx context.Context, b *block.Block) error
}

type Chain struct {
	Client ChainClient
	Wallet string
}

type MineParams struct {
	Primary Chain
	// Auxiliary nil mines the primary chain alone
	Auxiliary *Chain
	Threads   int
}

type Config struct {
	// PollInterval and PollCount bound the wait on a running search before templates are refreshed
	PollInterval time.Duration
	PollCount    int

	ReserveSize uint
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Millisecond * 100,
		PollCount:    50,
		ReserveSize:  merge_mining.ReservedSize,
	}
}

type SubmissionOutcome int

const (
	NotAttempted SubmissionOutcome = iota
	Submitted
	Rejected
)

func (o SubmissionOutcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case Rejected:
		return "rejected"
	default:
		return "not-attempted"
	}
}

func (o SubmissionOutcome) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// RoundResult Outcome of one finished search round
type RoundResult struct {
	Round     uint32            `json:"round"`
	Height    uint64            `json:"height"`
	Primary   SubmissionOutcome `json:"primary"`
	Auxiliary SubmissionOutcome `json:"auxiliary"`
	Solution  *Solution         `json:"solution,omitempty"`
	// Difficulty approximate difficulty reached by the solution hash, zero without a solution
	Difficulty types.Difficulty `json:"difficulty"`
	Hashes     uint64           `json:"hashes"`
	Elapsed    time.Duration    `json:"elapsed"`
	HashRate   float64          `json:"hash_rate"`
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureTemplate
	failureConfiguration
	failureInternal
	failureOracle
)

type failure struct {
	kind    failureKind
	message string
	err     error
}

func (f *failure) Error() string {
	if f.err == nil {
		return f.message
	}
	return fmt.Sprintf("%s: %s", f.message, f.err)
}

func (f *failure) Unwrap() error {
	return f.err
}

func (f *failure) fatal() bool {
	return f.kind == failureConfiguration || f.kind == failureInternal
}

// round Captured state of one search, submissions only ever use these values
type round struct {
	primary, auxiliary                     *block.Block
	height                                 uint64
	primaryDifficulty, auxiliaryDifficulty types.Difficulty

	cancel context.CancelFunc
	done   chan struct{}

	solution *Solution
	err      error
}

// MergedMiner Mines a primary chain, optionally committing to an auxiliary chain block
// so the same proof of work can be submitted to both.
type MergedMiner struct {
	config Config
	engine *Engine
	status *StatusChannel

	stopped    atomic.Bool
	blockCount atomic.Uint32

	// hashLock orders readers of the total against moving a finished search's count into it
	hashLock sync.Mutex
	hashes   atomic.Uint64

	lastRound atomic.Pointer[RoundResult]

	lock   sync.Mutex
	cancel context.CancelFunc

	tip chan struct{}
}

func NewMergedMiner(oracle HashOracle, config Config) *MergedMiner {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PollCount <= 0 {
		config.PollCount = defaults.PollCount
	}
	if config.ReserveSize == 0 {
		config.ReserveSize = defaults.ReserveSize
	}

	return &MergedMiner{
		config: config,
		engine: NewEngine(oracle),
		status: NewStatusChannel(),
		tip:    make(chan struct{}, 1),
	}
}

func (m *MergedMiner) Status() *StatusChannel {
	return m.status
}

// GetMessage Oldest pending status message, non-blocking
func (m *MergedMiner) GetMessage() (string, bool) {
	return m.status.Pop()
}

// GetBlockCount Rounds completed since the last Start
func (m *MergedMiner) GetBlockCount() uint32 {
	return m.blockCount.Load()
}

// Hashes Total hashes since the last Start, including the running search
func (m *MergedMiner) Hashes() uint64 {
	m.hashLock.Lock()
	defer m.hashLock.Unlock()
	return m.hashes.Load() + m.engine.Hashes()
}

func (m *MergedMiner) LastRound() *RoundResult {
	return m.lastRound.Load()
}

func (m *MergedMiner) Stopped() bool {
	return m.stopped.Load()
}

// Start Clears the stop signal and counters. The next Mine call begins with fresh templates.
func (m *MergedMiner) Start() {
	m.blockCount.Store(0)
	m.hashes.Store(0)
	m.lastRound.Store(nil)
	m.stopped.Store(false)
}

// Stop Cancels any running search, Mine returns within one poll interval
func (m *MergedMiner) Stop() {
	m.stopped.Store(true)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// NotifyTip Signals that a chain tip changed and templates are stale. Never blocks.
func (m *MergedMiner) NotifyTip() {
	select {
	case m.tip <- struct{}{}:
	default:
	}
}

func validateWallets(params MineParams) error {
	if err := address.Validate(params.Primary.Wallet); err != nil {
		return &failure{kind: failureConfiguration, message: "Failed to parse primary wallet address", err: err}
	}
	if params.Auxiliary != nil {
		if err := address.Validate(params.Auxiliary.Wallet); err != nil {
			return &failure{kind: failureConfiguration, message: "Failed to parse auxiliary wallet address", err: err}
		}
	}
	return nil
}

// Mine Runs rounds until Stop is called or ctx is cancelled, returning true, or until a configuration
// or internal error occurs, returning false. Every failure pushes one status message.
func (m *MergedMiner) Mine(ctx context.Context, params MineParams) bool {
	if err := validateWallets(params); err != nil {
		m.status.Push(err.Error())
		return false
	}

	// a tip seen while stopped must not cut short the first round of this run
	select {
	case <-m.tip:
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.lock.Lock()
	m.cancel = cancel
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		m.cancel = nil
	}()

	threads := utils.ClampThreads(params.Threads)

	var (
		pending    *round
		roundStart time.Time
	)

	abandon := func() {
		if pending != nil {
			pending.cancel()
			<-pending.done
			m.collectHashes()
			pending = nil
		}
	}
	defer abandon()

	for !m.stopped.Load() && ctx.Err() == nil {
		primary, auxiliary, err := m.fetch(ctx, params)
		if err != nil {
			if m.stopped.Load() || ctx.Err() != nil {
				break
			}
			m.status.Push(err.Error())

			var f *failure
			if errors.As(err, &f) && f.fatal() {
				return false
			}
			continue
		}

		if pending != nil {
			// stopped while fetching, the running round is abandoned and never submitted
			if m.stopped.Load() || ctx.Err() != nil {
				break
			}
			m.finish(ctx, pending, params, roundStart)
			pending = nil

			if m.stopped.Load() {
				break
			}
		}
		roundStart = time.Now()

		if pending, err = m.prepare(ctx, primary, auxiliary, threads); err != nil {
			m.status.Push(err.Error())
			return false
		}

		m.wait(ctx, pending)
	}

	return true
}

// fetch Requests both templates concurrently, auxiliary version is checked here
func (m *MergedMiner) fetch(ctx context.Context, params MineParams) (primary, auxiliary *client.Template, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		if primary, err = params.Primary.Client.GetTemplate(gctx, params.Primary.Wallet, m.config.ReserveSize); err != nil {
			if errors.Is(err, block.ErrUnsupportedVersion) {
				return &failure{kind: failureConfiguration, message: "Unsupported block version received from primary network", err: err}
			}
			return &failure{kind: failureTransient, message: "Failed to get primary block", err: err}
		}
		if primary.Block.MajorVersion != monero.BlockMajorVersion1 {
			return &failure{kind: failureConfiguration, message: fmt.Sprintf("Unsupported block version %d received from primary network", primary.Block.MajorVersion)}
		}
		return nil
	})

	if params.Auxiliary != nil {
		g.Go(func() (err error) {
			if auxiliary, err = params.Auxiliary.Client.GetTemplate(gctx, params.Auxiliary.Wallet, m.config.ReserveSize); err != nil {
				if errors.Is(err, block.ErrUnsupportedVersion) {
					return &failure{kind: failureConfiguration, message: "Unsupported block version received from auxiliary network, merged mining is not possible", err: err}
				}
				return &failure{kind: failureTransient, message: "Failed to get auxiliary block", err: err}
			}
			if auxiliary.Block.MajorVersion != monero.BlockMajorVersion2 {
				return &failure{kind: failureConfiguration, message: "Unsupported block version received from auxiliary network, merged mining is not possible"}
			}
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, nil, err
	}
	return primary, auxiliary, nil
}

// prepare Embeds the commitment and launches the search in the background
func (m *MergedMiner) prepare(ctx context.Context, primary, auxiliary *client.Template, threads int) (*round, error) {
	r := &round{
		primary:           primary.Block.Clone(),
		height:            primary.Height,
		primaryDifficulty: primary.Difficulty,
		done:              make(chan struct{}),
	}
	difficulty := primary.Difficulty

	if auxiliary != nil {
		r.auxiliary = auxiliary.Block.Clone()
		r.auxiliaryDifficulty = auxiliary.Difficulty
		difficulty = types.MinDifficulty(difficulty, auxiliary.Difficulty)

		if err := merge_mining.EmbedCommitment(r.primary, r.auxiliary); err != nil {
			return nil, &failure{kind: failureInternal, message: "Internal error", err: err}
		}
	}

	r.primary.Nonce = 0
	job := &Job{
		Blob:        r.primary.PowHashingBlob(nil),
		NonceOffset: r.primary.NonceOffset(),
		Height:      primary.Height,
		Seed:        primary.SeedHash,
		Difficulty:  difficulty,
		Threads:     threads,
	}

	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)
		r.solution, r.err = m.engine.Search(ctx, job)
	}()

	utils.Debugf("Miner", "Round started at height %d, difficulty %s", r.height, difficulty)
	return r, nil
}

// wait Bounded poll on the running search, ending early on stop, completion or a new tip
func (m *MergedMiner) wait(ctx context.Context, r *round) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for range m.config.PollCount {
		if m.stopped.Load() {
			return
		}
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-m.tip:
			utils.Debugf("Miner", "New chain tip, refreshing templates")
			return
		case <-ticker.C:
		}
	}
}

// finish Stops the search of r and submits its solution to each chain whose own difficulty it satisfies
func (m *MergedMiner) finish(ctx context.Context, r *round, params MineParams, started time.Time) {
	r.cancel()
	<-r.done

	hashes := m.collectHashes()

	result := &RoundResult{
		Round:    m.blockCount.Load() + 1,
		Height:   r.height,
		Solution: r.solution,
		Hashes:   hashes,
		Elapsed:  time.Since(started),
	}

	if r.err != nil && r.solution == nil {
		if errors.Is(r.err, ErrInvalidJob) || errors.Is(r.err, errNonceOffset) {
			m.status.Push((&failure{kind: failureTemplate, message: "Invalid block template", err: r.err}).Error())
		} else {
			m.status.Push((&failure{kind: failureOracle, message: "Hash computation failed", err: r.err}).Error())
		}
	}

	if r.solution != nil {
		r.primary.Nonce = r.solution.Nonce
		result.Difficulty = types.DifficultyFromPoW(r.solution.Hash)
		m.status.Pushf("Found nonce %d with difficulty %s", r.solution.Nonce, result.Difficulty)

		if r.primaryDifficulty.CheckPoW(r.solution.Hash) {
			result.Primary = m.submit(ctx, params.Primary.Client, r.primary, "primary")
		}

		if r.auxiliary != nil && r.auxiliaryDifficulty.CheckPoW(r.solution.Hash) {
			merge_mining.LinkAuxiliary(r.primary, r.auxiliary)
			result.Auxiliary = m.submit(ctx, params.Auxiliary.Client, r.auxiliary, "auxiliary")
		}
	}

	if seconds := result.Elapsed.Seconds(); seconds > 0 {
		result.HashRate = float64(hashes) / seconds
	}
	m.status.Pushf("Hashrate: %sH/s", utils.SiUnits(result.HashRate, 2))

	m.lastRound.Store(result)
	m.blockCount.Add(1)
}

// collectHashes Moves the finished search's hashes into the total, Hashes never observes the move half done
func (m *MergedMiner) collectHashes() uint64 {
	m.hashLock.Lock()
	defer m.hashLock.Unlock()
	hashes := m.engine.hashes.Swap(0)
	m.hashes.Add(hashes)
	return hashes
}

func (m *MergedMiner) submit(ctx context.Context, c ChainClient, b *block.Block, name string) SubmissionOutcome {
	if err := c.Submit(ctx, b); err != nil {
		m.status.Pushf("Failed to submit %s block: %s", name, err)
		return Rejected
	}
	m.status.Pushf("Submitted %s block %s", name, b.Id())
	return Submitted
}
