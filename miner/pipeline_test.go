package miner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/merge_mining"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/address"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/block"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/transaction"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
)

// lowHash satisfies difficulty 10 but not 1000
var lowHash = types.Hash{31: 0x01}

func testWallet(network uint64) string {
	return address.FromRawAddress(network, types.Hash{0x11}, types.Hash{0x22}).String()
}

func testCoinbase(height uint64, extra []byte) transaction.CoinbaseTransaction {
	return transaction.CoinbaseTransaction{
		Version:    1,
		UnlockTime: height + 10,
		InputCount: 1,
		InputType:  transaction.TxInGen,
		GenHeight:  height,
		Outputs: transaction.Outputs{
			{Reward: 1000, Type: transaction.TxOutToKey, EphemeralPublicKey: types.Hash{0xee}},
		},
		Extra: extra,
	}
}

func placeholderExtra() []byte {
	extra := append([]byte{transaction.TxExtraTagPubKey}, make([]byte, types.HashSize)...)
	return append(extra, merge_mining.Placeholder(merge_mining.ReservedSize)...)
}

func testPrimaryBlock(extra []byte) *block.Block {
	return &block.Block{
		MajorVersion: 1,
		MinorVersion: 0,
		Timestamp:    1700000000,
		PreviousId:   types.Hash{1},
		Coinbase:     testCoinbase(100, extra),
		Transactions: []types.Hash{{0xa1}, {0xa2}, {0xa3}},
	}
}

func testAuxiliaryBlock() *block.Block {
	return &block.Block{
		MajorVersion: 2,
		MinorVersion: 0,
		PreviousId:   types.Hash{2},
		Coinbase:     testCoinbase(50, []byte{transaction.TxExtraTagNonce, 0}),
		Transactions: []types.Hash{{0xb1}},
	}
}

func primaryNonceOffset() int {
	return testPrimaryBlock(placeholderExtra()).NonceOffset()
}

type stubChain struct {
	lock      sync.Mutex
	calls     int
	submitted []*block.Block

	template  func(call int) (*client.Template, error)
	submitErr error
	onSubmit  func()
}

func (c *stubChain) GetTemplate(ctx context.Context, wallet string, reserveSize uint) (*client.Template, error) {
	if reserveSize != merge_mining.ReservedSize {
		return nil, fmt.Errorf("unexpected reserve size %d", reserveSize)
	}
	c.lock.Lock()
	call := c.calls
	c.calls++
	c.lock.Unlock()
	return c.template(call)
}

func (c *stubChain) Submit(ctx context.Context, b *block.Block) error {
	c.lock.Lock()
	c.submitted = append(c.submitted, b.Clone())
	c.lock.Unlock()
	if c.onSubmit != nil {
		c.onSubmit()
	}
	return c.submitErr
}

func (c *stubChain) Submitted() []*block.Block {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.submitted
}

func (c *stubChain) Calls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.calls
}

func primaryTemplate(difficulty uint64) func(int) (*client.Template, error) {
	return func(int) (*client.Template, error) {
		return &client.Template{
			Block:      testPrimaryBlock(placeholderExtra()),
			Height:     100,
			Difficulty: types.DifficultyFrom64(difficulty),
		}, nil
	}
}

func auxiliaryTemplate(difficulty uint64) func(int) (*client.Template, error) {
	return func(int) (*client.Template, error) {
		return &client.Template{
			Block:      testAuxiliaryBlock(),
			Height:     50,
			Difficulty: types.DifficultyFrom64(difficulty),
		}, nil
	}
}

func testConfig() Config {
	return Config{
		PollInterval: time.Millisecond * 10,
		PollCount:    5,
	}
}

func runMine(t *testing.T, m *MergedMiner, params MineParams) bool {
	t.Helper()

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), params)
	}()

	select {
	case r := <-result:
		return r
	case <-time.After(time.Second * 10):
		m.Stop()
		t.Fatal("Mine did not return")
		return false
	}
}

func drainMessages(m *MergedMiner) (messages []string) {
	for {
		message, ok := m.GetMessage()
		if !ok {
			return messages
		}
		messages = append(messages, message)
	}
}

func countPrefix(messages []string, prefix string) (n int) {
	for _, message := range messages {
		if strings.HasPrefix(message, prefix) {
			n++
		}
	}
	return n
}

func TestMergedMiner_PrimaryOnly(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	primary := &stubChain{template: primaryTemplate(1000), onSubmit: m.Stop}

	ok := runMine(t, m, MineParams{
		Primary: Chain{Client: primary, Wallet: testWallet(18)},
		Threads: 4,
	})
	if !ok {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	submitted := primary.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(submitted))
	}
	if submitted[0].Nonce != 37 {
		t.Fatalf("submitted nonce %d", submitted[0].Nonce)
	}
	if !bytes.Equal(submitted[0].Coinbase.Extra, placeholderExtra()) {
		t.Fatal("extra modified without auxiliary chain")
	}

	if m.GetBlockCount() != 1 {
		t.Fatalf("block count %d", m.GetBlockCount())
	}
	round := m.LastRound()
	if round == nil || round.Primary != Submitted || round.Auxiliary != NotAttempted || round.Solution.Nonce != 37 || round.Height != 100 {
		t.Fatalf("unexpected round result %+v", round)
	}

	messages := drainMessages(m)
	if countPrefix(messages, "Submitted primary block") != 1 || countPrefix(messages, "Hashrate: ") != 1 {
		t.Fatalf("unexpected messages %v", messages)
	}

	m.Start()
	if m.GetBlockCount() != 0 || m.Hashes() != 0 || m.LastRound() != nil {
		t.Fatal("Start did not reset counters")
	}
}

func TestMergedMiner_Merged(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	primary := &stubChain{template: primaryTemplate(1000)}
	auxiliary := &stubChain{template: auxiliaryTemplate(500), onSubmit: m.Stop}

	ok := runMine(t, m, MineParams{
		Primary:   Chain{Client: primary, Wallet: testWallet(18)},
		Auxiliary: &Chain{Client: auxiliary, Wallet: testWallet(0x3ef318)},
		Threads:   3,
	})
	if !ok {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	if len(primary.Submitted()) != 1 || len(auxiliary.Submitted()) != 1 {
		t.Fatalf("expected one submission per chain, got %d and %d", len(primary.Submitted()), len(auxiliary.Submitted()))
	}
	p, a := primary.Submitted()[0], auxiliary.Submitted()[0]

	if len(p.Coinbase.Extra) != len(placeholderExtra()) {
		t.Fatal("embedding changed extra length")
	}
	tag, err := merge_mining.FindTag(p.Coinbase.Extra)
	if err != nil {
		t.Fatal(err)
	}
	if tag.MerkleRoot != a.HeaderHash() {
		t.Fatal("primary coinbase does not commit to auxiliary block")
	}

	if err = merge_mining.VerifyAuxiliary(a); err != nil {
		t.Fatal(err)
	}
	if a.Parent.Nonce != 37 || a.Timestamp != p.Timestamp || a.Parent.TransactionCount != uint64(len(p.Transactions)+1) {
		t.Fatalf("unexpected parent block %+v", a.Parent)
	}
	if !bytes.Equal(a.PowHashingBlob(nil), p.PowHashingBlob(nil)) {
		t.Fatal("auxiliary proof of work blob differs from primary")
	}
	if a.Parent.MerkleRoot() != p.TxTreeHash() {
		t.Fatal("coinbase branch does not reach primary transaction root")
	}
}

func TestMergedMiner_IndependentDifficulty(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			if nonce == 37 {
				return lowHash, nil
			}
			return failingHash, nil
		},
	}, testConfig())
	primary := &stubChain{template: primaryTemplate(1000)}
	auxiliary := &stubChain{template: auxiliaryTemplate(10), onSubmit: m.Stop}

	ok := runMine(t, m, MineParams{
		Primary:   Chain{Client: primary, Wallet: testWallet(18)},
		Auxiliary: &Chain{Client: auxiliary, Wallet: testWallet(18)},
		Threads:   4,
	})
	if !ok {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	if len(primary.Submitted()) != 0 {
		t.Fatal("primary submitted with a hash below its difficulty")
	}
	if len(auxiliary.Submitted()) != 1 {
		t.Fatalf("expected one auxiliary submission, got %d", len(auxiliary.Submitted()))
	}
	if round := m.LastRound(); round.Primary != NotAttempted || round.Auxiliary != Submitted {
		t.Fatalf("unexpected round result %+v", round)
	}
	// upper half of lowHash is 2^120
	if round := m.LastRound(); !round.Difficulty.Equals64(255) {
		t.Fatalf("unexpected solution difficulty %s", round.Difficulty)
	}
	if messages := drainMessages(m); countPrefix(messages, "Found nonce 37 with difficulty 255") != 1 {
		t.Fatalf("unexpected messages %v", messages)
	}
}

func TestMergedMiner_SubmissionFailureIsIndependent(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	primary := &stubChain{template: primaryTemplate(1000), onSubmit: m.Stop}
	auxiliary := &stubChain{template: auxiliaryTemplate(1000), submitErr: errors.New("block rejected")}

	ok := runMine(t, m, MineParams{
		Primary:   Chain{Client: primary, Wallet: testWallet(18)},
		Auxiliary: &Chain{Client: auxiliary, Wallet: testWallet(18)},
		Threads:   2,
	})
	if !ok {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	if round := m.LastRound(); round.Primary != Submitted || round.Auxiliary != Rejected {
		t.Fatalf("unexpected round result %+v", round)
	}
	messages := drainMessages(m)
	if countPrefix(messages, "Submitted primary block") != 1 || countPrefix(messages, "Failed to submit auxiliary block") != 1 {
		t.Fatalf("unexpected messages %v", messages)
	}
}

func TestMergedMiner_StopDuringSearch(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			time.Sleep(time.Millisecond)
			return failingHash, nil
		},
	}, DefaultConfig())
	primary := &stubChain{template: primaryTemplate(1000)}

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), MineParams{
			Primary: Chain{Client: primary, Wallet: testWallet(18)},
			Threads: 2,
		})
	}()

	for m.Hashes() == 0 {
		time.Sleep(time.Millisecond)
	}

	stopped := time.Now()
	m.Stop()

	select {
	case ok := <-result:
		if !ok {
			t.Fatal("stop reported as failure")
		}
	case <-time.After(time.Second * 2):
		t.Fatal("Mine did not return after Stop")
	}
	if elapsed := time.Since(stopped); elapsed > DefaultConfig().PollInterval*5 {
		t.Fatalf("stop took %s", elapsed)
	}
	if len(primary.Submitted()) != 0 {
		t.Fatal("interrupted round was submitted")
	}
	if m.GetBlockCount() != 0 {
		t.Fatal("interrupted round counted")
	}
}

func TestMergedMiner_FetchRetry(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	template := primaryTemplate(1000)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			if call < 2 {
				return nil, errors.New("connection refused")
			}
			return template(call)
		},
		onSubmit: m.Stop,
	}

	ok := runMine(t, m, MineParams{
		Primary: Chain{Client: primary, Wallet: testWallet(18)},
		Threads: 1,
	})
	if !ok {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	messages := drainMessages(m)
	if countPrefix(messages, "Failed to get primary block") != 2 {
		t.Fatalf("unexpected messages %v", messages)
	}
	if len(primary.Submitted()) != 1 {
		t.Fatal("no submission after recovering")
	}
}

func TestMergedMiner_Fatal(t *testing.T) {
	t.Parallel()

	for _, e := range []struct {
		name      string
		primary   func(int) (*client.Template, error)
		auxiliary func(int) (*client.Template, error)
		wallet    string
		message   string
	}{
		{
			name:    "primary wallet",
			primary: primaryTemplate(1000),
			wallet:  "not a wallet",
			message: "Failed to parse primary wallet address",
		},
		{
			name:    "auxiliary version",
			primary: primaryTemplate(1000),
			auxiliary: func(int) (*client.Template, error) {
				return &client.Template{Block: testPrimaryBlock(nil), Difficulty: types.DifficultyFrom64(1)}, nil
			},
			message: "Unsupported block version received from auxiliary network, merged mining is not possible",
		},
		{
			name:    "auxiliary version decode",
			primary: primaryTemplate(1000),
			auxiliary: func(int) (*client.Template, error) {
				return nil, fmt.Errorf("template blob: %w 7", block.ErrUnsupportedVersion)
			},
			message: "Unsupported block version received from auxiliary network, merged mining is not possible",
		},
		{
			name: "missing placeholder",
			primary: func(int) (*client.Template, error) {
				return &client.Template{Block: testPrimaryBlock([]byte{transaction.TxExtraTagNonce, 0}), Difficulty: types.DifficultyFrom64(1000)}, nil
			},
			auxiliary: auxiliaryTemplate(1000),
			message:   "Internal error",
		},
	} {
		t.Run(e.name, func(t *testing.T) {
			t.Parallel()

			m := NewMergedMiner(winningAt(primaryNonceOffset()), testConfig())
			params := MineParams{
				Primary: Chain{Client: &stubChain{template: e.primary}, Wallet: testWallet(18)},
				Threads: 1,
			}
			if e.wallet != "" {
				params.Primary.Wallet = e.wallet
			}
			if e.auxiliary != nil {
				params.Auxiliary = &Chain{Client: &stubChain{template: e.auxiliary}, Wallet: testWallet(18)}
			}

			if runMine(t, m, params) {
				t.Fatal("expected failure")
			}
			messages := drainMessages(m)
			if countPrefix(messages, e.message) != 1 {
				t.Fatalf("expected one %q message, got %v", e.message, messages)
			}
		})
	}
}

func TestMergedMiner_OracleFailure(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			return types.ZeroHash, errors.New("dataset not ready")
		},
	}, testConfig())

	template := primaryTemplate(1000)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			// the first round is finished by the second fetch, the third ends mining
			if call == 2 {
				m.Stop()
			}
			return template(call)
		},
	}

	if !runMine(t, m, MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 2}) {
		t.Fatal("oracle failure must not terminate mining")
	}

	messages := drainMessages(m)
	if countPrefix(messages, "Hash computation failed") != 1 {
		t.Fatalf("unexpected messages %v", messages)
	}
	if len(primary.Submitted()) != 0 {
		t.Fatal("submitted without a solution")
	}
}

func TestMergedMiner_NotifyTip(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			time.Sleep(time.Millisecond)
			return failingHash, nil
		},
	}, DefaultConfig())

	template := primaryTemplate(1000)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			if call == 1 {
				m.Stop()
			}
			return template(call)
		},
	}

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 1})
	}()

	for m.Hashes() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.NotifyTip()

	// without the tip the round would wait the full five seconds before refetching
	select {
	case <-result:
	case <-time.After(time.Second * 2):
		m.Stop()
		t.Fatal("tip notification did not refresh templates")
	}
	if primary.Calls() != 2 {
		t.Fatalf("expected 2 template fetches, got %d", primary.Calls())
	}
}

func TestMergedMiner_InvalidTemplate(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	template := primaryTemplate(0)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			if call == 2 {
				m.Stop()
			}
			return template(call)
		},
	}

	if !runMine(t, m, MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 1}) {
		t.Fatal("invalid template must not terminate mining")
	}

	messages := drainMessages(m)
	if countPrefix(messages, "Invalid block template") != 1 || countPrefix(messages, "Hash computation failed") != 0 {
		t.Fatalf("unexpected messages %v", messages)
	}
	if len(primary.Submitted()) != 0 {
		t.Fatal("submitted a block from an invalid template")
	}
}

func TestMergedMiner_StopWhileFetching(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(winningAt(primaryNonceOffset(), 37), testConfig())
	template := primaryTemplate(1000)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			// the solved first round is pending while this fetch completes
			if call == 1 {
				m.Stop()
			}
			return template(call)
		},
	}

	if !runMine(t, m, MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 2}) {
		t.Fatal("stop reported as failure")
	}

	if len(primary.Submitted()) != 0 {
		t.Fatal("round submitted after stop")
	}
	if m.GetBlockCount() != 0 || m.LastRound() != nil {
		t.Fatal("interrupted round counted")
	}
	if messages := drainMessages(m); countPrefix(messages, "Failed to submit") != 0 {
		t.Fatalf("unexpected messages %v", messages)
	}
}

func TestMergedMiner_Restart(t *testing.T) {
	t.Parallel()

	var win atomic.Bool
	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			if win.Load() && nonce == 37 {
				return satisfyingHash, nil
			}
			time.Sleep(time.Millisecond)
			return failingHash, nil
		},
	}, DefaultConfig())

	template := primaryTemplate(1000)
	primary := &stubChain{
		template: func(call int) (*client.Template, error) {
			tpl, err := template(call)
			tpl.Height = 100 + uint64(call)
			return tpl, err
		},
	}
	params := MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 2}

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), params)
	}()
	for m.Hashes() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	select {
	case <-result:
	case <-time.After(time.Second * 2):
		t.Fatal("Mine did not return after Stop")
	}

	fetched := primary.Calls()
	if fetched != 1 || len(primary.Submitted()) != 0 {
		t.Fatalf("first run: %d fetches, %d submissions", fetched, len(primary.Submitted()))
	}

	m.Start()
	win.Store(true)
	primary.lock.Lock()
	primary.onSubmit = m.Stop
	primary.lock.Unlock()

	if !runMine(t, m, params) {
		t.Fatalf("Mine failed: %v", drainMessages(m))
	}

	if len(primary.Submitted()) != 1 {
		t.Fatalf("expected one submission after restart, got %d", len(primary.Submitted()))
	}
	round := m.LastRound()
	if round == nil || round.Round != 1 || m.GetBlockCount() != 1 {
		t.Fatalf("counters not restarted: %+v", round)
	}
	// the submitted round was mined on a template fetched after Start
	if round.Height < 100+uint64(fetched) {
		t.Fatalf("interrupted round resumed, height %d", round.Height)
	}
}

func TestMergedMiner_TipWhileStopped(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			time.Sleep(time.Millisecond)
			return failingHash, nil
		},
	}, Config{PollInterval: time.Millisecond * 10, PollCount: 50})
	primary := &stubChain{template: primaryTemplate(1000)}

	m.Stop()
	m.NotifyTip()
	m.Start()

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 1})
	}()
	for m.Hashes() == 0 {
		time.Sleep(time.Millisecond)
	}

	// the first round waits up to 500ms, a stale tip would refetch at once
	time.Sleep(time.Millisecond * 100)
	calls := primary.Calls()
	m.Stop()
	<-result

	if calls != 1 {
		t.Fatalf("expected 1 template fetch, got %d", calls)
	}
}

func TestMergedMiner_HashesMonotonic(t *testing.T) {
	t.Parallel()

	m := NewMergedMiner(&stubOracle{
		nonceOffset: primaryNonceOffset(),
		hash: func(nonce uint32, _ []byte) (types.Hash, error) {
			return failingHash, nil
		},
	}, Config{PollInterval: time.Millisecond, PollCount: 2})
	primary := &stubChain{template: primaryTemplate(1000)}

	result := make(chan bool, 1)
	go func() {
		result <- m.Mine(context.Background(), MineParams{Primary: Chain{Client: primary, Wallet: testWallet(18)}, Threads: 2})
	}()

	var last uint64
	deadline := time.Now().Add(time.Millisecond * 200)
	for time.Now().Before(deadline) {
		hashes := m.Hashes()
		if hashes < last {
			m.Stop()
			t.Fatalf("hash count went backwards: %d after %d", hashes, last)
		}
		last = hashes
	}
	m.Stop()
	<-result

	if primary.Calls() < 3 {
		t.Fatalf("expected several rounds, got %d fetches", primary.Calls())
	}
	if m.Hashes() < last {
		t.Fatal("hash count went backwards after stop")
	}
}
