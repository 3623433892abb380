package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/monero/block"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client/rpc"
	"git.gammaspectra.live/P2Pool/merged-miner/monero/client/rpc/daemon"
	"git.gammaspectra.live/P2Pool/merged-miner/types"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"github.com/davecgh/go-spew/spew"
)

var ErrEmptyTemplate = errors.New("empty block template")

// Template A decoded block template, owned by the caller
type Template struct {
	Block      *block.Block
	Height     uint64
	Difficulty types.Difficulty
	SeedHash   types.Hash
}

// Client Fetches templates from and submits blocks to a single daemon
type Client struct {
	c *rpc.Client
	d *daemon.Client

	throttler <-chan time.Time
}

func NewClient(address string, opts ...rpc.ClientOption) (*Client, error) {
	c, err := rpc.NewClient(address, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		c:         c,
		d:         daemon.NewClient(c),
		throttler: time.Tick(time.Second / 8),
	}, nil
}

func (c *Client) Address() string {
	return c.c.Address()
}

func (c *Client) SetThrottle(timesPerSecond uint64) {
	c.throttler = time.Tick(time.Second / time.Duration(timesPerSecond))
}

// GetTemplate Requests a template paying to wallet with reserveSize bytes reserved in the coinbase extra
func (c *Client) GetTemplate(ctx context.Context, wallet string, reserveSize uint) (*Template, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.throttler:
	}

	result, err := c.d.GetBlockTemplate(ctx, wallet, reserveSize)
	if err != nil {
		return nil, err
	}

	if len(result.BlocktemplateBlob) == 0 {
		return nil, ErrEmptyTemplate
	}

	if utils.IsLogLevelDebug() {
		utils.Debugf("RPC", "%s getblocktemplate %s", c.c.Address(), spew.Sdump(result))
	}

	t := &Template{
		Block:      &block.Block{},
		Height:     result.Height,
		Difficulty: result.Difficulty,
		SeedHash:   result.SeedHash,
	}
	if !result.WideDifficulty.IsZero() {
		t.Difficulty = result.WideDifficulty
	}

	if err = t.Block.UnmarshalBinary(result.BlocktemplateBlob); err != nil {
		return nil, fmt.Errorf("template blob: %w", err)
	}

	return t, nil
}

// Submit Serializes and submits a completed block
func (c *Client) Submit(ctx context.Context, b *block.Block) error {
	blob, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if _, err = c.d.SubmitBlock(ctx, blob); err != nil {
		return err
	}
	return nil
}
