package daemon

import (
	"context"
	"fmt"

	fasthex "github.com/tmthrgd/go-hex"
)

const (
	methodGetBlockTemplate = "getblocktemplate"
	methodSubmitBlock      = "submitblock"

	StatusOK = "OK"
)

// Requester Performs JSON-RPC calls, implemented by rpc.Client
type Requester interface {
	JSONRPC(ctx context.Context, method string, params, result any) error
}

// Client Typed daemon JSON-RPC methods
type Client struct {
	JSONRPCRequester Requester
}

func NewClient(c Requester) *Client {
	return &Client{JSONRPCRequester: c}
}

// checkStatus Daemons report failures both as RPC errors and as a non-OK status field
func checkStatus(method, status string) error {
	if status != "" && status != StatusOK {
		return fmt.Errorf("%s: status %q", method, status)
	}
	return nil
}

// GetBlockTemplate Requests a block template paying to walletAddress, with reserveSize
// zero bytes reserved in the coinbase extra nonce field.
func (c *Client) GetBlockTemplate(ctx context.Context, walletAddress string, reserveSize uint) (*GetBlockTemplateResult, error) {
	var (
		resp   = &GetBlockTemplateResult{}
		params = map[string]any{
			"wallet_address": walletAddress,
			"reserve_size":   reserveSize,
		}
	)

	if err := c.JSONRPCRequester.JSONRPC(ctx, methodGetBlockTemplate, params, resp); err != nil {
		return nil, fmt.Errorf("jsonrpc: %w", err)
	}

	if err := checkStatus(methodGetBlockTemplate, resp.Status); err != nil {
		return nil, err
	}

	return resp, nil
}

// SubmitBlock Submits hex encoded block blobs
func (c *Client) SubmitBlock(ctx context.Context, blobs ...[]byte) (*SubmitBlockResult, error) {
	var (
		resp   = &SubmitBlockResult{}
		params = make([]string, len(blobs))
	)

	for i, blob := range blobs {
		params[i] = fasthex.EncodeToString(blob)
	}

	if err := c.JSONRPCRequester.JSONRPC(ctx, methodSubmitBlock, params, resp); err != nil {
		return nil, fmt.Errorf("jsonrpc: %w", err)
	}

	if err := checkStatus(methodSubmitBlock, resp.Status); err != nil {
		return nil, err
	}

	return resp, nil
}
