package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

const (
	// DefaultAddress Default daemon address
	DefaultAddress = "http://localhost:18081"

	// EndpointJSONRPC Path all JSON-RPC methods are served from
	EndpointJSONRPC = "/json_rpc"

	versionJSONRPC = "2.0"
)

// ClientOptions Optional overrides applied by NewClient
type ClientOptions struct {
	HTTPClient *http.Client
}

type ClientOption func(o *ClientOptions)

func WithHTTPClient(v *http.Client) ClientOption {
	return func(o *ClientOptions) {
		o.HTTPClient = v
	}
}

// Client JSON-RPC client of a CryptoNote daemon
type Client struct {
	http    *http.Client
	address *url.URL
}

func NewClient(address string, opts ...ClientOption) (*Client, error) {
	parsedAddress, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("url parse: %w", err)
	}

	options := &ClientOptions{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		address: parsedAddress,
		http:    options.HTTPClient,
	}, nil
}

func (c *Client) Address() string {
	return c.address.String()
}

// ResponseError JSON-RPC error object
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ResponseEnvelope Wrapper of every JSON-RPC response
type ResponseEnvelope struct {
	ID      string         `json:"id"`
	JSONRPC string         `json:"jsonrpc"`
	Result  any            `json:"result"`
	Error   *ResponseError `json:"error"`
}

// RequestEnvelope Wrapper of every JSON-RPC request
type RequestEnvelope struct {
	ID      string `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPC Calls method with params, decoding the result field into response
func (c *Client) JSONRPC(ctx context.Context, method string, params, response any) error {
	address := *c.address
	address.Path = EndpointJSONRPC

	b, err := utils.MarshalJSON(&RequestEnvelope{
		ID:      "0",
		JSONRPC: versionJSONRPC,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address.String(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("new req '%s': %w", address.String(), err)
	}

	req.Header.Add("Content-Type", "application/json")

	rpcResponseBody := &ResponseEnvelope{
		Result: response,
	}

	if err := c.submitRequest(req, rpcResponseBody); err != nil {
		return fmt.Errorf("submit request: %w", err)
	}

	if rpcResponseBody.Error != nil {
		return fmt.Errorf("rpc error: %w", rpcResponseBody.Error)
	}

	return nil
}

func (c *Client) submitRequest(req *http.Request, response any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("non-2xx status code: %d", resp.StatusCode)
	}

	if err := utils.NewJSONDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}
