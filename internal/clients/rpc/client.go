// Package rpc is a minimal Ethereum JSON-RPC client for read-only calls.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/evm"
)

// Client executes eth_call against a list of endpoints. The first URL is
// primary; the rest are fallbacks.
type Client struct {
	urls      []string
	client    *http.Client
	log       zerolog.Logger
	requestID atomic.Int64
}

// NewClient creates a new RPC client
func NewClient(urls []string, log zerolog.Logger) *Client {
	return &Client{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("client", "rpc").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EthCall executes a read-only contract call and returns the raw result bytes.
func (c *Client) EthCall(ctx context.Context, to string, calldata []byte) ([]byte, error) {
	if len(c.urls) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []interface{}{
			map[string]string{"to": to, "data": evm.HexEncode(calldata)},
			"latest",
		},
		ID: c.requestID.Add(1),
	}

	var lastErr error
	for _, url := range c.urls {
		result, err := c.do(ctx, url, req)
		if err != nil {
			c.log.Warn().Err(err).Str("url", url).Str("to", to).Msg("RPC endpoint failed, trying next")
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// CallUint256 runs eth_call and decodes a single uint256 return value.
func (c *Client) CallUint256(ctx context.Context, to string, calldata []byte) (*big.Int, error) {
	out, err := c.EthCall(ctx, to, calldata)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result from %s", to)
	}
	return evm.DecodeUint256(out), nil
}

// BalanceOf reads ERC20.balanceOf(account).
func (c *Client) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	bal, err := c.CallUint256(ctx, token, evm.EncodeBalanceOf(account))
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", token, err)
	}
	return bal, nil
}

func (c *Client) do(ctx context.Context, url string, req rpcRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RPC returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var hexResult string
	if err := json.Unmarshal(rpcResp.Result, &hexResult); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return evm.HexDecode(strings.TrimSpace(hexResult))
}
