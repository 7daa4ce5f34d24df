// Package rpc provides an instrumented JSON-RPC client for an Ethereum node.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Method names issued by the load generator.
const (
	MethodBlockNumber         = "eth_blockNumber"
	MethodChainID             = "eth_chainId"
	MethodGetBalance          = "eth_getBalance"
	MethodGetTransactionCount = "eth_getTransactionCount"
	MethodSendRawTransaction  = "eth_sendRawTransaction"
)

// Client is the interface for JSON-RPC communication.
// Implementations must be safe for concurrent use.
type Client interface {
	// Call makes a single JSON-RPC call and returns the raw result member.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetChainID returns the chain id reported by the node.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetBalance returns the balance for an address at the latest block.
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)

	// GetPendingNonce returns the pending-inclusive transaction count.
	GetPendingNonce(ctx context.Context, address common.Address) (uint64, error)

	// SendRawTransaction submits a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error)

	// Close releases the underlying transport.
	Close()
}

// Recorder receives exactly one observation per call.
type Recorder interface {
	RecordRPC(method string, success bool, latencySeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRPC(string, bool, float64) {}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response envelope.
// A literal null error member decodes as "null" and is treated as absent.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL      string
	Timeout  time.Duration
	Recorder Recorder
	Logger   *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:     url,
		Timeout: 10 * time.Second,
	}
}

// HTTPClient implements Client over HTTP POST.
type HTTPClient struct {
	url        string
	transport  *http.Transport
	httpClient *http.Client
	recorder   Recorder
	logger     *slog.Logger
	closeOnce  sync.Once
}

// NewHTTPClient creates a new HTTP-based RPC client. The transport is
// shared by every caller.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   false,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &HTTPClient{
		url:       cfg.URL,
		transport: transport,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		recorder: recorder,
		logger:   logger,
	}
}

// Call makes a JSON-RPC call. It never retries: one invocation is one
// HTTP exchange and one recorded observation.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (result json.RawMessage, err error) {
	start := time.Now()
	defer func() {
		c.recorder.RecordRPC(method, err == nil, time.Since(start).Seconds())
		if err != nil {
			c.logger.Debug("RPC call failed",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
		}
	}()

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	return c.doRequest(ctx, method, body)
}

func (c *HTTPClient) doRequest(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &TransportError{Method: method, Err: &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	if len(rpcResp.Error) > 0 && string(rpcResp.Error) != "null" {
		return nil, parseRPCError(rpcResp.Error)
	}
	if len(rpcResp.Result) == 0 {
		return nil, &TransportError{Method: method, Err: errors.New("response has neither result nor error")}
	}

	return rpcResp.Result, nil
}

// Close releases idle connections held by the shared transport.
// Safe to call more than once.
func (c *HTTPClient) Close() {
	c.closeOnce.Do(func() {
		c.transport.CloseIdleConnections()
		c.logger.Debug("RPC transport released", slog.String("url", c.url))
	})
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, MethodBlockNumber, nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "block number")
}

// GetChainID returns the chain id reported by the node.
func (c *HTTPClient) GetChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, MethodChainID, nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "chain id")
}

// GetBalance returns the balance for an address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	result, err := c.Call(ctx, MethodGetBalance, []any{address.Hex(), "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "balance")
}

// GetPendingNonce fetches the nonce with the "pending" tag so that
// transactions still in the mempool are counted.
func (c *HTTPClient) GetPendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	result, err := c.Call(ctx, MethodGetTransactionCount, []any{address.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "nonce")
}

// SendRawTransaction sends a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	result, err := c.Call(ctx, MethodSendRawTransaction, []any{hexutil.Encode(txRLP)})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

func decodeUint64(raw json.RawMessage, what string) (uint64, error) {
	var v hexutil.Uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return uint64(v), nil
}

func decodeBig(raw json.RawMessage, what string) (*big.Int, error) {
	var v hexutil.Big
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v.ToInt(), nil
}
