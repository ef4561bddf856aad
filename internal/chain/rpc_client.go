package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Observer is notified after every JSON-RPC call.
type Observer func(method string, elapsed time.Duration, err error)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	observer    Observer
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for transport failures.
// Zero disables retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithObserver registers a per-call observer, typically a latency metric.
func WithObserver(o Observer) ClientOption {
	return func(c *HTTPClient) {
		c.observer = o
	}
}

// NewHTTPClient creates a new EVM JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ RPCClient = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a JSON-RPC call with the client's retry budget.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return c.callWithRetries(ctx, method, params, result, c.maxRetries)
}

// callWithRetries performs a JSON-RPC call, retrying transport failures with exponential backoff.
// RPC error objects are returned immediately.
func (c *HTTPClient) callWithRetries(ctx context.Context, method string, params []interface{}, result interface{}, maxRetries int) (err error) {
	if c.observer != nil {
		start := time.Now()
		defer func() { c.observer(method, time.Since(start), err) }()
	}

	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: http request: %w", ErrUnavailable, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("%w: unmarshal response: %w", ErrUnavailable, err)
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	if maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CallContract executes eth_call against the latest block.
func (c *HTTPClient) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	params := []interface{}{
		map[string]interface{}{
			"to":   to,
			"data": hexutil.Bytes(data),
		},
		"latest",
	}

	var result hexutil.Bytes
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendRawTransaction submits a signed transaction. Transport failures are not retried
// because the outcome of a failed submission is unknown.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.callWithRetries(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &hash, 0); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// TransactionReceipt returns the receipt for hash, or nil while the transaction is pending.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var result *getReceiptResult
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &result); err != nil {
		return nil, err
	}

	if result == nil {
		return nil, nil
	}

	return &Receipt{
		TxHash:      result.TransactionHash,
		Status:      uint64(result.Status),
		BlockNumber: uint64(result.BlockNumber),
		GasUsed:     uint64(result.GasUsed),
	}, nil
}

// getReceiptResult is the raw RPC response for eth_getTransactionReceipt.
type getReceiptResult struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
}

// PendingNonceAt returns the account nonce including pending transactions.
func (c *HTTPClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{account, "pending"}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *HTTPClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", nil, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// ChainID returns the chain id used for EIP-155 signing.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_chainId", nil, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}
