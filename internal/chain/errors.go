package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrUnavailable wraps transport failures: network errors, timeouts, 5xx.
	ErrUnavailable = errors.New("rpc unavailable")

	// ErrRateLimited is returned when the node answers 429.
	ErrRateLimited = errors.New("rate limited (429)")
)

// JSON-RPC error codes with transient meaning.
const (
	codeInternalError = -32603
	codeLimitExceeded = -32005
	codeExecutionErr  = 3
)

// RPCError is a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsReverted reports whether the error is an EVM execution revert.
func IsReverted(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == codeExecutionErr || strings.Contains(rpcErr.Message, "execution reverted")
}

// IsTransient reports whether retrying the same operation later may succeed.
// Reverts and malformed requests are terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if IsReverted(err) {
			return false
		}
		return rpcErr.Code == codeLimitExceeded || rpcErr.Code == codeInternalError
	}
	return false
}
