// Package chain provides a minimal EVM JSON-RPC client: contract calls,
// raw transaction submission, receipts and new-head subscriptions.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient defines the EVM JSON-RPC HTTP interface used by the gateways.
type RPCClient interface {
	// CallContract executes a read-only call against the latest block.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// SendRawTransaction submits a signed transaction. Never retried.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// TransactionReceipt returns the receipt, or nil if the transaction is still pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// PendingNonceAt returns the next nonce for account including pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's current gas price.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// ChainID returns the EIP-155 chain id.
	ChainID(ctx context.Context) (*big.Int, error)
}
