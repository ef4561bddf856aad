package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-keeper/internal/chain"
)

// Default confirmation settings.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultConfirmTimeout = 3 * time.Minute
)

// ConfirmerOptions configures a Confirmer.
type ConfirmerOptions struct {
	RPC chain.RPCClient
	// Heads, when set, wakes the poll loop on every new block instead of waiting for the ticker.
	Heads        <-chan chain.Head
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Confirmer waits for transaction receipts.
type Confirmer struct {
	rpc          chain.RPCClient
	heads        <-chan chain.Head
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewConfirmer creates a Confirmer with defaults applied.
func NewConfirmer(opts ConfirmerOptions) *Confirmer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfirmTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Confirmer{
		rpc:          opts.RPC,
		heads:        opts.Heads,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
	}
}

// Wait polls for the receipt of hash until it is mined, the timeout passes, or ctx is done.
// Receipt lookup errors are logged and polling continues.
func (c *Confirmer) Wait(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	heads := c.heads

	for {
		receipt, err := c.rpc.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && waitCtx.Err() == nil {
			c.logger.Debug("receipt lookup failed",
				zap.String("op", "ledger.Confirmer.Wait"),
				zap.Stringer("tx", hash),
				zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %v", ErrConfirmationTimeout, hash, c.timeout)
			}
			return nil, waitCtx.Err()
		case <-ticker.C:
		case _, ok := <-heads:
			if !ok {
				heads = nil
			}
		}
	}
}
