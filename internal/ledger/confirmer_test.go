package ledger

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-keeper/internal/chain"
)

// receiptRPC returns a pending receipt until minedAfter lookups have happened.
type receiptRPC struct {
	chain.RPCClient
	lookups    atomic.Int32
	minedAfter int32
}

func (r *receiptRPC) TransactionReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	if r.lookups.Add(1) <= r.minedAfter {
		return nil, nil
	}
	return &chain.Receipt{TxHash: hash, Status: chain.ReceiptStatusSuccessful, BlockNumber: 7}, nil
}

func TestConfirmer_Timeout(t *testing.T) {
	rpc := &receiptRPC{minedAfter: 1 << 30}
	c := NewConfirmer(ConfirmerOptions{
		RPC:          rpc,
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})

	_, err := c.Wait(context.Background(), common.HexToHash("0x01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.True(t, IsTransient(err))
}

func TestConfirmer_ParentCancel(t *testing.T) {
	rpc := &receiptRPC{minedAfter: 1 << 30}
	c := NewConfirmer(ConfirmerOptions{
		RPC:          rpc,
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Wait(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout)
}

func TestConfirmer_WakesOnHead(t *testing.T) {
	rpc := &receiptRPC{minedAfter: 1}
	heads := make(chan chain.Head, 1)

	c := NewConfirmer(ConfirmerOptions{
		RPC:          rpc,
		Heads:        heads,
		PollInterval: time.Hour,
		Timeout:      5 * time.Second,
	})

	heads <- chain.Head{Number: 7}

	start := time.Now()
	receipt, err := c.Wait(context.Background(), common.HexToHash("0x02"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(2), rpc.lookups.Load())
}

func TestNewSigner(t *testing.T) {
	// Well-known development key.
	s, err := NewSigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", big.NewInt(31337))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())
	assert.Equal(t, int64(31337), s.ChainID().Int64())

	_, err = NewSigner("not-a-key", big.NewInt(1))
	assert.Error(t, err)

	_, err = NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", nil)
	assert.Error(t, err)
}
