package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vault-keeper/internal/chain"
	"vault-keeper/internal/domain"
)

// DefaultGasLimit is the gas limit attached to repayment transactions.
const DefaultGasLimit = 500_000

// ContractOptions configures a Contract.
type ContractOptions struct {
	RPC     chain.RPCClient
	Address common.Address
	// Signer is required for writes. Without it the contract is read-only.
	Signer *Signer
	// Confirmer defaults to a receipt poller over RPC.
	Confirmer *Confirmer
	GasLimit  uint64
	Logger    *zap.Logger
}

// Contract implements Gateway over JSON-RPC eth_call and raw transactions.
// It never retries; callers classify failures with IsTransient.
type Contract struct {
	rpc       chain.RPCClient
	address   common.Address
	signer    *Signer
	confirmer *Confirmer
	gasLimit  uint64
	logger    *zap.Logger

	// txMu serializes nonce lookup and submission.
	txMu sync.Mutex
}

// NewContract creates a ledger contract binding.
func NewContract(opts ContractOptions) (*Contract, error) {
	if opts.RPC == nil {
		return nil, fmt.Errorf("ledger: rpc client is required")
	}
	if opts.Address == (common.Address{}) {
		return nil, fmt.Errorf("ledger: contract address is required")
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = DefaultGasLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = NewConfirmer(ConfirmerOptions{RPC: opts.RPC, Logger: opts.Logger})
	}

	return &Contract{
		rpc:       opts.RPC,
		address:   opts.Address,
		signer:    opts.Signer,
		confirmer: opts.Confirmer,
		gasLimit:  opts.GasLimit,
		logger:    opts.Logger,
	}, nil
}

// Compile-time interface check.
var _ Gateway = (*Contract)(nil)

// Address returns the ledger contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// KeeperAddress returns the signer address, or the zero address for a read-only contract.
func (c *Contract) KeeperAddress() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// call packs args, performs eth_call and unpacks the outputs of method.
func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := ledgerABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	out, err := c.rpc.CallContract(ctx, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	values, err := ledgerABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	return values, nil
}

// VaultCount returns the number of registered vault owners.
func (c *Contract) VaultCount(ctx context.Context) (uint64, error) {
	values, err := c.call(ctx, methodVaultCount)
	if err != nil {
		return 0, err
	}
	return toUint64(methodVaultCount, values[0])
}

// VaultOwners returns up to count owners starting at start.
func (c *Contract) VaultOwners(ctx context.Context, start, count uint64) ([]common.Address, error) {
	values, err := c.call(ctx, methodVaultOwners, new(big.Int).SetUint64(start), new(big.Int).SetUint64(count))
	if err != nil {
		return nil, err
	}

	owners, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", methodVaultOwners, values[0])
	}
	return owners, nil
}

// Vault returns the vault snapshot of owner.
func (c *Contract) Vault(ctx context.Context, owner common.Address) (*domain.Vault, error) {
	values, err := c.call(ctx, methodVault, owner)
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("%s: expected 5 outputs, got %d", methodVault, len(values))
	}

	collateral, ok1 := values[0].(*big.Int)
	debt, ok2 := values[1].(*big.Int)
	yield, ok3 := values[2].(*big.Int)
	active, ok4 := values[3].(bool)
	ready, ok5 := values[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("%s: unexpected output types", methodVault)
	}

	return &domain.Vault{
		Owner:            owner,
		CollateralAmount: collateral,
		DebtAmount:       debt,
		PendingYield:     yield,
		Active:           active,
		ReadyForCheck:    ready,
	}, nil
}

// VaultCollateralAsset returns the collateral asset of owner's vault.
func (c *Contract) VaultCollateralAsset(ctx context.Context, owner common.Address) (common.Address, error) {
	values, err := c.call(ctx, methodVaultCollateralAsset, owner)
	if err != nil {
		return common.Address{}, err
	}

	asset, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected output type %T", methodVaultCollateralAsset, values[0])
	}
	return asset, nil
}

// MinYieldThreshold returns the ledger's minimum pending yield.
func (c *Contract) MinYieldThreshold(ctx context.Context) (*big.Int, error) {
	values, err := c.call(ctx, methodMinYieldThreshold)
	if err != nil {
		return nil, err
	}

	threshold, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", methodMinYieldThreshold, values[0])
	}
	return threshold, nil
}

// CheckInterval returns the ledger's advertised check interval. The contract stores seconds.
func (c *Contract) CheckInterval(ctx context.Context) (time.Duration, error) {
	values, err := c.call(ctx, methodCheckInterval)
	if err != nil {
		return 0, err
	}

	seconds, err := toUint64(methodCheckInterval, values[0])
	if err != nil {
		return 0, err
	}
	if seconds > uint64(1<<63-1)/uint64(time.Second) {
		return 0, fmt.Errorf("%s: %w: %d seconds", methodCheckInterval, ErrValueOutOfRange, seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// IsKeeper reports whether account is an authorized keeper.
func (c *Contract) IsKeeper(ctx context.Context, account common.Address) (bool, error) {
	values, err := c.call(ctx, methodIsKeeper, account)
	if err != nil {
		return false, err
	}

	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("%s: unexpected output type %T", methodIsKeeper, values[0])
	}
	return ok, nil
}

// SubmitRepayment sends repayWithYield(owner) and waits for its receipt.
func (c *Contract) SubmitRepayment(ctx context.Context, owner common.Address) (*chain.Receipt, error) {
	return c.transact(ctx, methodRepay, owner)
}

// SubmitBatchRepayment sends batchRepayWithYield(owners) and waits for its receipt.
func (c *Contract) SubmitBatchRepayment(ctx context.Context, owners []common.Address) (*chain.Receipt, error) {
	if len(owners) == 0 {
		return nil, fmt.Errorf("%s: no owners", methodBatchRepay)
	}
	return c.transact(ctx, methodBatchRepay, owners)
}

// transact builds, signs and sends a legacy transaction calling method, then waits for its receipt.
func (c *Contract) transact(ctx context.Context, method string, args ...interface{}) (*chain.Receipt, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%s: %w", method, ErrReadOnly)
	}

	data, err := ledgerABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	hash, err := c.send(ctx, method, data)
	if err != nil {
		return nil, err
	}

	c.logger.Info("transaction submitted",
		zap.String("op", "ledger.Contract.transact"),
		zap.String("method", method),
		zap.Stringer("tx", hash))

	receipt, err := c.confirmer.Wait(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, hash, err)
	}

	if !receipt.Succeeded() {
		return receipt, fmt.Errorf("%s %s: %w", method, hash, ErrReverted)
	}

	c.logger.Info("transaction confirmed",
		zap.String("op", "ledger.Contract.transact"),
		zap.String("method", method),
		zap.Stringer("tx", hash),
		zap.Uint64("block", receipt.BlockNumber),
		zap.Uint64("gas_used", receipt.GasUsed))

	return receipt, nil
}

// send signs and broadcasts data to the contract under txMu so concurrent submissions get distinct nonces.
func (c *Contract) send(ctx context.Context, method string, data []byte) (common.Hash, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: nonce: %w", method, err)
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: gas price: %w", method, err)
	}

	to := c.address
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := c.signer.Sign(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: encode tx: %w", method, err)
	}

	hash, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: send: %w", method, err)
	}
	return hash, nil
}

func toUint64(method string, v interface{}) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected output type %T", method, v)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s: %w: %s", method, ErrValueOutOfRange, n)
	}
	return n.Uint64(), nil
}
