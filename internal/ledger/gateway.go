// Package ledger is the keeper's gateway to the lending protocol's ledger contract.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/chain"
	"vault-keeper/internal/domain"
)

// Reader exposes the read-only views of the ledger contract.
type Reader interface {
	// VaultCount returns the number of registered vault owners.
	VaultCount(ctx context.Context) (uint64, error)

	// VaultOwners returns up to count owners starting at index start.
	VaultOwners(ctx context.Context, start, count uint64) ([]common.Address, error)

	// Vault returns the vault snapshot of owner. CollateralAsset is not populated.
	Vault(ctx context.Context, owner common.Address) (*domain.Vault, error)

	// VaultCollateralAsset returns the collateral asset of owner's vault.
	VaultCollateralAsset(ctx context.Context, owner common.Address) (common.Address, error)

	// MinYieldThreshold returns the minimum pending yield worth repaying.
	MinYieldThreshold(ctx context.Context) (*big.Int, error)

	// CheckInterval returns the ledger's advertised check interval.
	CheckInterval(ctx context.Context) (time.Duration, error)

	// IsKeeper reports whether account is an authorized keeper.
	IsKeeper(ctx context.Context, account common.Address) (bool, error)
}

// Writer submits state-changing calls and waits for a durable result.
type Writer interface {
	// SubmitRepayment applies owner's pending yield to its debt.
	// A mined but reverted transaction returns its receipt together with ErrReverted.
	SubmitRepayment(ctx context.Context, owner common.Address) (*chain.Receipt, error)

	// SubmitBatchRepayment repays several vaults in one transaction.
	SubmitBatchRepayment(ctx context.Context, owners []common.Address) (*chain.Receipt, error)
}

// Gateway is the full ledger surface used by the keeper.
type Gateway interface {
	Reader
	Writer

	// KeeperAddress returns the address transactions are signed with.
	KeeperAddress() common.Address
}
