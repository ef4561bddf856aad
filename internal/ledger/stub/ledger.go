// Package stub provides an in-memory ledger for tests.
package stub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"vault-keeper/internal/chain"
	"vault-keeper/internal/domain"
	"vault-keeper/internal/ledger"
)

// ErrNotFound is returned when a vault is not registered.
var ErrNotFound = errors.New("not found")

// Ledger implements ledger.Gateway in memory. Error fields inject failures.
type Ledger struct {
	mu sync.Mutex

	keeper    common.Address
	owners    []common.Address
	vaults    map[common.Address]*domain.Vault
	keepers   map[common.Address]bool
	threshold *big.Int
	interval  time.Duration
	block     uint64

	CountErr     error
	ThresholdErr error
	AuthErr      error
	// PageErrs fails VaultOwners for the page starting at the key.
	PageErrs map[uint64]error
	// VaultErrs fails Vault for the owner.
	VaultErrs map[common.Address]error
	// AssetErrs fails VaultCollateralAsset for the owner.
	AssetErrs map[common.Address]error
	// SubmitErrs fails SubmitRepayment for the owner before anything is mined.
	SubmitErrs map[common.Address]error
	// Reverts mines a failed receipt for the owner.
	Reverts map[common.Address]bool

	submitted    []common.Address
	batches      [][]common.Address
	vaultCalls   int
	assetCalls   int
	pageRequests []uint64
}

// New creates an empty stub ledger signing as keeper.
func New(keeper common.Address) *Ledger {
	return &Ledger{
		keeper:     keeper,
		vaults:     make(map[common.Address]*domain.Vault),
		keepers:    make(map[common.Address]bool),
		threshold:  new(big.Int),
		interval:   30 * time.Minute,
		PageErrs:   make(map[uint64]error),
		VaultErrs:  make(map[common.Address]error),
		AssetErrs:  make(map[common.Address]error),
		SubmitErrs: make(map[common.Address]error),
		Reverts:    make(map[common.Address]bool),
	}
}

// Compile-time interface check.
var _ ledger.Gateway = (*Ledger)(nil)

// AddVault registers a vault. The registry order is the insertion order.
func (l *Ledger) AddVault(v *domain.Vault) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.vaults[v.Owner]; !ok {
		l.owners = append(l.owners, v.Owner)
	}
	cp := *v
	l.vaults[v.Owner] = &cp
}

// SetThreshold sets the minimum yield threshold.
func (l *Ledger) SetThreshold(threshold *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = new(big.Int).Set(threshold)
}

// SetInterval sets the advertised check interval.
func (l *Ledger) SetInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = d
}

// Authorize marks account as a keeper.
func (l *Ledger) Authorize(account common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keepers[account] = true
}

// KeeperAddress returns the signing address.
func (l *Ledger) KeeperAddress() common.Address {
	return l.keeper
}

// VaultCount returns the number of registered vaults.
func (l *Ledger) VaultCount(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.CountErr != nil {
		return 0, l.CountErr
	}
	return uint64(len(l.owners)), nil
}

// VaultOwners returns a page of owners.
func (l *Ledger) VaultOwners(_ context.Context, start, count uint64) ([]common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pageRequests = append(l.pageRequests, start)

	if err := l.PageErrs[start]; err != nil {
		return nil, err
	}

	total := uint64(len(l.owners))
	if start >= total {
		return nil, nil
	}
	end := start + count
	if end > total {
		end = total
	}

	out := make([]common.Address, end-start)
	copy(out, l.owners[start:end])
	return out, nil
}

// Vault returns a copy of owner's vault without its collateral asset.
func (l *Ledger) Vault(_ context.Context, owner common.Address) (*domain.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.vaultCalls++

	if err := l.VaultErrs[owner]; err != nil {
		return nil, err
	}
	v, ok := l.vaults[owner]
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", owner, ErrNotFound)
	}

	return &domain.Vault{
		Owner:            v.Owner,
		CollateralAmount: cloneInt(v.CollateralAmount),
		DebtAmount:       cloneInt(v.DebtAmount),
		PendingYield:     cloneInt(v.PendingYield),
		Active:           v.Active,
		ReadyForCheck:    v.ReadyForCheck,
	}, nil
}

// VaultCollateralAsset returns owner's collateral asset.
func (l *Ledger) VaultCollateralAsset(_ context.Context, owner common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.assetCalls++

	if err := l.AssetErrs[owner]; err != nil {
		return common.Address{}, err
	}
	v, ok := l.vaults[owner]
	if !ok {
		return common.Address{}, fmt.Errorf("vault %s: %w", owner, ErrNotFound)
	}
	return v.CollateralAsset, nil
}

// MinYieldThreshold returns the configured threshold.
func (l *Ledger) MinYieldThreshold(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ThresholdErr != nil {
		return nil, l.ThresholdErr
	}
	return new(big.Int).Set(l.threshold), nil
}

// CheckInterval returns the configured interval.
func (l *Ledger) CheckInterval(_ context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval, nil
}

// IsKeeper reports whether account was authorized.
func (l *Ledger) IsKeeper(_ context.Context, account common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.AuthErr != nil {
		return false, l.AuthErr
	}
	return l.keepers[account], nil
}

// SubmitRepayment moves owner's pending yield into its debt and mines a receipt.
func (l *Ledger) SubmitRepayment(_ context.Context, owner common.Address) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.SubmitErrs[owner]; err != nil {
		return nil, err
	}

	l.submitted = append(l.submitted, owner)
	receipt := l.mine(owner.Bytes())

	if l.Reverts[owner] {
		receipt.Status = chain.ReceiptStatusFailed
		return receipt, fmt.Errorf("repayWithYield %s: %w", receipt.TxHash, ledger.ErrReverted)
	}

	if v, ok := l.vaults[owner]; ok {
		applyYield(v)
	}
	return receipt, nil
}

// SubmitBatchRepayment repays every owner in one receipt. A revert for any owner reverts the batch.
func (l *Ledger) SubmitBatchRepayment(_ context.Context, owners []common.Address) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make([]common.Address, len(owners))
	copy(batch, owners)
	l.batches = append(l.batches, batch)

	var seed []byte
	for _, owner := range owners {
		if err := l.SubmitErrs[owner]; err != nil {
			return nil, err
		}
		seed = append(seed, owner.Bytes()...)
	}
	receipt := l.mine(seed)

	for _, owner := range owners {
		if l.Reverts[owner] {
			receipt.Status = chain.ReceiptStatusFailed
			return receipt, fmt.Errorf("batchRepayWithYield %s: %w", receipt.TxHash, ledger.ErrReverted)
		}
	}

	for _, owner := range owners {
		if v, ok := l.vaults[owner]; ok {
			applyYield(v)
		}
	}
	return receipt, nil
}

// Submitted returns the owners passed to SubmitRepayment, in order.
func (l *Ledger) Submitted() []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]common.Address, len(l.submitted))
	copy(out, l.submitted)
	return out
}

// Batches returns the owner lists passed to SubmitBatchRepayment.
func (l *Ledger) Batches() [][]common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]common.Address, len(l.batches))
	copy(out, l.batches)
	return out
}

// VaultCalls returns how many times Vault was called.
func (l *Ledger) VaultCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vaultCalls
}

// AssetCalls returns how many times VaultCollateralAsset was called.
func (l *Ledger) AssetCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assetCalls
}

// PageRequests returns the start index of every VaultOwners call.
func (l *Ledger) PageRequests() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]uint64, len(l.pageRequests))
	copy(out, l.pageRequests)
	return out
}

// mine builds a successful receipt with a deterministic hash. Caller holds mu.
func (l *Ledger) mine(seed []byte) *chain.Receipt {
	l.block++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], l.block)

	return &chain.Receipt{
		TxHash:      crypto.Keccak256Hash(seed, n[:]),
		Status:      chain.ReceiptStatusSuccessful,
		BlockNumber: l.block,
		GasUsed:     21_000,
	}
}

// applyYield repays min(pendingYield, debt) and clears the yield.
func applyYield(v *domain.Vault) {
	debt := cloneInt(v.DebtAmount)
	yield := cloneInt(v.PendingYield)

	repay := yield
	if repay.Cmp(debt) > 0 {
		repay = debt
	}
	v.DebtAmount = debt.Sub(debt, repay)
	v.PendingYield = new(big.Int)
}

func cloneInt(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}
