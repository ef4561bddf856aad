package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is a read-only snapshot of a debt position owned by the ledger.
type Vault struct {
	Owner            common.Address // unique key
	CollateralAmount *big.Int       // collateral asset units locked
	DebtAmount       *big.Int       // outstanding principal in the debt unit
	PendingYield     *big.Int       // accrued yield in collateral units, not yet applied
	CollateralAsset  common.Address // zero until the asset identity has been read
	Active           bool
	ReadyForCheck    bool // ledger-enforced cooldown has elapsed
}

// Candidate is a vault that passed the cheap filters during one scan.
// Lives only for the duration of one cycle.
type Candidate struct {
	Owner            common.Address
	CollateralAmount *big.Int
	DebtAmount       *big.Int
	PendingYield     *big.Int
	CollateralAsset  common.Address
}

// PassesCheapFilter reports whether v is eligible without consulting a price:
// debt > 0, pendingYield >= threshold, active and ready for check.
func PassesCheapFilter(v *Vault, minYieldThreshold *big.Int) bool {
	if v == nil || !v.Active || !v.ReadyForCheck {
		return false
	}
	if v.DebtAmount == nil || v.DebtAmount.Sign() <= 0 {
		return false
	}
	if v.PendingYield == nil {
		return false
	}
	threshold := minYieldThreshold
	if threshold == nil {
		threshold = new(big.Int)
	}
	return v.PendingYield.Cmp(threshold) >= 0
}

// NewCandidate copies the fields a candidate needs from a vault snapshot.
func NewCandidate(v *Vault) *Candidate {
	return &Candidate{
		Owner:            v.Owner,
		CollateralAmount: cloneInt(v.CollateralAmount),
		DebtAmount:       cloneInt(v.DebtAmount),
		PendingYield:     cloneInt(v.PendingYield),
		CollateralAsset:  v.CollateralAsset,
	}
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
