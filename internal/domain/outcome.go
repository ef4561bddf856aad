package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the terminal per-candidate state for one cycle.
type State string

const (
	StateZeroDebt         State = "ZERO_DEBT"
	StatePriceUnavailable State = "PRICE_UNAVAILABLE"
	StateLowHealth        State = "LOW_HEALTH"
	StateSubmittedSuccess State = "SUBMITTED_SUCCESS"
	StateSubmittedFailed  State = "SUBMITTED_FAILED"
	StateError            State = "ERROR"
	StateEligible         State = "ELIGIBLE" // dry run: would have been submitted
)

// IsDeferred reports whether the candidate was left for a later cycle without action.
func (s State) IsDeferred() bool {
	switch s {
	case StateZeroDebt, StatePriceUnavailable, StateLowHealth:
		return true
	}
	return false
}

// IsFailure reports whether processing the candidate failed.
func (s State) IsFailure() bool {
	return s == StateSubmittedFailed || s == StateError
}

// Outcome records how one candidate was processed.
// Corresponds to repayment_outcomes table in PostgreSQL.
type Outcome struct {
	CycleID         string
	Owner           common.Address
	CollateralAsset common.Address
	State           State
	CollateralValue *big.Int // nil when the price was never fetched
	DebtAmount      *big.Int
	HealthFactor    *big.Int // nil when not computed
	TxHash          string   // empty unless a repayment was submitted
	Error           string
	ProcessedAt     int64 // Unix timestamp in milliseconds
}

// HealthObservation is one computed health factor.
// Corresponds to health_observations table in ClickHouse.
type HealthObservation struct {
	CycleID         string
	Owner           common.Address
	CollateralAsset common.Address
	CollateralValue *big.Int
	DebtAmount      *big.Int
	HealthFactor    *big.Int
	ObservedAt      int64 // Unix timestamp in milliseconds
}
