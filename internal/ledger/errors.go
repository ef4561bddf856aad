package ledger

import (
	"errors"

	"vault-keeper/internal/chain"
)

var (
	// ErrReverted is returned when a repayment transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")

	// ErrConfirmationTimeout is returned when no receipt arrived within the confirm timeout.
	// The transaction may still be mined later.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrReadOnly is returned by writes on a contract built without a signer.
	ErrReadOnly = errors.New("ledger is read-only: no signer configured")

	// ErrValueOutOfRange is returned when a uint256 does not fit the Go type it maps to.
	ErrValueOutOfRange = errors.New("value out of range")
)

// IsTransient reports whether a ledger error may succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrReverted) || errors.Is(err, ErrReadOnly) {
		return false
	}
	if errors.Is(err, ErrConfirmationTimeout) {
		return true
	}
	return chain.IsTransient(err)
}
