// Package price values collateral through an on-chain price oracle.
package price

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway returns the value of an amount of an asset in the debt unit.
// A zero value is a valid response meaning no reliable price is available.
type Gateway interface {
	ValueOf(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
}
