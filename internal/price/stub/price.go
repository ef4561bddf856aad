// Package stub provides a table-driven price gateway for tests.
package stub

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/price"
)

// Gateway values assets from a per-unit price table.
// Unknown assets value to zero. Panics entries panic inside ValueOf.
type Gateway struct {
	mu     sync.Mutex
	prices map[common.Address]*big.Int
	values map[common.Address]*big.Int

	Errs   map[common.Address]error
	Panics map[common.Address]bool

	calls []common.Address
}

// New creates an empty stub gateway.
func New() *Gateway {
	return &Gateway{
		prices: make(map[common.Address]*big.Int),
		values: make(map[common.Address]*big.Int),
		Errs:   make(map[common.Address]error),
		Panics: make(map[common.Address]bool),
	}
}

// Compile-time interface check.
var _ price.Gateway = (*Gateway)(nil)

// SetUnitPrice values asset at amount * unitPrice.
func (g *Gateway) SetUnitPrice(asset common.Address, unitPrice *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[asset] = new(big.Int).Set(unitPrice)
}

// SetValue returns value for asset regardless of amount.
func (g *Gateway) SetValue(asset common.Address, value *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[asset] = new(big.Int).Set(value)
}

// ValueOf returns the stubbed value.
func (g *Gateway) ValueOf(_ context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	g.mu.Lock()
	g.calls = append(g.calls, asset)
	panics := g.Panics[asset]
	err := g.Errs[asset]
	fixed, hasFixed := g.values[asset]
	unit, hasUnit := g.prices[asset]
	g.mu.Unlock()

	if panics {
		panic("stub price gateway: " + asset.Hex())
	}
	if err != nil {
		return nil, err
	}
	if hasFixed {
		return new(big.Int).Set(fixed), nil
	}
	if hasUnit && amount != nil {
		return new(big.Int).Mul(amount, unit), nil
	}
	return new(big.Int), nil
}

// Calls returns the assets ValueOf was called with, in order.
func (g *Gateway) Calls() []common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Address(nil), g.calls...)
}
