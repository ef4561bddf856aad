package executor

import "math/big"

var hundred = big.NewInt(100)

// HealthFactor returns floor(collateralValue * 100 / debt) as a percentage.
// The caller must ensure debt > 0.
func HealthFactor(collateralValue, debt *big.Int) *big.Int {
	hf := new(big.Int).Mul(collateralValue, hundred)
	return hf.Div(hf, debt)
}
