package domain

import (
	"math/big"
	"testing"
)

func TestPassesCheapFilter(t *testing.T) {
	threshold := big.NewInt(100)
	base := func() *Vault {
		return &Vault{
			DebtAmount:    big.NewInt(3000),
			PendingYield:  big.NewInt(150),
			Active:        true,
			ReadyForCheck: true,
		}
	}

	tests := []struct {
		name   string
		mutate func(v *Vault)
		want   bool
	}{
		{"eligible", func(*Vault) {}, true},
		{"yield equals threshold", func(v *Vault) { v.PendingYield = big.NewInt(100) }, true},
		{"yield below threshold", func(v *Vault) { v.PendingYield = big.NewInt(99) }, false},
		{"inactive", func(v *Vault) { v.Active = false }, false},
		{"cooling down", func(v *Vault) { v.ReadyForCheck = false }, false},
		{"zero debt", func(v *Vault) { v.DebtAmount = new(big.Int) }, false},
		{"nil debt", func(v *Vault) { v.DebtAmount = nil }, false},
		{"nil yield", func(v *Vault) { v.PendingYield = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := base()
			tt.mutate(v)
			if got := PassesCheapFilter(v, threshold); got != tt.want {
				t.Errorf("PassesCheapFilter() = %v, want %v", got, tt.want)
			}
		})
	}

	if PassesCheapFilter(nil, threshold) {
		t.Error("nil vault must not pass")
	}
	if !PassesCheapFilter(base(), nil) {
		t.Error("nil threshold means zero")
	}
}

func TestNewCandidate_CopiesAmounts(t *testing.T) {
	v := &Vault{
		CollateralAmount: big.NewInt(5000),
		DebtAmount:       big.NewInt(3000),
		PendingYield:     big.NewInt(150),
	}
	c := NewCandidate(v)

	v.DebtAmount.SetInt64(1)
	if c.DebtAmount.Int64() != 3000 {
		t.Errorf("candidate shares debt with vault: got %s", c.DebtAmount)
	}
}
