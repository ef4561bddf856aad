package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LedgerABIJSON is the subset of the ledger contract ABI the keeper uses.
const LedgerABIJSON = `[
{"type":"function","name":"getVaultCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getVaultOwners","stateMutability":"view","inputs":[{"name":"start","type":"uint256"},{"name":"count","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"getVault","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"collateralAmount","type":"uint256"},{"name":"debtAmount","type":"uint256"},{"name":"pendingYield","type":"uint256"},{"name":"active","type":"bool"},{"name":"readyForCheck","type":"bool"}]},
{"type":"function","name":"getVaultCollateralAsset","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"minYieldThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"checkInterval","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"isKeeper","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"repayWithYield","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"}],"outputs":[]},
{"type":"function","name":"batchRepayWithYield","stateMutability":"nonpayable","inputs":[{"name":"owners","type":"address[]"}],"outputs":[]}
]`

// Contract method names.
const (
	methodVaultCount           = "getVaultCount"
	methodVaultOwners          = "getVaultOwners"
	methodVault                = "getVault"
	methodVaultCollateralAsset = "getVaultCollateralAsset"
	methodMinYieldThreshold    = "minYieldThreshold"
	methodCheckInterval        = "checkInterval"
	methodIsKeeper             = "isKeeper"
	methodRepay                = "repayWithYield"
	methodBatchRepay           = "batchRepayWithYield"
)

var ledgerABI = mustParseABI(LedgerABIJSON)

// ABI returns the parsed ledger ABI.
func ABI() abi.ABI {
	return ledgerABI
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("ledger: parse abi: " + err.Error())
	}
	return parsed
}
