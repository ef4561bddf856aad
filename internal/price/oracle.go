package price

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"vault-keeper/internal/chain"
)

// OracleABIJSON is the price oracle method the keeper calls.
const OracleABIJSON = `[
{"type":"function","name":"getValue","stateMutability":"view","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const methodGetValue = "getValue"

var oracleABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(OracleABIJSON))
	if err != nil {
		panic("price: parse abi: " + err.Error())
	}
	return parsed
}()

// Oracle implements Gateway with getValue(asset, amount) on an oracle contract.
type Oracle struct {
	rpc     chain.RPCClient
	address common.Address
}

// NewOracle creates an oracle binding.
func NewOracle(rpc chain.RPCClient, address common.Address) (*Oracle, error) {
	if rpc == nil {
		return nil, fmt.Errorf("price: rpc client is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("price: oracle address is required")
	}
	return &Oracle{rpc: rpc, address: address}, nil
}

// Compile-time interface check.
var _ Gateway = (*Oracle)(nil)

// ValueOf returns the oracle value of amount units of asset.
func (o *Oracle) ValueOf(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil {
		amount = new(big.Int)
	}

	data, err := oracleABI.Pack(methodGetValue, asset, amount)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", methodGetValue, err)
	}

	out, err := o.rpc.CallContract(ctx, o.address, data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", methodGetValue, asset, err)
	}

	values, err := oracleABI.Unpack(methodGetValue, out)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", methodGetValue, err)
	}

	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", methodGetValue, values[0])
	}
	return value, nil
}
