package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-keeper/internal/chain"
	"vault-keeper/internal/domain"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000c0de0")
	ownerA       = common.HexToAddress("0x000000000000000000000000000000000000000a")
	ownerB       = common.HexToAddress("0x000000000000000000000000000000000000000b")
	assetX       = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// fakeNode answers the JSON-RPC methods the ledger uses, decoding calldata with the real ABI.
type fakeNode struct {
	t       *testing.T
	chainID *big.Int

	mu           sync.Mutex
	owners       []common.Address
	vaults       map[common.Address]*domain.Vault
	keepers      map[common.Address]bool
	threshold    *big.Int
	interval     *big.Int
	nonce        uint64
	revert       bool
	pendingPolls int
	sent         []*types.Transaction
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{
		t:         t,
		chainID:   big.NewInt(31337),
		vaults:    make(map[common.Address]*domain.Vault),
		keepers:   make(map[common.Address]bool),
		threshold: big.NewInt(100),
		interval:  big.NewInt(1800),
	}
}

func (n *fakeNode) addVault(v *domain.Vault) {
	n.owners = append(n.owners, v.Owner)
	n.vaults[v.Owner] = v
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		n.t.Errorf("decode request: %v", err)
		return
	}

	n.mu.Lock()
	result, rpcErr := n.handle(req.Method, req.Params)
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(method string, params []json.RawMessage) (interface{}, *chain.RPCError) {
	switch method {
	case "eth_call":
		var msg struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		if err := json.Unmarshal(params[0], &msg); err != nil {
			n.t.Errorf("decode call: %v", err)
		}
		if msg.To != contractAddr {
			n.t.Errorf("call to %s, want %s", msg.To, contractAddr)
		}
		out, err := n.call(msg.Data)
		if err != nil {
			return nil, &chain.RPCError{Code: 3, Message: "execution reverted: " + err.Error()}
		}
		return hexutil.Bytes(out), nil

	case "eth_getTransactionCount":
		return hexutil.Uint64(n.nonce), nil

	case "eth_gasPrice":
		return (*hexutil.Big)(big.NewInt(2_000_000_000)), nil

	case "eth_chainId":
		return (*hexutil.Big)(n.chainID), nil

	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := json.Unmarshal(params[0], &raw); err != nil {
			n.t.Errorf("decode raw tx: %v", err)
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, &chain.RPCError{Code: -32000, Message: "invalid transaction"}
		}
		n.sent = append(n.sent, tx)
		n.nonce++
		return tx.Hash(), nil

	case "eth_getTransactionReceipt":
		var hash common.Hash
		json.Unmarshal(params[0], &hash)
		if n.pendingPolls > 0 {
			n.pendingPolls--
			return nil, nil
		}
		status := "0x1"
		if n.revert {
			status = "0x0"
		}
		return map[string]interface{}{
			"transactionHash": hash,
			"status":          status,
			"blockNumber":     "0x2a",
			"gasUsed":         "0x7530",
		}, nil
	}

	return nil, &chain.RPCError{Code: -32601, Message: "method not found"}
}

func (n *fakeNode) call(data []byte) ([]byte, error) {
	m, err := ledgerABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch m.Name {
	case methodVaultCount:
		return m.Outputs.Pack(big.NewInt(int64(len(n.owners))))
	case methodVaultOwners:
		start := args[0].(*big.Int).Uint64()
		end := start + args[1].(*big.Int).Uint64()
		if end > uint64(len(n.owners)) {
			end = uint64(len(n.owners))
		}
		page := []common.Address{}
		if start < end {
			page = n.owners[start:end]
		}
		return m.Outputs.Pack(page)
	case methodVault:
		v, ok := n.vaults[args[0].(common.Address)]
		if !ok {
			return nil, errors.New("no vault")
		}
		return m.Outputs.Pack(v.CollateralAmount, v.DebtAmount, v.PendingYield, v.Active, v.ReadyForCheck)
	case methodVaultCollateralAsset:
		v, ok := n.vaults[args[0].(common.Address)]
		if !ok {
			return nil, errors.New("no vault")
		}
		return m.Outputs.Pack(v.CollateralAsset)
	case methodMinYieldThreshold:
		return m.Outputs.Pack(n.threshold)
	case methodCheckInterval:
		return m.Outputs.Pack(n.interval)
	case methodIsKeeper:
		return m.Outputs.Pack(n.keepers[args[0].(common.Address)])
	}
	return nil, errors.New("unsupported method " + m.Name)
}

func (n *fakeNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func newTestContract(t *testing.T, node *fakeNode, signer *Signer) *Contract {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	rpc := chain.NewHTTPClient(server.URL, chain.WithMaxRetries(0))
	logger := zaptest.NewLogger(t)

	c, err := NewContract(ContractOptions{
		RPC:     rpc,
		Address: contractAddr,
		Signer:  signer,
		Confirmer: NewConfirmer(ConfirmerOptions{
			RPC:          rpc,
			PollInterval: 5 * time.Millisecond,
			Timeout:      2 * time.Second,
			Logger:       logger,
		}),
		GasLimit: 300_000,
		Logger:   logger,
	})
	require.NoError(t, err)
	return c
}

func newTestSigner(t *testing.T, chainID *big.Int) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSignerFromKey(key, chainID)
}

func TestContract_Reads(t *testing.T) {
	node := newFakeNode(t)
	node.addVault(&domain.Vault{
		Owner:            ownerA,
		CollateralAmount: big.NewInt(4800),
		DebtAmount:       big.NewInt(3000),
		PendingYield:     big.NewInt(150),
		CollateralAsset:  assetX,
		Active:           true,
		ReadyForCheck:    true,
	})
	node.addVault(&domain.Vault{
		Owner:            ownerB,
		CollateralAmount: big.NewInt(1),
		DebtAmount:       big.NewInt(0),
		PendingYield:     big.NewInt(0),
		CollateralAsset:  assetX,
	})
	node.keepers[ownerA] = true

	c := newTestContract(t, node, nil)
	ctx := context.Background()

	count, err := c.VaultCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	owners, err := c.VaultOwners(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{ownerB}, owners)

	owners, err = c.VaultOwners(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, owners)

	v, err := c.Vault(ctx, ownerA)
	require.NoError(t, err)
	assert.Equal(t, ownerA, v.Owner)
	assert.Equal(t, "4800", v.CollateralAmount.String())
	assert.Equal(t, "3000", v.DebtAmount.String())
	assert.Equal(t, "150", v.PendingYield.String())
	assert.True(t, v.Active)
	assert.True(t, v.ReadyForCheck)
	assert.Equal(t, common.Address{}, v.CollateralAsset)

	asset, err := c.VaultCollateralAsset(ctx, ownerA)
	require.NoError(t, err)
	assert.Equal(t, assetX, asset)

	threshold, err := c.MinYieldThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", threshold.String())

	interval, err := c.CheckInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, interval)

	ok, err := c.IsKeeper(ctx, ownerA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsKeeper(ctx, ownerB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContract_Vault_RevertIsTerminal(t *testing.T) {
	node := newFakeNode(t)
	c := newTestContract(t, node, nil)

	_, err := c.Vault(context.Background(), ownerA)
	require.Error(t, err)
	assert.True(t, chain.IsReverted(err))
	assert.False(t, IsTransient(err))
}

func TestContract_SubmitRepayment(t *testing.T) {
	node := newFakeNode(t)
	node.nonce = 5
	node.pendingPolls = 2
	signer := newTestSigner(t, node.chainID)
	c := newTestContract(t, node, signer)

	receipt, err := c.SubmitRepayment(context.Background(), ownerA)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(42), receipt.BlockNumber)

	sent := node.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]

	assert.Equal(t, receipt.TxHash, tx.Hash())
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(300_000), tx.Gas())
	assert.Equal(t, "2000000000", tx.GasPrice().String())
	require.NotNil(t, tx.To())
	assert.Equal(t, contractAddr, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(node.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), sender)
	assert.Equal(t, signer.Address(), c.KeeperAddress())

	m, err := ledgerABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, methodRepay, m.Name)
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, ownerA, args[0])
}

func TestContract_SubmitRepayment_Reverted(t *testing.T) {
	node := newFakeNode(t)
	node.revert = true
	c := newTestContract(t, node, newTestSigner(t, node.chainID))

	receipt, err := c.SubmitRepayment(context.Background(), ownerA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReverted)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())
	assert.False(t, IsTransient(err))
}

func TestContract_SubmitRepayment_ReadOnly(t *testing.T) {
	node := newFakeNode(t)
	c := newTestContract(t, node, nil)

	_, err := c.SubmitRepayment(context.Background(), ownerA)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Empty(t, node.sentTxs())
	assert.Equal(t, common.Address{}, c.KeeperAddress())
}

func TestContract_SubmitBatchRepayment(t *testing.T) {
	node := newFakeNode(t)
	c := newTestContract(t, node, newTestSigner(t, node.chainID))

	receipt, err := c.SubmitBatchRepayment(context.Background(), []common.Address{ownerA, ownerB})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())

	sent := node.sentTxs()
	require.Len(t, sent, 1)

	m, err := ledgerABI.MethodById(sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, methodBatchRepay, m.Name)
	args, err := m.Inputs.Unpack(sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, []common.Address{ownerA, ownerB}, args[0])

	_, err = c.SubmitBatchRepayment(context.Background(), nil)
	assert.Error(t, err)
}

func TestContract_SequentialSubmissionsUseFreshNonces(t *testing.T) {
	node := newFakeNode(t)
	c := newTestContract(t, node, newTestSigner(t, node.chainID))

	for _, owner := range []common.Address{ownerA, ownerB} {
		_, err := c.SubmitRepayment(context.Background(), owner)
		require.NoError(t, err)
	}

	sent := node.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(0), sent[0].Nonce())
	assert.Equal(t, uint64(1), sent[1].Nonce())
}

func TestNewContract_Validation(t *testing.T) {
	_, err := NewContract(ContractOptions{Address: contractAddr})
	assert.Error(t, err)

	_, err = NewContract(ContractOptions{RPC: chain.NewHTTPClient("http://127.0.0.1:1")})
	assert.Error(t, err)
}
