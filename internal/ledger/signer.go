package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the keeper identity and signs transactions for one chain.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewSigner parses a hex-encoded secp256k1 private key, with or without 0x prefix.
func NewSigner(hexKey string, chainID *big.Int) (*Signer, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %v", chainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return NewSignerFromKey(key, chainID), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address returns the keeper address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain id used for replay protection.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Sign signs tx with the keeper key.
func (s *Signer) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}
