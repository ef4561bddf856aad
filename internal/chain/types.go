package chain

import "github.com/ethereum/go-ethereum/common"

// Receipt statuses.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Receipt is the durable result of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccessful
}

// Head is a new block header notification.
type Head struct {
	Number uint64
	Hash   common.Hash
}
