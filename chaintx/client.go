// Package chaintx submits blockchain transactions and tracks them to a
// terminal state. The tracker owns the whole lifecycle: nonce
// assignment, broadcast, confirmation polling, gas-bumped rebroadcast
// and finally resuming the execution that waits on the hash.
package chaintx

import (
	"context"
	"math/big"
)

// TxParams is one broadcast of a transaction.
type TxParams struct {
	From     string
	To       string
	Value    *big.Int
	Data     string // hex calldata, 0x-prefixed or empty
	Nonce    uint64
	GasPrice *big.Int
}

// Receipt is the mined outcome of a broadcast.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Ok          bool // false when the transaction reverted
}

// Client talks to an EVM node. Receipt returns (nil, nil) while the
// transaction is unmined.
type Client interface {
	PendingNonce(ctx context.Context, account string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx TxParams) (string, error)
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
}
