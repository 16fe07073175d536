package inbound

import "context"

// ChainClient is the minimal read surface the verifier needs from an
// external chain. Implementations must be safe for concurrent use.
type ChainClient interface {
	// LatestBlock returns the number of the newest block the provider
	// considers final enough to query.
	LatestBlock(ctx context.Context) (uint64, error)

	// TransactionReceipt returns the receipt for txHash, or nil when the
	// chain has no such transaction.
	TransactionReceipt(ctx context.Context, txHash []byte) (*TxReceipt, error)

	// Call executes a read-only contract call against the chain state at
	// the given block.
	Call(ctx context.Context, contract, callData []byte, block uint64) ([]byte, error)
}

// TxReceipt is the subset of a transaction receipt claim queries are checked
// against.
type TxReceipt struct {
	Status      uint64
	BlockNumber uint64
	Logs        []TxLog
}

// TxLog is one receipt log entry.
type TxLog struct {
	Address []byte
	Topics  [][]byte
	Data    []byte
}
