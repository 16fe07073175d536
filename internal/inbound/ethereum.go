package inbound

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthChainClient adapts an Ethereum JSON-RPC endpoint to ChainClient.
type EthChainClient struct {
	rpc *ethclient.Client
}

var _ ChainClient = (*EthChainClient)(nil)

// DialEthereum connects to an Ethereum JSON-RPC endpoint. The address may
// use any scheme the provider supports (http, https, ws, wss, ipc path).
func DialEthereum(ctx context.Context, addr string) (*EthChainClient, error) {
	c, err := ethclient.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing ethereum rpc %s: %w", addr, err)
	}
	return &EthChainClient{rpc: c}, nil
}

// LatestBlock implements ChainClient.
func (c *EthChainClient) LatestBlock(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

// TransactionReceipt implements ChainClient. A missing transaction is
// reported as a nil receipt, not an error.
func (c *EthChainClient) TransactionReceipt(ctx context.Context, txHash []byte) (*TxReceipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, common.BytesToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	receipt := &TxReceipt{
		Status: r.Status,
		Logs:   make([]TxLog, 0, len(r.Logs)),
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		topics := make([][]byte, 0, len(l.Topics))
		for _, topic := range l.Topics {
			topics = append(topics, topic.Bytes())
		}
		receipt.Logs = append(receipt.Logs, TxLog{
			Address: l.Address.Bytes(),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return receipt, nil
}

// Call implements ChainClient.
func (c *EthChainClient) Call(ctx context.Context, contract, callData []byte, block uint64) ([]byte, error) {
	to := common.BytesToAddress(contract)
	msg := ethereum.CallMsg{To: &to, Data: callData}
	return c.rpc.CallContract(ctx, msg, new(big.Int).SetUint64(block))
}

// Close releases the underlying RPC connection.
func (c *EthChainClient) Close() {
	c.rpc.Close()
}
