package dispatch

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"ParaWallet-Chain/internal/web3/ethereum"
	"ParaWallet-Chain/internal/web3/provider"
)

// ChainWriter signs and broadcasts a single transaction.
type ChainWriter interface {
	Send(ctx context.Context, opts *bind.TransactOpts, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*coretypes.Transaction, error)
	Close()
}

// ChainReader waits for transaction receipts.
type ChainReader interface {
	WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
	Close()
}

// ChainDialer opens clients for a resolved chain. Writes and reads use
// separate clients.
type ChainDialer interface {
	DialWriter(ctx context.Context, chain provider.ChainParams) (ChainWriter, error)
	DialReader(ctx context.Context, chain provider.ChainParams) (ChainReader, error)
}

// EthereumDialer dials JSON-RPC endpoints with go-ethereum's ethclient.
type EthereumDialer struct {
	PollInterval time.Duration
}

func (d EthereumDialer) DialWriter(ctx context.Context, chain provider.ChainParams) (ChainWriter, error) {
	return ethereum.DialWriter(ctx, ethereum.Config{Name: chain.Key, RPCURL: chain.RPCURL}, chain.ID)
}

func (d EthereumDialer) DialReader(ctx context.Context, chain provider.ChainParams) (ChainReader, error) {
	return ethereum.DialReader(ctx, ethereum.Config{Name: chain.Key, RPCURL: chain.RPCURL, PollInterval: d.PollInterval})
}
