package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// DefaultPollInterval is how often the reader asks for a receipt.
const DefaultPollInterval = 2 * time.Second

// Config describes how to dial an EVM compatible endpoint.
type Config struct {
	Name   string
	RPCURL string
	// PollInterval only applies to readers.
	PollInterval time.Duration
}

// TxBackend is the subset of ethclient.Client the writer needs to fill in
// and broadcast a single transaction.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// ReceiptBackend is the subset of ethclient.Client the reader needs.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
}

var (
	_ TxBackend      = (*ethclient.Client)(nil)
	_ ReceiptBackend = (*ethclient.Client)(nil)
)

func dial(ctx context.Context, cfg Config) (*gethrpc.Client, *ethclient.Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return rpcClient, ethclient.NewClient(rpcClient), nil
}

// Writer builds, signs and broadcasts transactions on one chain.
type Writer struct {
	name    string
	chainID *big.Int
	backend TxBackend
	closer  func()
	mu      sync.Mutex
}

// NewWriter wraps an existing backend. The caller keeps ownership of it.
func NewWriter(chainID *big.Int, backend TxBackend) *Writer {
	return &Writer{chainID: new(big.Int).Set(chainID), backend: backend}
}

// DialWriter connects to the configured endpoint.
func DialWriter(ctx context.Context, cfg Config, chainID *big.Int) (*Writer, error) {
	if chainID == nil {
		return nil, errors.New("未配置链 ID")
	}
	rpcClient, eth, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Writer{
		name:    cfg.Name,
		chainID: new(big.Int).Set(chainID),
		backend: eth,
		closer:  rpcClient.Close,
	}, nil
}

// ChainID returns the chain the writer signs for.
func (w *Writer) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// Send fills nonce, gas and fee fields from the node, signs with opts and
// broadcasts. A zero gasLimit is estimated. Fee fields preset on opts win
// over node suggestions.
func (w *Writer) Send(ctx context.Context, opts *bind.TransactOpts, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*coretypes.Transaction, error) {
	if w == nil || w.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if opts == nil || opts.Signer == nil {
		return nil, errors.New("未提供交易签名器")
	}
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.nonce(ctx, opts)
	if err != nil {
		return nil, err
	}

	if gasLimit == 0 {
		gasLimit = opts.GasLimit
	}
	if gasLimit == 0 {
		gasLimit, err = w.backend.EstimateGas(ctx, gethcore.CallMsg{
			From:  opts.From,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return nil, fmt.Errorf("估算 gas 失败: %w", err)
		}
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}

	var tx *coretypes.Transaction
	if head != nil && head.BaseFee != nil && opts.GasPrice == nil {
		tip := opts.GasTipCap
		if tip == nil {
			tip, err = w.backend.SuggestGasTipCap(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取小费建议失败: %w", err)
			}
		}
		feeCap := opts.GasFeeCap
		if feeCap == nil {
			feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		}
		tx = coretypes.NewTx(&coretypes.DynamicFeeTx{
			ChainID:   w.ChainID(),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	} else {
		gasPrice := opts.GasPrice
		if gasPrice == nil {
			gasPrice, err = w.backend.SuggestGasPrice(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
			}
		}
		tx = coretypes.NewTx(&coretypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := opts.Signer(opts.From, tx)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if opts.NoSend {
		return signed, nil
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	return signed, nil
}

func (w *Writer) nonce(ctx context.Context, opts *bind.TransactOpts) (uint64, error) {
	if opts.Nonce != nil {
		return opts.Nonce.Uint64(), nil
	}
	nonce, err := w.backend.PendingNonceAt(ctx, opts.From)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// Close releases the network connection when the writer dialed it.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer != nil {
		w.closer()
		w.closer = nil
	}
}

// Reader polls a chain for receipts.
type Reader struct {
	name     string
	backend  ReceiptBackend
	interval time.Duration
	closer   func()
	mu       sync.Mutex
}

// NewReader wraps an existing backend. A non-positive interval uses
// DefaultPollInterval.
func NewReader(backend ReceiptBackend, interval time.Duration) *Reader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reader{backend: backend, interval: interval}
}

// DialReader connects to the configured endpoint.
func DialReader(ctx context.Context, cfg Config) (*Reader, error) {
	rpcClient, eth, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reader := NewReader(eth, cfg.PollInterval)
	reader.name = cfg.Name
	reader.closer = rpcClient.Close
	return reader, nil
}

// WaitForReceipt blocks until the transaction is mined. It has no deadline
// of its own; cancel ctx to stop waiting.
func (r *Reader) WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if r == nil || r.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the network connection when the reader dialed it.
func (r *Reader) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		r.closer()
		r.closer = nil
	}
}
