// Package dispatch builds, signs and submits EVM transactions for custody
// wallets and waits for their confirmation.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/wallet"
	"ParaWallet-Chain/internal/web3"
	"ParaWallet-Chain/internal/web3/ethereum"
	"ParaWallet-Chain/internal/web3/provider"
	"ParaWallet-Chain/pkg/logger"
)

// SessionSource hands out the live custody backend.
type SessionSource interface {
	Backend() (custody.Backend, error)
}

// Dispatcher routes transaction requests to the right chain.
type Dispatcher struct {
	sessions SessionSource
	chains   *provider.Registry
	dialer   ChainDialer
	log      *slog.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRegistry replaces the built-in chain table.
func WithRegistry(reg *provider.Registry) Option {
	return func(d *Dispatcher) {
		if reg != nil {
			d.chains = reg
		}
	}
}

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(dialer ChainDialer) Option {
	return func(d *Dispatcher) {
		if dialer != nil {
			d.dialer = dialer
		}
	}
}

// New creates a dispatcher bound to the session.
func New(sessions SessionSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		chains:   provider.Default(),
		dialer:   EthereumDialer{},
		log:      logger.Named("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Chains exposes the registry used for resolution.
func (d *Dispatcher) Chains() *provider.Registry {
	return d.chains
}

// SubmitFunc is told about a transaction once the node accepted it and
// before the receipt wait starts.
type SubmitFunc func(ctx context.Context, chain provider.ChainParams, hash common.Hash)

// SignTransaction signs tx with the wallet, submits it to chainID and blocks
// until it is mined. Unknown chain ids resolve to mainnet.
func (d *Dispatcher) SignTransaction(ctx context.Context, walletID string, tx web3.TransactionRequest, chainID string) (*web3.TransactionResult, error) {
	return d.SignTransactionNotify(ctx, walletID, tx, chainID, nil)
}

// SignTransactionNotify behaves like SignTransaction and calls onSubmit with
// the hash between broadcast and confirmation.
func (d *Dispatcher) SignTransactionNotify(ctx context.Context, walletID string, tx web3.TransactionRequest, chainID string, onSubmit SubmitFunc) (*web3.TransactionResult, error) {
	backend, err := d.sessions.Backend()
	if err != nil {
		return nil, err
	}
	walletID = strings.TrimSpace(walletID)
	chainID = strings.TrimSpace(chainID)
	fail := func(cause error, hash common.Hash) error {
		opts := []xerrors.Option{xerrors.WithWallet(walletID), xerrors.WithChain(chainID)}
		if hash != (common.Hash{}) {
			opts = append(opts, xerrors.WithMetadata(xerrors.MetaTxHash, hash.Hex()))
		}
		d.log.Error("transaction dispatch failed",
			slog.String("wallet_id", walletID),
			slog.String("chain_id", chainID),
			slog.Any("error", cause))
		return xerrors.Wrap(xerrors.CodeTransactionSigning, cause, "", opts...)
	}

	if tx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "transaction is required", xerrors.WithWallet(walletID))
	}

	var data []byte
	switch req := tx.(type) {
	case web3.ContractCall:
		data = req.Data
	case *web3.ContractCall:
		data = req.Data
	case web3.SimpleTransfer, *web3.SimpleTransfer:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported transaction request", xerrors.WithWallet(walletID))
	}

	found, err := wallet.Lookup(ctx, backend, walletID)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeWalletNotFound) || xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
			return nil, err
		}
		return nil, fail(err, common.Hash{})
	}

	chain := d.chains.Resolve(chainID)
	if !d.chains.Known(chainID) {
		d.log.Warn("unknown chain id, using mainnet", slog.String("chain_id", chainID))
	}

	value, err := web3.ParseEther(tx.Amount())
	if err != nil {
		return nil, fail(err, common.Hash{})
	}

	signer, err := ethereum.NewCustodySigner(backend, found.ID, found.Address, chain.ID)
	if err != nil {
		return nil, fail(err, common.Hash{})
	}

	writer, err := d.dialer.DialWriter(ctx, chain)
	if err != nil {
		return nil, fail(err, common.Hash{})
	}
	defer writer.Close()
	reader, err := d.dialer.DialReader(ctx, chain)
	if err != nil {
		return nil, fail(err, common.Hash{})
	}
	defer reader.Close()

	opts := signer.TransactOpts(ctx)
	sent, err := writer.Send(ctx, opts, tx.Destination(), value, data, tx.Gas())
	if err != nil {
		return nil, fail(err, common.Hash{})
	}
	hash := sent.Hash()
	logger.Audit().Info("transaction submitted",
		slog.String("wallet_id", found.ID),
		slog.String("chain_id", chain.ID.String()),
		slog.String("tx_hash", hash.Hex()),
		slog.String("to", tx.Destination().Hex()),
		slog.String("value_wei", value.String()))
	if onSubmit != nil {
		onSubmit(ctx, chain, hash)
	}

	receipt, err := reader.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fail(err, hash)
	}

	result := &web3.TransactionResult{Hash: hash, Receipt: web3.NewReceipt(receipt)}
	d.log.Info("transaction confirmed",
		slog.String("wallet_id", found.ID),
		slog.String("chain_id", chain.ID.String()),
		slog.String("tx_hash", hash.Hex()),
		slog.String("status", result.Receipt.Status),
		slog.Uint64("block_number", result.Receipt.BlockNumber))
	return result, nil
}

// AwaitReceipt waits for a transaction that was already submitted.
func (d *Dispatcher) AwaitReceipt(ctx context.Context, chainID string, hash common.Hash) (*web3.TransactionResult, error) {
	chainID = strings.TrimSpace(chainID)
	chain := d.chains.Resolve(chainID)
	fail := func(cause error) error {
		return xerrors.Wrap(xerrors.CodeTransactionSigning, cause, "",
			xerrors.WithChain(chainID), xerrors.WithMetadata(xerrors.MetaTxHash, hash.Hex()))
	}

	reader, err := d.dialer.DialReader(ctx, chain)
	if err != nil {
		return nil, fail(err)
	}
	defer reader.Close()

	receipt, err := reader.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fail(err)
	}
	return &web3.TransactionResult{Hash: hash, Receipt: web3.NewReceipt(receipt)}, nil
}
