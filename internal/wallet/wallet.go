// Package wallet implements wallet creation and lookup on top of the custody
// session.
package wallet

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/pkg/logger"
)

// SessionSource hands out the live custody backend.
type SessionSource interface {
	Backend() (custody.Backend, error)
}

// PregenResult is the outcome of a pre-generated wallet request. UserShare is
// only set when the wallet was created by this call; the caller must persist
// it because the backend will not return it again.
type PregenResult struct {
	Wallet    custody.Wallet `json:"wallet"`
	UserShare string         `json:"userShare,omitempty"`
	Created   bool           `json:"created"`
}

// Service 封装钱包相关操作。
type Service struct {
	sessions SessionSource
	log      *slog.Logger
}

// NewService 创建钱包服务。
func NewService(sessions SessionSource) *Service {
	return &Service{sessions: sessions, log: logger.Named("wallet")}
}

// CreateWallet 创建一个新钱包，kind 为空时默认为 EVM。
func (s *Service) CreateWallet(ctx context.Context, kind custody.WalletKind) (custody.Wallet, error) {
	backend, err := s.sessions.Backend()
	if err != nil {
		return custody.Wallet{}, err
	}
	kind = custody.NormalizeKind(kind)

	created, err := backend.CreateWallet(ctx, kind)
	if err != nil {
		s.log.Error("create wallet failed", slog.String("wallet_kind", string(kind)), slog.Any("error", err))
		return custody.Wallet{}, xerrors.Wrap(xerrors.CodeWalletOperation, err, "create wallet failed",
			xerrors.WithMetadata(xerrors.MetaKind, string(kind)))
	}
	s.log.Info("wallet created", slog.String("wallet_id", created.ID), slog.String("wallet_kind", string(kind)))
	return created, nil
}

// CreatePregenWallet 为外部标识返回预生成钱包；已存在时复用，不再返回恢复分片。
func (s *Service) CreatePregenWallet(ctx context.Context, id custody.PregenIdentifier) (PregenResult, error) {
	backend, err := s.sessions.Backend()
	if err != nil {
		return PregenResult{}, err
	}
	id = id.Normalize()
	if id.Identifier == "" {
		return PregenResult{}, xerrors.New(xerrors.CodeInvalidArgument, "pregen identifier is required")
	}

	wrap := func(cause error, msg string) error {
		s.log.Error(msg, slog.String("identifier_type", string(id.Type)), slog.Any("error", cause))
		return xerrors.Wrap(xerrors.CodeWalletOperation, cause, msg,
			xerrors.WithMetadata("identifier_type", string(id.Type)))
	}

	exists, err := backend.HasPregenWallet(ctx, id)
	if err != nil {
		return PregenResult{}, wrap(err, "check pregen wallet failed")
	}
	if exists {
		wallets, err := backend.PregenWallets(ctx, id)
		if err != nil {
			return PregenResult{}, wrap(err, "fetch pregen wallets failed")
		}
		if len(wallets) == 0 {
			return PregenResult{}, wrap(xerrors.New(xerrors.CodeWalletNotFound, "backend reported a pregen wallet but returned none"), "fetch pregen wallets failed")
		}
		return PregenResult{Wallet: wallets[0]}, nil
	}

	created, err := backend.CreatePregenWallet(ctx, custody.WalletEVM, id)
	if err != nil {
		return PregenResult{}, wrap(err, "create pregen wallet failed")
	}
	share, err := backend.UserShare(ctx, created.ID)
	if err != nil {
		return PregenResult{}, xerrors.Wrap(xerrors.CodeWalletOperation, err, "fetch user share failed",
			xerrors.WithWallet(created.ID))
	}
	s.log.Info("pregen wallet created", slog.String("wallet_id", created.ID), slog.String("identifier_type", string(id.Type)))
	return PregenResult{Wallet: created, UserShare: share, Created: true}, nil
}

// ListWallets 返回按 id 排序的钱包列表。
func (s *Service) ListWallets(ctx context.Context) ([]custody.Wallet, error) {
	backend, err := s.sessions.Backend()
	if err != nil {
		return nil, err
	}
	wallets, err := backend.ListWallets(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletOperation, err, "list wallets failed")
	}
	out := make([]custody.Wallet, 0, len(wallets))
	for id, w := range wallets {
		if w.ID == "" {
			w.ID = id
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindWallet 按 id 查找钱包，不存在时返回 WALLET_NOT_FOUND。
func (s *Service) FindWallet(ctx context.Context, walletID string) (custody.Wallet, error) {
	walletID = strings.TrimSpace(walletID)
	backend, err := s.sessions.Backend()
	if err != nil {
		return custody.Wallet{}, err
	}
	return Lookup(ctx, backend, walletID)
}

// Lookup resolves a wallet against an already obtained backend handle.
func Lookup(ctx context.Context, backend custody.Backend, walletID string) (custody.Wallet, error) {
	if walletID == "" {
		return custody.Wallet{}, xerrors.New(xerrors.CodeInvalidArgument, "wallet id is required")
	}
	wallets, err := backend.ListWallets(ctx)
	if err != nil {
		return custody.Wallet{}, xerrors.Wrap(xerrors.CodeWalletOperation, err, "list wallets failed",
			xerrors.WithWallet(walletID))
	}
	found, ok := wallets[walletID]
	if !ok {
		return custody.Wallet{}, xerrors.New(xerrors.CodeWalletNotFound, "", xerrors.WithWallet(walletID))
	}
	if found.ID == "" {
		found.ID = walletID
	}
	return found, nil
}
