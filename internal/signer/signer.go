// Package signer signs arbitrary messages with custody wallets.
package signer

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/pkg/logger"
)

// SessionSource hands out the live custody backend.
type SessionSource interface {
	Backend() (custody.Backend, error)
}

// Service signs messages through the custody backend's raw signing endpoint.
type Service struct {
	sessions SessionSource
	log      *slog.Logger
}

// NewService creates a message signer.
func NewService(sessions SessionSource) *Service {
	return &Service{sessions: sessions, log: logger.Named("signer")}
}

// SignMessage base64-encodes message (standard alphabet, padded) and returns
// the backend's signature unchanged.
func (s *Service) SignMessage(ctx context.Context, walletID, message string) (string, error) {
	backend, err := s.sessions.Backend()
	if err != nil {
		return "", err
	}
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "wallet id is required")
	}

	payload := base64.StdEncoding.EncodeToString([]byte(message))
	signature, err := backend.SignRaw(ctx, walletID, payload)
	if err != nil {
		s.log.Error("sign message failed", slog.String("wallet_id", walletID), slog.Any("error", err))
		return "", xerrors.Wrap(xerrors.CodeSigningFailed, err, "", xerrors.WithWallet(walletID))
	}
	logger.Audit().Info("message signed", slog.String("wallet_id", walletID), slog.Int("message_bytes", len(message)))
	return signature, nil
}
