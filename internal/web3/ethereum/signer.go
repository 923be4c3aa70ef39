package ethereum

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrNotAuthorized is returned when asked to sign for another address.
var ErrNotAuthorized = errors.New("not authorized to sign this account")

// RawSigner signs base64-encoded digests with a custody wallet.
type RawSigner interface {
	SignRaw(ctx context.Context, walletID, dataBase64 string) (string, error)
}

// CustodySigner signs transactions with a key held by the custody backend.
// The backend receives the transaction's signing hash and returns a 65-byte
// [R || S || V] signature.
type CustodySigner struct {
	backend  RawSigner
	walletID string
	address  common.Address
	chainID  *big.Int
	signer   coretypes.Signer
}

// NewCustodySigner binds a custody wallet to a chain.
func NewCustodySigner(backend RawSigner, walletID, address string, chainID *big.Int) (*CustodySigner, error) {
	if backend == nil {
		return nil, errors.New("custody backend is required")
	}
	if strings.TrimSpace(walletID) == "" {
		return nil, errors.New("wallet id is required")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("wallet address %q is not an EVM address", address)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	id := new(big.Int).Set(chainID)
	return &CustodySigner{
		backend:  backend,
		walletID: walletID,
		address:  common.HexToAddress(address),
		chainID:  id,
		signer:   coretypes.LatestSignerForChainID(id),
	}, nil
}

// Address returns the wallet address transactions are sent from.
func (s *CustodySigner) Address() common.Address {
	return s.address
}

// SignTx asks the custody backend to sign tx and verifies the recovered
// sender matches the wallet.
func (s *CustodySigner) SignTx(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Transaction, error) {
	hash := s.signer.Hash(tx)
	encoded, err := s.backend.SignRaw(ctx, s.walletID, base64.StdEncoding.EncodeToString(hash.Bytes()))
	if err != nil {
		return nil, err
	}

	sig, err := decodeSignature(encoded)
	if err != nil {
		return nil, err
	}
	signed, err := tx.WithSignature(s.signer, sig)
	if err != nil {
		return nil, fmt.Errorf("apply signature: %w", err)
	}
	sender, err := coretypes.Sender(s.signer, signed)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if sender != s.address {
		return nil, fmt.Errorf("signature recovers to %s, expected %s", sender.Hex(), s.address.Hex())
	}
	return signed, nil
}

// TransactOpts exposes the signer in the shape go-ethereum's bind helpers
// expect. ctx bounds every signing round-trip.
func (s *CustodySigner) TransactOpts(ctx context.Context) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer: func(from common.Address, tx *coretypes.Transaction) (*coretypes.Transaction, error) {
			if from != s.address {
				return nil, ErrNotAuthorized
			}
			return s.SignTx(ctx, tx)
		},
	}
}

func decodeSignature(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if !strings.HasPrefix(encoded, "0x") && !strings.HasPrefix(encoded, "0X") {
		encoded = "0x" + encoded
	}
	sig, err := hexutil.Decode("0x" + encoded[2:])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}
