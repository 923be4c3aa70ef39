package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ParaWallet-Chain/internal/custody"
	"ParaWallet-Chain/internal/custody/custodytest"
	xerrors "ParaWallet-Chain/internal/errors"
)

type staticSession struct {
	backend custody.Backend
}

func (s staticSession) Backend() (custody.Backend, error) {
	if s.backend == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	return s.backend, nil
}

type recordingBackend struct {
	custody.Backend
	payload string
}

func (r *recordingBackend) SignRaw(_ context.Context, _ string, data string) (string, error) {
	r.payload = data
	return "0xsigned", nil
}

func TestSignMessageEncodesPayload(t *testing.T) {
	backend := &recordingBackend{}
	svc := NewService(staticSession{backend: backend})

	sig, err := svc.SignMessage(context.Background(), "w-1", "Hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig != "0xsigned" {
		t.Fatalf("signature should be passed through, got %q", sig)
	}
	if backend.payload != "SGVsbG8=" {
		t.Fatalf("unexpected payload %q", backend.payload)
	}
}

func TestSignMessageRecoversWalletAddress(t *testing.T) {
	fake := custodytest.New()
	wallet, err := fake.CreateWallet(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc := NewService(staticSession{backend: fake})

	sig, err := svc.SignMessage(context.Background(), wallet.ID, "hello para")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := hexutil.Decode(sig)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pub, err := crypto.SigToPub(crypto.Keccak256([]byte("hello para")), raw)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != wallet.Address {
		t.Fatalf("signature does not recover to the wallet address")
	}
}

func TestSignMessageErrors(t *testing.T) {
	if _, err := NewService(staticSession{}).SignMessage(context.Background(), "w", "m"); !xerrors.HasCode(err, xerrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}

	fake := custodytest.New()
	fake.Fail = errors.New("rate limited")
	_, err := NewService(staticSession{backend: fake}).SignMessage(context.Background(), "w", "m")
	if !xerrors.HasCode(err, xerrors.CodeSigningFailed) || !errors.Is(err, fake.Fail) {
		t.Fatalf("expected SIGNING_FAILED, got %v", err)
	}
}
