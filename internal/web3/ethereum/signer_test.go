package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// keySigner plays the custody backend: it signs the decoded digest and
// reports V in the 27/28 form many signing services use.
type keySigner struct {
	key      *ecdsa.PrivateKey
	payloads []string
}

func (k *keySigner) SignRaw(_ context.Context, _ string, data string) (string, error) {
	k.payloads = append(k.payloads, data)
	digest, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, k.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func TestCustodySignerProducesValidTransaction(t *testing.T) {
	key, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey)
	backend := &keySigner{key: key}
	chainID := big.NewInt(11155111)

	signer, err := NewCustodySigner(backend, "w-1", address.Hex(), chainID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})

	opts := signer.TransactOpts(context.Background())
	if opts.From != address {
		t.Fatalf("opts should send from the wallet address")
	}
	signed, err := opts.Signer(address, tx)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), signed)
	if err != nil || sender != address {
		t.Fatalf("unexpected sender %s, %v", sender.Hex(), err)
	}

	hash := coretypes.LatestSignerForChainID(chainID).Hash(tx)
	if len(backend.payloads) != 1 || backend.payloads[0] != base64.StdEncoding.EncodeToString(hash.Bytes()) {
		t.Fatalf("backend should receive the base64 signing hash")
	}

	if _, err := opts.Signer(common.HexToAddress("0x01"), tx); err == nil {
		t.Fatalf("foreign sender should be rejected")
	}
}

func TestCustodySignerDetectsWrongKey(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	signer, err := NewCustodySigner(&keySigner{key: otherKey}, "w-1", crypto.PubkeyToAddress(walletKey.PublicKey).Hex(), big.NewInt(1))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, To: &common.Address{}})
	if _, err := signer.SignTx(context.Background(), tx); err == nil {
		t.Fatalf("signature from another key must be rejected")
	}
}

func TestNewCustodySignerValidation(t *testing.T) {
	backend := &keySigner{}
	if _, err := NewCustodySigner(backend, "w", "not-hex", big.NewInt(1)); err == nil {
		t.Fatalf("expected address error")
	}
	if _, err := NewCustodySigner(backend, "", "0x0000000000000000000000000000000000000001", big.NewInt(1)); err == nil {
		t.Fatalf("expected wallet id error")
	}
	if _, err := NewCustodySigner(backend, "w", "0x0000000000000000000000000000000000000001", nil); err == nil {
		t.Fatalf("expected chain id error")
	}
}

func TestDecodeSignature(t *testing.T) {
	raw := make([]byte, 65)
	raw[64] = 28
	sig, err := decodeSignature(hexutil.Encode(raw)[2:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig[64] != 1 {
		t.Fatalf("v should be normalized to 1, got %d", sig[64])
	}
	if _, err := decodeSignature("0x1234"); err == nil {
		t.Fatalf("short signatures must be rejected")
	}
}
