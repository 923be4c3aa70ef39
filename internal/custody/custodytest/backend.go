// Package custodytest provides an in-memory custody.Backend for tests.
package custodytest

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ParaWallet-Chain/internal/custody"
)

// Backend keeps wallets and their keys in memory and counts every call.
type Backend struct {
	mu      sync.Mutex
	seq     int
	keys    map[string]*ecdsa.PrivateKey
	wallets map[string]custody.Wallet
	pregen  map[custody.PregenIdentifier][]string
	shares  map[string]string
	calls   map[string]int

	// Fail, when set, is returned by every operation.
	Fail error
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		keys:    make(map[string]*ecdsa.PrivateKey),
		wallets: make(map[string]custody.Wallet),
		pregen:  make(map[custody.PregenIdentifier][]string),
		shares:  make(map[string]string),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times the named operation ran.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// TotalCalls returns the number of operations of any kind.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// Key exposes the private key of a wallet so tests can verify signatures.
func (b *Backend) Key(walletID string) *ecdsa.PrivateKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[walletID]
}

func (b *Backend) enter(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.Fail
}

func (b *Backend) newWallet(prefix string, kind custody.WalletKind) (custody.Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return custody.Wallet{}, err
	}
	b.seq++
	wallet := custody.Wallet{
		ID:      fmt.Sprintf("%s-%d", prefix, b.seq),
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Type:    custody.NormalizeKind(kind),
	}
	b.keys[wallet.ID] = key
	b.wallets[wallet.ID] = wallet
	return wallet, nil
}

func (b *Backend) CreateWallet(_ context.Context, kind custody.WalletKind) (custody.Wallet, error) {
	if err := b.enter("CreateWallet"); err != nil {
		return custody.Wallet{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newWallet("wallet", kind)
}

func (b *Backend) ListWallets(context.Context) (map[string]custody.Wallet, error) {
	if err := b.enter("ListWallets"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]custody.Wallet, len(b.wallets))
	for id, w := range b.wallets {
		out[id] = w
	}
	return out, nil
}

// SignRaw signs 32-byte payloads as digests and hashes anything else first.
func (b *Backend) SignRaw(_ context.Context, walletID, dataBase64 string) (string, error) {
	if err := b.enter("SignRaw"); err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(dataBase64)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	b.mu.Lock()
	key := b.keys[walletID]
	b.mu.Unlock()
	if key == nil {
		return "", errors.New("unknown wallet")
	}
	digest := data
	if len(digest) != 32 {
		digest = crypto.Keccak256(data)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (b *Backend) HasPregenWallet(_ context.Context, id custody.PregenIdentifier) (bool, error) {
	if err := b.enter("HasPregenWallet"); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pregen[id]) > 0, nil
}

func (b *Backend) PregenWallets(_ context.Context, id custody.PregenIdentifier) ([]custody.Wallet, error) {
	if err := b.enter("PregenWallets"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]custody.Wallet, 0, len(b.pregen[id]))
	for _, walletID := range b.pregen[id] {
		out = append(out, b.wallets[walletID])
	}
	return out, nil
}

func (b *Backend) CreatePregenWallet(_ context.Context, kind custody.WalletKind, id custody.PregenIdentifier) (custody.Wallet, error) {
	if err := b.enter("CreatePregenWallet"); err != nil {
		return custody.Wallet{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wallet, err := b.newWallet("pregen", kind)
	if err != nil {
		return custody.Wallet{}, err
	}
	b.pregen[id] = append(b.pregen[id], wallet.ID)
	b.shares[wallet.ID] = "share-" + wallet.ID
	return wallet, nil
}

// UserShare hands out the share once, mirroring the backend's one-time
// retrieval.
func (b *Backend) UserShare(_ context.Context, walletID string) (string, error) {
	if err := b.enter("UserShare"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	share, ok := b.shares[walletID]
	if !ok {
		return "", errors.New("user share already retrieved")
	}
	delete(b.shares, walletID)
	return share, nil
}

var _ custody.Backend = (*Backend)(nil)
