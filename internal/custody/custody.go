// Package custody describes the wallet-custody backend the wallet service
// delegates key material to. Implementations live in sub-packages; the rest
// of the module depends only on the Backend interface declared here.
package custody

import (
	"context"
	"fmt"
	"strings"
)

// Environment selects which custody deployment a session talks to.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// ParseEnvironment validates an environment tag. Tags are case-sensitive;
// empty input means production.
func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(strings.TrimSpace(raw)) {
	case "", EnvProduction:
		return EnvProduction, nil
	case EnvDevelopment:
		return EnvDevelopment, nil
	default:
		return "", fmt.Errorf("unsupported custody environment %q (want production or development)", raw)
	}
}

// Credentials authenticate a session against the custody backend.
type Credentials struct {
	APIKey      string
	Environment Environment
}

// WalletKind tags the chain family a wallet signs for.
type WalletKind string

const (
	WalletEVM    WalletKind = "EVM"
	WalletSolana WalletKind = "SOLANA"
	WalletCosmos WalletKind = "COSMOS"
)

// NormalizeKind upper-cases the kind and defaults empty input to EVM.
func NormalizeKind(kind WalletKind) WalletKind {
	k := WalletKind(strings.ToUpper(strings.TrimSpace(string(kind))))
	if k == "" {
		return WalletEVM
	}
	return k
}

// IdentifierType tags the external identifier a pre-generated wallet is
// bound to.
type IdentifierType string

const (
	IdentifierEmail    IdentifierType = "EMAIL"
	IdentifierPhone    IdentifierType = "PHONE"
	IdentifierDiscord  IdentifierType = "DISCORD"
	IdentifierTwitter  IdentifierType = "TWITTER"
	IdentifierCustomID IdentifierType = "CUSTOM_ID"
)

// Wallet is the backend's view of a wallet. The backend assigns the id.
type Wallet struct {
	ID      string     `json:"id"`
	Address string     `json:"address"`
	Type    WalletKind `json:"type"`
}

// PregenIdentifier binds a pre-generated wallet to an end user who has not
// authenticated with the custody backend yet.
type PregenIdentifier struct {
	Identifier string         `json:"pregenIdentifier"`
	Type       IdentifierType `json:"pregenIdentifierType"`
}

// Normalize trims the identifier and defaults the type to EMAIL.
func (p PregenIdentifier) Normalize() PregenIdentifier {
	p.Identifier = strings.TrimSpace(p.Identifier)
	p.Type = IdentifierType(strings.ToUpper(strings.TrimSpace(string(p.Type))))
	if p.Type == "" {
		p.Type = IdentifierEmail
	}
	return p
}

// Backend lists the custody operations the wallet service consumes.
type Backend interface {
	CreateWallet(ctx context.Context, kind WalletKind) (Wallet, error)
	// ListWallets returns the wallets of the session keyed by wallet id.
	ListWallets(ctx context.Context) (map[string]Wallet, error)
	// SignRaw signs base64-encoded bytes and returns a hex signature.
	SignRaw(ctx context.Context, walletID, dataBase64 string) (string, error)
	HasPregenWallet(ctx context.Context, id PregenIdentifier) (bool, error)
	PregenWallets(ctx context.Context, id PregenIdentifier) ([]Wallet, error)
	CreatePregenWallet(ctx context.Context, kind WalletKind, id PregenIdentifier) (Wallet, error)
	// UserShare returns the one-time recovery share of a freshly created
	// pre-generated wallet.
	UserShare(ctx context.Context, walletID string) (string, error)
}
