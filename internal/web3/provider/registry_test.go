package provider

import (
	"testing"

	"ParaWallet-Chain/internal/web3"
)

func TestResolveKnownChains(t *testing.T) {
	reg := Default()
	cases := map[string]struct {
		key    string
		symbol string
	}{
		"1":        {"mainnet", "ETH"},
		"11155111": {"sepolia", "ETH"},
		"137":      {"polygon", "MATIC"},
		"42161":    {"arbitrum", "ETH"},
	}
	for id, want := range cases {
		params := reg.Resolve(id)
		if params.Key != want.key || params.NativeCurrency.Symbol != want.symbol {
			t.Fatalf("chain %s resolved to %+v", id, params)
		}
		if params.ID.String() != id || params.RPCURL == "" {
			t.Fatalf("chain %s has incomplete params %+v", id, params)
		}
		if !reg.Known(id) {
			t.Fatalf("chain %s should be known", id)
		}
	}
}

func TestResolveFallsBackToMainnet(t *testing.T) {
	reg := Default()
	for _, id := range []string{"", "999", "abc", " 10 ", "0137", "+137", "042161", "1e0"} {
		params := reg.Resolve(id)
		if params.Key != "mainnet" || params.ID.Int64() != 1 {
			t.Fatalf("%q should fall back to mainnet, got %+v", id, params)
		}
		if reg.Known(id) {
			t.Fatalf("%q should not be known", id)
		}
	}
	if got := reg.Resolve(" 137 "); got.Key != "polygon" {
		t.Fatalf("input should be trimmed, got %+v", got)
	}
}

func TestResolveReturnsCopies(t *testing.T) {
	reg := Default()
	first := reg.Resolve("1")
	first.ID.SetInt64(42)
	if reg.Resolve("1").ID.Int64() != 1 {
		t.Fatalf("registry state must not be shared with callers")
	}

	var nilReg *Registry
	if nilReg.Resolve("137").Key != "polygon" {
		t.Fatalf("nil registry should use built-ins")
	}
}

func TestNewRegistryOverrides(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte(`
chains:
  "137":
    rpc_url: https://polygon.example/rpc
  "8453":
    key: base
    name: Base
    rpc_url: https://base.example/rpc
    currency_symbol: ETH
    decimals: 18
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, err := NewRegistry(defs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if got := reg.Resolve("137"); got.RPCURL != "https://polygon.example/rpc" || got.Name != "Polygon" {
		t.Fatalf("override not applied: %+v", got)
	}
	if got := reg.Resolve("8453"); got.Key != "base" || got.NativeCurrency.Name != "ETH" {
		t.Fatalf("new chain not added: %+v", got)
	}
	if chains := reg.Chains(); len(chains) != 5 || chains[0].ID.Int64() != 1 {
		t.Fatalf("unexpected chain listing %+v", chains)
	}

	_, err = NewRegistry(web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{"10": {RPCURL: "https://op"}}})
	if err == nil {
		t.Fatalf("incomplete new chain should be rejected")
	}
}
