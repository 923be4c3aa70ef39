// Package provider maps chain ids to network parameters. Resolution is total:
// an id the registry does not know resolves to Ethereum mainnet.
package provider

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"ParaWallet-Chain/internal/web3"
)

// MainnetID is the chain every unknown id falls back to.
const MainnetID = "1"

// NativeCurrency describes the chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainParams carries everything needed to talk to one chain.
type ChainParams struct {
	ID             *big.Int       `json:"id"`
	Key            string         `json:"key"`
	Name           string         `json:"name"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
	RPCURL         string         `json:"rpcUrl"`
}

func (p ChainParams) clone() ChainParams {
	if p.ID != nil {
		p.ID = new(big.Int).Set(p.ID)
	}
	return p
}

func builtins() map[string]ChainParams {
	return map[string]ChainParams{
		"1": {
			ID:             big.NewInt(1),
			Key:            "mainnet",
			Name:           "Ethereum",
			NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPCURL:         "https://eth-mainnet.g.alchemy.com/v2/demo",
		},
		"11155111": {
			ID:             big.NewInt(11155111),
			Key:            "sepolia",
			Name:           "Sepolia",
			NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
			RPCURL:         "https://eth-sepolia.g.alchemy.com/v2/demo",
		},
		"137": {
			ID:             big.NewInt(137),
			Key:            "polygon",
			Name:           "Polygon",
			NativeCurrency: NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
			RPCURL:         "https://polygon-mainnet.g.alchemy.com/v2/demo",
		},
		"42161": {
			ID:             big.NewInt(42161),
			Key:            "arbitrum",
			Name:           "Arbitrum One",
			NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPCURL:         "https://arb-mainnet.g.alchemy.com/v2/demo",
		},
	}
}

// Registry is an immutable chain table.
type Registry struct {
	chains map[string]ChainParams
}

// Default returns the registry with only the built-in chains.
func Default() *Registry {
	return &Registry{chains: builtins()}
}

// NewRegistry applies chain definitions on top of the built-in table. A
// definition for a known chain overrides its non-empty fields; a definition
// for a new chain must be complete.
func NewRegistry(defs web3.ChainDefinitions) (*Registry, error) {
	chains := builtins()
	for rawID, def := range defs.Chains {
		id := strings.TrimSpace(rawID)
		numeric, ok := new(big.Int).SetString(id, 10)
		if !ok || numeric.Sign() <= 0 {
			return nil, fmt.Errorf("链 id %q 不是正整数", rawID)
		}
		id = numeric.String()

		params, known := chains[id]
		if !known {
			if def.Name == "" || def.RPCURL == "" || def.CurrencySymbol == "" || def.Decimals == 0 {
				return nil, fmt.Errorf("新增链 %s 需要提供 name、rpc_url、currency_symbol 与 decimals", id)
			}
			params = ChainParams{ID: numeric, Key: id}
		}
		if def.Key != "" {
			params.Key = def.Key
		}
		if def.Name != "" {
			params.Name = def.Name
		}
		if def.RPCURL != "" {
			params.RPCURL = strings.TrimSpace(def.RPCURL)
		}
		if def.CurrencyName != "" {
			params.NativeCurrency.Name = def.CurrencyName
		} else if params.NativeCurrency.Name == "" {
			params.NativeCurrency.Name = def.CurrencySymbol
		}
		if def.CurrencySymbol != "" {
			params.NativeCurrency.Symbol = def.CurrencySymbol
		}
		if def.Decimals != 0 {
			params.NativeCurrency.Decimals = def.Decimals
		}
		chains[id] = params
	}
	return &Registry{chains: chains}, nil
}

// Load reads chain overrides from a YAML file. An empty path yields the
// built-in table.
func Load(path string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs)
}

// Resolve returns the parameters of chainID, or mainnet when the id is
// unknown. It never fails.
func (r *Registry) Resolve(chainID string) ChainParams {
	chains := r.table()
	if params, ok := chains[normalizeID(chainID)]; ok {
		return params.clone()
	}
	return chains[MainnetID].clone()
}

// Known reports whether chainID resolves without falling back.
func (r *Registry) Known(chainID string) bool {
	_, ok := r.table()[normalizeID(chainID)]
	return ok
}

// Chains lists every chain ordered by numeric id.
func (r *Registry) Chains() []ChainParams {
	chains := r.table()
	out := make([]ChainParams, 0, len(chains))
	for _, params := range chains {
		out = append(out, params.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	return out
}

func (r *Registry) table() map[string]ChainParams {
	if r == nil || r.chains == nil {
		return builtins()
	}
	return r.chains
}

// normalizeID only trims; lookups are literal so "0137" is not polygon.
func normalizeID(chainID string) string {
	return strings.TrimSpace(chainID)
}
