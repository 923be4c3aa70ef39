// Package web3 holds the chain-facing vocabulary shared by the dispatcher,
// the chain clients and the caller facade: the transaction request variants,
// normalized receipts, ether amount parsing and the YAML chain overrides.
// Concrete RPC clients live in the ethereum sub-package and the static chain
// table in provider.
package web3
