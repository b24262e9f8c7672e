// Package netparams holds the pluggable per-network descriptors that let
// the same sharechain/stratum/work code run against different parent
// chains without recompiling: address prefixes, PoW parameters, and the
// auxiliary chains available for merged mining.
package netparams

import (
	"fmt"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// AuxChain describes an auxiliary chain slot available for merged mining
// on a given parent network.
type AuxChain struct {
	Name    string
	ChainID uint32
	// AddressHRP is this auxiliary chain's address prefix. Nothing in
	// this module reads it: aux payout scripts come only from explicit
	// merged_addresses entries and configured operator addresses.
	AddressHRP string
}

// Params describes a parent chain's consensus and addressing parameters.
type Params struct {
	Name string

	// Bech32HRP is the human-readable part of segwit addresses on this
	// network (e.g. "tb" for Bitcoin testnet). The address codec in
	// internal/types keeps its own per-network prefix table and does not
	// read this field.
	Bech32HRP string

	// PowLimitBits is the compact-form maximum target (minimum
	// difficulty) of this network.
	PowLimitBits uint32

	// CoinbaseMaturity is the number of confirmations before coinbase
	// outputs are spendable. Nothing in this module reads it.
	CoinbaseMaturity int64

	// Scrypt reports whether this network's parent PoW is scrypt
	// (Litecoin-family) rather than SHA256d. PoWHashFunc is what
	// actually keys off this; share/block identity hashing
	// (ShareHeader.Hash) stays SHA256d on every network regardless.
	Scrypt bool

	// SpreadDivisor floors the share target at parentTarget *
	// SpreadDivisor, so share difficulty never exceeds the parent
	// chain's difficulty / SpreadDivisor. Must be >= 1.
	SpreadDivisor int64

	// AuxChains lists the auxiliary chains this network's daemon can
	// offer merge-mining work for via createauxblock/getauxblock.
	AuxChains []AuxChain
}

// PoWHashFunc returns the proof-of-work hash function miners must
// satisfy against a difficulty target on this network: double-SHA256
// for Bitcoin-family chains, scrypt for Litecoin-family (Scrypt) chains.
// This is distinct from a share's identity hash (always double-SHA256,
// used for PrevShareHash/PrevBlockHash chain linkage) — only the
// target-comparison hash varies per network.
func (p *Params) PoWHashFunc() func([]byte) [32]byte {
	if p.Scrypt {
		return util.ScryptPoWHash
	}
	return util.DoubleSHA256
}

var registry = map[string]*Params{
	"bitcoin-testnet": {
		Name:             "bitcoin-testnet",
		Bech32HRP:        "tb",
		PowLimitBits:     0x1d00ffff,
		CoinbaseMaturity: 100,
		Scrypt:           false,
		SpreadDivisor:    3,
	},
	"litecoin": {
		Name:             "litecoin",
		Bech32HRP:        "ltc",
		PowLimitBits:     0x1e0fffff,
		CoinbaseMaturity: 100,
		Scrypt:           true,
		SpreadDivisor:    3,
		AuxChains: []AuxChain{
			{Name: "dogecoin", ChainID: 0x0062, AddressHRP: "D"},
		},
	},
}

// Get looks up a built-in network descriptor by name.
func Get(name string) (*Params, bool) {
	p, ok := registry[name]
	return p, ok
}

// MustGet is Get but panics on an unknown network, for use at startup
// after flag validation has already confirmed the name is registered.
func MustGet(name string) *Params {
	p, ok := Get(name)
	if !ok {
		panic(fmt.Sprintf("netparams: unknown network %q", name))
	}
	return p
}

// Names returns the registered network names, for CLI help text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
