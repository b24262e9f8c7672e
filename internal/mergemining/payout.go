package mergemining

import (
	"math/big"
	"sort"

	"github.com/djkazic/p2pool-go/internal/pplns"
	"github.com/djkazic/p2pool-go/internal/types"
)

// AuxPayoutEntry is one destination's share of an auxiliary chain's
// block reward, computed locally by this node. Unlike types.PayoutEntry
// this carries a raw scriptPubKey rather than an address string: the
// node has no reliable bech32 HRP for an arbitrary configured
// auxiliary chain, only the script each payout resolves to.
type AuxPayoutEntry struct {
	Script []byte
	Amount int64
}

// ResolveAuxPayout resolves a share's payout destination on auxiliary
// chain chainID, per the three-tier order from the merged-mining
// payout routing rules:
//  1. an explicit merged_addresses entry for chainID, used as-is.
//  2. else, if primaryAddress is a v0 (P2WPKH/P2WSH) segwit address,
//     synthesize a same-program script for the auxiliary chain — this
//     core only ever deals in native segwit, so "synthesize a legacy
//     script using the chain's address version" becomes "reuse the
//     witness program directly", the segwit-only analogue.
//  3. else the share is ineligible for payout on this chain; callers
//     must redistribute its weight among eligible shares.
func ResolveAuxPayout(mergedAddresses []types.MergedAddress, chainID uint32, primaryAddress string) ([]byte, bool) {
	for _, ma := range mergedAddresses {
		if ma.ChainID == chainID {
			return ma.OutputScript, true
		}
	}
	_, version, _, err := types.DecodeSegwitAddress(primaryAddress)
	if err != nil || version != 0 {
		return nil, false
	}
	script, err := types.AddressToScript(primaryAddress)
	if err != nil {
		return nil, false
	}
	return script, true
}

// CalculateAuxPayouts computes, purely locally, how totalAuxReward
// would be distributed among shares' PPLNS weight on auxiliary chain
// chainID. This never builds or touches an on-chain transaction — the
// auxiliary chain's own daemon controls its coinbase via
// createauxblock/Chain.PayoutAddress — it is local accounting, per the
// "redistribution is local, not consensus" reading of the merged-mining
// payout rules.
//
// A share ineligible for chainID (ResolveAuxPayout returns false) has
// its weight absorbed into the eligible pool rather than discarded, so
// the full totalAuxReward is always distributed across whatever
// destinations remain eligible.
func CalculateAuxPayouts(shares []*types.Share, maxTarget *big.Int, chainID uint32, totalAuxReward int64) []AuxPayoutEntry {
	if totalAuxReward <= 0 || len(shares) == 0 {
		return nil
	}

	window := pplns.NewWindow(shares, maxTarget)

	type bucket struct {
		script []byte
		weight *big.Int
	}
	byScript := make(map[string]*bucket)
	eligibleTotal := new(big.Int)

	for _, share := range shares {
		script, ok := ResolveAuxPayout(share.MergedAddresses, chainID, share.MinerAddress)
		if !ok {
			continue
		}
		weight := window.ShareWeight(share)
		key := string(script)
		b, exists := byScript[key]
		if !exists {
			b = &bucket{script: script, weight: new(big.Int)}
			byScript[key] = b
		}
		b.weight.Add(b.weight, weight)
		eligibleTotal.Add(eligibleTotal, weight)
	}

	if eligibleTotal.Sign() == 0 {
		return nil
	}

	keys := make([]string, 0, len(byScript))
	for k := range byScript {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		entries     []AuxPayoutEntry
		distributed int64
	)
	for _, k := range keys {
		b := byScript[k]
		amount := new(big.Int).Mul(big.NewInt(totalAuxReward), b.weight)
		amount.Div(amount, eligibleTotal)
		amt := amount.Int64()
		if amt <= 0 {
			continue
		}
		entries = append(entries, AuxPayoutEntry{Script: b.script, Amount: amt})
		distributed += amt
	}

	if remainder := totalAuxReward - distributed; remainder > 0 && len(entries) > 0 {
		entries[0].Amount += remainder
	}

	return entries
}
