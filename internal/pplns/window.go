package pplns

import (
	"math/big"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// Window is a slice of the share chain used for payout accounting: the
// PPLNS window when settling a parent-chain block, or an arbitrary
// shares slice when settling an auxiliary chain's own payout (see
// internal/mergemining). maxTarget anchors the weight scale and need not
// be the parent chain's own PoW limit — an auxiliary chain settlement
// still weighs shares by the share chain's own target.
type Window struct {
	shares    []*types.Share
	maxTarget *big.Int
}

// NewWindow wraps a set of shares (any order) for weight accounting
// against maxTarget.
func NewWindow(shares []*types.Share, maxTarget *big.Int) *Window {
	return &Window{
		shares:    shares,
		maxTarget: maxTarget,
	}
}

// ShareWeight is a share's difficulty relative to maxTarget: the lower
// a share's own target, the more work it represents and the heavier it
// weighs in payout accounting.
func (w *Window) ShareWeight(share *types.Share) *big.Int {
	if share.ShareTarget == nil || share.ShareTarget.Sign() == 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Div(w.maxTarget, share.ShareTarget)
}

// MinerWeights sums ShareWeight per miner address across the window.
func (w *Window) MinerWeights() map[string]*big.Int {
	weights := make(map[string]*big.Int)

	for _, share := range w.shares {
		addr := share.MinerAddress
		existing, ok := weights[addr]
		if !ok {
			existing = new(big.Int)
			weights[addr] = existing
		}
		existing.Add(existing, w.ShareWeight(share))
	}

	return weights
}

// TotalWeight sums all per-miner weights in the window.
func (w *Window) TotalWeight() *big.Int {
	total := new(big.Int)
	for _, weight := range w.MinerWeights() {
		total.Add(total, weight)
	}
	return total
}

// ShareCount returns the number of shares in the window.
func (w *Window) ShareCount() int {
	return len(w.shares)
}

// MaxTarget returns the max target used for weight calculations.
func (w *Window) MaxTarget() *big.Int {
	return w.maxTarget
}

// DefaultMaxTarget returns the share chain's own PoW-limit target
// (0x207fffff), independent of any parent or auxiliary chain's limit.
func DefaultMaxTarget() *big.Int {
	return util.CompactToTarget(0x207fffff)
}
