package types

import (
	"math/big"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// DefaultShareTarget is the difficulty-1 target (compact 0x1d00ffff,
// the Bitcoin proof-of-work limit).
var DefaultShareTarget = util.CompactToTarget(0x1d00ffff)

// ShareDifficulty returns a share's difficulty relative to maxTarget,
// i.e. how much harder the share's own target is than the baseline.
func ShareDifficulty(share *Share, maxTarget *big.Int) float64 {
	if share.ShareTarget == nil || share.ShareTarget.Sign() == 0 {
		return 0
	}
	return util.TargetToDifficulty(share.ShareTarget, maxTarget)
}

// ParentDifficulty returns the parent chain's difficulty implied by the
// share's claimed nBits, relative to maxTarget. Unlike ShareDifficulty
// this reads Header.Bits (the embedded parent block header), not the
// share's own declared ShareTarget.
func ParentDifficulty(share *Share, maxTarget *big.Int) float64 {
	target := util.CompactToTarget(share.Header.Bits)
	return util.TargetToDifficulty(target, maxTarget)
}
