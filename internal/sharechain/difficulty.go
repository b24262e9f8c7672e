package sharechain

import (
	"math/big"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/pkg/util"
)

const (
	// DifficultyAdjustmentWindow is the number of shares to look back for difficulty adjustment.
	DifficultyAdjustmentWindow = 72 // ~36 minutes at 30s target

	// minShareTargetBits encodes MinShareTarget, parent-chain difficulty 1.
	// NextTarget does not clamp to it; only the SPREAD floor bounds a target from below.
	minShareTargetBits = 0x1d00ffff // parent-chain difficulty 1 compact encoding

	// MaxShareTarget is the easiest possible share target (highest allowed value).
	// Uses regtest-style max target so CPU miners can produce shares.
	maxShareTargetBits = 0x207fffff

	// emergencyIdlePeriods is how many multiples of the target share period
	// must pass with no new share on the chain before the emergency
	// time-decay eases the target toward MaxShareTarget, so the pool
	// doesn't stall waiting on a difficulty set for a hashrate that left.
	emergencyIdlePeriods = 20

	// defaultSpreadDivisor is used when a DifficultyCalculator is built
	// without an explicit SPREAD (e.g. existing call sites/tests that
	// predate netparams.Params.SpreadDivisor).
	defaultSpreadDivisor = 3
)

var (
	MinShareTarget = util.CompactToTarget(minShareTargetBits)
	MaxShareTarget = util.CompactToTarget(maxShareTargetBits)
)

// DifficultyCalculator adjusts sharechain difficulty.
type DifficultyCalculator struct {
	targetTime time.Duration

	// spreadDivisor bounds share target tightness relative to the parent
	// chain's own current target: a share's target may never be tighter
	// (lower) than parentTarget * spreadDivisor, i.e. share difficulty
	// can never exceed parentDifficulty / SPREAD. This keeps sharechain
	// difficulty from drifting up toward actual parent-block difficulty,
	// which would starve the sharechain of the frequent shares PPLNS needs.
	spreadDivisor int64
}

// NewDifficultyCalculator creates a new difficulty calculator. spreadDivisor
// is the network's SPREAD bound (netparams.Params.SpreadDivisor); values
// below 1 are treated as defaultSpreadDivisor.
func NewDifficultyCalculator(targetTime time.Duration, spreadDivisor int64) *DifficultyCalculator {
	if spreadDivisor < 1 {
		spreadDivisor = defaultSpreadDivisor
	}
	return &DifficultyCalculator{
		targetTime:    targetTime,
		spreadDivisor: spreadDivisor,
	}
}

// NextTarget calculates the next share target based on a window of recent
// shares, the parent chain's current target (for the SPREAD bound), and
// the current time (for the emergency time-decay check).
// Uses: newTarget = currentTarget * (actualTime / expectedTime), clamped to 4x.
//
// The window is trimmed to only include shares whose target is within 4x of the
// newest share's target. During difficulty transitions (cold start, hashrate
// changes), the window may contain shares at wildly different difficulties.
// Including stale-difficulty shares distorts the timing data — e.g., 70 instant
// shares at MaxShareTarget would dominate the window average even after the
// algorithm has found the right difficulty, causing compounding overshoot or
// glacially slow convergence. Trimming ensures the algorithm uses only timing
// data from shares at a comparable difficulty level.
func (dc *DifficultyCalculator) NextTarget(shares []*types.Share, parentTarget *big.Int, now time.Time) *big.Int {
	if len(shares) < 2 {
		return dc.bound(new(big.Int).Set(MaxShareTarget), parentTarget)
	}

	window := shares
	if len(window) > DifficultyAdjustmentWindow {
		window = window[:DifficultyAdjustmentWindow]
	}

	// window[0] is the most recent share, window[len-1] is the oldest
	newest := window[0]

	currentTarget := newest.ShareTarget
	if currentTarget == nil || currentTarget.Sign() == 0 {
		return dc.bound(new(big.Int).Set(MaxShareTarget), parentTarget)
	}

	// Emergency time-decay: nothing has landed on the sharechain in a
	// long while (no miner is working this difficulty), so ease toward
	// MaxShareTarget instead of waiting on a stale, too-hard target.
	if !now.IsZero() {
		idleFor := now.Unix() - int64(newest.Header.Timestamp)
		threshold := int64(emergencyIdlePeriods) * int64(dc.targetTime.Seconds())
		if threshold > 0 && idleFor > threshold {
			eased := new(big.Int).Mul(currentTarget, big.NewInt(4))
			return dc.bound(eased, parentTarget)
		}
	}

	// Trim window to shares with targets within 4x of the newest share.
	// This matches the 4x per-step clamp: shares more than 4x away are from
	// a different difficulty regime and their timing data is not comparable.
	upper := new(big.Int).Mul(currentTarget, big.NewInt(4))
	lower := new(big.Int).Div(currentTarget, big.NewInt(4))
	for i := 1; i < len(window); i++ {
		st := window[i].ShareTarget
		if st == nil || st.Sign() == 0 || st.Cmp(upper) > 0 || st.Cmp(lower) < 0 {
			window = window[:i]
			break
		}
	}

	if len(window) < 2 {
		// Not enough similar-difficulty shares for timing-based adjustment.
		// Return the newest share's target unchanged.
		return dc.bound(new(big.Int).Set(currentTarget), parentTarget)
	}

	oldest := window[len(window)-1]

	actualTime := int64(newest.Header.Timestamp) - int64(oldest.Header.Timestamp)
	if actualTime <= 0 {
		actualTime = 1
	}

	expectedTime := int64(dc.targetTime.Seconds()) * int64(len(window)-1)
	if expectedTime <= 0 {
		expectedTime = 1
	}

	// newTarget = currentTarget * actualTime / expectedTime
	newTarget := new(big.Int).Mul(currentTarget, big.NewInt(actualTime))
	newTarget.Div(newTarget, big.NewInt(expectedTime))

	// Clamp to 4x adjustment per calculation
	maxAdjust := new(big.Int).Mul(currentTarget, big.NewInt(4))
	minAdjust := new(big.Int).Div(currentTarget, big.NewInt(4))

	if newTarget.Cmp(maxAdjust) > 0 {
		newTarget.Set(maxAdjust)
	}
	if newTarget.Cmp(minAdjust) < 0 {
		newTarget.Set(minAdjust)
	}

	return dc.bound(newTarget, parentTarget)
}

// bound clamps target to the global MaxShareTarget ceiling and, when
// parentTarget is known, to the SPREAD floor (target must be at least
// parentTarget * spreadDivisor, i.e. share difficulty may never exceed
// parentDifficulty / SPREAD). Normalizes through a compact round-trip so
// all nodes produce identical big.Int values regardless of whether a
// share was mined locally or received via P2P (where targets are
// transmitted as compact uint32).
func (dc *DifficultyCalculator) bound(target, parentTarget *big.Int) *big.Int {
	if target.Cmp(MaxShareTarget) > 0 {
		target.Set(MaxShareTarget)
	}
	if parentTarget != nil && parentTarget.Sign() > 0 {
		floor := new(big.Int).Mul(parentTarget, big.NewInt(dc.spreadDivisor))
		if target.Cmp(floor) < 0 {
			target.Set(floor)
		}
	}
	return util.CompactToTarget(util.TargetToCompact(target))
}
