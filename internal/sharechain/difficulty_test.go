package sharechain

import (
	"math/big"
	"testing"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
)

func makeTimedShare(timestamp uint32, target *big.Int) *types.Share {
	return &types.Share{
		Header: types.ShareHeader{
			Timestamp: timestamp,
		},
		ShareTarget: target,
	}
}

func TestDifficultyCalculator_EmptyWindowReturnsMax(t *testing.T) {
	dc := NewDifficultyCalculator(30*time.Second, 3)
	target := dc.NextTarget(nil, nil, time.Time{})
	if target.Cmp(MaxShareTarget) != 0 {
		t.Errorf("expected MaxShareTarget with no shares, got %s", target)
	}
}

func TestDifficultyCalculator_SpreadBound(t *testing.T) {
	dc := NewDifficultyCalculator(30*time.Second, 3)

	// Shares submitted far faster than target time would ordinarily
	// tighten (lower) the target by 4x, down to currentTarget/4. Set a
	// parentTarget whose SPREAD floor sits above that 4x-tightened
	// value, so the clamp is exercised rather than vacuously satisfied.
	currentTarget := new(big.Int).Lsh(big.NewInt(1), 200)
	shares := []*types.Share{
		makeTimedShare(2000, currentTarget),
		makeTimedShare(1999, currentTarget),
		makeTimedShare(1998, currentTarget),
	}
	// floor = parentTarget * 3 must land above currentTarget/4 for the
	// test to exercise the clamp; parentTarget = currentTarget/8 does that.
	parentTarget := new(big.Int).Div(currentTarget, big.NewInt(8))

	got := dc.NextTarget(shares, parentTarget, time.Unix(2000, 0))
	floor := new(big.Int).Mul(parentTarget, big.NewInt(3))
	minAdjust := new(big.Int).Div(currentTarget, big.NewInt(4))
	if floor.Cmp(minAdjust) <= 0 {
		t.Fatalf("test setup invalid: floor %s must exceed the unclamped minAdjust %s", floor, minAdjust)
	}
	if got.Cmp(floor) < 0 {
		t.Errorf("share target %s fell below SPREAD floor %s", got, floor)
	}
}

func TestDifficultyCalculator_EmergencyDecayEasesTarget(t *testing.T) {
	dc := NewDifficultyCalculator(30*time.Second, 3)

	hardTarget := new(big.Int).Lsh(big.NewInt(1), 180)
	shares := []*types.Share{
		makeTimedShare(1000, hardTarget),
		makeTimedShare(970, hardTarget),
	}

	// Only 40s idle (< 20*30s threshold): no emergency decay, target
	// stays near its prior value (clamped by the normal 4x step).
	calm := dc.NextTarget(shares, nil, time.Unix(1040, 0))
	if calm.Cmp(hardTarget) > 0 {
		t.Errorf("target eased before the emergency idle threshold: %s > %s", calm, hardTarget)
	}

	// 20*30s = 600s idle triggers the emergency decay, which must ease
	// (raise) the target relative to the non-idle case above.
	decayed := dc.NextTarget(shares, nil, time.Unix(1000+601, 0))
	if decayed.Cmp(calm) <= 0 {
		t.Errorf("expected emergency decay to ease target above %s, got %s", calm, decayed)
	}
}

func TestDifficultyCalculator_NormalRetarget(t *testing.T) {
	dc := NewDifficultyCalculator(30*time.Second, 1)

	// Shares arriving twice as fast as the 30s target should tighten
	// (roughly halve) the target, within the 4x-per-step clamp.
	target := new(big.Int).Lsh(big.NewInt(1), 220)
	shares := []*types.Share{
		makeTimedShare(1150, target),
		makeTimedShare(1135, target),
		makeTimedShare(1120, target),
		makeTimedShare(1105, target),
		makeTimedShare(1090, target),
	}

	got := dc.NextTarget(shares, nil, time.Time{})
	if got.Cmp(target) >= 0 {
		t.Errorf("expected retarget to tighten below %s for fast submissions, got %s", target, got)
	}
}
