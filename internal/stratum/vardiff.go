package stratum

import (
	"sync"
	"time"
)

// retargetInterval is how often a session's share rate is evaluated to
// decide whether its difficulty should change. It also doubles as the
// read deadline used while waiting for a submission: if nothing arrives
// within this window the session is treated as idle and its difficulty
// is lowered, the same way the read loop's own timeout is repurposed as
// the retarget clock.
const retargetInterval = 30 * time.Second

const (
	minVardiffDifficulty = 0.001
	maxVardiffDifficulty = 1 << 20
	vardiffTolerance     = 0.25 // allowed fractional deviation from target share rate before retargeting
)

// Vardiff tracks the pool-wide target share submission rate (shares per
// minute) that every session's difficulty is tuned against.
type Vardiff struct {
	mu         sync.Mutex
	shareRate  float64
	difficulty float64
}

// NewVardiff creates a Vardiff targeting shareRate shares per minute,
// with an initial per-session difficulty of 1.0.
func NewVardiff(shareRate float64) *Vardiff {
	return &Vardiff{
		shareRate:  shareRate,
		difficulty: 1.0,
	}
}

// Difficulty returns the default starting difficulty assigned to new
// sessions.
func (v *Vardiff) Difficulty() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.difficulty
}

// VardiffState tracks a single session's retarget bookkeeping.
type VardiffState struct {
	lastRetarget time.Time
	shareCount   int
}

// NewVardiffState returns a fresh retarget window starting now.
func NewVardiffState() *VardiffState {
	return &VardiffState{lastRetarget: timeNow()}
}

// timeNow is a seam so tests could stub the clock; production always
// uses the real clock.
var timeNow = time.Now

// RecordShare notes that a submission arrived under the current
// difficulty; it is called before the orchestrator decides acceptance.
func (s *VardiffState) RecordShare() {
	s.shareCount++
}

// Retarget computes the next difficulty for a session given the shares
// it has submitted since the last retarget. It returns (newDifficulty,
// changed). A zero shareCount (idle session) halves the difficulty,
// down to minVardiffDifficulty, mirroring the idle-timeout behavior of
// treating the retarget interval's own expiry as a signal to back off.
func (v *Vardiff) Retarget(state *VardiffState, currentDiff float64) (float64, bool) {
	elapsed := timeNow().Sub(state.lastRetarget)
	if elapsed <= 0 {
		elapsed = retargetInterval
	}

	state.lastRetarget = timeNow()
	count := state.shareCount
	state.shareCount = 0

	if count == 0 {
		next := currentDiff / 2
		if next < minVardiffDifficulty {
			next = minVardiffDifficulty
		}
		if next == currentDiff {
			return currentDiff, false
		}
		return next, true
	}

	observedRate := float64(count) / elapsed.Minutes()
	if observedRate <= 0 {
		return currentDiff, false
	}

	targetRate := v.shareRate
	if targetRate <= 0 {
		targetRate = 1.0
	}

	ratio := observedRate / targetRate
	if ratio > 1-vardiffTolerance && ratio < 1+vardiffTolerance {
		return currentDiff, false
	}

	next := currentDiff * ratio
	if next < minVardiffDifficulty {
		next = minVardiffDifficulty
	}
	if next > maxVardiffDifficulty {
		next = maxVardiffDifficulty
	}
	return next, next != currentDiff
}
