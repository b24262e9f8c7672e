package sharechain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// maxAncestorWalk bounds how far a cumulative-work comparison walks back
// when resolving a fork; sharechains are pruned well before this depth.
const maxAncestorWalk = 1 << 16

// EventType classifies a tracker state change.
type EventType int

const (
	// EventNewTip means the added share extended (or replaced) the best chain.
	EventNewTip EventType = iota
	// EventOrphan means the added share was stored but does not extend the best chain.
	EventOrphan
	// EventReorg means the added share caused the best chain to switch forks.
	EventReorg
)

// Event describes a sharechain state change, emitted by Tracker.Add.
type Event struct {
	Type   EventType
	Share  *types.Share
	Height int
}

// Tracker maintains the best-chain view over a ShareStore: validating
// incoming shares, selecting the highest-cumulative-work tip, and
// serving chain walks for PPLNS and P2P sync.
type Tracker struct {
	mu        sync.RWMutex
	store     ShareStore
	validator *Validator
}

// NewTracker creates a Tracker over store, validating shares with validator.
func NewTracker(store ShareStore, validator *Validator) *Tracker {
	return &Tracker{store: store, validator: validator}
}

// Add validates and stores share, updating the best tip if warranted.
func (t *Tracker) Add(share *types.Share) (*Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.validator != nil {
		if err := t.validator.ValidateShare(share); err != nil {
			return nil, err
		}
	}

	if err := t.store.Add(share); err != nil {
		return nil, fmt.Errorf("store share: %w", err)
	}

	hash := share.Hash()
	tip, hasTip := t.store.Tip()

	if !hasTip {
		if err := t.store.SetTip(hash); err != nil {
			return nil, err
		}
		return &Event{Type: EventNewTip, Share: share}, nil
	}

	if share.PrevShareHash == tip.Hash() {
		if err := t.store.SetTip(hash); err != nil {
			return nil, err
		}
		return &Event{Type: EventNewTip, Share: share}, nil
	}

	newWork := t.cumulativeWork(hash)
	curWork := t.cumulativeWork(tip.Hash())
	if newWork.Cmp(curWork) > 0 {
		if err := t.store.SetTip(hash); err != nil {
			return nil, err
		}
		return &Event{Type: EventReorg, Share: share}, nil
	}

	return &Event{Type: EventOrphan, Share: share}, nil
}

// cumulativeWork sums TargetToWork(share.ShareTarget) over the chain
// ending at hash.
func (t *Tracker) cumulativeWork(hash [32]byte) *big.Int {
	total := big.NewInt(0)
	for _, s := range t.store.GetAncestors(hash, maxAncestorWalk) {
		total.Add(total, util.TargetToWork(s.ShareTarget))
	}
	return total
}

// BestShare returns the current chain tip.
func (t *Tracker) BestShare() (*types.Share, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Tip()
}

// Chain returns up to n shares walking back from tip, oldest-first.
func (t *Tracker) Chain(tip [32]byte, n int) []*types.Share {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetAncestors(tip, n)
}

// CumulativeWeights returns each miner's summed share weight (maxTarget /
// shareTarget) over the last n shares of the best chain — the raw input
// to PPLNS payout calculation.
func (t *Tracker) CumulativeWeights(n int, maxTarget *big.Int) map[string]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	weights := make(map[string]*big.Int)
	tip, ok := t.store.Tip()
	if !ok {
		return weights
	}
	for _, s := range t.store.GetAncestors(tip.Hash(), n) {
		if s.ShareTarget == nil || s.ShareTarget.Sign() == 0 {
			continue
		}
		w := new(big.Int).Div(maxTarget, s.ShareTarget)
		if existing, ok := weights[s.MinerAddress]; ok {
			existing.Add(existing, w)
		} else {
			weights[s.MinerAddress] = w
		}
	}
	return weights
}

// GetDesiredVersions tallies the share versions present in the most
// recent window of the best chain, for miners/nodes to decide when a
// majority has upgraded.
func (t *Tracker) GetDesiredVersions(n int) map[uint32]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[uint32]int)
	tip, ok := t.store.Tip()
	if !ok {
		return counts
	}
	for _, s := range t.store.GetAncestors(tip.Hash(), n) {
		counts[s.ShareVersion]++
	}
	return counts
}
