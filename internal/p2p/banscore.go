package p2p

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// banThreshold is the score at or above which IsBanned reports a peer
// as banned.
const banThreshold = 100

// BanScoreManager tracks per-peer misbehavior scores with time-based
// decay, fixing the historical "banscore vs banscores" naming split by
// exposing a single BanScore name throughout, and making the decay
// interval a constructor parameter instead of a hardcoded constant.
type BanScoreManager struct {
	mu            sync.Mutex
	decayInterval time.Duration
	scores        map[peer.ID]*banEntry
}

type banEntry struct {
	score      int
	lastUpdate time.Time
}

// NewBanScoreManager creates a manager that decays every peer's score by
// half once per decayInterval of inactivity.
func NewBanScoreManager(decayInterval time.Duration) *BanScoreManager {
	if decayInterval <= 0 {
		decayInterval = time.Hour
	}
	return &BanScoreManager{
		decayInterval: decayInterval,
		scores:        make(map[peer.ID]*banEntry),
	}
}

func (m *BanScoreManager) decayLocked(entry *banEntry) {
	elapsed := time.Since(entry.lastUpdate)
	if elapsed <= 0 {
		return
	}
	halvings := int(elapsed / m.decayInterval)
	if halvings <= 0 {
		return
	}
	for i := 0; i < halvings && entry.score > 0; i++ {
		entry.score /= 2
	}
	entry.lastUpdate = time.Now()
}

// AddBanScore increases p's ban score by delta and returns the new score.
func (m *BanScoreManager) AddBanScore(p peer.ID, delta int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.scores[p]
	if !ok {
		entry = &banEntry{lastUpdate: time.Now()}
		m.scores[p] = entry
	} else {
		m.decayLocked(entry)
	}
	entry.score += delta
	entry.lastUpdate = time.Now()
	return entry.score
}

// BanScore returns p's current (decayed) ban score without modifying it.
func (m *BanScoreManager) BanScore(p peer.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.scores[p]
	if !ok {
		return 0
	}
	m.decayLocked(entry)
	return entry.score
}

// IsBanned reports whether p's current score meets the ban threshold.
func (m *BanScoreManager) IsBanned(p peer.ID) bool {
	return m.BanScore(p) >= banThreshold
}

// Forget drops all tracked state for p (e.g. on disconnect after ban).
func (m *BanScoreManager) Forget(p peer.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scores, p)
}
