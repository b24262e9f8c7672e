package node

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/p2p"
	"github.com/djkazic/p2pool-go/internal/pplns"
	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/internal/work"
	"github.com/djkazic/p2pool-go/pkg/util"
)

const testMiner = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

func testShare(prevShareHash [32]byte, nonce uint32) *types.Share {
	return &types.Share{
		Header: types.ShareHeader{
			Version:   1,
			Timestamp: 1700000000 + nonce,
			Bits:      0x1d00ffff,
			Nonce:     nonce,
		},
		ShareVersion:  1,
		PrevShareHash: prevShareHash,
		ShareTarget:   types.DefaultShareTarget,
		MinerAddress:  testMiner,
		CoinbaseTx:    []byte{0xde, 0xad},
	}
}

// newTestNode builds a Node with a real tracker and generator but no
// p2p/stratum subsystems, for exercising the tracker-only methods
// without standing up a network.
func newTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()
	store, err := sharechain.NewBoltStore(filepath.Join(dir, "node.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := sharechain.NewTracker(store, nil)
	generator := work.NewGenerator(bitcoin.NewMockRPC(), "bitcoin-testnet", 4, nil, nil, nil, zap.NewNop())

	return &Node{
		logger:    zap.NewNop(),
		cfg:       Config{FinderAddress: "tb1qfinder", DustThresholdSats: 1000},
		tracker:   tracker,
		generator: generator,
		banMgr:    p2p.NewBanScoreManager(0),
		calc:      pplns.NewCalculator(1.0, 1000),
		powSem:    make(chan struct{}, powWorkerPoolSize),
	}
}

func TestNode_PrevShareHashEmptyChain(t *testing.T) {
	n := newTestNode(t)
	if got := n.PrevShareHash(); got != ([32]byte{}) {
		t.Errorf("PrevShareHash on empty chain = %x, want zero hash", got)
	}
}

func TestNode_PrevShareHashTracksTip(t *testing.T) {
	n := newTestNode(t)
	share := testShare([32]byte{}, 1)
	if _, err := n.tracker.Add(share); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := n.PrevShareHash(); got != share.Hash() {
		t.Errorf("PrevShareHash = %x, want %x", got, share.Hash())
	}
}

func TestNode_CurrentShareTargetFallsBackToMax(t *testing.T) {
	n := newTestNode(t)
	if got := n.currentShareTarget(); got.Cmp(n.maxTarget()) != 0 {
		t.Errorf("currentShareTarget on empty chain = %v, want maxTarget %v", got, n.maxTarget())
	}
}

func TestNode_PayoutsForTemplateEmptyChain(t *testing.T) {
	n := newTestNode(t)
	if payouts := n.PayoutsForTemplate(); payouts != nil {
		t.Errorf("PayoutsForTemplate on empty chain = %v, want nil", payouts)
	}
}

func TestNode_OnSyncRequestEmptyChain(t *testing.T) {
	n := newTestNode(t)
	resp := n.onSyncRequest(&p2p.ShareLocatorReq{})
	if len(resp.Shares) != 0 {
		t.Errorf("onSyncRequest on empty chain returned %d shares, want 0", len(resp.Shares))
	}
}

func TestNode_OnSyncRequestServesChainFromForkPoint(t *testing.T) {
	n := newTestNode(t)

	var prev [32]byte
	var hashes [][32]byte
	for i := uint32(1); i <= 5; i++ {
		s := testShare(prev, i)
		if _, err := n.tracker.Add(s); err != nil {
			t.Fatalf("Add share %d: %v", i, err)
		}
		prev = s.Hash()
		hashes = append(hashes, prev)
	}

	// Request from the third share onward: expect the two shares after it.
	resp := n.onSyncRequest(&p2p.ShareLocatorReq{Locators: [][32]byte{hashes[2]}, MaxCount: 10})
	if len(resp.Shares) != 2 {
		t.Fatalf("onSyncRequest returned %d shares, want 2 (descendants of the fork point)", len(resp.Shares))
	}
	if resp.Shares[0].PrevShareHash != hashes[2] {
		t.Errorf("first served share's prev hash = %x, want %x", resp.Shares[0].PrevShareHash, hashes[2])
	}
	if resp.More {
		t.Error("More should be false when fewer than MaxCount shares were returned")
	}
}

func TestNode_BuildLocatorsIncludesTip(t *testing.T) {
	n := newTestNode(t)

	var prev [32]byte
	var tipHash [32]byte
	for i := uint32(1); i <= 10; i++ {
		s := testShare(prev, i)
		if _, err := n.tracker.Add(s); err != nil {
			t.Fatalf("Add share %d: %v", i, err)
		}
		prev = s.Hash()
		tipHash = prev
	}

	locators := n.buildLocators()
	if len(locators) == 0 {
		t.Fatal("buildLocators returned nothing for a non-empty chain")
	}
	if locators[0] != tipHash {
		t.Errorf("first locator = %x, want tip %x", locators[0], tipHash)
	}
}

func TestNode_BuildLocatorsEmptyChain(t *testing.T) {
	n := newTestNode(t)
	if locators := n.buildLocators(); locators != nil {
		t.Errorf("buildLocators on empty chain = %v, want nil", locators)
	}
}

func TestShareMsgRoundTrip(t *testing.T) {
	share := testShare([32]byte{0x01}, 42)
	msg := shareToMsg(share)
	back := msgToShare(msg)

	if back.Header.Nonce != share.Header.Nonce {
		t.Errorf("nonce = %d, want %d", back.Header.Nonce, share.Header.Nonce)
	}
	if back.PrevShareHash != share.PrevShareHash {
		t.Errorf("prev share hash = %x, want %x", back.PrevShareHash, share.PrevShareHash)
	}
	if back.MinerAddress != share.MinerAddress {
		t.Errorf("miner address = %q, want %q", back.MinerAddress, share.MinerAddress)
	}
	if util.TargetToCompact(back.ShareTarget) != util.TargetToCompact(share.ShareTarget) {
		t.Errorf("share target compact = %x, want %x", util.TargetToCompact(back.ShareTarget), util.TargetToCompact(share.ShareTarget))
	}
}
