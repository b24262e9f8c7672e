// Package node wires the sharechain tracker, work generator, P2P
// network, and Stratum server together into the single-threaded
// cooperative event loop the rest of the system runs under: a new job,
// a gossiped share, a peer connecting and the metrics tick arrive as
// events on one select loop. A miner's submission is handled by the
// Stratum submit callback on the submitting session's goroutine, with
// proof-of-work hashing bounded by a semaphore and shared state
// guarded by the node's mutex.
package node

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/mergemining"
	"github.com/djkazic/p2pool-go/internal/metrics"
	"github.com/djkazic/p2pool-go/internal/p2p"
	"github.com/djkazic/p2pool-go/internal/pplns"
	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/stratum"
	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/internal/work"
	"github.com/djkazic/p2pool-go/pkg/util"
)

const (
	// powWorkerPoolSize bounds how many submissions are hashed concurrently.
	powWorkerPoolSize = 8

	// banDecayTick drives periodic peer-count metric refresh.
	banDecayTick = time.Minute

	// pplnsWindowShares is how many of the best chain's most recent
	// shares feed a payout round.
	pplnsWindowShares = 2000

	// locatorDepth controls how many exponentially-spaced ancestors the
	// orchestrator sends when kicking off sync with a newly connected peer.
	locatorDepth = 32

	// maxAncestorSyncWalk bounds how far back onSyncRequest walks our own
	// chain to locate a requester's fork point.
	maxAncestorSyncWalk = 1 << 16

	// defaultShareTargetTime is used when Config.ShareTargetTime is unset.
	defaultShareTargetTime = 30 * time.Second
)

// Config carries everything the orchestrator needs beyond the
// already-constructed subsystems passed to New.
type Config struct {
	Network           string
	FinderAddress     string
	FinderFeePercent  float64
	DustThresholdSats int64
	MaxTarget         *big.Int

	// PoWHashFunc is the parent network's proof-of-work hash function
	// (netparams.Params.PoWHashFunc) — double-SHA256 for Bitcoin-family
	// chains, scrypt for Litecoin-family chains. Defaults to DoubleSHA256
	// if left nil.
	PoWHashFunc func([]byte) [32]byte

	// ShareTargetTime is the sharechain's target time between shares
	// (SHARE_PERIOD), driving both the retarget calculation and the
	// emergency time-decay idle threshold. Defaults to 30s if zero.
	ShareTargetTime time.Duration

	// SpreadDivisor floors a share's target at the parent chain's current
	// target times this value (netparams.Params.SpreadDivisor).
	SpreadDivisor int64

	// MergedAddresses are the v36+ auxiliary-chain payout destinations
	// committed into every job's coinbase. Empty means shares are issued
	// at the pre-merged-addresses version.
	MergedAddresses []types.MergedAddress
}

// Node is the cooperative orchestrator tying the sharechain, work
// generator, P2P network, and Stratum server together.
type Node struct {
	logger *zap.Logger
	cfg    Config

	rpc       bitcoin.BitcoinRPC
	tracker   *sharechain.Tracker
	generator *work.Generator
	p2pNode   *p2p.Node
	stratum   *stratum.Server
	merge     *mergemining.Coordinator
	banMgr    *p2p.BanScoreManager
	calc      *pplns.Calculator

	powSem   chan struct{}
	diffCalc *sharechain.DifficultyCalculator

	mu         sync.Mutex
	commitment *mergemining.Commitment
	lastHeight int64
}

// New constructs the orchestrator. All subsystems must already be
// constructed; New only wires callbacks between them.
func New(
	logger *zap.Logger,
	cfg Config,
	rpc bitcoin.BitcoinRPC,
	tracker *sharechain.Tracker,
	generator *work.Generator,
	p2pNode *p2p.Node,
	stratumServer *stratum.Server,
	merge *mergemining.Coordinator,
) *Node {
	shareTargetTime := cfg.ShareTargetTime
	if shareTargetTime <= 0 {
		shareTargetTime = defaultShareTargetTime
	}

	n := &Node{
		logger:    logger,
		cfg:       cfg,
		rpc:       rpc,
		tracker:   tracker,
		generator: generator,
		p2pNode:   p2pNode,
		stratum:   stratumServer,
		merge:     merge,
		banMgr:    p2p.NewBanScoreManager(time.Hour),
		calc:      pplns.NewCalculator(cfg.FinderFeePercent, cfg.DustThresholdSats),
		powSem:    make(chan struct{}, powWorkerPoolSize),
		diffCalc:  sharechain.NewDifficultyCalculator(shareTargetTime, cfg.SpreadDivisor),
	}
	stratumServer.OnShareSubmit = n.onShareSubmit
	p2pNode.InitSyncer(n.onSyncRequest)
	if merge != nil {
		merge.SetShareWindowFunc(n.auxShareWindow, n.maxTarget)
	}
	return n
}

// powHash returns the configured parent PoW hash function, defaulting to
// double-SHA256 (Bitcoin-family) when the node was constructed without one.
func (n *Node) powHash() func([]byte) [32]byte {
	if n.cfg.PoWHashFunc != nil {
		return n.cfg.PoWHashFunc
	}
	return util.DoubleSHA256
}

func (n *Node) maxTarget() *big.Int {
	if n.cfg.MaxTarget != nil {
		return n.cfg.MaxTarget
	}
	return sharechain.MaxShareTarget
}

// PayoutsForTemplate computes the current PPLNS payout set over the
// best chain's last window, for the work generator to embed in the
// next coinbase.
func (n *Node) PayoutsForTemplate() []types.PayoutEntry {
	tip, ok := n.tracker.BestShare()
	if !ok {
		return nil
	}
	shares := n.tracker.Chain(tip.Hash(), pplnsWindowShares)
	if len(shares) == 0 {
		return nil
	}
	window := pplns.NewWindow(shares, n.maxTarget())

	var totalReward int64
	if tmpl := n.generator.CurrentTemplate(); tmpl != nil {
		totalReward = tmpl.CoinbaseValue
	}
	return n.calc.CalculatePayouts(window, totalReward, n.cfg.FinderAddress)
}

// MergedAddressesForTemplate returns the configured v36+ auxiliary-chain
// payout destinations for the work generator to embed in the next
// coinbase's merged_addresses commitment.
func (n *Node) MergedAddressesForTemplate() []types.MergedAddress {
	return n.cfg.MergedAddresses
}

// auxShareWindow returns the best chain's recent PPLNS window, for local
// auxiliary-chain payout accounting (mergemining.CalculateAuxPayouts).
func (n *Node) auxShareWindow() []*types.Share {
	tip, ok := n.tracker.BestShare()
	if !ok {
		return nil
	}
	return n.tracker.Chain(tip.Hash(), pplnsWindowShares)
}

// PrevShareHash returns the best chain tip's hash, or the zero hash if
// the sharechain is empty (genesis).
func (n *Node) PrevShareHash() [32]byte {
	tip, ok := n.tracker.BestShare()
	if !ok {
		return [32]byte{}
	}
	return tip.Hash()
}

// currentShareTarget returns the sharechain target new work should be
// issued against, retargeted from the recent window of the best chain
// (DifficultyCalculator.NextTarget), bounded by the parent chain's
// current target (SPREAD) and eased by the emergency idle decay when
// the chain has gone quiet. Returns the network max target before any
// share has been accepted.
func (n *Node) currentShareTarget() *big.Int {
	tip, ok := n.tracker.BestShare()
	if !ok || tip.ShareTarget == nil {
		return n.maxTarget()
	}
	shares := n.tracker.Chain(tip.Hash(), sharechain.DifficultyAdjustmentWindow)
	// Chain returns oldest-first; NextTarget expects newest-first.
	reversed := make([]*types.Share, len(shares))
	for i, s := range shares {
		reversed[len(shares)-1-i] = s
	}

	var parentTarget *big.Int
	if tmpl := n.generator.CurrentTemplate(); tmpl != nil {
		parentTarget = util.CompactToTarget(tmpl.Bits)
	}
	return n.diffCalc.NextTarget(reversed, parentTarget, time.Now())
}

// Run drives the orchestrator's event loop until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	n.generator.Start(ctx)
	if n.merge != nil {
		go n.merge.Start(ctx)
	}

	metricsTicker := time.NewTicker(banDecayTick)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-n.generator.JobChannel():
			if ok {
				n.handleNewJob(job)
			}

		case share, ok := <-n.p2pNode.IncomingShares():
			if ok {
				n.handleP2PShare(share)
			}

		case peerID, ok := <-n.p2pNode.PeerConnected():
			if !ok {
				continue
			}
			if n.banMgr.IsBanned(peerID) {
				n.logger.Warn("refusing sync with banned peer", zap.String("peer", peerID.String()))
				continue
			}
			n.syncWithPeer(ctx, peerID)

		case <-metricsTicker.C:
			metrics.PeersConnected.Set(float64(n.p2pNode.PeerCount()))
		}
	}
}

func (n *Node) handleNewJob(job *work.JobData) {
	if n.merge != nil && n.merge.Active() {
		commitment, err := n.merge.BuildCommitment()
		if err != nil {
			n.logger.Warn("merged mining commitment build failed", zap.Error(err))
		} else {
			n.mu.Lock()
			n.commitment = commitment
			n.mu.Unlock()
		}
	}

	sjob := &stratum.Job{
		ID:             job.ID,
		Seq:            job.Seq,
		PrevHash:       job.PrevBlockHash,
		Coinbase1:      job.Coinbase1,
		Coinbase2:      job.Coinbase2,
		MerkleBranches: job.MerkleBranches,
		Version:        job.Version,
		NBits:          job.NBits,
		NTime:          job.NTime,
		CleanJobs:      job.CleanJobs,
	}
	n.stratum.BroadcastJob(sjob)

	if job.Height > 0 {
		n.mu.Lock()
		n.lastHeight = job.Height
		n.mu.Unlock()
		metrics.SharechainHeight.Set(float64(job.Height))
	}
}

// onShareSubmit is wired as the Stratum server's share-acceptance
// callback. It reconstructs the candidate block/share header, hashes
// it on the bounded worker pool, classifies the result, and routes it
// to the sharechain, parent RPC, and P2P gossip accordingly.
func (n *Node) onShareSubmit(sess *stratum.Session, sub *stratum.ShareSubmission) (bool, error) {
	job := n.generator.GetJob(sub.JobID)
	if job == nil {
		return false, fmt.Errorf("stale")
	}
	if job.Template == nil {
		return false, fmt.Errorf("stale")
	}

	n.powSem <- struct{}{}
	defer func() { <-n.powSem }()

	header, coinbase, err := work.ReconstructHeader(job, job.Version, sess.Extranonce1(), sub.Extranonce2, sub.NTime, sub.Nonce)
	if err != nil {
		return false, fmt.Errorf("hash-above-target")
	}
	hash := n.powHash()(header)

	parentTarget := util.CompactToTarget(job.Template.Bits)
	shareTarget := n.currentShareTarget()
	pseudoTarget := util.DifficultyToTarget(sub.Difficulty, n.maxTarget())

	class := work.Classify(hash, parentTarget, shareTarget, pseudoTarget)

	switch class {
	case work.ClassRejected:
		return false, fmt.Errorf("hash-above-target")

	case work.ClassBlock:
		n.submitParentBlock(header, coinbase, job)
		n.emitShare(header, coinbase, job, sub, sess.WorkerName())

	case work.ClassShare:
		n.emitShare(header, coinbase, job, sub, sess.WorkerName())

	case work.ClassPseudoshare:
		// accounting only; vardiff state already recorded by the session
	}

	return true, nil
}

func (n *Node) emitShare(header, coinbase []byte, job *work.JobData, sub *stratum.ShareSubmission, minerAddr string) {
	shareHeader, err := types.ParseShareHeader(header)
	if err != nil {
		n.logger.Error("parse reconstructed header failed", zap.Error(err))
		return
	}

	shareVersion := uint32(1)
	if len(job.MergedAddresses) > 0 {
		shareVersion = types.ShareVersionMergedAddresses
	}

	share := &types.Share{
		Header:          shareHeader,
		ShareVersion:    shareVersion,
		PrevShareHash:   n.PrevShareHash(),
		ShareTarget:     n.currentShareTarget(),
		MinerAddress:    minerAddr,
		CoinbaseTx:      coinbase,
		MergedAddresses: job.MergedAddresses,
	}

	event, err := n.tracker.Add(share)
	if err != nil {
		n.logger.Debug("share rejected by tracker", zap.Error(err))
		return
	}
	n.logger.Info("share accepted", zap.String("hash", share.HashHex()), zap.Int("event", int(event.Type)))
	metrics.SharesAccepted.Inc()

	if err := n.p2pNode.BroadcastShare(shareToMsg(share)); err != nil {
		n.logger.Warn("broadcast share failed", zap.Error(err))
	}
}

func shareToMsg(share *types.Share) *p2p.ShareMsg {
	var mergedAddresses []p2p.MergedAddrMsg
	for _, ma := range share.MergedAddresses {
		mergedAddresses = append(mergedAddresses, p2p.MergedAddrMsg{ChainID: ma.ChainID, OutputScript: ma.OutputScript})
	}
	return &p2p.ShareMsg{
		Type:            p2p.MsgTypeShare,
		Version:         share.Header.Version,
		PrevBlockHash:   share.Header.PrevBlockHash,
		MerkleRoot:      share.Header.MerkleRoot,
		Timestamp:       share.Header.Timestamp,
		Bits:            share.Header.Bits,
		Nonce:           share.Header.Nonce,
		ShareVersion:    share.ShareVersion,
		PrevShareHash:   share.PrevShareHash,
		ShareTargetBits: util.TargetToCompact(share.ShareTarget),
		MinerAddress:    share.MinerAddress,
		CoinbaseTx:      share.CoinbaseTx,
		MergedAddresses: mergedAddresses,
	}
}

func msgToShare(msg *p2p.ShareMsg) *types.Share {
	var mergedAddresses []types.MergedAddress
	for _, ma := range msg.MergedAddresses {
		mergedAddresses = append(mergedAddresses, types.MergedAddress{ChainID: ma.ChainID, OutputScript: ma.OutputScript})
	}
	return &types.Share{
		Header: types.ShareHeader{
			Version:       msg.Version,
			PrevBlockHash: msg.PrevBlockHash,
			MerkleRoot:    msg.MerkleRoot,
			Timestamp:     msg.Timestamp,
			Bits:          msg.Bits,
			Nonce:         msg.Nonce,
		},
		ShareVersion:    msg.ShareVersion,
		PrevShareHash:   msg.PrevShareHash,
		ShareTarget:     util.CompactToTarget(msg.ShareTargetBits),
		MinerAddress:    msg.MinerAddress,
		CoinbaseTx:      msg.CoinbaseTx,
		MergedAddresses: mergedAddresses,
	}
}

func (n *Node) submitParentBlock(header, coinbase []byte, job *work.JobData) {
	blockHex, err := work.ReconstructBlock(header, coinbase, job.Template)
	if err != nil {
		n.logger.Error("reconstruct block failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.rpc.SubmitBlock(ctx, blockHex); err != nil {
		metrics.BlockSubmissions.WithLabelValues("rejected").Inc()
		n.logger.Error("submitblock failed", zap.Error(err))
		return
	}
	metrics.BlockSubmissions.WithLabelValues("accepted").Inc()
	metrics.BlocksFound.Inc()
	n.logger.Info("parent block found and submitted")

	n.mu.Lock()
	commitment := n.commitment
	n.mu.Unlock()
	if commitment == nil || n.merge == nil {
		return
	}
	parentHeader, err := mergemining.ParseParentHeader(header)
	if err != nil {
		n.logger.Warn("parse parent header for auxpow failed", zap.Error(err))
		return
	}
	n.merge.SubmitSolved(ctx, commitment, coinbase, nil, parentHeader)
}

func (n *Node) handleP2PShare(msg *p2p.ShareMsg) {
	share := msgToShare(msg)
	if _, err := n.tracker.Add(share); err != nil {
		n.logger.Debug("rejected p2p share", zap.Error(err))
	}
}

// onSyncRequest serves a locator-based sync request from a peer: it
// walks the requester's locators to find the first hash we recognize
// (the fork point) and returns up to MaxCount shares forward from it.
func (n *Node) onSyncRequest(req *p2p.ShareLocatorReq) *p2p.ShareLocatorResp {
	tip, ok := n.tracker.BestShare()
	if !ok {
		return &p2p.ShareLocatorResp{Type: p2p.MsgTypeLocatorResp}
	}

	maxCount := req.MaxCount
	if maxCount <= 0 || maxCount > 100 {
		maxCount = 100
	}

	// Walk our own chain oldest-first so the fork point's descendants can
	// be sliced out forward; Chain/GetAncestors only walks backward, so
	// this has to start from our tip rather than from the fork point.
	ancestors := n.tracker.Chain(tip.Hash(), maxAncestorSyncWalk)

	start := 0
	for _, locator := range req.Locators {
		for i, s := range ancestors {
			if s.Hash() == locator {
				start = i + 1 // shares strictly after the fork point
				break
			}
		}
		if start > 0 {
			break
		}
	}

	end := start + maxCount
	if end > len(ancestors) {
		end = len(ancestors)
	}
	shares := ancestors[start:end]

	msgs := make([]p2p.ShareMsg, 0, len(shares))
	for _, s := range shares {
		msgs = append(msgs, *shareToMsg(s))
	}
	return &p2p.ShareLocatorResp{Type: p2p.MsgTypeLocatorResp, Shares: msgs, More: end < len(ancestors)}
}

// syncWithPeer requests shares from a newly connected peer using an
// exponentially-spaced locator built from our own chain.
func (n *Node) syncWithPeer(ctx context.Context, peerID peer.ID) {
	syncer := n.p2pNode.Syncer()
	if syncer == nil {
		return
	}

	locators := n.buildLocators()
	if len(locators) == 0 {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := syncer.RequestLocator(reqCtx, peerID, locators, locatorDepth)
	if err != nil {
		n.logger.Debug("locator sync request failed", zap.String("peer", peerID.String()), zap.Error(err))
		return
	}

	for i := range resp.Shares {
		share := msgToShare(&resp.Shares[i])
		if _, err := n.tracker.Add(share); err != nil {
			n.banMgr.AddBanScore(peerID, 1)
			n.logger.Debug("rejected synced share", zap.String("peer", peerID.String()), zap.Error(err))
		}
	}
}

// buildLocators returns tip, tip-1, tip-3, tip-7, tip-15, ... (the
// spacing doubles after the second entry), walking back no further than
// 65536 shares; the oldest share is included only when it falls on
// that spacing.
func (n *Node) buildLocators() [][32]byte {
	tip, ok := n.tracker.BestShare()
	if !ok {
		return nil
	}
	chain := n.tracker.Chain(tip.Hash(), 1<<16)
	if len(chain) == 0 {
		return nil
	}

	var locators [][32]byte
	step := 1
	for i := len(chain) - 1; i >= 0; i -= step {
		locators = append(locators, chain[i].Hash())
		if len(locators) >= 2 {
			step *= 2
		}
	}
	return locators
}
