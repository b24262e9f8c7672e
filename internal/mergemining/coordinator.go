package mergemining

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// PollInterval is how often createauxblock is polled on each auxiliary
// chain, mirroring the work generator's own template poll cadence.
const PollInterval = 5 * time.Second

// Chain is one configured auxiliary chain slot: its RPC client and the
// chain ID that positions its commitment in the merkle forest.
type Chain struct {
	Name    string
	ChainID uint32
	RPC     bitcoin.BitcoinRPC

	// PayoutAddress is used for CreateAuxBlock if the chain's daemon
	// requires an address hint.
	PayoutAddress string
}

// Work is the latest aux block offered by one chain.
type Work struct {
	ChainID       uint32
	Hash          [32]byte
	HashHex       string
	Target        []byte
	PrevBlock     string
	Height        int64
	CoinbaseValue int64
}

// Coordinator polls configured auxiliary chains for work, assembles
// their merged-mining commitment, and submits solved AuxPow proofs
// back to whichever chains were satisfied.
type Coordinator struct {
	chains []*Chain
	logger *zap.Logger

	mu   sync.RWMutex
	work map[uint32]*Work

	// shareWindowFn and maxTargetFn, when set via SetShareWindowFunc,
	// supply the current PPLNS window so SubmitSolved can compute local
	// auxiliary-chain payout accounting (see CalculateAuxPayouts) for
	// every chain it successfully submits a block to.
	shareWindowFn func() []*types.Share
	maxTargetFn   func() *big.Int
}

// NewCoordinator creates a coordinator for the given auxiliary chains.
// An empty chains list is valid: merged mining is simply inactive.
func NewCoordinator(chains []*Chain, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		chains: chains,
		logger: logger,
		work:   make(map[uint32]*Work),
	}
}

// Active reports whether any auxiliary chains are configured.
func (c *Coordinator) Active() bool {
	return len(c.chains) > 0
}

// SetShareWindowFunc wires the node's PPLNS share window into the
// coordinator so SubmitSolved can compute local per-chain payout
// accounting. Leaving it unset simply skips that accounting.
func (c *Coordinator) SetShareWindowFunc(shareWindowFn func() []*types.Share, maxTargetFn func() *big.Int) {
	c.shareWindowFn = shareWindowFn
	c.maxTargetFn = maxTargetFn
}

// Start begins polling every configured chain for new aux work until
// ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.Active() {
		return
	}
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	c.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

func (c *Coordinator) refreshAll(ctx context.Context) {
	for _, chain := range c.chains {
		block, err := chain.RPC.CreateAuxBlock(ctx, chain.PayoutAddress)
		if err != nil {
			c.logger.Warn("createauxblock failed",
				zap.String("chain", chain.Name), zap.Error(err))
			continue
		}
		hashBytes, err := hex.DecodeString(block.Hash)
		if err != nil || len(hashBytes) != 32 {
			c.logger.Warn("createauxblock returned malformed hash",
				zap.String("chain", chain.Name), zap.String("hash", block.Hash))
			continue
		}
		var hash [32]byte
		copy(hash[:], util.ReverseBytes(hashBytes))

		var target []byte
		if block.Target != "" {
			target, _ = hex.DecodeString(block.Target)
		}

		c.mu.Lock()
		c.work[chain.ChainID] = &Work{
			ChainID:       chain.ChainID,
			Hash:          hash,
			HashHex:       block.Hash,
			Target:        target,
			PrevBlock:     block.PrevBlock,
			Height:        block.Height,
			CoinbaseValue: block.CoinbaseValue,
		}
		c.mu.Unlock()
	}
}

// Commitment holds a built merged-mining commitment alongside enough
// per-chain bookkeeping to assemble AuxPow proofs once the parent
// block is solved.
type Commitment struct {
	Payload []byte
	Root    [32]byte
	Size    uint32
	Nonce   uint32

	branches map[uint32][][32]byte
	indexes  map[uint32]uint32
	work     map[uint32]*Work
}

// BuildCommitment snapshots current aux work into the merged-mining
// merkle tree and returns the coinbase-embeddable commitment payload.
// Returns (nil, nil) if no auxiliary chains currently have work.
func (c *Coordinator) BuildCommitment() (*Commitment, error) {
	c.mu.RLock()
	slots := make([]ChainSlot, 0, len(c.work))
	workSnap := make(map[uint32]*Work, len(c.work))
	for id, w := range c.work {
		slots = append(slots, ChainSlot{ChainID: id, Hash: w.Hash})
		workSnap[id] = w
	}
	c.mu.RUnlock()

	if len(slots) == 0 {
		return nil, nil
	}

	root, branches, indexes, size, nonce, err := BuildMerkleTree(slots)
	if err != nil {
		return nil, fmt.Errorf("mergemining: build commitment: %w", err)
	}

	return &Commitment{
		Payload:  BuildCommitment(root, size, nonce),
		Root:     root,
		Size:     size,
		Nonce:    nonce,
		branches: branches,
		indexes:  indexes,
		work:     workSnap,
	}, nil
}

// SubmitSolved checks each committed chain's target against the solved
// parent header and submits AuxPow proofs for every chain that was
// satisfied.
func (c *Coordinator) SubmitSolved(ctx context.Context, commitment *Commitment, parentCoinbase []byte, coinbaseMerkleBranch [][32]byte, parentHeader *ParentHeader) {
	if commitment == nil {
		return
	}
	for _, chain := range c.chains {
		w, ok := commitment.work[chain.ChainID]
		if !ok {
			continue
		}
		if len(w.Target) == 0 {
			continue
		}
		target := new(big.Int).SetBytes(w.Target)

		pow := &AuxPow{
			ParentCoinbase:       parentCoinbase,
			CoinbaseMerkleBranch: coinbaseMerkleBranch,
			ParentHeader:         parentHeader,
			ChainMerkleBranch:    commitment.branches[chain.ChainID],
			ChainMerkleIndex:     commitment.indexes[chain.ChainID],
			ChainMerkleSize:      commitment.Size,
		}
		if err := pow.Verify(w.Hash, target); err != nil {
			continue
		}

		auxPowHex := hex.EncodeToString(encodeAuxPow(pow))
		accepted, err := chain.RPC.SubmitAuxBlock(ctx, w.HashHex, auxPowHex)
		if err != nil {
			c.logger.Warn("submitauxblock failed", zap.String("chain", chain.Name), zap.Error(err))
			continue
		}
		c.logger.Info("auxiliary block submitted",
			zap.String("chain", chain.Name), zap.Bool("accepted", accepted), zap.Int64("height", w.Height))

		if accepted {
			c.logAuxPayouts(chain, w)
		}
	}
}

// logAuxPayouts computes and logs how w.CoinbaseValue would split across
// the current PPLNS window's eligible miners on chain, purely as local
// bookkeeping: the auxiliary chain's own daemon already built and
// submitted its coinbase via createauxblock/PayoutAddress, so nothing
// here touches an on-chain transaction.
func (c *Coordinator) logAuxPayouts(chain *Chain, w *Work) {
	if c.shareWindowFn == nil || c.maxTargetFn == nil || w.CoinbaseValue <= 0 {
		return
	}
	shares := c.shareWindowFn()
	entries := CalculateAuxPayouts(shares, c.maxTargetFn(), chain.ChainID, w.CoinbaseValue)
	c.logger.Info("aux payout accounting",
		zap.String("chain", chain.Name),
		zap.Int("destinations", len(entries)),
		zap.Int64("total_value", w.CoinbaseValue),
	)
}

// encodeAuxPow serializes an AuxPow into the wire format expected by
// merge-mining-aware daemons: length-prefixed coinbase tx, coinbase
// merkle branch, chain merkle branch and index, then the 80-byte parent
// header.
func encodeAuxPow(pow *AuxPow) []byte {
	var buf []byte
	buf = append(buf, util.WriteVarInt(uint64(len(pow.ParentCoinbase)))...)
	buf = append(buf, pow.ParentCoinbase...)
	buf = append(buf, util.WriteVarInt(uint64(len(pow.CoinbaseMerkleBranch)))...)
	for _, h := range pow.CoinbaseMerkleBranch {
		buf = append(buf, h[:]...)
	}
	buf = append(buf, util.WriteVarInt(uint64(len(pow.ChainMerkleBranch)))...)
	for _, h := range pow.ChainMerkleBranch {
		buf = append(buf, h[:]...)
	}
	buf = append(buf, util.Uint32ToBytes(pow.ChainMerkleIndex)...)
	buf = append(buf, util.Uint32ToBytes(uint32(pow.ParentHeader.Version))...)
	buf = append(buf, pow.ParentHeader.PrevBlock[:]...)
	buf = append(buf, pow.ParentHeader.MerkleRoot[:]...)
	buf = append(buf, util.Uint32ToBytes(pow.ParentHeader.Timestamp)...)
	buf = append(buf, util.Uint32ToBytes(pow.ParentHeader.Bits)...)
	buf = append(buf, util.Uint32ToBytes(pow.ParentHeader.Nonce)...)
	return buf
}
