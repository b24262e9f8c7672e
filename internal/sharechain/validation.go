package sharechain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/pkg/util"
)

const (
	// MaxTimeFuture is the maximum time a share's timestamp can be ahead of our clock.
	MaxTimeFuture = 2 * time.Minute

	// MaxTimePast is the maximum time a share's timestamp can be behind the parent.
	MaxTimePast = 10 * time.Minute

	// maxCoinbaseTxSize is the maximum allowed coinbase transaction size.
	// Bitcoin consensus allows up to ~1MB, but a legitimate coinbase is
	// typically under 1KB. 100KB is generous.
	maxCoinbaseTxSize = 100 * 1024

	// maxMinerAddressLen is the maximum allowed miner address length.
	// Bech32m addresses are at most ~90 characters.
	maxMinerAddressLen = 128
)

// ValidationError represents a share validation failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("share validation failed: %s", e.Reason)
}

// Validator validates incoming shares.
type Validator struct {
	store      ShareStore
	targetFunc func(parentHash [32]byte) *big.Int
	network    string
	powHash    func([]byte) [32]byte
}

// NewValidator creates a new share validator. powHash is the parent
// network's proof-of-work hash function (netparams.Params.PoWHashFunc) —
// double-SHA256 for Bitcoin-family chains, scrypt for Litecoin-family chains.
func NewValidator(store ShareStore, targetFunc func(parentHash [32]byte) *big.Int, network string, powHash func([]byte) [32]byte) *Validator {
	return &Validator{
		store:      store,
		targetFunc: targetFunc,
		network:    network,
		powHash:    powHash,
	}
}

// ValidateShare performs all validation checks on a share.
func (v *Validator) ValidateShare(share *types.Share) error {
	// 1. ShareVersion must be 1 (no merged_addresses) or exactly
	// ShareVersionMergedAddresses (36)
	switch share.ShareVersion {
	case 1:
		if len(share.MergedAddresses) > 0 {
			return &ValidationError{Reason: "share version 1 must not carry merged_addresses"}
		}
	case types.ShareVersionMergedAddresses:
		if len(share.MergedAddresses) > types.MaxMergedAddresses {
			return &ValidationError{Reason: fmt.Sprintf(
				"merged_addresses has %d entries, max %d", len(share.MergedAddresses), types.MaxMergedAddresses)}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unsupported share version %d", share.ShareVersion)}
	}

	// 2. Size limits — reject before any expensive processing
	if len(share.MinerAddress) > maxMinerAddressLen {
		return &ValidationError{Reason: fmt.Sprintf("miner address too long: %d bytes", len(share.MinerAddress))}
	}
	if len(share.CoinbaseTx) > maxCoinbaseTxSize {
		return &ValidationError{Reason: fmt.Sprintf("coinbase tx too large: %d bytes", len(share.CoinbaseTx))}
	}

	// 3. MinerAddress must be valid bech32 for network
	if share.MinerAddress == "" {
		return &ValidationError{Reason: "missing miner address"}
	}
	if err := types.ValidateAddress(share.MinerAddress, v.network); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid miner address: %v", err)}
	}

	// 3. Parent exists (unless genesis)
	var zeroHash [32]byte
	if share.PrevShareHash != zeroHash {
		if !v.store.Has(share.PrevShareHash) {
			return &ValidationError{Reason: fmt.Sprintf("parent share %x not found", share.PrevShareHash[:8])}
		}
	}

	// 4. Timestamp validation
	now := time.Now()
	shareTime := share.Time()

	// Not too far in the future
	if shareTime.After(now.Add(MaxTimeFuture)) {
		return &ValidationError{Reason: fmt.Sprintf("share timestamp %v is too far in the future", shareTime)}
	}

	// Not too far behind parent
	if share.PrevShareHash != zeroHash {
		parent, ok := v.store.Get(share.PrevShareHash)
		if ok {
			parentTime := parent.Time()
			if shareTime.Before(parentTime.Add(-MaxTimePast)) {
				return &ValidationError{Reason: "share timestamp is too far behind parent"}
			}
		}
	}

	// 5. Expected target — compute via targetFunc from parent
	expectedTarget := v.targetFunc(share.PrevShareHash)

	// 6. PoW check — share must meet the consensus-computed target
	if !share.MeetsTarget(expectedTarget, v.powHash) {
		return &ValidationError{Reason: "share does not meet required target"}
	}

	// 7. ShareTarget consistency — declared target must match consensus
	declaredBits := util.TargetToCompact(share.ShareTarget)
	expectedBits := util.TargetToCompact(expectedTarget)
	if declaredBits != expectedBits {
		return &ValidationError{Reason: fmt.Sprintf(
			"share target mismatch: declared bits 0x%08x, expected 0x%08x", declaredBits, expectedBits)}
	}

	// 8. Coinbase commitment — must contain correct PrevShareHash
	if len(share.CoinbaseTx) > 0 {
		committedHash, err := types.ExtractShareCommitment(share.CoinbaseTx)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("coinbase commitment extraction failed: %v", err)}
		}
		if committedHash != share.PrevShareHash {
			return &ValidationError{Reason: fmt.Sprintf(
				"coinbase commitment %x does not match PrevShareHash %x",
				committedHash[:8], share.PrevShareHash[:8])}
		}

		// 9. Miner in outputs — coinbase must pay MinerAddress
		outputs, err := types.ParseCoinbaseOutputs(share.CoinbaseTx)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("coinbase output parsing failed: %v", err)}
		}
		if err := types.ValidateMinerInOutputs(outputs, share.MinerAddress, v.network); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("miner not in coinbase outputs: %v", err)}
		}

		// 10. For v36+, merged_addresses must match what the coinbase
		// actually committed — tampering with either breaks this check,
		// since the declared hash is itself derived from the coinbase.
		if share.ShareVersion == types.ShareVersionMergedAddresses {
			committedAddresses, err := types.ExtractMergedAddressCommitment(share.CoinbaseTx)
			if err != nil {
				return &ValidationError{Reason: fmt.Sprintf("merged address commitment extraction failed: %v", err)}
			}
			if !mergedAddressesEqual(committedAddresses, share.MergedAddresses) {
				return &ValidationError{Reason: "merged_addresses does not match coinbase commitment"}
			}
		}
	} else {
		return &ValidationError{Reason: "missing coinbase transaction"}
	}

	// Note: nBits (Bitcoin target) is not validated because we cannot know which
	// Bitcoin block template the miner used. The sharechain only requires the
	// share hash to meet the sharechain target.

	return nil
}

// IsBlock checks if a validated share also meets the parent chain's full difficulty.
func (v *Validator) IsBlock(share *types.Share) bool {
	return share.MeetsParentTarget(v.powHash)
}

func mergedAddressesEqual(a, b []types.MergedAddress) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ChainID != b[i].ChainID || string(a[i].OutputScript) != string(b[i].OutputScript) {
			return false
		}
	}
	return true
}
