package types

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// ShareHeader represents the header of a share, which is also a valid Bitcoin block header.
type ShareHeader struct {
	Version       int32    `json:"version"`
	PrevBlockHash [32]byte `json:"prev_block_hash"`
	MerkleRoot    [32]byte `json:"merkle_root"`
	Timestamp     uint32   `json:"timestamp"`
	Bits          uint32   `json:"bits"` // Bitcoin difficulty target (nBits)
	Nonce         uint32   `json:"nonce"`
}

// Serialize serializes the share header to an 80-byte Bitcoin block header.
func (h *ShareHeader) Serialize() []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlockHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// Hash computes the double-SHA256 hash of the block header (the block/share hash).
func (h *ShareHeader) Hash() [32]byte {
	return util.DoubleSHA256(h.Serialize())
}

// ParseShareHeader decodes an 80-byte raw block header (the format
// Serialize produces) back into a ShareHeader, used when the work
// generator reconstructs a header from a Stratum submission.
func ParseShareHeader(raw []byte) (ShareHeader, error) {
	var h ShareHeader
	if len(raw) != 80 {
		return h, fmt.Errorf("share header must be 80 bytes, got %d", len(raw))
	}
	h.Version = int32(binary.LittleEndian.Uint32(raw[0:4]))
	copy(h.PrevBlockHash[:], raw[4:36])
	copy(h.MerkleRoot[:], raw[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(raw[68:72])
	h.Bits = binary.LittleEndian.Uint32(raw[72:76])
	h.Nonce = binary.LittleEndian.Uint32(raw[76:80])
	return h, nil
}

// ShareVersionMergedAddresses is the minimum ShareVersion at which a
// share may carry a non-empty MergedAddresses list, committed into the
// coinbase alongside the PrevShareHash commitment.
const ShareVersionMergedAddresses = 36

// Share represents a share in the p2pool sharechain.
type Share struct {
	Header ShareHeader `json:"header"`

	// Sharechain-specific fields
	ShareVersion    uint32          `json:"share_version"`
	PrevShareHash   [32]byte        `json:"prev_share_hash"`  // Previous share in the sharechain
	ShareTarget     *big.Int        `json:"share_target"`     // Sharechain difficulty target
	MinerAddress    string          `json:"miner_address"`    // Miner's payout address (testnet)
	CoinbaseTx      []byte          `json:"coinbase_tx"`      // Full serialized coinbase transaction
	ShareChainNonce uint64          `json:"sharechain_nonce"` // Nonce for sharechain commitment
	MergedAddresses []MergedAddress `json:"merged_addresses,omitempty"` // v36+: per-chain_id auxiliary payout destinations

	// Cached/computed fields
	hash *[32]byte
}

// Hash returns the share's hash (Bitcoin block header hash). Cached after first computation.
func (s *Share) Hash() [32]byte {
	if s.hash != nil {
		return *s.hash
	}
	h := s.Header.Hash()
	s.hash = &h
	return h
}

// Time returns the share's timestamp as a time.Time.
func (s *Share) Time() time.Time {
	return time.Unix(int64(s.Header.Timestamp), 0)
}

// MeetsTarget checks if the share's header, hashed with powHash (the
// parent network's proof-of-work hash function — double-SHA256 for
// Bitcoin-family chains, scrypt for Litecoin-family chains), meets the
// given target. This is independent of Hash/s.Hash, which is always
// double-SHA256 and used only for sharechain identity/linkage.
func (s *Share) MeetsTarget(target *big.Int, powHash func([]byte) [32]byte) bool {
	hash := powHash(s.Header.Serialize())
	return util.HashMeetsTarget(hash, target)
}

// MeetsShareTarget checks if the share meets the sharechain difficulty target.
func (s *Share) MeetsShareTarget(powHash func([]byte) [32]byte) bool {
	if s.ShareTarget == nil {
		return false
	}
	return s.MeetsTarget(s.ShareTarget, powHash)
}

// MeetsParentTarget checks if the share also meets the parent chain's
// full difficulty target, i.e. is itself a valid parent-chain block.
func (s *Share) MeetsParentTarget(powHash func([]byte) [32]byte) bool {
	parentTarget := util.CompactToTarget(s.Header.Bits)
	return s.MeetsTarget(parentTarget, powHash)
}

// IsBlock returns true if this share is also a valid parent-chain block.
func (s *Share) IsBlock(powHash func([]byte) [32]byte) bool {
	return s.MeetsParentTarget(powHash)
}

// HashHex returns the hash as a human-readable hex string (reversed, Bitcoin display order).
func (s *Share) HashHex() string {
	hash := s.Hash()
	return util.HashToHex(hash)
}

// PrevShareHashHex returns the previous share hash as hex.
func (s *Share) PrevShareHashHex() string {
	return util.HashToHex(s.PrevShareHash)
}
