// Package mergemining implements the auxiliary proof-of-work commitment
// and verification scheme that lets a single parent-chain block satisfy
// several auxiliary chains' proof-of-work at once (merged mining), the
// way Namecoin/Dogecoin-style AuxPoW chains do against Bitcoin/Litecoin.
package mergemining

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// commitmentMagic is the four-byte marker Namecoin-style AuxPoW chains
// look for in a parent coinbase's scriptSig to locate the merged-mining
// commitment.
var commitmentMagic = []byte{0xfa, 0xbe, 'm', 'm'}

// expectedIndex computes the merkle leaf a chain's aux block hash must
// occupy (mirrors Namecoin's getexpectedindex).
func expectedIndex(chainID, nonce, size uint32) uint32 {
	rand := nonce
	rand = rand*1103515245 + 12345
	rand += chainID
	rand = rand*1103515245 + 12345
	return rand % size
}

// merkleSizeFor returns the smallest power of two at least as large as
// n, the merkle tree size the commitment scheme requires.
func merkleSizeFor(n int) uint32 {
	size := uint32(1)
	for int(size) < n {
		size <<= 1
	}
	if size == 0 {
		size = 1
	}
	return size
}

// ChainSlot is one auxiliary chain's block hash to be committed into
// the shared merkle tree.
type ChainSlot struct {
	ChainID uint32
	Hash    [32]byte
}

// BuildMerkleTree places each slot's hash at its expected leaf (with
// all other leaves zero-filled) and returns the merkle root together
// with the branch and leaf index for every chain, and the nonce used.
// It tries nonces starting at 0 until no two configured chains collide
// on the same leaf, matching the reference algorithm's collision
// avoidance.
func BuildMerkleTree(slots []ChainSlot) (root [32]byte, branches map[uint32][][32]byte, indexes map[uint32]uint32, size uint32, nonce uint32, err error) {
	if len(slots) == 0 {
		return root, nil, nil, 0, 0, fmt.Errorf("mergemining: no chain slots")
	}
	size = merkleSizeFor(len(slots))

	for nonce = 0; nonce < 1<<16; nonce++ {
		used := make(map[uint32]uint32, len(slots))
		collide := false
		for _, s := range slots {
			idx := expectedIndex(s.ChainID, nonce, size)
			if _, ok := used[idx]; ok {
				collide = true
				break
			}
			used[idx] = s.ChainID
		}
		if !collide {
			leaves := make([][32]byte, size)
			idxByChain := make(map[uint32]uint32, len(slots))
			for _, s := range slots {
				idx := expectedIndex(s.ChainID, nonce, size)
				leaves[idx] = s.Hash
				idxByChain[s.ChainID] = idx
			}
			root = merkleRootOf(leaves)
			branches = make(map[uint32][][32]byte, len(slots))
			for _, s := range slots {
				branches[s.ChainID] = merkleBranchFor(leaves, idxByChain[s.ChainID])
			}
			return root, branches, idxByChain, size, nonce, nil
		}
	}
	return root, nil, nil, 0, 0, fmt.Errorf("mergemining: could not find collision-free nonce for %d chains", len(slots))
}

// merkleRootOf computes a Bitcoin-style merkle root (double-SHA256,
// duplicating the last node on odd levels) over the given leaves.
func merkleRootOf(leaves [][32]byte) [32]byte {
	level := leaves
	if len(level) == 0 {
		return [32]byte{}
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, util.DoubleSHA256(append(append([]byte{}, left[:]...), right[:]...)))
		}
		level = next
	}
	return level[0]
}

// merkleBranchFor returns the sibling hashes needed to recompute the
// root from leaves[index] upward.
func merkleBranchFor(leaves [][32]byte, index uint32) [][32]byte {
	var branch [][32]byte
	level := leaves
	idx := int(index)
	for len(level) > 1 {
		var sibling [32]byte
		if idx^1 < len(level) {
			sibling = level[idx^1]
		} else {
			sibling = level[idx]
		}
		branch = append(branch, sibling)

		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, util.DoubleSHA256(append(append([]byte{}, left[:]...), right[:]...)))
		}
		level = next
		idx /= 2
	}
	return branch
}

// VerifyMerkleBranch recomputes a merkle root from leaf upward through
// branch given index, and reports whether it matches root.
func VerifyMerkleBranch(leaf [32]byte, branch [][32]byte, index uint32, root [32]byte) bool {
	hash := leaf
	idx := index
	for _, sibling := range branch {
		var combined []byte
		if idx&1 == 0 {
			combined = append(append([]byte{}, hash[:]...), sibling[:]...)
		} else {
			combined = append(append([]byte{}, sibling[:]...), hash[:]...)
		}
		hash = util.DoubleSHA256(combined)
		idx >>= 1
	}
	return hash == root
}

// BuildCommitment serializes the merged-mining commitment payload that
// is embedded in the parent coinbase's scriptSig: magic || merkle_root
// || size_u32_le || nonce_u32_le.
func BuildCommitment(root [32]byte, size, nonce uint32) []byte {
	buf := make([]byte, 0, len(commitmentMagic)+32+8)
	buf = append(buf, commitmentMagic...)
	buf = append(buf, root[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, size)
	buf = binary.LittleEndian.AppendUint32(buf, nonce)
	return buf
}

// ExtractCommitment locates and parses a merged-mining commitment in a
// coinbase scriptSig.
func ExtractCommitment(coinbaseScript []byte) (root [32]byte, size uint32, nonce uint32, err error) {
	i := bytes.Index(coinbaseScript, commitmentMagic)
	if i == -1 {
		return root, 0, 0, fmt.Errorf("mergemining: commitment tag not found")
	}
	start := i + len(commitmentMagic)
	if len(coinbaseScript) < start+40 {
		return root, 0, 0, fmt.Errorf("mergemining: truncated commitment")
	}
	copy(root[:], coinbaseScript[start:start+32])
	size = binary.LittleEndian.Uint32(coinbaseScript[start+32 : start+36])
	nonce = binary.LittleEndian.Uint32(coinbaseScript[start+36 : start+40])
	return root, size, nonce, nil
}

// ParentHeader is the subset of an 80-byte Bitcoin-family block header
// needed to verify auxiliary proof-of-work.
type ParentHeader struct {
	Version    int32
	PrevBlock  [32]byte
	MerkleRoot [32]byte
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// ParseParentHeader decodes a raw 80-byte little-endian block header.
func ParseParentHeader(raw []byte) (*ParentHeader, error) {
	if len(raw) != 80 {
		return nil, fmt.Errorf("mergemining: parent header must be 80 bytes, got %d", len(raw))
	}
	h := &ParentHeader{
		Version:   int32(binary.LittleEndian.Uint32(raw[0:4])),
		Timestamp: binary.LittleEndian.Uint32(raw[68:72]),
		Bits:      binary.LittleEndian.Uint32(raw[72:76]),
		Nonce:     binary.LittleEndian.Uint32(raw[76:80]),
	}
	copy(h.PrevBlock[:], raw[4:36])
	copy(h.MerkleRoot[:], raw[36:68])
	return h, nil
}

// Hash returns the double-SHA256 block hash of the header, in internal
// (not display) byte order.
func (h *ParentHeader) Hash() [32]byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return util.DoubleSHA256(buf)
}

// AuxPow is the complete proof submitted to an auxiliary chain's
// daemon: it links that chain's block hash through the merged-mining
// merkle tree into the parent coinbase, and the coinbase into a parent
// block header that meets the auxiliary chain's own difficulty target.
type AuxPow struct {
	ParentCoinbase        []byte
	CoinbaseMerkleBranch  [][32]byte // coinbase tx -> parent block merkle root
	ParentHeader          *ParentHeader
	ChainMerkleBranch     [][32]byte // aux block hash -> commitment merkle root
	ChainMerkleIndex      uint32
	ChainMerkleSize       uint32
}

// Verify checks every link of the proof: the chain-tree branch from
// auxBlockHash to the commitment root, the commitment's presence in
// the parent coinbase, the coinbase's inclusion in the parent block
// via its own merkle branch, and that the parent block meets
// auxTarget.
func (a *AuxPow) Verify(auxBlockHash [32]byte, auxTarget *big.Int) error {
	root, size, _, err := ExtractCommitment(a.ParentCoinbase)
	if err != nil {
		return fmt.Errorf("mergemining: %w", err)
	}
	if size != a.ChainMerkleSize {
		return fmt.Errorf("mergemining: commitment size %d does not match proof size %d", size, a.ChainMerkleSize)
	}
	if !VerifyMerkleBranch(auxBlockHash, a.ChainMerkleBranch, a.ChainMerkleIndex, root) {
		return fmt.Errorf("mergemining: chain merkle branch does not reach commitment root")
	}

	coinbaseHash := util.DoubleSHA256(a.ParentCoinbase)
	computedRoot := coinbaseHash
	for _, sib := range a.CoinbaseMerkleBranch {
		combined := append(append([]byte{}, computedRoot[:]...), sib[:]...)
		computedRoot = util.DoubleSHA256(combined)
	}
	if computedRoot != a.ParentHeader.MerkleRoot {
		return fmt.Errorf("mergemining: coinbase merkle branch does not reach parent block merkle root")
	}

	parentTarget := util.CompactToTarget(a.ParentHeader.Bits)
	parentHash := a.ParentHeader.Hash()
	if !util.HashMeetsTarget(parentHash, parentTarget) {
		return fmt.Errorf("mergemining: parent header does not meet its own declared difficulty")
	}
	if util.TargetToWork(parentTarget).Cmp(util.TargetToWork(auxTarget)) < 0 {
		return fmt.Errorf("mergemining: parent block work insufficient for auxiliary target")
	}
	return nil
}
