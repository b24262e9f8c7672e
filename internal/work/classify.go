package work

import (
	"math/big"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// SubmissionClass categorizes a Stratum share submission's proof-of-work
// against the job's targets.
type SubmissionClass int

const (
	// ClassRejected means the hash did not beat any target.
	ClassRejected SubmissionClass = iota
	// ClassPseudoshare means the hash beat the connection's (easier)
	// vardiff target but not the job's share target; accounting only.
	ClassPseudoshare
	// ClassShare means the hash beat the sharechain's share target.
	ClassShare
	// ClassBlock means the hash beat the parent chain's own target: a
	// full parent block has been found.
	ClassBlock
)

func (c SubmissionClass) String() string {
	switch c {
	case ClassBlock:
		return "block"
	case ClassShare:
		return "share"
	case ClassPseudoshare:
		return "pseudoshare"
	default:
		return "rejected"
	}
}

// Classify compares a computed header hash against the parent target,
// the job's share target, and the connection's (possibly easier)
// pseudo target, in that priority order, per spec point 5 of the work
// generator contract: a hash can simultaneously satisfy a parent block
// and a share, so block detection takes priority without excluding the
// share emission that follows it.
func Classify(hash [32]byte, parentTarget, shareTarget, pseudoTarget *big.Int) SubmissionClass {
	if parentTarget != nil && util.HashMeetsTarget(hash, parentTarget) {
		return ClassBlock
	}
	if shareTarget != nil && util.HashMeetsTarget(hash, shareTarget) {
		return ClassShare
	}
	if pseudoTarget != nil && util.HashMeetsTarget(hash, pseudoTarget) {
		return ClassPseudoshare
	}
	return ClassRejected
}

// BlockAlsoQualifiesAsShare reports whether a block-classified hash
// should additionally be emitted as a share, per spec point 5: "also
// emit as a share".
func BlockAlsoQualifiesAsShare(hash [32]byte, shareTarget *big.Int) bool {
	return shareTarget != nil && util.HashMeetsTarget(hash, shareTarget)
}
