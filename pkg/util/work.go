package util

import "math/big"

// maxWorkNumerator is 2^256, the numerator used to convert a target into
// a "work" value: work = 2^256 / (target+1). Harder targets (smaller
// numbers) produce proportionally larger work, so summed work over a
// chain of varying-difficulty shares is comparable in a way raw target
// comparisons are not.
var maxWorkNumerator = new(big.Int).Lsh(big.NewInt(1), 256)

// TargetToWork converts a difficulty target into its proof-of-work
// "work" value.
func TargetToWork(target *big.Int) *big.Int {
	if target == nil || target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(maxWorkNumerator, denom)
}
