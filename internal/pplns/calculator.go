package pplns

import (
	"math/big"
	"sort"

	"github.com/djkazic/p2pool-go/internal/types"
)

// Calculator computes PPLNS payouts for a settled parent-chain block.
type Calculator struct {
	finderFeePercent float64
	dustThreshold    int64
}

// NewCalculator creates a new PPLNS calculator. dustThreshold is in the
// parent chain's smallest unit (satoshis on Bitcoin-family chains, litoshis
// on Litecoin-family chains).
func NewCalculator(finderFeePercent float64, dustThreshold int64) *Calculator {
	return &Calculator{
		finderFeePercent: finderFeePercent,
		dustThreshold:    dustThreshold,
	}
}

// CalculatePayouts computes payout amounts for each miner in a PPLNS window.
// totalReward is the total coinbase value (block subsidy + fees) in the
// parent chain's smallest unit. finderAddress is the miner who found the
// block and receives the finder fee plus any rounding/dust remainder.
func (c *Calculator) CalculatePayouts(window *Window, totalReward int64, finderAddress string) []types.PayoutEntry {
	if window.ShareCount() == 0 || totalReward <= 0 {
		return nil
	}

	finderFee := int64(float64(totalReward) * c.finderFeePercent / 100.0)
	distributableReward := totalReward - finderFee

	minerWeights := window.MinerWeights()
	totalWeight := window.TotalWeight()
	if totalWeight.Sign() == 0 {
		return nil
	}

	addresses := make([]string, 0, len(minerWeights))
	for addr := range minerWeights {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	payouts := make(map[string]int64, len(addresses))
	var distributed int64
	for _, addr := range addresses {
		amount := proportionalShare(distributableReward, minerWeights[addr], totalWeight)
		if amount > 0 {
			payouts[addr] = amount
			distributed += amount
		}
	}

	if finderAddress != "" && finderFee > 0 {
		payouts[finderAddress] += finderFee
		distributed += finderFee
	}

	if remainder := totalReward - distributed; remainder > 0 {
		creditRemainder(payouts, addresses, finderAddress, remainder)
	}

	c.consolidateDust(payouts, addresses, finderAddress)

	result := make([]types.PayoutEntry, 0, len(payouts))
	for addr, amount := range payouts {
		result = append(result, types.PayoutEntry{
			Address: addr,
			Amount:  amount,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Amount != result[j].Amount {
			return result[i].Amount > result[j].Amount
		}
		return result[i].Address < result[j].Address
	})

	return result
}

// proportionalShare computes reward * weight / totalWeight, clamping to
// reward in the unreachable case that rounding pushes it over.
func proportionalShare(reward int64, weight, totalWeight *big.Int) int64 {
	share := new(big.Int).Mul(big.NewInt(reward), weight)
	share.Div(share, totalWeight)
	if !share.IsInt64() {
		return reward
	}
	return share.Int64()
}

// creditRemainder assigns a rounding remainder to the finder, or to the
// first (lexicographically smallest) miner address when there is none.
func creditRemainder(payouts map[string]int64, addresses []string, finderAddress string, remainder int64) {
	if finderAddress != "" {
		payouts[finderAddress] += remainder
		return
	}
	if len(addresses) > 0 {
		payouts[addresses[0]] += remainder
	}
}

// consolidateDust removes payouts below the dust threshold and folds them
// into the finder's payout (or the first remaining miner's, if there is no
// finder). If every payout is dust, consolidation is skipped entirely —
// many small outputs beat losing funds to an over-aggressive sweep.
func (c *Calculator) consolidateDust(payouts map[string]int64, addresses []string, finderAddress string) {
	var dustTotal int64
	var dustAddresses []string
	for addr, amount := range payouts {
		if amount < c.dustThreshold && addr != finderAddress {
			dustTotal += amount
			dustAddresses = append(dustAddresses, addr)
		}
	}
	if len(dustAddresses) >= len(payouts) {
		return
	}

	for _, addr := range dustAddresses {
		delete(payouts, addr)
	}
	if dustTotal <= 0 {
		return
	}
	if finderAddress != "" {
		payouts[finderAddress] += dustTotal
		return
	}
	for _, addr := range addresses {
		if _, ok := payouts[addr]; ok {
			payouts[addr] += dustTotal
			return
		}
	}
}
