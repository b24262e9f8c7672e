package mergemining

import (
	"math/big"
	"testing"

	"github.com/djkazic/p2pool-go/internal/types"
)

const testSegwitAddr = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

func TestResolveAuxPayoutExplicitMergedAddress(t *testing.T) {
	explicit := []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	mergedAddresses := []types.MergedAddress{{ChainID: 7, OutputScript: explicit}}

	script, ok := ResolveAuxPayout(mergedAddresses, 7, testSegwitAddr)
	if !ok {
		t.Fatal("expected explicit merged_addresses entry to resolve")
	}
	if string(script) != string(explicit) {
		t.Fatalf("expected explicit script to be used as-is, got %x", script)
	}
}

func TestResolveAuxPayoutSynthesizesFromPrimaryAddress(t *testing.T) {
	script, ok := ResolveAuxPayout(nil, 7, testSegwitAddr)
	if !ok {
		t.Fatal("expected synthesis from a v0 segwit primary address")
	}
	want, err := types.AddressToScript(testSegwitAddr)
	if err != nil {
		t.Fatalf("AddressToScript: %v", err)
	}
	if string(script) != string(want) {
		t.Fatalf("synthesized script mismatch: got %x want %x", script, want)
	}
}

func TestResolveAuxPayoutIneligibleForUnconvertibleAddress(t *testing.T) {
	_, ok := ResolveAuxPayout(nil, 7, "not-a-segwit-address")
	if ok {
		t.Fatal("expected an unparseable primary address to be ineligible")
	}
}

func shareWithWeight(t *testing.T, minerAddress string, difficulty int64, mergedAddresses []types.MergedAddress) *types.Share {
	t.Helper()
	maxTarget := pplnsMaxTarget(t)
	shareTarget := new(big.Int).Div(maxTarget, big.NewInt(difficulty))
	return &types.Share{
		ShareTarget:     shareTarget,
		MinerAddress:    minerAddress,
		MergedAddresses: mergedAddresses,
	}
}

func pplnsMaxTarget(t *testing.T) *big.Int {
	t.Helper()
	maxTarget, ok := new(big.Int).SetString("00000000ffff0000000000000000000000000000000000000000000000000", 16)
	if !ok {
		t.Fatal("failed to parse max target")
	}
	return maxTarget
}

func TestCalculateAuxPayoutsSplitsByExplicitWeight(t *testing.T) {
	maxTarget := pplnsMaxTarget(t)
	explicitA := []types.MergedAddress{{ChainID: 7, OutputScript: []byte{0x00, 0x14, 1}}}
	explicitB := []types.MergedAddress{{ChainID: 7, OutputScript: []byte{0x00, 0x14, 2}}}

	shares := []*types.Share{
		shareWithWeight(t, testSegwitAddr, 1, explicitA),
		shareWithWeight(t, testSegwitAddr, 1, explicitB),
	}

	entries := CalculateAuxPayouts(shares, maxTarget, 7, 1000)
	if len(entries) != 2 {
		t.Fatalf("expected 2 payout entries, got %d", len(entries))
	}
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	if total != 1000 {
		t.Fatalf("expected full reward distributed, got %d", total)
	}
}

func TestCalculateAuxPayoutsRedistributesIneligibleWeight(t *testing.T) {
	maxTarget := pplnsMaxTarget(t)
	explicit := []types.MergedAddress{{ChainID: 7, OutputScript: []byte{0x00, 0x14, 9}}}

	shares := []*types.Share{
		shareWithWeight(t, testSegwitAddr, 1, explicit),
		shareWithWeight(t, "not-a-segwit-address", 1, nil),
	}

	entries := CalculateAuxPayouts(shares, maxTarget, 7, 1000)
	if len(entries) != 1 {
		t.Fatalf("expected the ineligible share's weight absorbed into the single eligible entry, got %d entries", len(entries))
	}
	if entries[0].Amount != 1000 {
		t.Fatalf("expected the eligible entry to receive the full reward, got %d", entries[0].Amount)
	}
}

func TestCalculateAuxPayoutsNoEligibleSharesYieldsNoEntries(t *testing.T) {
	maxTarget := pplnsMaxTarget(t)
	shares := []*types.Share{
		shareWithWeight(t, "not-a-segwit-address", 1, nil),
	}

	entries := CalculateAuxPayouts(shares, maxTarget, 7, 1000)
	if entries != nil {
		t.Fatalf("expected no payout entries when no share is eligible, got %v", entries)
	}
}
