package types

import (
	"testing"
)

func TestBuildAndExtractMergedAddressCommitment(t *testing.T) {
	builder := NewCoinbaseBuilder("bitcoin-testnet")
	mergedAddresses := []MergedAddress{
		{ChainID: 1, OutputScript: []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}},
		{ChainID: 7, OutputScript: []byte{0x00, 0x14, 20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}},
	}

	coinbase, _, err := builder.BuildCoinbase(100, BuildShareCommitment([32]byte{0xaa}), nil, "", 4, mergedAddresses)
	if err != nil {
		t.Fatalf("BuildCoinbase: %v", err)
	}

	got, err := ExtractMergedAddressCommitment(coinbase)
	if err != nil {
		t.Fatalf("ExtractMergedAddressCommitment: %v", err)
	}
	if len(got) != len(mergedAddresses) {
		t.Fatalf("got %d merged addresses, want %d", len(got), len(mergedAddresses))
	}
	for i := range mergedAddresses {
		if got[i].ChainID != mergedAddresses[i].ChainID {
			t.Errorf("entry %d: chain_id = %d, want %d", i, got[i].ChainID, mergedAddresses[i].ChainID)
		}
		if string(got[i].OutputScript) != string(mergedAddresses[i].OutputScript) {
			t.Errorf("entry %d: output_script mismatch", i)
		}
	}
}

func TestExtractMergedAddressCommitmentAbsentIsNilNotError(t *testing.T) {
	builder := NewCoinbaseBuilder("bitcoin-testnet")
	coinbase, _, err := builder.BuildCoinbase(100, BuildShareCommitment([32]byte{0xaa}), nil, "", 4, nil)
	if err != nil {
		t.Fatalf("BuildCoinbase: %v", err)
	}

	got, err := ExtractMergedAddressCommitment(coinbase)
	if err != nil {
		t.Fatalf("ExtractMergedAddressCommitment: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil merged addresses for a pre-v36 coinbase, got %v", got)
	}
}

// TestMergedAddressTamperingChangesCoinbase mirrors the merged-address
// modification attack: swapping a committed output_script must change
// the coinbase transaction bytes, so it changes the coinbase hash, the
// merkle root, and ultimately the share's claimed header hash.
func TestMergedAddressTamperingChangesCoinbase(t *testing.T) {
	builder := NewCoinbaseBuilder("bitcoin-testnet")
	original := []MergedAddress{{ChainID: 1, OutputScript: []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}}}
	tampered := []MergedAddress{{ChainID: 1, OutputScript: []byte{0x00, 0x14, 99, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}}}

	originalCoinbase, _, err := builder.BuildCoinbase(100, BuildShareCommitment([32]byte{0xaa}), nil, "", 4, original)
	if err != nil {
		t.Fatalf("BuildCoinbase (original): %v", err)
	}
	tamperedCoinbase, _, err := builder.BuildCoinbase(100, BuildShareCommitment([32]byte{0xaa}), nil, "", 4, tampered)
	if err != nil {
		t.Fatalf("BuildCoinbase (tampered): %v", err)
	}

	if string(originalCoinbase) == string(tamperedCoinbase) {
		t.Fatal("tampering with merged_addresses produced an identical coinbase")
	}

	gotOriginal, err := ExtractMergedAddressCommitment(originalCoinbase)
	if err != nil {
		t.Fatalf("ExtractMergedAddressCommitment (original): %v", err)
	}
	gotTampered, err := ExtractMergedAddressCommitment(tamperedCoinbase)
	if err != nil {
		t.Fatalf("ExtractMergedAddressCommitment (tampered): %v", err)
	}
	if string(gotOriginal[0].OutputScript) == string(gotTampered[0].OutputScript) {
		t.Fatal("extracted commitment did not reflect the tampered coinbase")
	}
}

func TestBuildMergedAddressCommitmentRejectsTooManyEntries(t *testing.T) {
	mergedAddresses := make([]MergedAddress, MaxMergedAddresses+1)
	for i := range mergedAddresses {
		mergedAddresses[i] = MergedAddress{ChainID: uint32(i), OutputScript: []byte{0x00, 0x02, 1, 2}}
	}
	if _, err := BuildMergedAddressCommitment(mergedAddresses); err == nil {
		t.Fatal("expected an error for a merged_addresses list over the max size")
	}
}
