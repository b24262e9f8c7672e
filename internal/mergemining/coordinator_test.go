package mergemining

import (
	"context"
	"encoding/hex"
	"testing"

	"go.uber.org/zap"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
)

func TestCoordinatorInactiveWithoutChains(t *testing.T) {
	c := NewCoordinator(nil, zap.NewNop())
	if c.Active() {
		t.Fatal("coordinator with no chains should be inactive")
	}
	commitment, err := c.BuildCommitment()
	if err != nil {
		t.Fatalf("BuildCommitment: %v", err)
	}
	if commitment != nil {
		t.Fatal("expected nil commitment with no aux work")
	}
}

func TestCoordinatorBuildCommitment(t *testing.T) {
	mock := bitcoin.NewMockRPC()
	auxHash := hex.EncodeToString(make([]byte, 32))
	mock.AuxBlockResult = &bitcoin.AuxBlock{
		Hash:    auxHash,
		ChainID: 1,
		Target:  "7fffff0000000000000000000000000000000000000000000000000000000",
		Height:  100,
	}

	chain := &Chain{Name: "dogecoin", ChainID: 1, RPC: mock, PayoutAddress: "D..."}
	c := NewCoordinator([]*Chain{chain}, zap.NewNop())
	if !c.Active() {
		t.Fatal("coordinator with a chain should be active")
	}

	c.refreshAll(context.Background())

	commitment, err := c.BuildCommitment()
	if err != nil {
		t.Fatalf("BuildCommitment: %v", err)
	}
	if commitment == nil {
		t.Fatal("expected a commitment once aux work is available")
	}
	if len(commitment.Payload) == 0 {
		t.Fatal("expected non-empty commitment payload")
	}
}
