package sharechain

import (
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

const testMiner1 = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// makeTestShare builds a share chained onto prevShareHash with a
// timestamp/nonce distinct enough to give each test share a unique hash.
func makeTestShare(prevShareHash [32]byte, miner string, timestamp uint32) *types.Share {
	return &types.Share{
		Header: types.ShareHeader{
			Version:       1,
			PrevBlockHash: [32]byte{},
			MerkleRoot:    [32]byte{},
			Timestamp:     timestamp,
			Bits:          0x1d00ffff,
			Nonce:         timestamp,
		},
		ShareVersion:  1,
		PrevShareHash: prevShareHash,
		ShareTarget:   types.DefaultShareTarget,
		MinerAddress:  miner,
		CoinbaseTx:    []byte{0x01, 0x02, 0x03},
	}
}
