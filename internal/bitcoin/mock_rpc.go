package bitcoin

import (
	"context"
	"sync"
)

// MockRPC implements BitcoinRPC for testing.
type MockRPC struct {
	mu sync.Mutex

	BlockTemplate   *BlockTemplate
	BlockCount      int64
	BestBlockHash   string
	SubmittedBlocks []string

	RawTransactions map[string]string
	Blocks          map[string]*BlockInfo
	BlockHashes     map[int64]string
	AddressValid    bool
	AuxBlockResult  *AuxBlock
	AuxBlockAccept  bool

	// Error overrides
	GetBlockTemplateErr    error
	SubmitBlockErr         error
	GetBlockCountErr       error
	GetBestBlockHashErr    error
	GetRawTransactionErr   error
	GetBlockHashErr        error
	GetBlockErr            error
	ValidateAddressErr     error
	CreateAuxBlockErr      error
	SubmitAuxBlockErr      error
}

// NewMockRPC creates a new mock Bitcoin RPC client with sensible defaults.
func NewMockRPC() *MockRPC {
	return &MockRPC{
		BlockTemplate: &BlockTemplate{
			Version:           536870912,
			PreviousBlockHash: "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
			Transactions:      []TemplateTransaction{},
			CoinbaseValue:     5000000000,
			Target:            "00000000ffff0000000000000000000000000000000000000000000000000000",
			CurTime:           1700000000,
			Bits:              "1d00ffff",
			Height:            800000,
		},
		BlockCount:      799999,
		BestBlockHash:   "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
		RawTransactions: make(map[string]string),
		Blocks:          make(map[string]*BlockInfo),
		BlockHashes:     make(map[int64]string),
		AddressValid:    true,
		AuxBlockAccept:  true,
	}
}

func (m *MockRPC) GetBlockTemplate(_ context.Context) (*BlockTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockTemplateErr != nil {
		return nil, m.GetBlockTemplateErr
	}
	return m.BlockTemplate, nil
}

func (m *MockRPC) SubmitBlock(_ context.Context, blockHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitBlockErr != nil {
		return m.SubmitBlockErr
	}
	m.SubmittedBlocks = append(m.SubmittedBlocks, blockHex)
	return nil
}

func (m *MockRPC) GetBlockCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockCountErr != nil {
		return 0, m.GetBlockCountErr
	}
	return m.BlockCount, nil
}

func (m *MockRPC) GetBestBlockHash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBestBlockHashErr != nil {
		return "", m.GetBestBlockHashErr
	}
	return m.BestBlockHash, nil
}

func (m *MockRPC) GetRawTransaction(_ context.Context, txid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetRawTransactionErr != nil {
		return "", m.GetRawTransactionErr
	}
	return m.RawTransactions[txid], nil
}

func (m *MockRPC) GetBlockHash(_ context.Context, height int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockHashErr != nil {
		return "", m.GetBlockHashErr
	}
	return m.BlockHashes[height], nil
}

func (m *MockRPC) GetBlock(_ context.Context, hash string) (*BlockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockErr != nil {
		return nil, m.GetBlockErr
	}
	if info, ok := m.Blocks[hash]; ok {
		return info, nil
	}
	return &BlockInfo{Hash: hash}, nil
}

func (m *MockRPC) ValidateAddress(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValidateAddressErr != nil {
		return false, m.ValidateAddressErr
	}
	return m.AddressValid, nil
}

func (m *MockRPC) CreateAuxBlock(_ context.Context, _ string) (*AuxBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateAuxBlockErr != nil {
		return nil, m.CreateAuxBlockErr
	}
	if m.AuxBlockResult != nil {
		return m.AuxBlockResult, nil
	}
	return &AuxBlock{Hash: "aux0", ChainID: 1, Height: 1}, nil
}

func (m *MockRPC) SubmitAuxBlock(_ context.Context, _ string, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitAuxBlockErr != nil {
		return false, m.SubmitAuxBlockErr
	}
	return m.AuxBlockAccept, nil
}
