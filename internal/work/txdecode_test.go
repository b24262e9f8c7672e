package work

import (
	"encoding/hex"
	"testing"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
)

// minimalTx builds a syntactically valid, signature-free standard
// transaction: 1 input, 1 output, empty scripts. Deterministic and
// tiny, just enough for decodeTx to walk every field successfully.
func minimalTx() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, 0x01, 0x00, 0x00, 0x00) // version 1
	buf = append(buf, 0x01)                   // 1 input
	buf = append(buf, make([]byte, 32)...)    // prevout txid
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // prevout vout
	buf = append(buf, 0x00)                   // scriptSig length 0
	buf = append(buf, 0xff, 0xff, 0xff, 0xff) // sequence
	buf = append(buf, 0x01)                   // 1 output
	buf = append(buf, make([]byte, 8)...)     // value
	buf = append(buf, 0x00)                   // scriptPubKey length 0
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // locktime
	return buf
}

func TestDecodeTx_MinimalStandardTxDecodes(t *testing.T) {
	tx := minimalTx()
	decoded, err := decodeTx(tx)
	if err != nil {
		t.Fatalf("decodeTx: %v", err)
	}
	if decoded.NumInputs != 1 || decoded.NumOutputs != 1 {
		t.Errorf("expected 1 input/1 output, got %d/%d", decoded.NumInputs, decoded.NumOutputs)
	}
}

// mwebLikeTx returns a 900-byte blob shaped like a Litecoin MWEB HogEx:
// a standard tx body (minimalTx) followed by opaque extension-block
// bytes decodeTx cannot account for, so structured decode must fail
// with trailing, unparseable bytes rather than a truncation error.
func mwebLikeTx() []byte {
	base := minimalTx()
	extension := make([]byte, 900-len(base))
	for i := range extension {
		extension[i] = byte(i % 251)
	}
	return append(base, extension...)
}

func TestDecodeTx_TrailingBytesReportUnrecognizedShape(t *testing.T) {
	tx := mwebLikeTx()
	if len(tx) != 900 {
		t.Fatalf("test setup: expected 900-byte tx, got %d", len(tx))
	}
	_, err := decodeTx(tx)
	if err != ErrUnrecognizedShape {
		t.Fatalf("expected ErrUnrecognizedShape, got %v", err)
	}
}

// TestIngestTemplateTransactions_MWEBFallback reproduces the scenario
// where a parent template mixes 500 standard transactions with one
// 900-byte MWEB HogEx transaction that fails structured decode.
// Ingestion must accept the template whole: the HogEx is retained as
// raw bytes, counted as a fallback, and the template's transaction
// count is unaffected.
func TestIngestTemplateTransactions_MWEBFallback(t *testing.T) {
	const standardCount = 500
	tmpl := &bitcoin.BlockTemplate{}

	for i := 0; i < standardCount; i++ {
		tmpl.Transactions = append(tmpl.Transactions, bitcoin.TemplateTransaction{
			Data: hex.EncodeToString(minimalTx()),
			TxID: hex.EncodeToString(make([]byte, 32)),
		})
	}
	tmpl.Transactions = append(tmpl.Transactions, bitcoin.TemplateTransaction{
		Data: hex.EncodeToString(mwebLikeTx()),
		TxID: hex.EncodeToString(make([]byte, 32)),
	})

	if len(tmpl.Transactions) != standardCount+1 {
		t.Fatalf("test setup: expected %d transactions, got %d", standardCount+1, len(tmpl.Transactions))
	}

	rawFallback, err := IngestTemplateTransactions(tmpl)
	if err != nil {
		t.Fatalf("IngestTemplateTransactions: %v", err)
	}
	if rawFallback != 1 {
		t.Errorf("expected 1 raw-bytes fallback transaction, got %d", rawFallback)
	}
	if len(tmpl.Transactions) != standardCount+1 {
		t.Errorf("expected template transaction count to remain %d, got %d", standardCount+1, len(tmpl.Transactions))
	}

	for i, tx := range tmpl.Transactions {
		isHogEx := i == standardCount
		decoded, _ := tx.Structured.(*DecodedTx)
		if isHogEx && decoded != nil {
			t.Errorf("expected HogEx transaction to have nil Structured, got %+v", decoded)
		}
		if !isHogEx && decoded == nil {
			t.Errorf("expected standard transaction %d to decode structurally", i)
		}
	}

	// The HogEx's raw bytes must still be present, unchanged, and ready
	// for block serialization — ingestion only annotates, never mutates
	// or drops Data.
	hogEx := tmpl.Transactions[standardCount]
	rawBytes, err := hex.DecodeString(hogEx.Data)
	if err != nil {
		t.Fatalf("decode hogex data: %v", err)
	}
	if len(rawBytes) != 900 {
		t.Errorf("expected HogEx raw bytes to remain 900 bytes, got %d", len(rawBytes))
	}
}
