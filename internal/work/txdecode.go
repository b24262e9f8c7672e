package work

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// ErrUnrecognizedShape is returned by decodeTx when raw bytes don't
// parse as a standard (legacy or segwit) Bitcoin-family transaction —
// notably Litecoin's MWEB HogEx transaction, which carries a normal
// tx body followed by MimbleWimble extension-block data this core
// never needs to understand.
var ErrUnrecognizedShape = errors.New("work: transaction body has trailing bytes after structured fields")

// DecodedTx holds the structured fields of a transaction this core
// parsed successfully. A nil *DecodedTx on a TemplateTx means
// structured decode failed and the transaction is carried as an
// opaque raw-bytes blob instead (see decodeTemplateTx).
type DecodedTx struct {
	Version    int32
	SegWit     bool
	NumInputs  int
	NumOutputs int
	LockTime   uint32
}

// decodeTx attempts to parse raw as a standard Bitcoin-family
// transaction (legacy or BIP144 segwit). It returns ErrUnrecognizedShape
// when raw parses far enough to look tx-shaped but leaves trailing
// bytes unconsumed — the case for a Litecoin MWEB HogEx transaction,
// whose base transaction is followed by extension-block data.
func decodeTx(raw []byte) (*DecodedTx, error) {
	if len(raw) < 10 {
		return nil, fmt.Errorf("work: transaction too short: %d bytes", len(raw))
	}

	pos := 0
	version := int32(binary.LittleEndian.Uint32(raw[pos : pos+4]))
	pos += 4

	segwit := false
	if raw[pos] == 0x00 && pos+1 < len(raw) && raw[pos+1] == 0x01 {
		segwit = true
		pos += 2
	}

	numIn, n, err := util.ReadVarInt(raw[pos:])
	if err != nil {
		return nil, fmt.Errorf("work: read input count: %w", err)
	}
	pos += n

	for i := uint64(0); i < numIn; i++ {
		if pos+36 > len(raw) {
			return nil, fmt.Errorf("work: truncated input prevout at index %d", i)
		}
		pos += 36 // prevout txid (32) + vout (4)
		scriptLen, n, err := util.ReadVarInt(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("work: read scriptSig length at input %d: %w", i, err)
		}
		pos += n
		if pos+int(scriptLen)+4 > len(raw) {
			return nil, fmt.Errorf("work: truncated scriptSig/sequence at input %d", i)
		}
		pos += int(scriptLen) + 4 // scriptSig + sequence
	}

	numOut, n, err := util.ReadVarInt(raw[pos:])
	if err != nil {
		return nil, fmt.Errorf("work: read output count: %w", err)
	}
	pos += n

	for i := uint64(0); i < numOut; i++ {
		if pos+8 > len(raw) {
			return nil, fmt.Errorf("work: truncated output value at index %d", i)
		}
		pos += 8
		scriptLen, n, err := util.ReadVarInt(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("work: read scriptPubKey length at output %d: %w", i, err)
		}
		pos += n
		if pos+int(scriptLen) > len(raw) {
			return nil, fmt.Errorf("work: truncated scriptPubKey at output %d", i)
		}
		pos += int(scriptLen)
	}

	if segwit {
		for i := uint64(0); i < numIn; i++ {
			itemCount, n, err := util.ReadVarInt(raw[pos:])
			if err != nil {
				return nil, fmt.Errorf("work: read witness item count at input %d: %w", i, err)
			}
			pos += n
			for j := uint64(0); j < itemCount; j++ {
				itemLen, n, err := util.ReadVarInt(raw[pos:])
				if err != nil {
					return nil, fmt.Errorf("work: read witness item length: %w", err)
				}
				pos += n
				if pos+int(itemLen) > len(raw) {
					return nil, fmt.Errorf("work: truncated witness item at input %d", i)
				}
				pos += int(itemLen)
			}
		}
	}

	if pos+4 > len(raw) {
		return nil, fmt.Errorf("work: truncated locktime")
	}
	lockTime := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4

	if pos != len(raw) {
		return nil, ErrUnrecognizedShape
	}

	return &DecodedTx{
		Version:    version,
		SegWit:     segwit,
		NumInputs:  int(numIn),
		NumOutputs: int(numOut),
		LockTime:   lockTime,
	}, nil
}

// IngestTemplateTransactions attempts a structured decode of every
// transaction in tmpl, annotating each TemplateTransaction's Structured
// field on success. A transaction whose raw bytes fail to decode (a
// Litecoin MWEB HogEx is the expected case, since its base tx body is
// followed by extension-block data this core doesn't parse) is left
// with Structured == nil and is still counted and retained: its Data
// is untouched and still flows into ReconstructBlock/merkle computation
// as an opaque byte string. Ingestion never aborts the template on a
// single transaction's decode failure; it returns the count of
// transactions that fell back to raw bytes.
func IngestTemplateTransactions(tmpl *bitcoin.BlockTemplate) (rawFallbackCount int, err error) {
	if tmpl == nil {
		return 0, nil
	}
	for i := range tmpl.Transactions {
		tx := &tmpl.Transactions[i]
		raw, decErr := hex.DecodeString(tx.Data)
		if decErr != nil {
			return rawFallbackCount, fmt.Errorf("work: tx %s has invalid hex data: %w", tx.TxID, decErr)
		}
		decoded, decErr := decodeTx(raw)
		if decErr != nil {
			tx.Structured = nil
			rawFallbackCount++
			continue
		}
		tx.Structured = decoded
	}
	return rawFallbackCount, nil
}
