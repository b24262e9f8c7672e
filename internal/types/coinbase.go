package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// shareCommitmentTag marks an OP_RETURN output that carries the
// sharechain parent-hash commitment, analogous to how Bitcoin itself
// tags its witness commitment output (0xaa21a9ed).
var shareCommitmentTag = []byte{0xb9, 0xe1, 0x1b, 0x6d}

// witnessCommitmentTag is Bitcoin consensus's own segwit commitment marker.
var witnessCommitmentTag = []byte{0xaa, 0x21, 0xa9, 0xed}

// mergedAddressCommitmentTag marks the OP_RETURN output carrying a v36+
// share's merged_addresses list, following the same in-coinbase
// commitment pattern as shareCommitmentTag: any tampering changes the
// coinbase hash, which changes the merkle root, which changes the
// share's header hash, so the claimed PoW no longer validates.
var mergedAddressCommitmentTag = []byte{0x6d, 0x6d, 0x41, 0x64}

// TxOutput is a parsed coinbase transaction output.
type TxOutput struct {
	Value  int64
	Script []byte
}

// BuildShareCommitment returns the OP_RETURN push payload committing a
// share to its sharechain parent: tag || prevShareHash.
func BuildShareCommitment(prevShareHash [32]byte) []byte {
	out := make([]byte, 0, len(shareCommitmentTag)+32)
	out = append(out, shareCommitmentTag...)
	out = append(out, prevShareHash[:]...)
	return out
}

// ExtractShareCommitment scans a coinbase transaction's outputs for the
// share commitment tag and returns the committed hash.
func ExtractShareCommitment(coinbaseTx []byte) ([32]byte, error) {
	var zero [32]byte
	outputs, err := ParseCoinbaseOutputs(coinbaseTx)
	if err != nil {
		return zero, err
	}
	for _, out := range outputs {
		idx := bytes.Index(out.Script, shareCommitmentTag)
		if idx < 0 {
			continue
		}
		start := idx + len(shareCommitmentTag)
		if start+32 > len(out.Script) {
			continue
		}
		var hash [32]byte
		copy(hash[:], out.Script[start:start+32])
		return hash, nil
	}
	return zero, fmt.Errorf("no share commitment found in coinbase")
}

// BuildMergedAddressCommitment returns the OP_RETURN push payload
// committing a v36+ share's merged_addresses list: tag || count_u8 ||
// (chain_id_u32 || script_len_u8 || script)*. Returns an error if the
// list exceeds MaxMergedAddresses or any script is too long to encode.
func BuildMergedAddressCommitment(mergedAddresses []MergedAddress) ([]byte, error) {
	if len(mergedAddresses) > MaxMergedAddresses {
		return nil, fmt.Errorf("merged_addresses has %d entries, max %d", len(mergedAddresses), MaxMergedAddresses)
	}
	out := make([]byte, 0, len(shareCommitmentTag)+1)
	out = append(out, mergedAddressCommitmentTag...)
	out = append(out, byte(len(mergedAddresses)))
	for _, ma := range mergedAddresses {
		if len(ma.OutputScript) > 255 {
			return nil, fmt.Errorf("merged address script for chain %d too long: %d bytes", ma.ChainID, len(ma.OutputScript))
		}
		var chainIDBuf [4]byte
		binary.LittleEndian.PutUint32(chainIDBuf[:], ma.ChainID)
		out = append(out, chainIDBuf[:]...)
		out = append(out, byte(len(ma.OutputScript)))
		out = append(out, ma.OutputScript...)
	}
	return out, nil
}

// ExtractMergedAddressCommitment scans a coinbase transaction's outputs
// for the merged-address commitment tag and returns the committed
// merged_addresses list. Returns (nil, nil) if the coinbase carries no
// such commitment — a pre-v36 share's coinbase, where an empty list is
// the correct reading rather than an error.
func ExtractMergedAddressCommitment(coinbaseTx []byte) ([]MergedAddress, error) {
	outputs, err := ParseCoinbaseOutputs(coinbaseTx)
	if err != nil {
		return nil, err
	}
	for _, out := range outputs {
		idx := bytes.Index(out.Script, mergedAddressCommitmentTag)
		if idx < 0 {
			continue
		}
		pos := idx + len(mergedAddressCommitmentTag)
		if pos >= len(out.Script) {
			return nil, fmt.Errorf("truncated merged address commitment")
		}
		count := int(out.Script[pos])
		pos++
		if count > MaxMergedAddresses {
			return nil, fmt.Errorf("merged address commitment claims %d entries, max %d", count, MaxMergedAddresses)
		}
		addrs := make([]MergedAddress, 0, count)
		for i := 0; i < count; i++ {
			if pos+5 > len(out.Script) {
				return nil, fmt.Errorf("truncated merged address entry %d", i)
			}
			chainID := binary.LittleEndian.Uint32(out.Script[pos : pos+4])
			pos += 4
			scriptLen := int(out.Script[pos])
			pos++
			if pos+scriptLen > len(out.Script) {
				return nil, fmt.Errorf("truncated merged address script at entry %d", i)
			}
			script := make([]byte, scriptLen)
			copy(script, out.Script[pos:pos+scriptLen])
			pos += scriptLen
			addrs = append(addrs, MergedAddress{ChainID: chainID, OutputScript: script})
		}
		return addrs, nil
	}
	return nil, nil
}

// ParseCoinbaseOutputs parses the output list of a serialized (non-witness)
// coinbase transaction.
func ParseCoinbaseOutputs(tx []byte) ([]TxOutput, error) {
	if len(tx) < 10 {
		return nil, fmt.Errorf("transaction too short")
	}
	pos := 4 // skip version

	inCount, n, err := util.ReadVarInt(tx[pos:])
	if err != nil {
		return nil, fmt.Errorf("read input count: %w", err)
	}
	pos += n

	for i := uint64(0); i < inCount; i++ {
		if pos+36 > len(tx) {
			return nil, fmt.Errorf("truncated input prevout")
		}
		pos += 36 // prevout hash + index
		scriptLen, n, err := util.ReadVarInt(tx[pos:])
		if err != nil {
			return nil, fmt.Errorf("read scriptSig length: %w", err)
		}
		pos += n + int(scriptLen)
		pos += 4 // sequence
	}

	if pos > len(tx) {
		return nil, fmt.Errorf("truncated transaction inputs")
	}

	outCount, n, err := util.ReadVarInt(tx[pos:])
	if err != nil {
		return nil, fmt.Errorf("read output count: %w", err)
	}
	pos += n

	outputs := make([]TxOutput, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		if pos+8 > len(tx) {
			return nil, fmt.Errorf("truncated output value")
		}
		value := int64(binary.LittleEndian.Uint64(tx[pos : pos+8]))
		pos += 8

		scriptLen, n, err := util.ReadVarInt(tx[pos:])
		if err != nil {
			return nil, fmt.Errorf("read scriptPubKey length: %w", err)
		}
		pos += n
		if pos+int(scriptLen) > len(tx) {
			return nil, fmt.Errorf("truncated scriptPubKey")
		}
		script := make([]byte, scriptLen)
		copy(script, tx[pos:pos+int(scriptLen)])
		pos += int(scriptLen)

		outputs = append(outputs, TxOutput{Value: value, Script: script})
	}

	return outputs, nil
}

// ValidateMinerInOutputs verifies that minerAddress appears as the
// destination of at least one coinbase output.
func ValidateMinerInOutputs(outputs []TxOutput, minerAddress, network string) error {
	wantScript, err := AddressToScript(minerAddress)
	if err != nil {
		return fmt.Errorf("invalid miner address: %w", err)
	}
	for _, out := range outputs {
		if bytes.Equal(out.Script, wantScript) {
			return nil
		}
	}
	return fmt.Errorf("miner address %s not found among coinbase outputs", minerAddress)
}

// CoinbaseBuilder assembles coinbase transactions for a specific network.
type CoinbaseBuilder struct {
	network string
}

// NewCoinbaseBuilder creates a builder for the given network.
func NewCoinbaseBuilder(network string) *CoinbaseBuilder {
	return &CoinbaseBuilder{network: network}
}

// bip34HeightScriptNum encodes height as a minimal CScriptNum, as BIP34
// requires in the coinbase scriptSig.
func bip34HeightScriptNum(height int64) []byte {
	if height == 0 {
		return []byte{}
	}
	negative := height < 0
	abs := height
	if negative {
		abs = -height
	}
	var result []byte
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}
	if result[len(result)-1]&0x80 != 0 {
		if negative {
			result = append(result, 0x80)
		} else {
			result = append(result, 0x00)
		}
	} else if negative {
		result[len(result)-1] |= 0x80
	}
	return result
}

// BuildCoinbase assembles a full coinbase transaction. It returns the
// serialized (non-witness) transaction bytes and the byte offset of the
// extranonce placeholder within them, so the caller can split it into
// Stratum's coinbase1/coinbase2 halves.
func (b *CoinbaseBuilder) BuildCoinbase(
	height int64,
	shareCommitment []byte,
	payouts []PayoutEntry,
	witnessCommitment string,
	extranonceSize int,
	mergedAddresses []MergedAddress,
) ([]byte, int, error) {
	var buf bytes.Buffer

	// version
	binary.Write(&buf, binary.LittleEndian, uint32(1))

	// input count
	buf.Write(util.WriteVarInt(1))
	// prevout: null
	buf.Write(make([]byte, 32))
	binary.Write(&buf, binary.LittleEndian, uint32(0xffffffff))

	// scriptSig: BIP34 height push + extranonce placeholder
	heightNum := bip34HeightScriptNum(height)
	var scriptSig bytes.Buffer
	scriptSig.Write(util.WriteScriptLen(len(heightNum)))
	scriptSig.Write(heightNum)

	extranonceOffsetInScript := scriptSig.Len()
	scriptSig.Write(make([]byte, extranonceSize))

	buf.Write(util.WriteScriptLen(scriptSig.Len()))
	scriptSigStart := buf.Len()
	buf.Write(scriptSig.Bytes())

	extranonceOffset := scriptSigStart + extranonceOffsetInScript

	// sequence
	binary.Write(&buf, binary.LittleEndian, uint32(0xffffffff))

	var mergedAddressCommitment []byte
	if len(mergedAddresses) > 0 {
		var err error
		mergedAddressCommitment, err = BuildMergedAddressCommitment(mergedAddresses)
		if err != nil {
			return nil, 0, fmt.Errorf("build merged address commitment: %w", err)
		}
	}

	// outputs: payouts + share commitment + optional merged-address
	// commitment + optional witness commitment
	outCount := uint64(len(payouts)) + 1
	if mergedAddressCommitment != nil {
		outCount++
	}
	if witnessCommitment != "" {
		outCount++
	}
	buf.Write(util.WriteVarInt(outCount))

	for _, p := range payouts {
		script, err := AddressToScript(p.Address)
		if err != nil {
			return nil, 0, fmt.Errorf("payout address %s: %w", p.Address, err)
		}
		binary.Write(&buf, binary.LittleEndian, uint64(p.Amount))
		buf.Write(util.WriteScriptLen(len(script)))
		buf.Write(script)
	}

	// share commitment output (0-value OP_RETURN)
	commitScript := append([]byte{0x6a}, util.WriteScriptLen(len(shareCommitment))...)
	commitScript = append(commitScript, shareCommitment...)
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	buf.Write(util.WriteScriptLen(len(commitScript)))
	buf.Write(commitScript)

	if mergedAddressCommitment != nil {
		maScript := append([]byte{0x6a}, util.WriteScriptLen(len(mergedAddressCommitment))...)
		maScript = append(maScript, mergedAddressCommitment...)
		binary.Write(&buf, binary.LittleEndian, uint64(0))
		buf.Write(util.WriteScriptLen(len(maScript)))
		buf.Write(maScript)
	}

	if witnessCommitment != "" {
		wcHash, err := hex.DecodeString(witnessCommitment)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid witness commitment hex: %w", err)
		}
		wcPayload := append(append([]byte{}, witnessCommitmentTag...), wcHash...)
		wcScript := append([]byte{0x6a}, util.WriteScriptLen(len(wcPayload))...)
		wcScript = append(wcScript, wcPayload...)
		binary.Write(&buf, binary.LittleEndian, uint64(0))
		buf.Write(util.WriteScriptLen(len(wcScript)))
		buf.Write(wcScript)
	}

	// locktime
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	return buf.Bytes(), extranonceOffset, nil
}

// AddCoinbaseWitness wraps a non-witness coinbase transaction with the
// segwit marker/flag and a witness reserved value (32 zero bytes),
// as required when submitting a block containing a witness commitment.
func AddCoinbaseWitness(coinbase []byte) []byte {
	if len(coinbase) < 6 {
		return coinbase
	}
	var buf bytes.Buffer
	buf.Write(coinbase[0:4]) // version
	buf.Write([]byte{0x00, 0x01}) // segwit marker + flag
	buf.Write(coinbase[4:])
	// witness stack for the single coinbase input: one item, 32 zero bytes
	witness := make([]byte, 0, 2+32)
	witness = append(witness, 0x01)       // 1 witness item
	witness = append(witness, 0x20)       // 32-byte push
	witness = append(witness, make([]byte, 32)...)

	// insert witness data before the 4-byte locktime at the end
	out := buf.Bytes()
	if len(out) < 4 {
		return coinbase
	}
	body := out[:len(out)-4]
	locktime := out[len(out)-4:]
	result := make([]byte, 0, len(body)+len(witness)+len(locktime))
	result = append(result, body...)
	result = append(result, witness...)
	result = append(result, locktime...)
	return result
}
