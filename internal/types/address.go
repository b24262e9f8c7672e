package types

import (
	"fmt"
	"strings"
)

// bech32 implements BIP173 bech32 encoding/decoding — the pool only ever
// deals in native segwit (P2WPKH/P2WSH) payout addresses, so base58check
// legacy addresses are intentionally not supported.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32CharsetRev = func() [128]int8 {
	var rev [128]int8
	for i := range rev {
		rev[i] = -1
	}
	for i, c := range bech32Charset {
		rev[c] = int8(i)
	}
	return rev
}()

func bech32Polymod(values []byte) uint32 {
	gen := []uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		b := byte(chk >> 25)
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []byte) bool {
	values := append(bech32HRPExpand(hrp), data...)
	return bech32Polymod(values) == 1
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(bech32HRPExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := bech32Polymod(values) ^ 1
	ret := make([]byte, 6)
	for i := 0; i < 6; i++ {
		ret[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return ret
}

func bech32Encode(hrp string, data []byte) string {
	checksum := bech32CreateChecksum(hrp, data)
	combined := append(append([]byte{}, data...), checksum...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, d := range combined {
		sb.WriteByte(bech32Charset[d])
	}
	return sb.String()
}

func bech32Decode(s string) (hrp string, data []byte, err error) {
	if len(s) < 8 || len(s) > 90 {
		return "", nil, fmt.Errorf("invalid bech32 length")
	}
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return "", nil, fmt.Errorf("mixed case bech32 string")
	}
	s = lower
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, fmt.Errorf("invalid separator position")
	}
	hrp = s[:pos]
	dataPart := s[pos+1:]
	data = make([]byte, len(dataPart))
	for i := 0; i < len(dataPart); i++ {
		c := dataPart[i]
		if c >= 128 || bech32CharsetRev[c] == -1 {
			return "", nil, fmt.Errorf("invalid bech32 character %q", c)
		}
		data[i] = byte(bech32CharsetRev[c])
	}
	if !bech32VerifyChecksum(hrp, data) {
		return "", nil, fmt.Errorf("invalid bech32 checksum")
	}
	return hrp, data[:len(data)-6], nil
}

func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	var ret []byte
	maxv := uint32(1)<<toBits - 1
	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data for bit conversion")
		}
		acc = (acc << fromBits) | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("invalid padding in bit conversion")
	}
	return ret, nil
}

// addressHRP returns the bech32 human-readable part for a network name.
func addressHRP(network string) (string, error) {
	switch network {
	case "mainnet", "bitcoin":
		return "bc", nil
	case "testnet", "bitcoin-testnet", "signet":
		return "tb", nil
	case "litecoin":
		return "ltc", nil
	case "litecoin-testnet":
		return "tltc", nil
	default:
		return "", fmt.Errorf("unknown network %q", network)
	}
}

// DecodeSegwitAddress decodes a bech32 native segwit address into its
// witness version and program.
func DecodeSegwitAddress(address string) (hrp string, version byte, program []byte, err error) {
	hrp, data, err := bech32Decode(address)
	if err != nil {
		return "", 0, nil, err
	}
	if len(data) < 1 {
		return "", 0, nil, fmt.Errorf("empty bech32 payload")
	}
	version = data[0]
	program, err = convertBits(data[1:], 5, 8, false)
	if err != nil {
		return "", 0, nil, fmt.Errorf("convert witness program: %w", err)
	}
	if len(program) < 2 || len(program) > 40 {
		return "", 0, nil, fmt.Errorf("invalid witness program length %d", len(program))
	}
	if version == 0 && len(program) != 20 && len(program) != 32 {
		return "", 0, nil, fmt.Errorf("invalid v0 witness program length %d", len(program))
	}
	return hrp, version, program, nil
}

// EncodeSegwitAddress encodes a witness version/program into a bech32 address.
func EncodeSegwitAddress(hrp string, version byte, program []byte) (string, error) {
	data, err := convertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert witness program: %w", err)
	}
	data = append([]byte{version}, data...)
	return bech32Encode(hrp, data), nil
}

// ValidateAddress checks that address is a well-formed native segwit
// address for the given network.
func ValidateAddress(address, network string) error {
	wantHRP, err := addressHRP(network)
	if err != nil {
		return err
	}
	hrp, _, _, err := DecodeSegwitAddress(address)
	if err != nil {
		return err
	}
	if hrp != wantHRP {
		return fmt.Errorf("address hrp %q does not match network %q (want %q)", hrp, network, wantHRP)
	}
	return nil
}

// IsConvertibleTo reports whether address is a valid payout address on network.
func IsConvertibleTo(address, network string) bool {
	return ValidateAddress(address, network) == nil
}

// AddressToScript converts a native segwit address to its scriptPubKey:
// OP_<version> <push len> <program>.
func AddressToScript(address string) ([]byte, error) {
	_, version, program, err := DecodeSegwitAddress(address)
	if err != nil {
		return nil, err
	}
	script := make([]byte, 0, 2+len(program))
	if version == 0 {
		script = append(script, 0x00)
	} else {
		script = append(script, 0x50+version)
	}
	script = append(script, byte(len(program)))
	script = append(script, program...)
	return script, nil
}

// ScriptToAddress converts a segwit scriptPubKey back to its bech32 address.
func ScriptToAddress(script []byte, network string) (string, error) {
	hrp, err := addressHRP(network)
	if err != nil {
		return "", err
	}
	if len(script) < 2 {
		return "", fmt.Errorf("script too short")
	}
	op := script[0]
	var version byte
	if op == 0x00 {
		version = 0
	} else if op >= 0x51 && op <= 0x60 {
		version = op - 0x50
	} else {
		return "", fmt.Errorf("not a witness program script")
	}
	pushLen := int(script[1])
	if len(script) != 2+pushLen {
		return "", fmt.Errorf("script length mismatch")
	}
	return EncodeSegwitAddress(hrp, version, script[2:])
}
