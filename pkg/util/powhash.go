package util

import "golang.org/x/crypto/scrypt"

// scrypt parameters Litecoin-family chains use for block-header PoW:
// N=1024, r=1, p=1, 32-byte output, header serves as both password and salt.
const (
	scryptN      = 1024
	scryptR      = 1
	scryptP      = 1
	scryptKeyLen = 32
)

// ScryptPoWHash computes the Litecoin-family scrypt proof-of-work hash of
// a serialized block header. Unlike DoubleSHA256, this is never used for
// chain/share identity (that stays SHA256d on every network so hashes
// referenced as PrevShareHash/PrevBlockHash are stable regardless of the
// parent chain's mining algorithm) — only for checking a header against
// a difficulty target.
func ScryptPoWHash(header []byte) [32]byte {
	sum, err := scrypt.Key(header, header, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		// Only possible if the N/r/p parameters above were invalid, which
		// they are not; a header of any length is a valid scrypt input.
		panic("util: scrypt PoW hash: " + err.Error())
	}
	var out [32]byte
	copy(out[:], sum)
	return out
}
