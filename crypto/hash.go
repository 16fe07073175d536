package crypto

import (
	"crypto/sha256"
	"crypto/sha512"

	// RIPEMD-160 is deprecated for new designs but is a fixed part of the
	// XRPL account-id derivation this package must reproduce.
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
	"golang.org/x/crypto/sha3"
)

// HashSize is the size of the digests validators sign.
const HashSize = sha256.Size

// Sha256 returns the SHA-256 hash of bz.
func Sha256(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// Keccak256 returns the legacy Keccak-256 hash over the concatenation of
// data. This is the digest EVM contracts compute with the KECCAK256 opcode,
// not the finalized SHA-3.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Sha512Half returns the first 32 bytes of the SHA-512 hash over the
// concatenation of data. XRPL signing digests use this construction.
func Sha512Half(data ...[]byte) []byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)[:32]
}

// Ripemd160 returns the RIPEMD-160 hash of bz.
func Ripemd160(bz []byte) []byte {
	h := ripemd160.New()
	h.Write(bz)
	return h.Sum(nil)
}
