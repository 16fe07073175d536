package crypto_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto"
)

func TestSha256(t *testing.T) {
	got := crypto.Sha256([]byte("abc"))
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		hex.EncodeToString(got))
}

func TestKeccak256(t *testing.T) {
	// Keccak-256 of the empty string, the value EVM tooling reports for
	// keccak256(""). Distinguishes legacy Keccak from finalized SHA3-256.
	got := crypto.Keccak256(nil)
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(got))

	// Concatenation must equal hashing the joined input.
	joined := crypto.Keccak256([]byte("ab"), []byte("c"))
	whole := crypto.Keccak256([]byte("abc"))
	assert.Equal(t, whole, joined)
}

func TestSha512Half(t *testing.T) {
	got := crypto.Sha512Half([]byte("abc"))
	require.Len(t, got, 32)

	again := crypto.Sha512Half([]byte("ab"), []byte("c"))
	assert.Equal(t, got, again)

	other := crypto.Sha512Half([]byte("abd"))
	assert.NotEqual(t, got, other)
}

func TestRipemd160(t *testing.T) {
	got := crypto.Ripemd160([]byte("abc"))
	assert.Equal(t,
		"8eb208f7e05d987a9b044a8e98c6b087f15a0bfc",
		hex.EncodeToString(got))
}
