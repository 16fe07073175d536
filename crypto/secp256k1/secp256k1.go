package secp256k1

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"

	"github.com/notarynet/notary/crypto"
)

const (
	// PrivKeySize is the size of a raw private key in bytes.
	PrivKeySize = 32

	// PubKeySize is the size of a compressed public key in bytes.
	PubKeySize = 33

	// SignatureSize is the size of a recoverable signature: 32-byte R,
	// 32-byte S, one-byte recovery id.
	SignatureSize = 65

	// AddressSize is the size of an EVM address in bytes.
	AddressSize = 20
)

// halfOrder is used to reject and normalize malleable (high-S) signatures.
var (
	order     = btcec.S256().N
	halfOrder = new(big.Int).Rsh(order, 1)
)

// PrivKey is a raw secp256k1 private key. Bridge keys are secp256k1 so the
// signatures validators produce can be checked by EVM verifier contracts
// and XRPL signer lists alike.
type PrivKey []byte

// PubKey is a compressed (33-byte) secp256k1 public key.
type PubKey []byte

// GenPrivKey generates a new private key from the OS entropy source.
func GenPrivKey() (PrivKey, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

// PrivKeyFromBytes validates the length of bz and copies it into a PrivKey.
func PrivKeyFromBytes(bz []byte) (PrivKey, error) {
	if len(bz) != PrivKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivKeySize, len(bz))
	}
	out := make(PrivKey, PrivKeySize)
	copy(out, bz)
	return out, nil
}

// PubKey derives the compressed public key.
func (privKey PrivKey) PubKey() PubKey {
	_, pub := btcec.PrivKeyFromBytes(btcec.S256(), privKey)
	return pub.SerializeCompressed()
}

// SignDigest signs a prehashed 32-byte digest and returns the 65-byte
// recoverable signature R || S || V, V in {0,1}. Signing is deterministic
// (RFC 6979): the same key and digest always yield the same bytes, so
// re-signing after a restart is idempotent.
func (privKey PrivKey) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != crypto.HashSize {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", crypto.HashSize, len(digest))
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), privKey)

	compact, err := btcec.SignCompact(btcec.S256(), priv, digest, false)
	if err != nil {
		return nil, err
	}

	// The compact form carries the recovery header first. Rotate it to the
	// tail and strip the 27 offset so the wire form is R || S || V.
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[SignatureSize-1] = compact[0] - 27
	return sig, nil
}

// RecoverPubKey returns the compressed public key that produced sig over
// digest. sig is the R || S || V form emitted by SignDigest.
func RecoverPubKey(digest, sig []byte) (PubKey, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	if len(digest) != crypto.HashSize {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", crypto.HashSize, len(digest))
	}

	compact := make([]byte, SignatureSize)
	compact[0] = sig[SignatureSize-1] + 27
	copy(compact[1:], sig[:SignatureSize-1])

	pub, _, err := btcec.RecoverCompact(btcec.S256(), compact, digest)
	if err != nil {
		return nil, err
	}
	return pub.SerializeCompressed(), nil
}

// VerifyDigest reports whether sig is pubKey's signature over digest.
// Malleable encodings are rejected: S must be in the low half of the curve
// order, matching the EVM verifier, and the recovery id must be canonical.
func (pubKey PubKey) VerifyDigest(digest, sig []byte) bool {
	if len(pubKey) != PubKeySize || len(sig) != SignatureSize {
		return false
	}

	// btcec masks a compressed-key bit out of the recovery header, so ids
	// above 3 would alias the canonical ones.
	if sig[SignatureSize-1] > 3 {
		return false
	}

	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(halfOrder) > 0 {
		return false
	}

	recovered, err := RecoverPubKey(digest, sig)
	if err != nil {
		return false
	}
	return bytes.Equal(recovered, pubKey)
}

// EthereumAddress derives the 20-byte EVM address: the last 20 bytes of the
// Keccak-256 hash of the uncompressed public key.
func (pubKey PubKey) EthereumAddress() ([]byte, error) {
	pub, err := btcec.ParsePubKey(pubKey, btcec.S256())
	if err != nil {
		return nil, err
	}
	uncompressed := pub.SerializeUncompressed()
	return crypto.Keccak256(uncompressed[1:])[32-AddressSize:], nil
}

// XrplAccountID derives the 20-byte XRPL account id:
// RIPEMD-160 over SHA-256 of the compressed public key.
func (pubKey PubKey) XrplAccountID() []byte {
	return crypto.Ripemd160(crypto.Sha256(pubKey))
}

// Equals reports byte equality of two public keys.
func (pubKey PubKey) Equals(other PubKey) bool {
	return bytes.Equal(pubKey, other)
}

func (pubKey PubKey) String() string {
	return fmt.Sprintf("PubKeySecp256k1{%s}", hex.EncodeToString(pubKey))
}

// SigToDER converts a 65-byte recoverable signature to DER, normalizing S
// to the low half of the curve order. XRPL verifiers consume this form.
func SigToDER(sig []byte) ([]byte, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(halfOrder) > 0 {
		s = new(big.Int).Sub(order, s)
	}

	der := btcec.Signature{R: r, S: s}
	return der.Serialize(), nil
}
