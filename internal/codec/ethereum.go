package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

// wordSize is the EVM ABI word size.
const wordSize = 32

// Ethereum encodes proofs for EVM verifier contracts. The request payload is
// the ABI-encoded event data the runtime produced; the codec binds the set id
// and proof id by appending one ABI word each before hashing, mirroring the
// verifier's keccak256(abi.encodePacked(payload, uint256(setId),
// uint256(proofId))).
type Ethereum struct{}

var _ Codec = Ethereum{}

// Digest hashes the request into the bytes every validator signs. The signer
// key is ignored: Ethereum digests are shared across the set.
func (Ethereum) Digest(req *types.ProofRequest, _ secp256k1.PubKey) ([]byte, error) {
	if err := checkEvmPayload(req.Kind, req.Payload); err != nil {
		return nil, err
	}
	return crypto.Keccak256(req.Payload, abiUint64(req.SetID), abiUint64(req.ID)), nil
}

// RequestDigest equals Digest: Ethereum digests are signer-independent.
func (e Ethereum) RequestDigest(req *types.ProofRequest) ([]byte, error) {
	return e.Digest(req, nil)
}

// EncodeForSubmission packs the bundle an EVM verifier consumes: the signed
// payload, the two metadata words, the signer count, and one 65-byte r||s||v
// slot per set member in validator order. Members that did not sign occupy
// zeroed slots, so the verifier can index signatures by validator position.
func (Ethereum) EncodeForSubmission(proof *types.FinalizedProof, view *types.ValidatorSetView) ([]byte, error) {
	if err := proof.ValidateBasic(); err != nil {
		return nil, &Error{Kind: proof.Kind, Op: "encode", Err: err}
	}
	if view == nil || view.SetID != proof.SetID {
		return nil, &Error{Kind: proof.Kind, Op: "encode", Err: errors.New("view does not match proof set id")}
	}
	if err := checkEvmPayload(proof.Kind, proof.EncodedPayload); err != nil {
		return nil, err
	}

	n := view.Size()
	out := make([]byte, 0, len(proof.EncodedPayload)+3*wordSize+n*secp256k1.SignatureSize)
	out = append(out, proof.EncodedPayload...)
	out = append(out, abiUint64(proof.SetID)...)
	out = append(out, abiUint64(proof.ProofID)...)
	out = append(out, abiUint64(uint64(n))...)
	for _, sig := range proof.ExpandedSignatures(n) {
		out = append(out, sig...)
	}
	return out, nil
}

// SetChangePayload ABI-encodes (address[] members, uint256 setId) the way
// the bridge contract's setValidators entrypoint expects it.
func (Ethereum) SetChangePayload(next *types.ValidatorSetView) ([]byte, error) {
	if err := next.ValidateBasic(); err != nil {
		return nil, &Error{Kind: types.KindEthereumValidatorSetChange, Op: "set change", Err: err}
	}

	n := next.Size()
	out := make([]byte, 0, (3+n)*wordSize)
	// head: offset of the dynamic array tail, then the set id
	out = append(out, abiUint64(2*wordSize)...)
	out = append(out, abiUint64(next.SetID)...)
	// tail: array length then one word per address
	out = append(out, abiUint64(uint64(n))...)
	for i, m := range next.Members {
		addr, err := m.BridgePubKey.EthereumAddress()
		if err != nil {
			return nil, &Error{
				Kind: types.KindEthereumValidatorSetChange,
				Op:   "set change",
				Err:  fmt.Errorf("member %d: %w", i, err),
			}
		}
		word := make([]byte, wordSize)
		copy(word[wordSize-len(addr):], addr)
		out = append(out, word...)
	}
	return out, nil
}

// checkEvmPayload rejects payloads an EVM verifier could not decode: ABI
// blobs are a non-zero whole number of 32-byte words.
func checkEvmPayload(kind types.ProofKind, payload []byte) error {
	if len(payload) == 0 || len(payload)%wordSize != 0 {
		return &Error{
			Kind: kind,
			Op:   "digest",
			Err:  fmt.Errorf("payload length %d is not a whole number of abi words", len(payload)),
		}
	}
	return nil
}

// abiUint64 left-pads v into one big-endian ABI word.
func abiUint64(v uint64) []byte {
	word := make([]byte, wordSize)
	binary.BigEndian.PutUint64(word[wordSize-8:], v)
	return word
}
