package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

func TestProofKindChainID(t *testing.T) {
	assert.Equal(t, types.ChainEthereum, types.KindEthereumEvent.ChainID())
	assert.Equal(t, types.ChainEthereum, types.KindEthereumValidatorSetChange.ChainID())
	assert.Equal(t, types.ChainXrpl, types.KindXrplTransaction.ChainID())
	assert.Equal(t, types.ChainXrpl, types.KindXrplValidatorSetChange.ChainID())
	assert.Equal(t, types.ChainID(0), types.ProofKind(99).ChainID())
	assert.False(t, types.ProofKind(0).IsValid())
	assert.False(t, types.ProofKind(99).IsValid())
}

func TestProofRequestValidateBasic(t *testing.T) {
	valid := func() *types.ProofRequest {
		return &types.ProofRequest{
			ID:      7,
			Kind:    types.KindEthereumEvent,
			Payload: []byte{0x01},
			SetID:   3,
			TTL:     100,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*types.ProofRequest)
		wantErr bool
	}{
		{"valid", func(r *types.ProofRequest) {}, false},
		{"bad kind", func(r *types.ProofRequest) { r.Kind = 0 }, true},
		{"empty payload", func(r *types.ProofRequest) { r.Payload = nil }, true},
		{"zero ttl", func(r *types.ProofRequest) { r.TTL = 0 }, true},
		{"percent overflow", func(r *types.ProofRequest) { r.ThresholdPercent = 101 }, true},
		{"subset on ethereum kind", func(r *types.ProofRequest) {
			r.SignerSubset = []uint32{0, 1}
		}, true},
		{"subset out of order", func(r *types.ProofRequest) {
			r.Kind = types.KindXrplTransaction
			r.SignerSubset = []uint32{2, 1}
		}, true},
		{"valid xrpl subset", func(r *types.ProofRequest) {
			r.Kind = types.KindXrplTransaction
			r.SignerSubset = []uint32{0, 2, 5}
			r.ThresholdPercent = 66
		}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			err := req.ValidateBasic()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func testProof(indices ...uint32) *types.FinalizedProof {
	sigs := make([]types.ProofSignature, len(indices))
	for i, idx := range indices {
		sig := make([]byte, secp256k1.SignatureSize)
		sig[0] = byte(idx + 1)
		sigs[i] = types.ProofSignature{ValidatorIndex: idx, Signature: sig}
	}
	return &types.FinalizedProof{
		ProofID:        1,
		Kind:           types.KindEthereumEvent,
		SetID:          7,
		Digest:         crypto.Sha256([]byte("digest")),
		Signatures:     sigs,
		EncodedPayload: []byte{0xaa},
	}
}

func TestFinalizedProofValidateBasic(t *testing.T) {
	require.NoError(t, testProof(0, 2, 3).ValidateBasic())

	unordered := testProof(2, 0, 3)
	require.Error(t, unordered.ValidateBasic())

	duplicate := testProof(1, 1)
	require.Error(t, duplicate.ValidateBasic())

	empty := testProof()
	require.Error(t, empty.ValidateBasic())

	badSig := testProof(0)
	badSig.Signatures[0].Signature = []byte{0x01}
	require.Error(t, badSig.ValidateBasic())
}

func TestFinalizedProofSignatureByIndex(t *testing.T) {
	proof := testProof(0, 2, 3)

	sig, ok := proof.SignatureByIndex(2)
	require.True(t, ok)
	assert.Equal(t, byte(3), sig[0])

	_, ok = proof.SignatureByIndex(1)
	assert.False(t, ok)
}

func TestFinalizedProofExpandedSignatures(t *testing.T) {
	proof := testProof(0, 2, 3)
	expanded := proof.ExpandedSignatures(4)
	require.Len(t, expanded, 4)

	zero := make([]byte, secp256k1.SignatureSize)
	assert.NotEqual(t, zero, expanded[0])
	assert.Equal(t, zero, expanded[1])
	assert.NotEqual(t, zero, expanded[2])
	assert.NotEqual(t, zero, expanded[3])
}

func TestFinalizedProofEqual(t *testing.T) {
	a := testProof(0, 2)
	b := testProof(0, 2)
	assert.True(t, a.Equal(b))

	b.Signatures[1].Signature[5] ^= 0xff
	assert.False(t, a.Equal(b))

	c := testProof(0, 2)
	c.SetID++
	assert.False(t, a.Equal(c))
}

func TestExpandedSignaturesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 16).Draw(t, "n").(int)
		picks := rapid.SliceOfDistinct(
			rapid.Uint32Range(0, uint32(n-1)),
			func(v uint32) uint32 { return v },
		).Draw(t, "picks").([]uint32)

		proof := testProof()
		for _, idx := range picks {
			sig := make([]byte, secp256k1.SignatureSize)
			sig[1] = byte(idx + 1)
			proof.Signatures = append(proof.Signatures,
				types.ProofSignature{ValidatorIndex: idx, Signature: sig})
		}

		expanded := proof.ExpandedSignatures(n)
		require.Len(t, expanded, n)

		// every contributed slot holds its signature, every other slot is
		// zero-filled at full signature width
		contributed := make(map[uint32]bool, len(picks))
		for _, idx := range picks {
			contributed[idx] = true
		}
		for i, sig := range expanded {
			require.Len(t, sig, secp256k1.SignatureSize)
			if contributed[uint32(i)] {
				require.Equal(t, byte(i+1), sig[1])
			} else {
				require.Equal(t, make([]byte, secp256k1.SignatureSize), sig)
			}
		}
	})
}
