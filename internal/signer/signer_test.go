package signer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/codec"
	"github.com/notarynet/notary/internal/keystore"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/types"
)

// testSetup builds a 3-member set at setID with the local key at index 1.
func testSetup(t *testing.T, setID uint64) (*signer.Signer, *types.ValidatorSetView, []secp256k1.PrivKey) {
	t.Helper()

	keys := make([]secp256k1.PrivKey, 3)
	members := make([]*types.Validator, 3)
	for i := range keys {
		priv, err := secp256k1.GenPrivKey()
		require.NoError(t, err)
		keys[i] = priv
		members[i] = &types.Validator{
			Identity:     priv.PubKey().XrplAccountID(),
			BridgePubKey: priv.PubKey(),
			Weight:       1,
		}
	}
	view := types.NewValidatorSetView(setID, members)

	sets := session.NewTracker(0)
	require.NoError(t, sets.Update(view))

	s := signer.New(log.NewTestingLogger(t), &keystore.BridgeKey{PrivKey: keys[1]}, sets)
	return s, view, keys
}

func ethRequest(setID uint64) *types.ProofRequest {
	return &types.ProofRequest{
		ID:      11,
		Kind:    types.KindEthereumEvent,
		Payload: bytes.Repeat([]byte{0x11}, 32),
		SetID:   setID,
		TTL:     100,
	}
}

func TestSignerEligible(t *testing.T) {
	s, _, _ := testSetup(t, 3)

	index, ok := s.Eligible(3)
	require.True(t, ok)
	assert.EqualValues(t, 1, index)

	_, ok = s.Eligible(99)
	assert.False(t, ok)
}

func TestSignRequestEthereum(t *testing.T) {
	s, _, keys := testSetup(t, 3)
	req := ethRequest(3)

	w, err := s.SignRequest(req)
	require.NoError(t, err)
	require.NoError(t, w.ValidateBasic())

	assert.EqualValues(t, 11, w.ProofID)
	assert.Equal(t, types.KindEthereumEvent, w.Kind)
	assert.EqualValues(t, 3, w.SetID)
	assert.EqualValues(t, 1, w.ValidatorIndex)

	wantDigest, err := codec.DigestForRequest(req, keys[1].PubKey())
	require.NoError(t, err)
	assert.Equal(t, wantDigest, w.Digest)
	assert.True(t, keys[1].PubKey().VerifyDigest(w.Digest, w.Signature))

	// deterministic: re-signing yields identical bytes
	again, err := s.SignRequest(req)
	require.NoError(t, err)
	assert.Equal(t, w, again)
}

func TestSignRequestXrplPerSignerDigest(t *testing.T) {
	s, _, keys := testSetup(t, 3)
	req := &types.ProofRequest{
		ID:      12,
		Kind:    types.KindXrplTransaction,
		Payload: []byte{0x12, 0x00, 0x00},
		SetID:   3,
		TTL:     100,
	}

	w, err := s.SignRequest(req)
	require.NoError(t, err)

	own, err := codec.DigestForRequest(req, keys[1].PubKey())
	require.NoError(t, err)
	other, err := codec.DigestForRequest(req, keys[0].PubKey())
	require.NoError(t, err)

	assert.Equal(t, own, w.Digest)
	assert.NotEqual(t, other, w.Digest)
	assert.True(t, keys[1].PubKey().VerifyDigest(w.Digest, w.Signature))
}

func TestSignRequestNotInSet(t *testing.T) {
	_, view, _ := testSetup(t, 3)

	stranger, err := secp256k1.GenPrivKey()
	require.NoError(t, err)
	sets := session.NewTracker(0)
	require.NoError(t, sets.Update(view))
	s := signer.New(log.NewTestingLogger(t), &keystore.BridgeKey{PrivKey: stranger}, sets)

	_, err = s.SignRequest(ethRequest(3))
	require.ErrorIs(t, err, signer.ErrNotInSet)
}

func TestSignRequestSubsetExclusion(t *testing.T) {
	s, _, _ := testSetup(t, 3)

	// local index is 1; the subset admits only 0 and 2
	req := &types.ProofRequest{
		ID:               13,
		Kind:             types.KindXrplTransaction,
		Payload:          []byte{0x12, 0x00, 0x00},
		SetID:            3,
		TTL:              100,
		SignerSubset:     []uint32{0, 2},
		ThresholdPercent: 100,
	}
	_, err := s.SignRequest(req)
	require.ErrorIs(t, err, signer.ErrNotInSet)

	// widening the subset to include index 1 makes it signable
	req.SignerSubset = []uint32{0, 1, 2}
	_, err = s.SignRequest(req)
	require.NoError(t, err)
}

func TestSignRequestUnknownSet(t *testing.T) {
	s, _, _ := testSetup(t, 3)

	_, err := s.SignRequest(ethRequest(8))
	require.ErrorIs(t, err, signer.ErrUnknownSet)
}

func TestSignVote(t *testing.T) {
	s, _, keys := testSetup(t, 3)
	claim := &types.InboundClaim{
		ClaimID:     40,
		TargetChain: types.ChainEthereum,
		Query:       &types.TxExists{TxHash: bytes.Repeat([]byte{0x22}, 32)},
		SetID:       3,
		TTL:         100,
	}
	hash := bytes.Repeat([]byte{0x33}, 32)

	v, err := s.SignVote(claim, hash)
	require.NoError(t, err)
	require.NoError(t, v.ValidateBasic())

	assert.EqualValues(t, 40, v.ClaimID)
	assert.EqualValues(t, 3, v.SetID)
	assert.EqualValues(t, 1, v.ValidatorIndex)
	assert.Equal(t, hash, v.ObservedHash)
	assert.True(t, keys[1].PubKey().VerifyDigest(v.SigningDigest(), v.Signature))

	claim.SetID = 8
	_, err = s.SignVote(claim, hash)
	require.ErrorIs(t, err, signer.ErrUnknownSet)
}

func TestSignRequestRefusesLowThreshold(t *testing.T) {
	s, _, _ := testSetup(t, 3)

	req := &types.ProofRequest{
		ID:               14,
		Kind:             types.KindXrplTransaction,
		Payload:          []byte{0x12, 0x00, 0x00},
		SetID:            3,
		TTL:              100,
		SignerSubset:     []uint32{0, 1, 2},
		ThresholdPercent: 33,
	}
	_, err := s.SignRequest(req)
	require.ErrorIs(t, err, signer.ErrThresholdTooLow)
}
