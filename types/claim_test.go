package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

func testClaim() *types.InboundClaim {
	return &types.InboundClaim{
		ClaimID:     7,
		TargetChain: types.ChainEthereum,
		Query:       &types.TxExists{TxHash: crypto.Sha256([]byte("tx"))},
		SetID:       3,
		TTL:         100,
	}
}

func TestInboundClaimValidateBasic(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*types.InboundClaim)
		wantErr bool
	}{
		{"valid tx exists", func(c *types.InboundClaim) {}, false},
		{"valid return data", func(c *types.InboundClaim) {
			c.Query = &types.ReturnDataAt{
				Contract: make([]byte, 20),
				CallData: []byte{0x70, 0xa0, 0x82, 0x31},
				Block:    42,
			}
		}, false},
		{"unknown chain", func(c *types.InboundClaim) { c.TargetChain = 9 }, true},
		{"nil query", func(c *types.InboundClaim) { c.Query = nil }, true},
		{"zero ttl", func(c *types.InboundClaim) { c.TTL = 0 }, true},
		{"short tx hash", func(c *types.InboundClaim) {
			c.Query = &types.TxExists{TxHash: []byte{0x01}}
		}, true},
		{"empty contract", func(c *types.InboundClaim) {
			c.Query = &types.ReturnDataAt{CallData: []byte{0x01}}
		}, true},
		{"empty call data", func(c *types.InboundClaim) {
			c.Query = &types.ReturnDataAt{Contract: make([]byte, 20)}
		}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			claim := testClaim()
			tc.mutate(claim)
			err := claim.ValidateBasic()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}

	var nilClaim *types.InboundClaim
	require.Error(t, nilClaim.ValidateBasic())
}

func TestVoteSigningDigest(t *testing.T) {
	hash := crypto.Sha256([]byte("observed"))

	d1 := types.VoteSigningDigest(1, 2, 3, hash)
	d2 := types.VoteSigningDigest(1, 2, 3, hash)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, crypto.HashSize)

	// every field is bound into the digest
	assert.NotEqual(t, d1, types.VoteSigningDigest(2, 2, 3, hash))
	assert.NotEqual(t, d1, types.VoteSigningDigest(1, 3, 3, hash))
	assert.NotEqual(t, d1, types.VoteSigningDigest(1, 2, 4, hash))
	assert.NotEqual(t, d1, types.VoteSigningDigest(1, 2, 3, crypto.Sha256([]byte("other"))))
}

func TestVoteSignAndVerify(t *testing.T) {
	priv, err := secp256k1.GenPrivKey()
	require.NoError(t, err)

	vote := &types.Vote{
		ClaimID:        7,
		SetID:          3,
		ValidatorIndex: 1,
		ObservedHash:   crypto.Sha256([]byte("observed")),
	}
	vote.Signature, err = priv.SignDigest(vote.SigningDigest())
	require.NoError(t, err)

	require.NoError(t, vote.ValidateBasic())
	assert.True(t, priv.PubKey().VerifyDigest(vote.SigningDigest(), vote.Signature))

	// a vote for a different hash must not verify against this signature
	forged := *vote
	forged.ObservedHash = crypto.Sha256([]byte("forged"))
	assert.False(t, priv.PubKey().VerifyDigest(forged.SigningDigest(), forged.Signature))
}

func TestVoteValidateBasic(t *testing.T) {
	vote := &types.Vote{
		ClaimID:        1,
		SetID:          1,
		ValidatorIndex: 0,
		ObservedHash:   crypto.Sha256([]byte("x")),
		Signature:      make([]byte, secp256k1.SignatureSize),
	}
	require.NoError(t, vote.ValidateBasic())

	short := *vote
	short.ObservedHash = short.ObservedHash[:16]
	require.Error(t, short.ValidateBasic())

	badSig := *vote
	badSig.Signature = badSig.Signature[:64]
	require.Error(t, badSig.ValidateBasic())

	var nilVote *types.Vote
	require.Error(t, nilVote.ValidateBasic())
}

func TestClaimStatusString(t *testing.T) {
	assert.Equal(t, "pending", types.ClaimStatusPending.String())
	assert.Equal(t, "accepted", types.ClaimStatusAccepted.String())
	assert.Equal(t, "rejected", types.ClaimStatusRejected.String())
}
