package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

func genValidator(t *testing.T, weight int64) (*types.Validator, secp256k1.PrivKey) {
	t.Helper()
	priv, err := secp256k1.GenPrivKey()
	require.NoError(t, err)
	return &types.Validator{
		Identity:     priv.PubKey().XrplAccountID(),
		BridgePubKey: priv.PubKey(),
		Weight:       weight,
	}, priv
}

func genView(t *testing.T, setID uint64, weights ...int64) (*types.ValidatorSetView, []secp256k1.PrivKey) {
	t.Helper()
	members := make([]*types.Validator, len(weights))
	keys := make([]secp256k1.PrivKey, len(weights))
	for i, w := range weights {
		members[i], keys[i] = genValidator(t, w)
	}
	return types.NewValidatorSetView(setID, members), keys
}

func TestValidatorSetViewQuorumWeight(t *testing.T) {
	testCases := []struct {
		weights []int64
		quorum  int64
	}{
		{[]int64{1, 1, 1, 1}, 3},
		{[]int64{1, 1, 1}, 3},
		{[]int64{10, 10, 10, 10}, 27},
		{[]int64{5, 1, 1}, 5},
		{[]int64{1}, 1},
	}
	for _, tc := range testCases {
		view, _ := genView(t, 1, tc.weights...)
		assert.Equal(t, tc.quorum, view.QuorumWeight(), "weights %v", tc.weights)
	}
}

func TestValidatorSetViewThresholdWeight(t *testing.T) {
	view, _ := genView(t, 1, 1, 1, 1, 1) // total 4

	assert.Equal(t, int64(4), view.ThresholdWeight(100))
	assert.Equal(t, int64(3), view.ThresholdWeight(75))
	// rounds up: 66% of 4 = 2.64
	assert.Equal(t, int64(3), view.ThresholdWeight(66))
	assert.Equal(t, int64(2), view.ThresholdWeight(50))
	assert.Equal(t, int64(0), view.ThresholdWeight(0))
}

func TestValidatorSetViewIndexOf(t *testing.T) {
	view, keys := genView(t, 1, 1, 2, 3)

	for i, key := range keys {
		idx, ok := view.IndexOf(key.PubKey())
		require.True(t, ok)
		assert.Equal(t, uint32(i), idx)
	}

	stranger, err := secp256k1.GenPrivKey()
	require.NoError(t, err)
	_, ok := view.IndexOf(stranger.PubKey())
	assert.False(t, ok)
}

func TestValidatorSetViewValidateBasic(t *testing.T) {
	view, _ := genView(t, 1, 1, 2)
	require.NoError(t, view.ValidateBasic())

	empty := types.NewValidatorSetView(1, nil)
	require.Error(t, empty.ValidateBasic())

	dup := types.NewValidatorSetView(1, []*types.Validator{
		view.Members[0], view.Members[0],
	})
	require.Error(t, dup.ValidateBasic())

	zeroWeight, _ := genView(t, 1, 1)
	zeroWeight.Members[0].Weight = 0
	require.Error(t, zeroWeight.ValidateBasic())

	var nilView *types.ValidatorSetView
	require.Error(t, nilView.ValidateBasic())
}

func TestValidatorSetViewSignerListEqual(t *testing.T) {
	view, _ := genView(t, 1, 1, 2)

	same := view.Copy()
	same.SetID = 2
	// same keys and weights under a new set id: signer list unchanged
	assert.True(t, view.SignerListEqual(same))

	reweighted := view.Copy()
	reweighted.Members[1].Weight = 9
	assert.False(t, view.SignerListEqual(reweighted))

	other, _ := genView(t, 2, 1, 2)
	assert.False(t, view.SignerListEqual(other))

	shorter := types.NewValidatorSetView(2, view.Members[:1])
	assert.False(t, view.SignerListEqual(shorter))
	assert.False(t, view.SignerListEqual(nil))
}

func TestValidatorSetViewSubsetWeight(t *testing.T) {
	view, _ := genView(t, 1, 5, 3, 2)

	assert.Equal(t, int64(7), view.SubsetWeight([]uint32{0, 2}))
	assert.Equal(t, int64(10), view.SubsetWeight([]uint32{0, 1, 2}))
	// unknown indices contribute nothing
	assert.Equal(t, int64(5), view.SubsetWeight([]uint32{0, 9}))
}
