package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/types"
)

func testView(t *testing.T, setID uint64, n int) *types.ValidatorSetView {
	t.Helper()
	members := make([]*types.Validator, n)
	for i := range members {
		priv, err := secp256k1.GenPrivKey()
		require.NoError(t, err)
		members[i] = &types.Validator{
			Identity:     priv.PubKey().XrplAccountID(),
			BridgePubKey: priv.PubKey(),
			Weight:       1,
		}
	}
	return types.NewValidatorSetView(setID, members)
}

func TestTrackerEmpty(t *testing.T) {
	tr := session.NewTracker(0)

	_, err := tr.Active()
	require.ErrorIs(t, err, session.ErrNotInitialized)

	_, ok := tr.ActiveID()
	assert.False(t, ok)

	// nothing is stale yet, everything is future
	assert.False(t, tr.IsStale(0))
	assert.True(t, tr.IsFuture(0))
	assert.True(t, tr.IsFuture(42))
}

func TestTrackerUpdate(t *testing.T) {
	tr := session.NewTracker(0)

	// joining mid-history is allowed
	require.NoError(t, tr.Update(testView(t, 7, 3)))

	active, err := tr.Active()
	require.NoError(t, err)
	assert.EqualValues(t, 7, active.SetID)

	id, ok := tr.ActiveID()
	require.True(t, ok)
	assert.EqualValues(t, 7, id)

	// non-advancing updates are rejected
	err = tr.Update(testView(t, 7, 3))
	require.ErrorIs(t, err, session.ErrStaleUpdate)
	err = tr.Update(testView(t, 6, 3))
	require.ErrorIs(t, err, session.ErrStaleUpdate)

	// gaps are fine: rotations can be missed while offline
	require.NoError(t, tr.Update(testView(t, 9, 4)))
	active, err = tr.Active()
	require.NoError(t, err)
	assert.EqualValues(t, 9, active.SetID)

	// the superseded view stays addressable
	old, ok := tr.View(7)
	require.True(t, ok)
	assert.EqualValues(t, 7, old.SetID)
	assert.Equal(t, 3, old.Size())
}

func TestTrackerRejectsInvalidView(t *testing.T) {
	tr := session.NewTracker(0)
	require.Error(t, tr.Update(types.NewValidatorSetView(1, nil)))
}

func TestTrackerStaleAndFuture(t *testing.T) {
	tr := session.NewTracker(0)
	require.NoError(t, tr.Update(testView(t, 5, 2)))

	assert.False(t, tr.IsStale(5))
	assert.False(t, tr.IsStale(4), "previous set is still acceptable")
	assert.True(t, tr.IsStale(3))
	assert.True(t, tr.IsStale(0))

	assert.True(t, tr.IsFuture(6))
	assert.False(t, tr.IsFuture(5))
	assert.False(t, tr.IsFuture(1))
}

func TestTrackerRetention(t *testing.T) {
	tr := session.NewTracker(2)

	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, tr.Update(testView(t, id, 2)))
	}

	// active 5, retain 2: views 3..5 stay, 1 and 2 are gone
	for id := uint64(3); id <= 5; id++ {
		_, ok := tr.View(id)
		assert.True(t, ok, "view %d", id)
	}
	for _, id := range []uint64{1, 2} {
		_, ok := tr.View(id)
		assert.False(t, ok, "view %d", id)
	}
}

func TestTrackerCopiesViews(t *testing.T) {
	tr := session.NewTracker(0)
	view := testView(t, 1, 2)
	require.NoError(t, tr.Update(view))

	// mutating the caller's copy must not leak into the tracker
	view.Members[0].Weight = 99

	stored, err := tr.Active()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Members[0].Weight)
}
