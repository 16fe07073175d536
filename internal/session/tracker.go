// Package session tracks validator set views across rotations. Exactly one
// view is active; a bounded number of superseded views stay addressable by
// set id so witnesses for in-flight requests issued under them can still be
// verified.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/notarynet/notary/types"
)

// DefaultRetainViews bounds how many superseded views stay addressable.
const DefaultRetainViews = 8

var (
	// ErrNotInitialized is returned before the first set update arrives.
	ErrNotInitialized = errors.New("no active validator set")

	// ErrStaleUpdate is returned when an update does not advance the set id.
	ErrStaleUpdate = errors.New("validator set update does not advance the set id")
)

// Tracker holds the active validator set view and a window of its
// predecessors. All methods are safe for concurrent use.
type Tracker struct {
	mtx sync.RWMutex

	retain      int
	initialized bool
	activeID    uint64
	views       map[uint64]*types.ValidatorSetView
}

// NewTracker returns an empty tracker retaining up to retain superseded
// views; retain <= 0 selects DefaultRetainViews.
func NewTracker(retain int) *Tracker {
	if retain <= 0 {
		retain = DefaultRetainViews
	}
	return &Tracker{
		retain: retain,
		views:  make(map[uint64]*types.ValidatorSetView),
	}
}

// Update installs view as the active set. Set ids must advance
// monotonically; the first update may carry any id (nodes can join at any
// rotation). Views older than the retention window are dropped.
func (t *Tracker) Update(view *types.ValidatorSetView) error {
	if err := view.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid validator set view: %w", err)
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.initialized && view.SetID <= t.activeID {
		return fmt.Errorf("%w: active %d, got %d", ErrStaleUpdate, t.activeID, view.SetID)
	}

	t.views[view.SetID] = view.Copy()
	t.activeID = view.SetID
	t.initialized = true

	for id := range t.views {
		if id+uint64(t.retain) < t.activeID {
			delete(t.views, id)
		}
	}
	return nil
}

// Active returns the active view, or an error before the first update.
func (t *Tracker) Active() (*types.ValidatorSetView, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	if !t.initialized {
		return nil, ErrNotInitialized
	}
	return t.views[t.activeID], nil
}

// ActiveID returns the active set id and whether any set is installed.
func (t *Tracker) ActiveID() (uint64, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.activeID, t.initialized
}

// View returns the view for setID if it is the active view or a retained
// predecessor.
func (t *Tracker) View(setID uint64) (*types.ValidatorSetView, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	v, ok := t.views[setID]
	return v, ok
}

// IsStale reports whether setID is older than the immediately superseded
// set. Witnesses under the previous set stay acceptable during handover;
// anything older is dropped at the gossip fast path.
func (t *Tracker) IsStale(setID uint64) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	if !t.initialized {
		return false
	}
	return setID+1 < t.activeID
}

// IsFuture reports whether setID is ahead of the active set. Future
// witnesses are buffered until the local view catches up; before the first
// update everything is future.
func (t *Tracker) IsFuture(setID uint64) bool {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	if !t.initialized {
		return true
	}
	return setID > t.activeID
}
