package notary_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/keystore"
	"github.com/notarynet/notary/internal/notary"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/types"
)

// fakeTally records what the worker feeds the aggregator.
type fakeTally struct {
	mtx       sync.Mutex
	requests  []*types.ProofRequest
	claims    []*types.InboundClaim
	witnesses []*types.Witness
	ticks     []int64
	setIDs    []uint64
}

func (f *fakeTally) NoteRequest(req *types.ProofRequest) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeTally) NoteClaim(claim *types.InboundClaim) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.claims = append(f.claims, claim)
	return nil
}

func (f *fakeTally) AddWitness(w *types.Witness) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.witnesses = append(f.witnesses, w)
	return nil
}

func (f *fakeTally) Tick(height int64) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.ticks = append(f.ticks, height)
	return nil
}

func (f *fakeTally) HandleSetChange(activeID uint64) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.setIDs = append(f.setIDs, activeID)
	return nil
}

func (f *fakeTally) requestIDs() []uint64 {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	ids := make([]uint64, len(f.requests))
	for i, r := range f.requests {
		ids[i] = r.ID
	}
	return ids
}

func (f *fakeTally) requestByID(id uint64) *types.ProofRequest {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, r := range f.requests {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeTally) witnessCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.witnesses)
}

func (f *fakeTally) claimCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.claims)
}

// fakeGossip records broadcast witnesses and set rotations.
type fakeGossip struct {
	mtx       sync.Mutex
	witnesses []*types.Witness
	setIDs    []uint64
}

func (f *fakeGossip) BroadcastWitness(w *types.Witness) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.witnesses = append(f.witnesses, w)
	return nil
}

func (f *fakeGossip) HandleSetChange(activeID uint64) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.setIDs = append(f.setIDs, activeID)
}

func (f *fakeGossip) witnessCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.witnesses)
}

func (f *fakeGossip) witnessAt(i int) *types.Witness {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.witnesses[i]
}

func (f *fakeGossip) setChangeCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.setIDs)
}

// fakeIndex is an in-memory pending-request index.
type fakeIndex struct {
	mtx     sync.Mutex
	pending []*types.ProofRequest
	saved   []*types.ProofRequest
}

func (f *fakeIndex) SaveRequest(req *types.ProofRequest, _ int64) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.saved = append(f.saved, req)
	return nil
}

func (f *fakeIndex) PendingRequests() ([]*types.ProofRequest, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.pending, nil
}

func (f *fakeIndex) savedCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.saved)
}

// fakeObserver records submitted claims.
type fakeObserver struct {
	mtx    sync.Mutex
	claims []*types.InboundClaim
}

func (f *fakeObserver) Submit(claim *types.InboundClaim) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.claims = append(f.claims, claim)
	return nil
}

func (f *fakeObserver) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.claims)
}

type workerFixture struct {
	worker   *notary.Worker
	source   *notary.ChannelSource
	tally    *fakeTally
	gossip   *fakeGossip
	index    *fakeIndex
	observer *fakeObserver
	sets     *session.Tracker
	keys     []secp256k1.PrivKey
	view     *types.ValidatorSetView
}

func genView(t *testing.T, setID uint64, n int) (*types.ValidatorSetView, []secp256k1.PrivKey) {
	t.Helper()
	members := make([]*types.Validator, n)
	keys := make([]secp256k1.PrivKey, n)
	for i := range members {
		priv, err := secp256k1.GenPrivKey()
		require.NoError(t, err)
		keys[i] = priv
		members[i] = &types.Validator{
			Identity:     priv.PubKey().XrplAccountID(),
			BridgePubKey: priv.PubKey(),
			Weight:       1,
		}
	}
	return types.NewValidatorSetView(setID, members), keys
}

// setupWorker builds a worker whose local key is validator 0 of a fresh
// 4-member set, already installed as set 1.
func setupWorker(t *testing.T) *workerFixture {
	t.Helper()
	logger := log.NewTestingLogger(t)

	view, keys := genView(t, 1, 4)
	sets := session.NewTracker(session.DefaultRetainViews)

	f := &workerFixture{
		source:   notary.NewChannelSource(16),
		tally:    &fakeTally{},
		gossip:   &fakeGossip{},
		index:    &fakeIndex{},
		observer: &fakeObserver{},
		sets:     sets,
		keys:     keys,
		view:     view,
	}

	sgn := signer.New(logger, &keystore.BridgeKey{PrivKey: keys[0]}, sets)
	f.worker = notary.NewWorker(logger, f.source, sgn, sets,
		f.tally, f.gossip, f.index, f.observer)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.worker.Start(ctx))
	t.Cleanup(func() {
		cancel()
		f.worker.Wait()
	})
	return f
}

func ethRequest(id uint64) *types.ProofRequest {
	return &types.ProofRequest{
		ID:      id,
		Kind:    types.KindEthereumEvent,
		Payload: bytes.Repeat([]byte{0x22}, 32),
		SetID:   1,
		TTL:     100,
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestWorkerSignsAndFloodsRequests(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})
	f.source.PushRequest(ethRequest(1))

	eventually(t, func() bool { return f.gossip.witnessCount() == 1 }, "witness never broadcast")
	eventually(t, func() bool { return f.tally.witnessCount() == 1 }, "witness never counted")
	require.Equal(t, 1, f.index.savedCount())

	wit := f.gossip.witnessAt(0)
	assert.EqualValues(t, 1, wit.ProofID)
	assert.EqualValues(t, 0, wit.ValidatorIndex)
	require.NoError(t, wit.Verify(f.view))
}

func TestWorkerRelaysOnlyWhenNotInSet(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	// Install a set the local key is not a member of.
	stranger, _ := genView(t, 1, 3)
	f.source.PushSetChange(notary.SetChange{View: stranger})
	f.source.PushRequest(ethRequest(1))

	eventually(t, func() bool { return len(f.tally.requestIDs()) == 1 }, "request never indexed")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.gossip.witnessCount(), "non-member must not sign")
	assert.Zero(t, f.tally.witnessCount())
}

func TestWorkerDefersUntilNotBefore(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})

	req := ethRequest(1)
	req.NotBefore = 10
	f.source.PushRequest(req)

	eventually(t, func() bool { return len(f.tally.requestIDs()) == 1 }, "request never indexed")

	f.source.PushHeight(5)
	eventually(t, func() bool { return f.worker.Height() == 5 }, "height never advanced")
	assert.Zero(t, f.gossip.witnessCount(), "signed before not-before height")

	f.source.PushHeight(10)
	eventually(t, func() bool { return f.gossip.witnessCount() == 1 }, "witness never broadcast")
}

func TestWorkerPauseQueuesIntakeInOrder(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})
	eventually(t, func() bool { return f.gossip.setChangeCount() == 1 }, "set change never applied")

	require.NoError(t, f.worker.Pause())
	f.source.PushRequest(ethRequest(1))
	f.source.PushRequest(ethRequest(2))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, len(f.tally.requestIDs()), "paused worker processed intake")

	require.NoError(t, f.worker.Resume())
	eventually(t, func() bool { return len(f.tally.requestIDs()) == 2 }, "intake never drained")
	assert.Equal(t, []uint64{1, 2}, f.tally.requestIDs())
}

func TestWorkerOriginatesHandoverProofs(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})

	next, _ := genView(t, 2, 4)
	f.source.PushSetChange(notary.SetChange{View: next, EthProofID: 7, XrplProofID: 8})

	eventually(t, func() bool { return len(f.tally.requestIDs()) == 2 }, "handover proofs never originated")

	eth := f.tally.requestByID(7)
	require.NotNil(t, eth)
	assert.Equal(t, types.KindEthereumValidatorSetChange, eth.Kind)
	assert.EqualValues(t, 1, eth.SetID, "handover proof must be signed by the outgoing set")
	assert.NotEmpty(t, eth.Payload)

	xrpl := f.tally.requestByID(8)
	require.NotNil(t, xrpl)
	assert.Equal(t, types.KindXrplValidatorSetChange, xrpl.Kind)
	assert.EqualValues(t, 1, xrpl.SetID)

	// Self-originated requests are rebuilt from the rotation on restart, so
	// they skip the pending index.
	assert.Zero(t, f.index.savedCount())
}

func TestWorkerSkipsXrplHandoverWhenSignersUnchanged(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})

	// Same members, new set id: the door signer list does not rotate.
	next := f.view.Copy()
	next.SetID = 2
	f.source.PushSetChange(notary.SetChange{View: next, EthProofID: 7, XrplProofID: 8})

	eventually(t, func() bool { return len(f.tally.requestIDs()) == 1 }, "eth handover never originated")
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, f.tally.requestByID(8), "unchanged signer list must skip the xrpl proof")
}

func TestWorkerForwardsClaims(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupWorker(t)

	f.source.PushSetChange(notary.SetChange{View: f.view})
	f.source.PushClaim(&types.InboundClaim{
		ClaimID:     3,
		TargetChain: types.ChainEthereum,
		Query:       &types.TxExists{TxHash: bytes.Repeat([]byte{0x01}, 32)},
		SetID:       1,
		TTL:         50,
	})

	eventually(t, func() bool { return f.tally.claimCount() == 1 }, "claim never tallied")
	eventually(t, func() bool { return f.observer.count() == 1 }, "claim never observed")
}

func TestWorkerReplaysPendingRequestsAfterRestart(t *testing.T) {
	defer leaktest.Check(t)()
	logger := log.NewTestingLogger(t)

	view, keys := genView(t, 1, 4)
	sets := session.NewTracker(session.DefaultRetainViews)

	source := notary.NewChannelSource(16)
	tally := &fakeTally{}
	gossip := &fakeGossip{}
	index := &fakeIndex{pending: []*types.ProofRequest{ethRequest(2), ethRequest(1)}}

	sgn := signer.New(logger, &keystore.BridgeKey{PrivKey: keys[0]}, sets)
	w := notary.NewWorker(logger, source, sgn, sets, tally, gossip, index, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})

	// Replays are held until the runtime replays the active set.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, gossip.witnessCount())

	source.PushSetChange(notary.SetChange{View: view})
	eventually(t, func() bool { return gossip.witnessCount() == 2 }, "replayed requests never signed")
	assert.Equal(t, []uint64{1, 2}, tally.requestIDs(), "replay must be ascending by id")
}

func TestWorkerStopsWhenSourceCloses(t *testing.T) {
	defer leaktest.Check(t)()
	logger := log.NewTestingLogger(t)

	view, keys := genView(t, 1, 2)
	sets := session.NewTracker(session.DefaultRetainViews)
	require.NoError(t, sets.Update(view))

	source := notary.NewChannelSource(1)
	sgn := signer.New(logger, &keystore.BridgeKey{PrivKey: keys[0]}, sets)
	w := notary.NewWorker(logger, source, sgn, sets, &fakeTally{}, &fakeGossip{}, &fakeIndex{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	source.Close()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after source closed")
	}
}
