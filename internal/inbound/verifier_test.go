package inbound_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/inbound"
	"github.com/notarynet/notary/internal/keystore"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/types"
)

// fakeChain is a settable ChainClient. All fields are guarded so the
// verifier's observation goroutines can race the test body.
type fakeChain struct {
	mtx sync.Mutex

	latest  uint64
	receipt *inbound.TxReceipt
	retData []byte
	callErr error

	latestCalls int
	callBlocks  []uint64
}

func (c *fakeChain) LatestBlock(ctx context.Context) (uint64, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.latestCalls++
	return c.latest, nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash []byte) (*inbound.TxReceipt, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.receipt, nil
}

func (c *fakeChain) Call(ctx context.Context, contract, callData []byte, block uint64) ([]byte, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.callBlocks = append(c.callBlocks, block)
	return c.retData, c.callErr
}

func (c *fakeChain) setLatest(n uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.latest = n
}

func (c *fakeChain) latestCallCount() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.latestCalls
}

func (c *fakeChain) calledBlocks() []uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]uint64(nil), c.callBlocks...)
}

// fakeTally is a ClaimTally recording votes, with a one-shot injectable
// AddVote error.
type fakeTally struct {
	mtx    sync.Mutex
	status types.ClaimStatus
	votes  []*types.Vote
	addErr error
}

func (f *fakeTally) AddVote(v *types.Vote) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.addErr != nil {
		err := f.addErr
		f.addErr = nil
		return err
	}
	f.votes = append(f.votes, v)
	return nil
}

func (f *fakeTally) ClaimState(id uint64) (*types.ClaimState, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return &types.ClaimState{ClaimID: id, Status: f.status}, nil
}

func (f *fakeTally) voteCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.votes)
}

func (f *fakeTally) vote(i int) *types.Vote {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.votes[i]
}

type fakeBroadcaster struct {
	mtx   sync.Mutex
	votes []*types.Vote
}

func (b *fakeBroadcaster) BroadcastVote(v *types.Vote) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.votes = append(b.votes, v)
	return nil
}

func (b *fakeBroadcaster) voteCount() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.votes)
}

type fixture struct {
	verifier *inbound.Verifier
	chain    *fakeChain
	tally    *fakeTally
	bc       *fakeBroadcaster
	keys     []secp256k1.PrivKey
}

// newFixture starts a verifier over a 3-member set 5 with the local key at
// index 1 and chain serving ChainEthereum.
func newFixture(t *testing.T, chain *fakeChain, opts ...inbound.Option) *fixture {
	t.Helper()
	logger := log.NewTestingLogger(t)

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
	sets := session.NewTracker(0)
	require.NoError(t, sets.Update(types.NewValidatorSetView(5, members)))
	sgn := signer.New(logger, &keystore.BridgeKey{PrivKey: keys[1]}, sets)

	tally := &fakeTally{status: types.ClaimStatusPending}
	bc := &fakeBroadcaster{}
	clients := map[types.ChainID]inbound.ChainClient{types.ChainEthereum: chain}

	v := inbound.NewVerifier(logger, sgn, tally, bc, clients, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, v.Start(ctx))
	t.Cleanup(func() {
		cancel()
		v.Wait()
	})

	return &fixture{verifier: v, chain: chain, tally: tally, bc: bc, keys: keys}
}

func txExistsClaim(id uint64, filter []byte) *types.InboundClaim {
	return &types.InboundClaim{
		ClaimID:     id,
		TargetChain: types.ChainEthereum,
		Query: &types.TxExists{
			TxHash:    bytes.Repeat([]byte{0x77}, crypto.HashSize),
			LogFilter: filter,
		},
		SetID: 5,
		TTL:   100,
	}
}

func returnDataClaim(id, block uint64) *types.InboundClaim {
	return &types.InboundClaim{
		ClaimID:     id,
		TargetChain: types.ChainEthereum,
		Query: &types.ReturnDataAt{
			Contract: bytes.Repeat([]byte{0xc0}, 20),
			CallData: []byte{0x70, 0xa0, 0x82, 0x31},
			Block:    block,
		},
		SetID: 5,
		TTL:   100,
	}
}

func waitForVote(t *testing.T, f *fixture) *types.Vote {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.tally.voteCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	return f.tally.vote(0)
}

func TestVerifierVotesTxExists(t *testing.T) {
	topic := bytes.Repeat([]byte{0xee}, 32)
	logData := []byte("deposit(42)")
	contract := bytes.Repeat([]byte{0xbb}, 20)
	chain := &fakeChain{
		latest: 110,
		receipt: &inbound.TxReceipt{
			Status:      1,
			BlockNumber: 100,
			Logs: []inbound.TxLog{
				{Address: contract, Topics: [][]byte{topic}, Data: logData},
			},
		},
	}
	f := newFixture(t, chain)

	claim := txExistsClaim(31, topic)
	require.NoError(t, f.verifier.Submit(claim))
	vote := waitForVote(t, f)

	// address || n_topics || topics || data, anchored at the receipt block
	value := append(append(append(append([]byte{}, contract...), 1), topic...), logData...)
	want := inbound.Observation{Code: inbound.ObservationOK, Value: value, Block: 100}.Hash(31)

	assert.Equal(t, want, vote.ObservedHash)
	assert.EqualValues(t, 31, vote.ClaimID)
	assert.EqualValues(t, 5, vote.SetID)
	assert.EqualValues(t, 1, vote.ValidatorIndex)
	assert.True(t, f.keys[1].PubKey().VerifyDigest(vote.SigningDigest(), vote.Signature))

	require.Eventually(t, func() bool { return f.bc.voteCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestVerifierVotesTxExistsWithoutFilter(t *testing.T) {
	chain := &fakeChain{
		latest:  110,
		receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100},
	}
	f := newFixture(t, chain)

	require.NoError(t, f.verifier.Submit(txExistsClaim(32, nil)))
	vote := waitForVote(t, f)

	want := inbound.Observation{Code: inbound.ObservationOK, Block: 100}.Hash(32)
	assert.Equal(t, want, vote.ObservedHash)
}

func TestVerifierTxExistsFailureSentinels(t *testing.T) {
	topic := bytes.Repeat([]byte{0xee}, 32)
	testCases := []struct {
		name    string
		receipt *inbound.TxReceipt
		code    inbound.ObservationCode
	}{
		{"missing transaction", nil, inbound.ObservationNoTx},
		{"reverted transaction", &inbound.TxReceipt{Status: 0, BlockNumber: 100}, inbound.ObservationTxFailed},
		{"no matching log", &inbound.TxReceipt{
			Status:      1,
			BlockNumber: 100,
			Logs:        []inbound.TxLog{{Topics: [][]byte{bytes.Repeat([]byte{0x01}, 32)}}},
		}, inbound.ObservationNoMatchingLog},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeChain{latest: 110, receipt: tc.receipt})
			require.NoError(t, f.verifier.Submit(txExistsClaim(33, topic)))
			vote := waitForVote(t, f)
			assert.Equal(t, inbound.FailureHash(33, tc.code), vote.ObservedHash)
		})
	}
}

func TestVerifierRetriesUntilConfirmed(t *testing.T) {
	chain := &fakeChain{
		latest:  102, // two confirmations, six required
		receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100},
	}
	f := newFixture(t, chain, inbound.WithRetryInterval(20*time.Millisecond))

	require.NoError(t, f.verifier.Submit(txExistsClaim(34, nil)))

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, f.tally.voteCount())

	chain.setLatest(110)
	vote := waitForVote(t, f)

	want := inbound.Observation{Code: inbound.ObservationOK, Block: 100}.Hash(34)
	assert.Equal(t, want, vote.ObservedHash)
	assert.GreaterOrEqual(t, chain.latestCallCount(), 2)
}

func TestVerifierVotesReturnData(t *testing.T) {
	data := bytes.Repeat([]byte{0x0d}, 32)
	chain := &fakeChain{latest: 50, retData: data}
	f := newFixture(t, chain)

	require.NoError(t, f.verifier.Submit(returnDataClaim(35, 48)))
	vote := waitForVote(t, f)

	want := inbound.Observation{Code: inbound.ObservationOK, Value: data, Block: 48}.Hash(35)
	assert.Equal(t, want, vote.ObservedHash)
	assert.Equal(t, []uint64{48}, chain.calledBlocks())
}

func TestVerifierReturnDataOutdated(t *testing.T) {
	chain := &fakeChain{latest: 200, retData: []byte{0x01}}
	f := newFixture(t, chain, inbound.WithMaxBlockLookBehind(50))

	require.NoError(t, f.verifier.Submit(returnDataClaim(36, 100)))
	vote := waitForVote(t, f)

	assert.Equal(t, inbound.FailureHash(36, inbound.ObservationOutdated), vote.ObservedHash)
	// the stale call is never executed
	assert.Empty(t, chain.calledBlocks())
}

func TestVerifierReturnDataWaitsForTargetBlock(t *testing.T) {
	chain := &fakeChain{latest: 40, retData: []byte{0x01}}
	f := newFixture(t, chain, inbound.WithRetryInterval(20*time.Millisecond))

	require.NoError(t, f.verifier.Submit(returnDataClaim(37, 48)))

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, f.tally.voteCount())
	require.Empty(t, chain.calledBlocks())

	chain.setLatest(48)
	vote := waitForVote(t, f)
	want := inbound.Observation{Code: inbound.ObservationOK, Value: []byte{0x01}, Block: 48}.Hash(37)
	assert.Equal(t, want, vote.ObservedHash)
}

func TestVerifierReturnDataSizeSentinels(t *testing.T) {
	t.Run("empty return data", func(t *testing.T) {
		f := newFixture(t, &fakeChain{latest: 50, retData: []byte{}})
		require.NoError(t, f.verifier.Submit(returnDataClaim(38, 48)))
		vote := waitForVote(t, f)
		assert.Equal(t, inbound.FailureHash(38, inbound.ObservationEmptyReturnData), vote.ObservedHash)
	})
	t.Run("oversized return data", func(t *testing.T) {
		f := newFixture(t, &fakeChain{latest: 50, retData: make([]byte, inbound.MaxReturnDataSize+1)})
		require.NoError(t, f.verifier.Submit(returnDataClaim(39, 48)))
		vote := waitForVote(t, f)
		assert.Equal(t, inbound.FailureHash(39, inbound.ObservationReturnDataTooLarge), vote.ObservedHash)
	})
}

func TestVerifierSkipsIneligibleSet(t *testing.T) {
	logger := log.NewTestingLogger(t)

	// local key outside the set: Submit succeeds but nothing is observed
	members := make([]*types.Validator, 2)
	for i := range members {
		priv, err := secp256k1.GenPrivKey()
		require.NoError(t, err)
		members[i] = &types.Validator{
			Identity:     priv.PubKey().XrplAccountID(),
			BridgePubKey: priv.PubKey(),
			Weight:       1,
		}
	}
	sets := session.NewTracker(0)
	require.NoError(t, sets.Update(types.NewValidatorSetView(5, members)))
	stranger, err := secp256k1.GenPrivKey()
	require.NoError(t, err)
	sgn := signer.New(logger, &keystore.BridgeKey{PrivKey: stranger}, sets)

	chain := &fakeChain{latest: 110, receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100}}
	tally := &fakeTally{status: types.ClaimStatusPending}
	v := inbound.NewVerifier(logger, sgn, tally, &fakeBroadcaster{},
		map[types.ChainID]inbound.ChainClient{types.ChainEthereum: chain})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, v.Start(ctx))
	t.Cleanup(func() {
		cancel()
		v.Wait()
	})

	require.NoError(t, v.Submit(txExistsClaim(40, nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, tally.voteCount())
	assert.Zero(t, chain.latestCallCount())
}

func TestVerifierNoClientForTargetChain(t *testing.T) {
	chain := &fakeChain{latest: 110, receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100}}
	f := newFixture(t, chain)

	claim := txExistsClaim(41, nil)
	claim.TargetChain = types.ChainXrpl
	require.NoError(t, f.verifier.Submit(claim))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.tally.voteCount())
	assert.Zero(t, chain.latestCallCount())
}

func TestVerifierStopsWhenClaimResolved(t *testing.T) {
	chain := &fakeChain{latest: 110, receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100}}
	f := newFixture(t, chain)
	f.tally.status = types.ClaimStatusAccepted

	require.NoError(t, f.verifier.Submit(txExistsClaim(42, nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.tally.voteCount())
	assert.Zero(t, chain.latestCallCount())
}

func TestVerifierRetriesVoteOnFullQueue(t *testing.T) {
	chain := &fakeChain{latest: 110, receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100}}
	f := newFixture(t, chain, inbound.WithRetryInterval(20*time.Millisecond))
	f.tally.addErr = aggregator.ErrQueueFull

	require.NoError(t, f.verifier.Submit(txExistsClaim(43, nil)))
	vote := waitForVote(t, f)

	want := inbound.Observation{Code: inbound.ObservationOK, Block: 100}.Hash(43)
	assert.Equal(t, want, vote.ObservedHash)
	require.Eventually(t, func() bool { return f.bc.voteCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestVerifierDuplicateVoteIsFinal(t *testing.T) {
	chain := &fakeChain{latest: 110, receipt: &inbound.TxReceipt{Status: 1, BlockNumber: 100}}
	f := newFixture(t, chain)
	f.tally.addErr = aggregator.ErrDuplicateVote

	require.NoError(t, f.verifier.Submit(txExistsClaim(44, nil)))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, f.tally.voteCount())
	assert.Zero(t, f.bc.voteCount())
}

func TestVerifierSubmitAfterStop(t *testing.T) {
	chain := &fakeChain{latest: 110}
	f := newFixture(t, chain)

	require.NoError(t, f.verifier.Stop())
	f.verifier.Wait()
	require.ErrorIs(t, f.verifier.Submit(txExistsClaim(45, nil)), inbound.ErrNotRunning)
}

func TestObservationHashes(t *testing.T) {
	ok := inbound.Observation{Code: inbound.ObservationOK, Value: []byte{0x01}, Block: 9}
	assert.Equal(t, ok.Hash(1), ok.Hash(1))
	assert.NotEqual(t, ok.Hash(1), ok.Hash(2))
	assert.Len(t, ok.Hash(1), crypto.HashSize)

	// every failure sentinel is distinct, and distinct from any value hash
	codes := []inbound.ObservationCode{
		inbound.ObservationNoTx,
		inbound.ObservationTxFailed,
		inbound.ObservationNoMatchingLog,
		inbound.ObservationEmptyReturnData,
		inbound.ObservationReturnDataTooLarge,
		inbound.ObservationOutdated,
	}
	seen := map[string]bool{string(ok.Hash(7)): true}
	for _, code := range codes {
		h := string(inbound.FailureHash(7, code))
		assert.False(t, seen[h], "sentinel for %s collides", code)
		seen[h] = true
	}
}
