package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/proofstore"
	"github.com/notarynet/notary/internal/pubsub"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/rpc"
	"github.com/notarynet/notary/types"
)

// fakeStore serves canned proofs and evidence.
type fakeStore struct {
	proofs   map[string]*types.FinalizedProof
	evidence []*types.EquivocationEvidence
}

func proofKey(chain types.ChainID, id uint64) string {
	return fmt.Sprintf("%d/%d", chain, id)
}

func (f *fakeStore) GetProof(chain types.ChainID, id uint64) (*types.FinalizedProof, error) {
	p, ok := f.proofs[proofKey(chain, id)]
	if !ok {
		return nil, proofstore.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListEvidence(max int) ([]*types.EquivocationEvidence, error) {
	if max > len(f.evidence) {
		max = len(f.evidence)
	}
	return f.evidence[:max], nil
}

func (f *fakeStore) Info() proofstore.Info {
	return proofstore.Info{Proofs: int64(len(f.proofs)), Evidence: int64(len(f.evidence))}
}

// fakeTally serves canned aggregator state.
type fakeTally struct {
	claims map[uint64]*types.ClaimState
	status aggregator.Status
	marks  map[types.ChainID]uint64
}

func (f *fakeTally) ClaimState(id uint64) (*types.ClaimState, error) {
	st, ok := f.claims[id]
	if !ok {
		return nil, aggregator.ErrUnknownClaim
	}
	return st, nil
}

func (f *fakeTally) Status() aggregator.Status { return f.status }

func (f *fakeTally) Watermark(chain types.ChainID) (uint64, bool) {
	wm, ok := f.marks[chain]
	return wm, ok
}

type rpcFixture struct {
	srv   *rpc.Server
	url   string
	wsURL string
	store *fakeStore
	tally *fakeTally
	sets  *session.Tracker
	bus   *pubsub.Bus
	view  *types.ValidatorSetView
	keys  []secp256k1.PrivKey
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

func setupServer(t *testing.T) *rpcFixture {
	t.Helper()
	logger := log.NewTestingLogger(t)

	view, keys := genView(t, 1, 4)
	sets := session.NewTracker(session.DefaultRetainViews)
	require.NoError(t, sets.Update(view))

	bus := pubsub.NewBus(logger)
	f := &rpcFixture{
		store: &fakeStore{proofs: map[string]*types.FinalizedProof{}},
		tally: &fakeTally{claims: map[uint64]*types.ClaimState{}, marks: map[types.ChainID]uint64{}},
		sets:  sets,
		bus:   bus,
		view:  view,
		keys:  keys,
	}
	f.srv = rpc.NewServer(logger, "tcp://127.0.0.1:0", rpc.Env{
		Moniker: "test-node",
		Store:   f.store,
		Tally:   f.tally,
		Sets:    sets,
		Bus:     bus,
		Heights: func() int64 { return 42 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		f.srv.Wait()
		bus.Close()
	})

	f.url = "http://" + f.srv.Addr()
	f.wsURL = "ws://" + f.srv.Addr() + "/websocket"
	return f
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}) rpc.RPCResponse {
	t.Helper()
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		require.NoError(t, err)
	}
	body, err := json.Marshal(rpc.RPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: paramsJSON})
	require.NoError(t, err)

	httpResp, err := http.Post(f.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var resp rpc.RPCResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return resp
}

// signedProof builds a finalized proof signed by the given validators.
func signedProof(t *testing.T, f *rpcFixture, id uint64, kind types.ProofKind, indices ...uint32) *types.FinalizedProof {
	t.Helper()
	digest := crypto.Sha256([]byte(fmt.Sprintf("proof-%d", id)))
	sigs := make([]types.ProofSignature, len(indices))
	for i, idx := range indices {
		sig, err := f.keys[idx].SignDigest(digest)
		require.NoError(t, err)
		sigs[i] = types.ProofSignature{ValidatorIndex: idx, Signature: sig}
	}
	return &types.FinalizedProof{
		ProofID:        id,
		Kind:           kind,
		SetID:          1,
		Digest:         digest,
		Signatures:     sigs,
		EncodedPayload: []byte{0xaa, 0xbb},
	}
}

func TestGetEventProofNullWhileIncomplete(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	resp := f.call(t, "notary_getEventProof", []uint64{9})
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))
}

func TestGetEventProofServesCompletedProof(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	proof := signedProof(t, f, 5, types.KindEthereumEvent, 0, 2, 3)
	f.store.proofs[proofKey(types.ChainEthereum, 5)] = proof

	resp := f.call(t, "notary_getEventProof", map[string]uint64{"event_id": 5})
	require.Nil(t, resp.Error)

	var got rpc.EthEventProofResponse
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.EqualValues(t, 5, got.EventID)
	assert.EqualValues(t, 1, got.ValidatorSetID)
	require.Len(t, got.Signatures, 4, "signatures expand over every validator slot")
	require.Len(t, got.Validators, 4)

	// contributing slots carry the real signature, absent ones zeroes
	assert.Equal(t, []byte(proof.Signatures[0].Signature), []byte(got.Signatures[0]))
	assert.Equal(t, make([]byte, secp256k1.SignatureSize), []byte(got.Signatures[1]))
}

func TestGetXrplTxProofServesSigners(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	proof := signedProof(t, f, 7, types.KindXrplTransaction, 1, 2)
	f.store.proofs[proofKey(types.ChainXrpl, 7)] = proof

	resp := f.call(t, "notary_getXrplTxProof", []uint64{7})
	require.Nil(t, resp.Error)

	var got rpc.XrplEventProofResponse
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	require.Len(t, got.Signers, 2)
	assert.Equal(t, []byte(f.keys[1].PubKey()), []byte(got.Signers[0].PublicKey))
	assert.NotEmpty(t, got.Signers[0].Signature, "signatures must be DER re-encoded")
}

func TestGetClaim(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	resp := f.call(t, "notary_getClaim", []uint64{11})
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))

	f.tally.claims[11] = &types.ClaimState{
		ClaimID:      11,
		TargetChain:  types.ChainEthereum,
		SetID:        1,
		Status:       types.ClaimStatusAccepted,
		VoteCount:    3,
		QuorumWeight: 3,
	}
	resp = f.call(t, "notary_getClaim", []uint64{11})
	require.Nil(t, resp.Error)
	var st types.ClaimState
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, types.ClaimStatusAccepted, st.Status)
}

func TestStatus(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	f.tally.status = aggregator.Status{PendingProofs: 2, CompletedProofs: 9}
	f.tally.marks[types.ChainEthereum] = 9

	resp := f.call(t, "notary_status", nil)
	require.Nil(t, resp.Error)
	var st rpc.StatusResponse
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, "test-node", st.Moniker)
	assert.EqualValues(t, 42, st.FinalizedHeight)
	require.NotNil(t, st.ActiveSetID)
	assert.EqualValues(t, 1, *st.ActiveSetID)
	require.NotNil(t, st.EthereumWatermark)
	assert.EqualValues(t, 9, *st.EthereumWatermark)
	assert.Nil(t, st.XrplWatermark)
}

func TestUnknownMethod(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	resp := f.call(t, "notary_bogus", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestWebsocketStreamsFinalizedProofs(t *testing.T) {
	defer leaktest.Check(t)()
	f := setupServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := json.Marshal(rpc.RPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "notary_subscribeEventProofs"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack rpc.RPCResponse
	require.NoError(t, conn.ReadJSON(&ack))
	require.Nil(t, ack.Error)

	proof := signedProof(t, f, 3, types.KindEthereumEvent, 0, 1, 2)
	f.bus.Publish(types.EventProofFinalized{Proof: proof})

	var note rpc.RPCResponse
	require.NoError(t, conn.ReadJSON(&note))
	require.Nil(t, note.Error)

	var got rpc.EthEventProofResponse
	require.NoError(t, json.Unmarshal(note.Result, &got))
	assert.EqualValues(t, 3, got.EventID)
}
