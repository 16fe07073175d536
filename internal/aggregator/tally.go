package aggregator

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/notarynet/notary/internal/codec"
	"github.com/notarynet/notary/types"
)

// proofKey identifies a proof record. Proof ids are monotonic per
// destination chain, so the chain disambiguates.
type proofKey struct {
	chain types.ChainID
	id    uint64
}

func keyForKind(kind types.ProofKind, id uint64) proofKey {
	return proofKey{chain: kind.ChainID(), id: id}
}

// witnessOutcome classifies what a record did with a witness.
type witnessOutcome int

const (
	witnessCounted witnessOutcome = iota
	witnessCompleted
	witnessDuplicate
	witnessEquivocation
)

// proofRecord is the authoritative collection state for one proof request.
// A record is created either by the runtime indexing a request or by a
// witness arriving ahead of it; in the latter case witnesses buffer until
// the request lands and are replayed through the normal counting path.
//
// Records are confined to one shard goroutine and need no locking.
type proofRecord struct {
	req    *types.ProofRequest
	view   *types.ValidatorSetView
	cdc    codec.Codec
	anchor []byte // signer-independent digest identifying the signed content

	status   types.ProofStatus
	required int64 // weight at which the proof freezes
	eligible int64 // weight that could ever witness the request
	deadline int64 // height at which collection gives up
	created  int64 // height the record first appeared
	doneAt   int64 // height the record went terminal

	weight  int64
	sigs    map[uint32][]byte   // validator index -> counted signature, first seen wins
	flagged map[uint32]struct{} // validators already reported for equivocation
	result  *types.FinalizedProof

	pending []*types.Witness // held until the request is indexed
}

func newProofRecord(height int64) *proofRecord {
	return &proofRecord{created: height, sigs: make(map[uint32][]byte)}
}

func (r *proofRecord) indexed() bool { return r.req != nil }

func (r *proofRecord) terminal() bool {
	return r.status == types.ProofStatusComplete || r.status == types.ProofStatusExpired
}

// index attaches the runtime request to the record and fixes the freeze
// threshold. On failure the record lands terminal so the failure stays
// queryable; the request can never make progress.
//
// A threshold below half the eligible weight would let a minority of the
// set forge proofs, so such requests are refused outright.
func (r *proofRecord) index(req *types.ProofRequest, view *types.ValidatorSetView, height int64) error {
	r.req = req
	r.view = view
	r.required = types.RequiredWitnessWeight(req, view)
	r.eligible = types.EligibleWitnessWeight(req, view)

	c, err := codec.ForKind(req.Kind)
	if err != nil {
		r.expire(height)
		return err
	}
	anchor, err := c.RequestDigest(req)
	if err != nil {
		r.expire(height)
		return err
	}
	if 2*r.required < r.eligible {
		r.expire(height)
		return fmt.Errorf("threshold weight %d below half of eligible weight %d", r.required, r.eligible)
	}

	r.cdc = c
	r.anchor = anchor
	r.status = types.ProofStatusPending
	r.deadline = height + req.TTL
	return nil
}

// addWitness verifies and counts one witness against an indexed record.
// The signature is checked against the digest the codec derives from the
// request, not the digest the witness claims, so a witness over the wrong
// content is rejected even when its signature is internally consistent.
//
// First seen wins: a second, different signature from the same validator is
// equivocation and yields evidence once per validator without changing the
// count. Witnesses for completed records still pass through the
// equivocation check before being turned away.
func (r *proofRecord) addWitness(w *types.Witness) (witnessOutcome, *types.EquivocationEvidence, error) {
	// Expired records include requests that failed at indexing and never
	// got a codec, so they bail before any digest work.
	if r.status == types.ProofStatusExpired {
		return 0, nil, ErrProofExpired
	}
	if w.Kind != r.req.Kind {
		return 0, nil, fmt.Errorf("witness kind %s does not match request kind %s", w.Kind, r.req.Kind)
	}
	if w.SetID != r.req.SetID {
		return 0, nil, fmt.Errorf("witness set %d does not match request set %d", w.SetID, r.req.SetID)
	}
	if !r.req.AllowsSigner(w.ValidatorIndex) {
		return 0, nil, fmt.Errorf("validator %d outside the request's signer subset", w.ValidatorIndex)
	}
	m, ok := r.view.Member(w.ValidatorIndex)
	if !ok {
		return 0, nil, fmt.Errorf("validator index %d outside set %d", w.ValidatorIndex, r.view.SetID)
	}

	expected, err := r.cdc.Digest(r.req, m.BridgePubKey)
	if err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(w.Digest, expected) {
		return 0, nil, fmt.Errorf("witness digest does not match request %d", r.req.ID)
	}
	if !m.BridgePubKey.VerifyDigest(w.Digest, w.Signature) {
		return 0, nil, fmt.Errorf("witness signature from validator %d does not verify", w.ValidatorIndex)
	}

	prev, seen := r.sigs[w.ValidatorIndex]
	if seen && !bytes.Equal(prev, w.Signature) {
		if _, done := r.flagged[w.ValidatorIndex]; done {
			return witnessDuplicate, nil, nil
		}
		if r.flagged == nil {
			r.flagged = make(map[uint32]struct{})
		}
		r.flagged[w.ValidatorIndex] = struct{}{}
		ev := &types.EquivocationEvidence{
			ProofID:         w.ProofID,
			Kind:            w.Kind,
			SetID:           w.SetID,
			ValidatorIndex:  w.ValidatorIndex,
			Digest:          w.Digest,
			FirstSignature:  prev,
			SecondSignature: w.Signature,
		}
		return witnessEquivocation, ev, nil
	}

	switch {
	case r.status == types.ProofStatusComplete:
		return 0, nil, ErrProofComplete
	case seen:
		return witnessDuplicate, nil, nil
	}

	r.sigs[w.ValidatorIndex] = w.Signature
	r.weight += m.Weight
	r.status = types.ProofStatusCollecting
	if r.weight >= r.required {
		r.freeze()
		return witnessCompleted, nil, nil
	}
	return witnessCounted, nil, nil
}

// bufferWitness holds a witness that arrived before its request, bounding
// memory per record. Exact duplicates are dropped here so a replayed gossip
// message cannot fill the buffer.
func (r *proofRecord) bufferWitness(w *types.Witness, max int) error {
	for _, held := range r.pending {
		if held.ValidatorIndex == w.ValidatorIndex && bytes.Equal(held.Signature, w.Signature) {
			return ErrDuplicateWitness
		}
	}
	if len(r.pending) >= max {
		return ErrPendingOverflow
	}
	r.pending = append(r.pending, w)
	return nil
}

// takePending hands the buffered witnesses to the caller and clears the
// buffer.
func (r *proofRecord) takePending() []*types.Witness {
	p := r.pending
	r.pending = nil
	return p
}

// freeze orders the counted signatures by validator index and produces the
// immutable result every honest node arrives at byte for byte.
func (r *proofRecord) freeze() {
	indices := make([]uint32, 0, len(r.sigs))
	for idx := range r.sigs {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	sigs := make([]types.ProofSignature, len(indices))
	for i, idx := range indices {
		sigs[i] = types.ProofSignature{ValidatorIndex: idx, Signature: r.sigs[idx]}
	}
	r.result = &types.FinalizedProof{
		ProofID:        r.req.ID,
		Kind:           r.req.Kind,
		SetID:          r.req.SetID,
		Digest:         r.anchor,
		Signatures:     sigs,
		EncodedPayload: r.req.Payload,
	}
	r.status = types.ProofStatusComplete
}

// countedWitnesses rebuilds the counted witnesses in ascending validator
// order, for gossip retransmission. Digests are rederived from the request,
// which is exactly what made the signatures countable in the first place.
func (r *proofRecord) countedWitnesses() []*types.Witness {
	if !r.indexed() || r.cdc == nil {
		return nil
	}
	indices := make([]uint32, 0, len(r.sigs))
	for idx := range r.sigs {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]*types.Witness, 0, len(indices))
	for _, idx := range indices {
		m, ok := r.view.Member(idx)
		if !ok {
			continue
		}
		digest, err := r.cdc.Digest(r.req, m.BridgePubKey)
		if err != nil {
			continue
		}
		out = append(out, &types.Witness{
			ProofID:        r.req.ID,
			Kind:           r.req.Kind,
			SetID:          r.req.SetID,
			ValidatorIndex: idx,
			Digest:         digest,
			Signature:      r.sigs[idx],
		})
	}
	return out
}

// expire marks the record terminal without a result.
func (r *proofRecord) expire(height int64) {
	r.status = types.ProofStatusExpired
	r.doneAt = height
}

// snapshot returns the externally visible state of the record. Records that
// never saw their request have no public state.
func (r *proofRecord) snapshot() *types.ProofState {
	if !r.indexed() {
		return nil
	}
	return &types.ProofState{
		ProofID:       r.req.ID,
		Kind:          r.req.Kind,
		SetID:         r.req.SetID,
		Status:        r.status,
		WitnessCount:  len(r.sigs),
		WitnessWeight: r.weight,
		QuorumWeight:  r.required,
		Result:        r.result,
	}
}
