package aggregator

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/notarynet/notary/types"
)

// voteOutcome classifies what a record did with a vote.
type voteOutcome int

const (
	voteCounted voteOutcome = iota
	voteAccepted
	voteRejected
	voteDuplicate
)

// claimRecord is the collection state for one inbound claim. Votes tally by
// observed hash; the claim accepts as soon as one hash reaches the quorum
// and rejects as soon as no hash can. Like proof records, claim records are
// confined to one shard goroutine.
type claimRecord struct {
	claim *types.InboundClaim
	view  *types.ValidatorSetView

	required int64
	deadline int64
	created  int64
	doneAt   int64

	status   types.ClaimStatus
	votes    map[uint32]*types.Vote // validator index -> counted vote, first wins
	weights  map[string]int64       // observed hash -> accumulated weight
	counted  int64                  // total weight counted so far
	lead     int64                  // weight of the leading hash
	accepted []byte

	pending []*types.Vote // held until the claim is indexed
}

func newClaimRecord(height int64) *claimRecord {
	return &claimRecord{
		created: height,
		votes:   make(map[uint32]*types.Vote),
		weights: make(map[string]int64),
	}
}

func (r *claimRecord) indexed() bool { return r.claim != nil }

func (r *claimRecord) terminal() bool {
	return r.status == types.ClaimStatusAccepted || r.status == types.ClaimStatusRejected
}

// index attaches the runtime claim to the record. Claims always resolve at
// the supermajority quorum of their set.
func (r *claimRecord) index(claim *types.InboundClaim, view *types.ValidatorSetView, height int64) {
	r.claim = claim
	r.view = view
	r.required = view.QuorumWeight()
	r.status = types.ClaimStatusPending
	r.deadline = height + claim.TTL
}

// addVote verifies and counts one vote. A validator votes once; a second
// vote with a different hash is misbehavior and is refused without touching
// the tally.
func (r *claimRecord) addVote(v *types.Vote) (voteOutcome, error) {
	if v.SetID != r.claim.SetID {
		return 0, fmt.Errorf("vote set %d does not match claim set %d", v.SetID, r.claim.SetID)
	}
	if err := v.Verify(r.view); err != nil {
		return 0, err
	}

	prev, seen := r.votes[v.ValidatorIndex]
	if seen && !bytes.Equal(prev.ObservedHash, v.ObservedHash) {
		return 0, ErrConflictingVote
	}

	switch {
	case r.terminal():
		return 0, ErrClaimResolved
	case seen:
		return voteDuplicate, nil
	}

	m, _ := r.view.Member(v.ValidatorIndex)
	key := string(v.ObservedHash)
	r.votes[v.ValidatorIndex] = v
	r.weights[key] += m.Weight
	r.counted += m.Weight
	if r.weights[key] > r.lead {
		r.lead = r.weights[key]
	}

	if r.weights[key] >= r.required {
		r.status = types.ClaimStatusAccepted
		r.accepted = v.ObservedHash
		return voteAccepted, nil
	}

	// Once even a unanimous remainder cannot push the leading hash over the
	// quorum, the claim is dead and can reject early.
	remaining := r.view.TotalWeight() - r.counted
	if r.lead+remaining < r.required {
		r.status = types.ClaimStatusRejected
		return voteRejected, nil
	}
	return voteCounted, nil
}

// bufferVote holds a vote that arrived before its claim.
func (r *claimRecord) bufferVote(v *types.Vote, max int) error {
	for _, held := range r.pending {
		if held.ValidatorIndex == v.ValidatorIndex && bytes.Equal(held.Signature, v.Signature) {
			return ErrDuplicateVote
		}
	}
	if len(r.pending) >= max {
		return ErrPendingOverflow
	}
	r.pending = append(r.pending, v)
	return nil
}

// takePending hands the buffered votes to the caller and clears the buffer.
func (r *claimRecord) takePending() []*types.Vote {
	p := r.pending
	r.pending = nil
	return p
}

// reject marks the record terminal without an accepted hash.
func (r *claimRecord) reject(height int64) {
	r.status = types.ClaimStatusRejected
	r.doneAt = height
}

// outcome returns the resolution carried on the claim's event.
func (r *claimRecord) outcome() types.ClaimOutcome {
	return types.ClaimOutcome{Status: r.status, AcceptedHash: r.accepted}
}

// dissenters lists, in ascending order, the validators whose vote disagrees
// with the accepted hash. Only meaningful for accepted claims.
func (r *claimRecord) dissenters() []uint32 {
	if r.status != types.ClaimStatusAccepted {
		return nil
	}
	var out []uint32
	for idx, v := range r.votes {
		if !bytes.Equal(v.ObservedHash, r.accepted) {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// countedVotes returns the counted votes in ascending validator order, for
// gossip retransmission.
func (r *claimRecord) countedVotes() []*types.Vote {
	out := make([]*types.Vote, 0, len(r.votes))
	for _, v := range r.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorIndex < out[j].ValidatorIndex })
	return out
}

// voteWeights copies the tally for audit events.
func (r *claimRecord) voteWeights() map[string]int64 {
	out := make(map[string]int64, len(r.weights))
	for hash, weight := range r.weights {
		out[hash] = weight
	}
	return out
}

// snapshot returns the externally visible state of the record.
func (r *claimRecord) snapshot() *types.ClaimState {
	if !r.indexed() {
		return nil
	}
	return &types.ClaimState{
		ClaimID:      r.claim.ClaimID,
		TargetChain:  r.claim.TargetChain,
		SetID:        r.claim.SetID,
		Status:       r.status,
		VoteCount:    len(r.votes),
		LeadWeight:   r.lead,
		QuorumWeight: r.required,
		AcceptedHash: r.accepted,
	}
}
