package aggregator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/notarynet/notary/types"
)

// shardMsg is the closed set of messages a shard loop understands.
type shardMsg interface{}

type reqMsg struct {
	req   *types.ProofRequest
	reply chan error
}

type witMsg struct {
	w     *types.Witness
	reply chan error
}

type claimMsg struct {
	claim *types.InboundClaim
	reply chan error
}

type voteMsg struct {
	v     *types.Vote
	reply chan error
}

type tickMsg struct {
	height int64
	reply  chan error
}

type setChangeMsg struct {
	activeID uint64
	reply    chan error
}

type proofStateMsg struct {
	key   proofKey
	reply chan *types.ProofState
}

type claimStateMsg struct {
	id    uint64
	reply chan *types.ClaimState
}

type witnessListMsg struct {
	key   proofKey
	reply chan []*types.Witness
}

type voteListMsg struct {
	id    uint64
	reply chan []*types.Vote
}

type inFlightMsg struct {
	max   int
	reply chan inFlightPart
}

// inFlightPart is one shard's share of the open work snapshot.
type inFlightPart struct {
	proofs []ProofRef
	claims []uint64
}

// shard owns a partition of the proof and claim records. Only its loop
// goroutine touches them.
type shard struct {
	msgs   chan shardMsg
	proofs map[proofKey]*proofRecord
	claims map[uint64]*claimRecord
	height int64
}

func newShard(depth int) *shard {
	return &shard{
		msgs:   make(chan shardMsg, depth),
		proofs: make(map[proofKey]*proofRecord),
		claims: make(map[uint64]*claimRecord),
	}
}

// runShard drains one shard until the aggregator stops.
func (a *Aggregator) runShard(ctx context.Context, sh *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sh.msgs:
			a.handle(sh, m)
		}
	}
}

// handle dispatches one message. Every message is replied to exactly once.
func (a *Aggregator) handle(sh *shard, m shardMsg) {
	switch msg := m.(type) {
	case *reqMsg:
		msg.reply <- a.handleRequest(sh, msg.req)
	case *witMsg:
		msg.reply <- a.handleWitness(sh, msg.w)
	case *claimMsg:
		msg.reply <- a.handleClaim(sh, msg.claim)
	case *voteMsg:
		msg.reply <- a.handleVote(sh, msg.v)
	case *tickMsg:
		a.handleTick(sh, msg.height)
		msg.reply <- nil
	case *setChangeMsg:
		a.handleSetChange(sh, msg.activeID)
		msg.reply <- nil
	case *proofStateMsg:
		var st *types.ProofState
		if rec, ok := sh.proofs[msg.key]; ok {
			st = rec.snapshot()
		}
		msg.reply <- st
	case *claimStateMsg:
		var st *types.ClaimState
		if rec, ok := sh.claims[msg.id]; ok {
			st = rec.snapshot()
		}
		msg.reply <- st
	case *witnessListMsg:
		var ws []*types.Witness
		if rec, ok := sh.proofs[msg.key]; ok {
			ws = rec.countedWitnesses()
		}
		msg.reply <- ws
	case *voteListMsg:
		var vs []*types.Vote
		if rec, ok := sh.claims[msg.id]; ok && rec.indexed() {
			vs = rec.countedVotes()
		}
		msg.reply <- vs
	case *inFlightMsg:
		msg.reply <- collectInFlight(sh, msg.max)
	default:
		a.logger.Error("unknown shard message", "type", fmt.Sprintf("%T", m))
	}
}

func (a *Aggregator) handleRequest(sh *shard, req *types.ProofRequest) error {
	key := keyForKind(req.Kind, req.ID)
	if a.marks.isComplete(key.chain, key.id) {
		a.logger.Debug("ignoring request for a completed proof",
			"proof_id", req.ID, "kind", req.Kind.String())
		return nil
	}
	rec := sh.proofs[key]
	if rec != nil && rec.indexed() {
		a.logger.Debug("ignoring replayed proof request",
			"proof_id", req.ID, "kind", req.Kind.String())
		return nil
	}

	view, ok := a.sets.View(req.SetID)
	if !ok {
		return fmt.Errorf("no view of validator set %d for proof %d", req.SetID, req.ID)
	}
	if rec == nil {
		rec = newProofRecord(sh.height)
		sh.proofs[key] = rec
	}

	if err := rec.index(req, view, sh.height); err != nil {
		a.failProof(rec, err.Error())
		return err
	}
	if a.sets.IsStale(req.SetID) {
		rec.expire(sh.height)
		a.failProof(rec, "validator set superseded")
		return fmt.Errorf("proof %d references superseded set %d", req.ID, req.SetID)
	}

	a.metrics.PendingProofs.Set(float64(atomic.AddInt64(&a.pendingProofs, 1)))
	a.logger.Debug("indexed proof request",
		"proof_id", req.ID,
		"kind", req.Kind.String(),
		"set_id", req.SetID,
		"required_weight", rec.required,
		"deadline", rec.deadline)

	for _, w := range rec.takePending() {
		if err := a.countWitness(sh, key, rec, w); err != nil {
			a.logger.Debug("dropping buffered witness",
				"proof_id", w.ProofID, "validator_index", w.ValidatorIndex, "err", err.Error())
		}
	}
	return nil
}

func (a *Aggregator) handleWitness(sh *shard, w *types.Witness) error {
	key := keyForKind(w.Kind, w.ProofID)
	if a.marks.isComplete(key.chain, key.id) {
		return ErrStaleWitness
	}
	if a.sets.IsStale(w.SetID) {
		return ErrStaleWitness
	}

	rec := sh.proofs[key]
	if rec == nil || !rec.indexed() {
		// The witness raced its request. Verify what the set tracker allows
		// and hold it until the request lands; witnesses under sets we have
		// not seen yet are held unverified and re-checked at drain.
		if view, ok := a.sets.View(w.SetID); ok {
			if err := w.Verify(view); err != nil {
				return err
			}
		} else if !a.sets.IsFuture(w.SetID) {
			return ErrStaleWitness
		}
		if rec == nil {
			rec = newProofRecord(sh.height)
			sh.proofs[key] = rec
		}
		return rec.bufferWitness(w, a.maxPending)
	}
	return a.countWitness(sh, key, rec, w)
}

// countWitness runs one witness through an indexed record and translates
// the outcome into metrics, events, and persistence.
func (a *Aggregator) countWitness(sh *shard, key proofKey, rec *proofRecord, w *types.Witness) error {
	outcome, ev, err := rec.addWitness(w)
	if err != nil {
		return err
	}
	switch outcome {
	case witnessDuplicate:
		a.metrics.DuplicateWitnesses.Add(1)
		return ErrDuplicateWitness
	case witnessEquivocation:
		a.metrics.Equivocations.Add(1)
		if err := a.store.SaveEvidence(ev); err != nil {
			a.logger.Error("failed to persist equivocation evidence",
				"proof_id", ev.ProofID, "err", err.Error())
		}
		a.bus.Publish(types.EventEquivocation{Evidence: ev})
		a.logger.Error("validator equivocated on a proof",
			"proof_id", ev.ProofID,
			"kind", ev.Kind.String(),
			"set_id", ev.SetID,
			"validator_index", ev.ValidatorIndex)
		return nil
	case witnessCompleted:
		a.metrics.WitnessesCounted.Add(1)
		a.completeProof(sh, key, rec)
		return nil
	default:
		a.metrics.WitnessesCounted.Add(1)
		a.logger.Debug("counted witness",
			"proof_id", w.ProofID,
			"validator_index", w.ValidatorIndex,
			"weight", rec.weight,
			"required_weight", rec.required)
		return nil
	}
}

// completeProof publishes and persists a frozen proof.
func (a *Aggregator) completeProof(sh *shard, key proofKey, rec *proofRecord) {
	rec.doneAt = sh.height
	a.marks.markComplete(key.chain, key.id)
	if err := a.store.SaveProof(rec.result, sh.height); err != nil {
		a.logger.Error("failed to persist finalized proof",
			"proof_id", rec.result.ProofID, "err", err.Error())
	}
	if err := a.store.FinishRequest(key.chain, key.id); err != nil {
		a.logger.Error("failed to clear pending request index",
			"proof_id", key.id, "err", err.Error())
	}
	a.metrics.ProofsCompleted.Add(1)
	atomic.AddInt64(&a.completed, 1)
	a.metrics.PendingProofs.Set(float64(atomic.AddInt64(&a.pendingProofs, -1)))
	a.bus.Publish(types.EventProofFinalized{Proof: rec.result})
	a.logger.Info("proof complete",
		"proof_id", rec.result.ProofID,
		"kind", rec.result.Kind.String(),
		"set_id", rec.result.SetID,
		"witnesses", len(rec.result.Signatures),
		"weight", rec.weight,
		"required_weight", rec.required)
}

// failProof records a request that can never complete. Pending-gauge
// accounting stays with the caller; only requests that were collecting
// decrement it.
func (a *Aggregator) failProof(rec *proofRecord, reason string) {
	a.metrics.ProofsExpired.Add(1)
	atomic.AddInt64(&a.expired, 1)
	if err := a.store.FinishRequest(rec.req.Kind.ChainID(), rec.req.ID); err != nil {
		a.logger.Error("failed to clear pending request index",
			"proof_id", rec.req.ID, "err", err.Error())
	}
	a.bus.Publish(types.EventProofFailed{ProofID: rec.req.ID, Kind: rec.req.Kind, Reason: reason})
	a.logger.Error("proof request cannot complete",
		"proof_id", rec.req.ID,
		"kind", rec.req.Kind.String(),
		"set_id", rec.req.SetID,
		"reason", reason)
}

func (a *Aggregator) handleClaim(sh *shard, claim *types.InboundClaim) error {
	rec := sh.claims[claim.ClaimID]
	if rec != nil && rec.indexed() {
		a.logger.Debug("ignoring replayed claim", "claim_id", claim.ClaimID)
		return nil
	}
	view, ok := a.sets.View(claim.SetID)
	if !ok {
		return fmt.Errorf("no view of validator set %d for claim %d", claim.SetID, claim.ClaimID)
	}
	if rec == nil {
		rec = newClaimRecord(sh.height)
		sh.claims[claim.ClaimID] = rec
	}

	rec.index(claim, view, sh.height)
	a.metrics.PendingClaims.Set(float64(atomic.AddInt64(&a.pendingClaims, 1)))
	if a.sets.IsStale(claim.SetID) {
		rec.reject(sh.height)
		a.resolveClaim(sh, rec)
		return fmt.Errorf("claim %d references superseded set %d", claim.ClaimID, claim.SetID)
	}

	a.logger.Debug("indexed inbound claim",
		"claim_id", claim.ClaimID,
		"target_chain", claim.TargetChain.String(),
		"set_id", claim.SetID,
		"quorum_weight", rec.required,
		"deadline", rec.deadline)

	for _, v := range rec.takePending() {
		if err := a.countVote(sh, rec, v); err != nil {
			a.logger.Debug("dropping buffered vote",
				"claim_id", v.ClaimID, "validator_index", v.ValidatorIndex, "err", err.Error())
		}
	}
	return nil
}

func (a *Aggregator) handleVote(sh *shard, v *types.Vote) error {
	if a.sets.IsStale(v.SetID) {
		return ErrStaleVote
	}
	rec := sh.claims[v.ClaimID]
	if rec == nil || !rec.indexed() {
		if view, ok := a.sets.View(v.SetID); ok {
			if err := v.Verify(view); err != nil {
				return err
			}
		} else if !a.sets.IsFuture(v.SetID) {
			return ErrStaleVote
		}
		if rec == nil {
			rec = newClaimRecord(sh.height)
			sh.claims[v.ClaimID] = rec
		}
		return rec.bufferVote(v, a.maxPending)
	}
	return a.countVote(sh, rec, v)
}

// countVote runs one vote through an indexed record and translates the
// outcome into metrics and events.
func (a *Aggregator) countVote(sh *shard, rec *claimRecord, v *types.Vote) error {
	outcome, err := rec.addVote(v)
	if err != nil {
		if err == ErrConflictingVote {
			a.logger.Error("validator cast conflicting votes",
				"claim_id", v.ClaimID, "validator_index", v.ValidatorIndex)
		}
		return err
	}
	switch outcome {
	case voteDuplicate:
		return ErrDuplicateVote
	case voteAccepted, voteRejected:
		a.metrics.VotesCounted.Add(1)
		a.resolveClaim(sh, rec)
		return nil
	default:
		a.metrics.VotesCounted.Add(1)
		a.logger.Debug("counted vote",
			"claim_id", v.ClaimID,
			"validator_index", v.ValidatorIndex,
			"lead_weight", rec.lead,
			"quorum_weight", rec.required)
		return nil
	}
}

// resolveClaim publishes a claim's terminal outcome.
func (a *Aggregator) resolveClaim(sh *shard, rec *claimRecord) {
	rec.doneAt = sh.height
	switch rec.status {
	case types.ClaimStatusAccepted:
		a.metrics.ClaimsAccepted.Add(1)
		atomic.AddInt64(&a.accepted, 1)
	default:
		a.metrics.ClaimsRejected.Add(1)
		atomic.AddInt64(&a.rejected, 1)
	}
	a.metrics.PendingClaims.Set(float64(atomic.AddInt64(&a.pendingClaims, -1)))

	ev := types.EventClaimResolved{
		ClaimID:     rec.claim.ClaimID,
		Outcome:     rec.outcome(),
		Dissenters:  rec.dissenters(),
		VoteWeights: rec.voteWeights(),
	}
	a.bus.Publish(ev)
	if rec.status == types.ClaimStatusAccepted {
		a.logger.Info("claim accepted",
			"claim_id", rec.claim.ClaimID,
			"votes", len(rec.votes),
			"dissenters", len(ev.Dissenters))
	} else {
		a.logger.Info("claim rejected",
			"claim_id", rec.claim.ClaimID,
			"votes", len(rec.votes),
			"lead_weight", rec.lead,
			"quorum_weight", rec.required)
	}
}

// handleTick expires overdue work and prunes records nothing can touch
// again.
func (a *Aggregator) handleTick(sh *shard, height int64) {
	sh.height = height
	for key, rec := range sh.proofs {
		switch {
		case !rec.indexed():
			if height >= rec.created+a.grace {
				delete(sh.proofs, key)
				a.logger.Debug("dropping witness buffer with no request",
					"chain", key.chain.String(), "proof_id", key.id)
			}
		case rec.terminal():
			if height >= rec.doneAt+a.grace {
				delete(sh.proofs, key)
			}
		case height >= rec.deadline:
			rec.expire(height)
			a.metrics.ProofsExpired.Add(1)
			atomic.AddInt64(&a.expired, 1)
			a.metrics.PendingProofs.Set(float64(atomic.AddInt64(&a.pendingProofs, -1)))
			if err := a.store.FinishRequest(key.chain, key.id); err != nil {
				a.logger.Error("failed to clear pending request index",
					"proof_id", key.id, "err", err.Error())
			}
			a.bus.Publish(types.EventProofExpired{
				ProofID:       rec.req.ID,
				Kind:          rec.req.Kind,
				WitnessWeight: rec.weight,
				QuorumWeight:  rec.required,
			})
			a.logger.Error("proof expired before reaching quorum",
				"proof_id", rec.req.ID,
				"kind", rec.req.Kind.String(),
				"weight", rec.weight,
				"required_weight", rec.required)
		}
	}
	for id, rec := range sh.claims {
		switch {
		case !rec.indexed():
			if height >= rec.created+a.grace {
				delete(sh.claims, id)
				a.logger.Debug("dropping vote buffer with no claim", "claim_id", id)
			}
		case rec.terminal():
			if height >= rec.doneAt+a.grace {
				delete(sh.claims, id)
			}
		case height >= rec.deadline:
			rec.reject(height)
			a.resolveClaim(sh, rec)
		}
	}
}

// collectInFlight snapshots the shard's open work, capped at max entries
// per list when max is positive.
func collectInFlight(sh *shard, max int) inFlightPart {
	var part inFlightPart
	for _, rec := range sh.proofs {
		if !rec.indexed() || rec.terminal() {
			continue
		}
		if max > 0 && len(part.proofs) >= max {
			break
		}
		part.proofs = append(part.proofs, ProofRef{Kind: rec.req.Kind, ID: rec.req.ID})
	}
	for id, rec := range sh.claims {
		if !rec.indexed() || rec.terminal() {
			continue
		}
		if max > 0 && len(part.claims) >= max {
			break
		}
		part.claims = append(part.claims, id)
	}
	return part
}

// handleSetChange retracts in-flight records issued under sets older than
// the previous one. Work under the immediately preceding set keeps
// collecting so a rotation does not strand proofs that were nearly done.
func (a *Aggregator) handleSetChange(sh *shard, activeID uint64) {
	for _, rec := range sh.proofs {
		if !rec.indexed() || rec.terminal() || rec.req.SetID+1 >= activeID {
			continue
		}
		rec.expire(sh.height)
		a.metrics.PendingProofs.Set(float64(atomic.AddInt64(&a.pendingProofs, -1)))
		a.failProof(rec, "validator set superseded")
	}
	for _, rec := range sh.claims {
		if !rec.indexed() || rec.terminal() || rec.claim.SetID+1 >= activeID {
			continue
		}
		rec.reject(sh.height)
		a.resolveClaim(sh, rec)
	}
}
