// Package aggregator counts witnesses and votes into finalized proofs and
// resolved claims. It is the counting authority on a node: gossip verifies
// messages just enough to relay them, but only the aggregator's own
// verification and accounting decide when a proof freezes or a claim
// resolves.
//
// Work is partitioned across shards by proof or claim id. Each shard owns
// its records and is driven by a single goroutine, so record state never
// needs locking; the public API talks to shards over bounded channels.
package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/creachadair/taskgroup"

	"github.com/notarynet/notary/internal/pubsub"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/types"
)

var (
	// ErrStopped is returned when the aggregator is not running.
	ErrStopped = errors.New("aggregator is not running")

	// ErrQueueFull is returned when a shard's queue is saturated. Witnesses
	// and votes are dropped rather than blocking gossip; redelivery recovers
	// them.
	ErrQueueFull = errors.New("aggregator queue is full")

	// ErrStaleWitness is returned for witnesses on completed proofs or
	// superseded validator sets.
	ErrStaleWitness = errors.New("witness for a completed or superseded proof")

	// ErrStaleVote is the vote analog of ErrStaleWitness.
	ErrStaleVote = errors.New("vote for a superseded validator set")

	// ErrDuplicateWitness is returned when a validator's witness was already
	// counted.
	ErrDuplicateWitness = errors.New("witness already counted")

	// ErrDuplicateVote is returned when a validator's vote was already
	// counted.
	ErrDuplicateVote = errors.New("vote already counted")

	// ErrPendingOverflow is returned when the buffer of witnesses or votes
	// waiting for their request or claim is full.
	ErrPendingOverflow = errors.New("too many messages buffered ahead of indexing")

	// ErrProofComplete is returned for witnesses on an already frozen proof.
	ErrProofComplete = errors.New("proof already complete")

	// ErrProofExpired is returned for witnesses on an expired proof.
	ErrProofExpired = errors.New("proof expired")

	// ErrConflictingVote is returned when a validator votes twice with
	// different observed hashes.
	ErrConflictingVote = errors.New("conflicting vote from the same validator")

	// ErrClaimResolved is returned for votes on a resolved claim.
	ErrClaimResolved = errors.New("claim already resolved")

	// ErrUnknownProof is returned when no record of a proof exists. Finalized
	// proofs outlive their records in the proof store.
	ErrUnknownProof = errors.New("unknown proof")

	// ErrUnknownClaim is returned when no record of a claim exists.
	ErrUnknownClaim = errors.New("unknown claim")
)

const (
	defaultShards      = 4
	defaultQueueDepth  = 1024
	defaultRecordGrace = 256 // blocks a terminal or orphaned record lingers
	defaultMaxPending  = 64  // witnesses or votes buffered ahead of indexing
)

// ProofWriter persists what the aggregator decides. The proof store
// implements it. SaveProof receives the height the proof completed at, the
// axis the store prunes along.
type ProofWriter interface {
	SaveProof(proof *types.FinalizedProof, height int64) error
	SaveEvidence(ev *types.EquivocationEvidence) error

	// FinishRequest drops the pending-request index entry once a request
	// goes terminal, so it is not replayed at the next startup.
	FinishRequest(chain types.ChainID, id uint64) error
}

// Option configures the aggregator at construction.
type Option func(*Aggregator)

// WithMetrics replaces the no-op metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithShards sets the number of shards work is partitioned over.
func WithShards(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.nShards = n
		}
	}
}

// WithQueueDepth sets each shard's queue capacity.
func WithQueueDepth(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.queueDepth = n
		}
	}
}

// WithRecordGrace sets how many blocks terminal and orphaned records linger
// before pruning.
func WithRecordGrace(blocks int64) Option {
	return func(a *Aggregator) {
		if blocks > 0 {
			a.grace = blocks
		}
	}
}

// WithMaxPending bounds the per-record buffer of witnesses or votes that
// arrive ahead of their request or claim.
func WithMaxPending(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxPending = n
		}
	}
}

// Aggregator runs the witness and vote accounting for one node.
type Aggregator struct {
	service.BaseService
	logger log.Logger

	sets    *session.Tracker
	store   ProofWriter
	bus     *pubsub.Bus
	metrics *Metrics
	marks   *watermarkSet

	nShards    int
	queueDepth int
	grace      int64
	maxPending int
	shards     []*shard

	tasks  *taskgroup.Group
	cancel context.CancelFunc
	quitCh chan struct{}

	height        int64 // atomic
	pendingProofs int64 // atomic
	pendingClaims int64 // atomic
	completed     int64 // atomic
	expired       int64 // atomic
	accepted      int64 // atomic
	rejected      int64 // atomic
}

// New builds an aggregator over the given set tracker, persistence, and
// event bus. Call Start before use.
func New(logger log.Logger, sets *session.Tracker, store ProofWriter, bus *pubsub.Bus, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:     logger.With("module", "aggregator"),
		sets:       sets,
		store:      store,
		bus:        bus,
		metrics:    NopMetrics(),
		marks:      newWatermarkSet(),
		nShards:    defaultShards,
		queueDepth: defaultQueueDepth,
		grace:      defaultRecordGrace,
		maxPending: defaultMaxPending,
		quitCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.shards = make([]*shard, a.nShards)
	for i := range a.shards {
		a.shards[i] = newShard(a.queueDepth)
	}
	a.BaseService = *service.NewBaseService(a.logger, "Aggregator", a)
	return a
}

// OnStart implements service.Implementation, launching one goroutine per
// shard.
func (a *Aggregator) OnStart(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.tasks = taskgroup.New(taskgroup.Trigger(cancel))
	for _, sh := range a.shards {
		sh := sh
		a.tasks.Go(func() error {
			a.runShard(rctx, sh)
			return nil
		})
	}
	return nil
}

// OnStop implements service.Implementation.
func (a *Aggregator) OnStop() {
	a.cancel()
	_ = a.tasks.Wait()
	close(a.quitCh)
}

// NoteRequest indexes a proof request observed in a finalized runtime
// block. Replays of an already indexed request are accepted and ignored.
// Requests that can never complete (malformed payloads, thresholds below
// half the eligible weight, superseded sets) are recorded as expired, fail
// on the event bus, and surface here as an error.
func (a *Aggregator) NoteRequest(req *types.ProofRequest) error {
	if err := req.ValidateBasic(); err != nil {
		return err
	}
	key := keyForKind(req.Kind, req.ID)
	reply := make(chan error, 1)
	if err := a.enqueue(a.shardForProof(key), &reqMsg{req: req, reply: reply}, true); err != nil {
		return err
	}
	return a.await(reply)
}

// AddWitness feeds one witness into the tally and reports what became of
// it. Witnesses for completed or superseded proofs are turned away before
// they reach a shard, so gossip can call this on its hot path; when the
// owning shard's queue is full the witness is dropped with ErrQueueFull and
// recovered by gossip redelivery.
func (a *Aggregator) AddWitness(w *types.Witness) error {
	if err := w.ValidateBasic(); err != nil {
		return err
	}
	key := keyForKind(w.Kind, w.ProofID)
	if a.marks.isComplete(key.chain, key.id) {
		return ErrStaleWitness
	}
	if a.sets.IsStale(w.SetID) {
		return ErrStaleWitness
	}
	reply := make(chan error, 1)
	if err := a.enqueue(a.shardForProof(key), &witMsg{w: w, reply: reply}, false); err != nil {
		return err
	}
	return a.await(reply)
}

// NoteClaim indexes an inbound claim observed in a finalized runtime block.
// Replays of an already indexed claim are accepted and ignored.
func (a *Aggregator) NoteClaim(claim *types.InboundClaim) error {
	if err := claim.ValidateBasic(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := a.enqueue(a.shardForClaim(claim.ClaimID), &claimMsg{claim: claim, reply: reply}, true); err != nil {
		return err
	}
	return a.await(reply)
}

// AddVote feeds one claim vote into the tally, mirroring AddWitness.
func (a *Aggregator) AddVote(v *types.Vote) error {
	if err := v.ValidateBasic(); err != nil {
		return err
	}
	if a.sets.IsStale(v.SetID) {
		return ErrStaleVote
	}
	reply := make(chan error, 1)
	if err := a.enqueue(a.shardForClaim(v.ClaimID), &voteMsg{v: v, reply: reply}, false); err != nil {
		return err
	}
	return a.await(reply)
}

// Tick advances the aggregator to a newly finalized runtime height,
// expiring requests and claims whose TTL passed and pruning dead records.
func (a *Aggregator) Tick(height int64) error {
	atomic.StoreInt64(&a.height, height)
	for _, sh := range a.shards {
		reply := make(chan error, 1)
		if err := a.enqueue(sh, &tickMsg{height: height, reply: reply}, true); err != nil {
			return err
		}
		if err := a.await(reply); err != nil {
			return err
		}
	}
	return nil
}

// HandleSetChange retracts in-flight work issued under sets older than the
// previous one. Call it after the session tracker has applied the new
// active set.
func (a *Aggregator) HandleSetChange(activeID uint64) error {
	for _, sh := range a.shards {
		reply := make(chan error, 1)
		if err := a.enqueue(sh, &setChangeMsg{activeID: activeID, reply: reply}, true); err != nil {
			return err
		}
		if err := a.await(reply); err != nil {
			return err
		}
	}
	return nil
}

// ProofState reports collection progress for one proof. Records are pruned
// a grace period after going terminal, so callers should fall back to the
// proof store when this returns ErrUnknownProof.
func (a *Aggregator) ProofState(kind types.ProofKind, id uint64) (*types.ProofState, error) {
	key := keyForKind(kind, id)
	reply := make(chan *types.ProofState, 1)
	if err := a.enqueue(a.shardForProof(key), &proofStateMsg{key: key, reply: reply}, true); err != nil {
		return nil, err
	}
	select {
	case st := <-reply:
		if st == nil {
			return nil, ErrUnknownProof
		}
		return st, nil
	case <-a.quitCh:
		return nil, ErrStopped
	}
}

// ClaimState reports collection progress for one claim.
func (a *Aggregator) ClaimState(id uint64) (*types.ClaimState, error) {
	reply := make(chan *types.ClaimState, 1)
	if err := a.enqueue(a.shardForClaim(id), &claimStateMsg{id: id, reply: reply}, true); err != nil {
		return nil, err
	}
	select {
	case st := <-reply:
		if st == nil {
			return nil, ErrUnknownClaim
		}
		return st, nil
	case <-a.quitCh:
		return nil, ErrStopped
	}
}

// Witnesses rebuilds the witnesses counted so far for one proof, ascending
// by validator index. Gossip serves retransmission requests from it; an
// unknown or unindexed proof yields an empty list.
func (a *Aggregator) Witnesses(kind types.ProofKind, id uint64) ([]*types.Witness, error) {
	key := keyForKind(kind, id)
	reply := make(chan []*types.Witness, 1)
	if err := a.enqueue(a.shardForProof(key), &witnessListMsg{key: key, reply: reply}, true); err != nil {
		return nil, err
	}
	select {
	case ws := <-reply:
		return ws, nil
	case <-a.quitCh:
		return nil, ErrStopped
	}
}

// Votes returns the votes counted so far for one claim, ascending by
// validator index.
func (a *Aggregator) Votes(id uint64) ([]*types.Vote, error) {
	reply := make(chan []*types.Vote, 1)
	if err := a.enqueue(a.shardForClaim(id), &voteListMsg{id: id, reply: reply}, true); err != nil {
		return nil, err
	}
	select {
	case vs := <-reply:
		return vs, nil
	case <-a.quitCh:
		return nil, ErrStopped
	}
}

// InFlight lists proofs still collecting and claims still voting, each list
// ascending by id and capped at max entries when max is positive. Gossip
// builds its periodic announcements from it.
func (a *Aggregator) InFlight(max int) ([]ProofRef, []uint64, error) {
	var (
		proofs []ProofRef
		claims []uint64
	)
	for _, sh := range a.shards {
		reply := make(chan inFlightPart, 1)
		if err := a.enqueue(sh, &inFlightMsg{max: max, reply: reply}, true); err != nil {
			return nil, nil, err
		}
		select {
		case part := <-reply:
			proofs = append(proofs, part.proofs...)
			claims = append(claims, part.claims...)
		case <-a.quitCh:
			return nil, nil, ErrStopped
		}
	}
	sort.Slice(proofs, func(i, j int) bool {
		if proofs[i].Kind.ChainID() != proofs[j].Kind.ChainID() {
			return proofs[i].Kind.ChainID() < proofs[j].Kind.ChainID()
		}
		return proofs[i].ID < proofs[j].ID
	})
	sort.Slice(claims, func(i, j int) bool { return claims[i] < claims[j] })
	if max > 0 && len(proofs) > max {
		proofs = proofs[:max]
	}
	if max > 0 && len(claims) > max {
		claims = claims[:max]
	}
	return proofs, claims, nil
}

// IsComplete reports whether a proof finished collecting. Gossip uses it to
// drop rebroadcast witnesses without touching a shard.
func (a *Aggregator) IsComplete(kind types.ProofKind, id uint64) bool {
	return a.marks.isComplete(kind.ChainID(), id)
}

// Watermark returns the proof id below which every proof on chain is
// complete, if any completed at all.
func (a *Aggregator) Watermark(chain types.ChainID) (uint64, bool) {
	return a.marks.watermark(chain)
}

// ProofRef names one proof request by kind and id.
type ProofRef struct {
	Kind types.ProofKind `json:"kind"`
	ID   uint64          `json:"id"`
}

// Status is a point-in-time summary of aggregator accounting.
type Status struct {
	Height          int64 `json:"height"`
	PendingProofs   int64 `json:"pending_proofs"`
	PendingClaims   int64 `json:"pending_claims"`
	CompletedProofs int64 `json:"completed_proofs"`
	ExpiredProofs   int64 `json:"expired_proofs"`
	AcceptedClaims  int64 `json:"accepted_claims"`
	RejectedClaims  int64 `json:"rejected_claims"`
}

// Status reports the aggregator's counters without touching any shard.
func (a *Aggregator) Status() Status {
	return Status{
		Height:          atomic.LoadInt64(&a.height),
		PendingProofs:   atomic.LoadInt64(&a.pendingProofs),
		PendingClaims:   atomic.LoadInt64(&a.pendingClaims),
		CompletedProofs: atomic.LoadInt64(&a.completed),
		ExpiredProofs:   atomic.LoadInt64(&a.expired),
		AcceptedClaims:  atomic.LoadInt64(&a.accepted),
		RejectedClaims:  atomic.LoadInt64(&a.rejected),
	}
}

func (a *Aggregator) shardForProof(key proofKey) *shard {
	return a.shards[(key.id+uint64(key.chain))%uint64(len(a.shards))]
}

func (a *Aggregator) shardForClaim(id uint64) *shard {
	return a.shards[id%uint64(len(a.shards))]
}

// enqueue posts a message to a shard. Blocking sends are for runtime-driven
// inputs that must not be lost; non-blocking sends are for gossip-driven
// inputs where dropping under load is safe.
func (a *Aggregator) enqueue(sh *shard, m shardMsg, wait bool) error {
	if !a.IsRunning() {
		return ErrStopped
	}
	if wait {
		select {
		case sh.msgs <- m:
			return nil
		case <-a.quitCh:
			return ErrStopped
		}
	}
	select {
	case sh.msgs <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// await collects a handler's reply, giving up if the aggregator stops with
// the message still queued.
func (a *Aggregator) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-a.quitCh:
		return ErrStopped
	}
}
