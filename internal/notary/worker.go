// Package notary runs the orchestration loop of the notarization
// subsystem: it consumes runtime notifications (proof requests, inbound
// claims, validator set rotations, finalized heights) and drives the
// signer, gossip engine, aggregator, and inbound verifier. The worker is
// the only component that sees the runtime directly; everything downstream
// is fed through it.
package notary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/codec"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/types"
)

// ErrNotRunning is returned by calls on a stopped worker.
var ErrNotRunning = errors.New("notary worker is not running")

const (
	// defaultSetChangeTTL bounds how long a validator-set handover proof
	// may collect before the runtime must reissue it.
	defaultSetChangeTTL = int64(75)

	// maxDeferred bounds requests waiting for their not-before height.
	maxDeferred = 1024
)

// Tally is the aggregator surface the worker feeds.
type Tally interface {
	NoteRequest(req *types.ProofRequest) error
	NoteClaim(claim *types.InboundClaim) error
	AddWitness(w *types.Witness) error
	Tick(height int64) error
	HandleSetChange(activeID uint64) error
}

// Broadcaster is the gossip surface the worker floods local witnesses
// through.
type Broadcaster interface {
	BroadcastWitness(w *types.Witness) error
	HandleSetChange(activeID uint64)
}

// RequestIndex is the proof-store surface holding the pending-request
// index a restarted node replays.
type RequestIndex interface {
	SaveRequest(req *types.ProofRequest, height int64) error
	PendingRequests() ([]*types.ProofRequest, error)
}

// ClaimObserver accepts claims for external-chain observation. The inbound
// verifier implements it.
type ClaimObserver interface {
	Submit(claim *types.InboundClaim) error
}

// Option configures the worker at construction.
type Option func(*Worker)

// WithSetChangeTTL sets the ttl of self-originated handover proofs.
func WithSetChangeTTL(blocks int64) Option {
	return func(w *Worker) {
		if blocks > 0 {
			w.setChangeTTL = blocks
		}
	}
}

// queued is one intake item held back while the worker is paused. Requests
// and claims share a queue so their relative order survives a pause.
type queued struct {
	req   *types.ProofRequest
	claim *types.InboundClaim
}

// deferred is a request signed later, once its not-before height passes.
type deferred struct {
	req       *types.ProofRequest
	indexedAt int64
}

// Worker drives the notarization pipeline from runtime notifications.
type Worker struct {
	service.BaseService
	logger log.Logger

	source RuntimeSource
	signer *signer.Signer
	sets   *session.Tracker
	tally  Tally
	gossip Broadcaster
	index  RequestIndex
	claims ClaimObserver

	setChangeTTL int64

	pauseCh chan bool
	done    chan struct{}

	// loop-confined state
	paused     bool
	intake     []queued
	deferred   map[uint64]deferred
	replayHeld []*types.ProofRequest

	height int64 // atomic
}

// NewWorker wires the pipeline together. The inbound verifier may be nil
// on nodes that do not observe external chains; such nodes still relay and
// tally claim votes.
func NewWorker(
	logger log.Logger,
	source RuntimeSource,
	sgn *signer.Signer,
	sets *session.Tracker,
	tally Tally,
	gossip Broadcaster,
	index RequestIndex,
	claims ClaimObserver,
	opts ...Option,
) *Worker {
	w := &Worker{
		logger:       logger.With("module", "notary"),
		source:       source,
		signer:       sgn,
		sets:         sets,
		tally:        tally,
		gossip:       gossip,
		index:        index,
		claims:       claims,
		setChangeTTL: defaultSetChangeTTL,
		pauseCh:      make(chan bool),
		done:         make(chan struct{}),
		deferred:     make(map[uint64]deferred),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.BaseService = *service.NewBaseService(w.logger, "NotaryWorker", w)
	return w
}

// OnStart implements service.Implementation. Pending requests from the
// store are replayed before new notifications are consumed; replays are
// held until a validator set view is available.
func (w *Worker) OnStart(ctx context.Context) error {
	pending, err := w.index.PendingRequests()
	if err != nil {
		return fmt.Errorf("replaying pending requests: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if _, ok := w.sets.ActiveID(); ok {
		for _, req := range pending {
			w.handleRequest(req, false)
		}
	} else {
		w.replayHeld = pending
		if len(pending) > 0 {
			w.logger.Info("holding replayed requests until a validator set arrives",
				"count", len(pending))
		}
	}
	go w.run(ctx)
	return nil
}

// OnStop implements service.Implementation.
func (w *Worker) OnStop() {
	<-w.done
}

// Height returns the latest finalized runtime height the worker has seen.
func (w *Worker) Height() int64 {
	return atomic.LoadInt64(&w.height)
}

// Pause holds back new requests and claims. Set rotations and finality
// ticks keep flowing so in-flight collection stays live.
func (w *Worker) Pause() error { return w.setPaused(true) }

// Resume drains the held intake in arrival order and resumes normal
// processing.
func (w *Worker) Resume() error { return w.setPaused(false) }

func (w *Worker) setPaused(p bool) error {
	select {
	case w.pauseCh <- p:
		return nil
	case <-w.done:
		return ErrNotRunning
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	reqCh := w.source.Requests()
	claimCh := w.source.Claims()
	setCh := w.source.SetChanges()
	heightCh := w.source.FinalizedHeights()

	for {
		if reqCh == nil && claimCh == nil && setCh == nil && heightCh == nil {
			w.logger.Info("runtime source exhausted, stopping")
			go func() { _ = w.Stop() }()
			return
		}
		select {
		case <-ctx.Done():
			return

		case p := <-w.pauseCh:
			w.applyPause(p)

		case req, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			if w.paused {
				w.intake = append(w.intake, queued{req: req})
				continue
			}
			w.handleRequest(req, false)

		case claim, ok := <-claimCh:
			if !ok {
				claimCh = nil
				continue
			}
			if w.paused {
				w.intake = append(w.intake, queued{claim: claim})
				continue
			}
			w.handleClaim(claim)

		case sc, ok := <-setCh:
			if !ok {
				setCh = nil
				continue
			}
			w.handleSetChange(sc)

		case h, ok := <-heightCh:
			if !ok {
				heightCh = nil
				continue
			}
			w.handleHeight(h)
		}
	}
}

func (w *Worker) applyPause(p bool) {
	if p == w.paused {
		return
	}
	w.paused = p
	if p {
		w.logger.Info("intake paused")
		return
	}
	w.logger.Info("intake resumed", "queued", len(w.intake))
	held := w.intake
	w.intake = nil
	for _, item := range held {
		switch {
		case item.req != nil:
			w.handleRequest(item.req, false)
		case item.claim != nil:
			w.handleClaim(item.claim)
		}
	}
}

// handleRequest indexes one proof request and, when the local key is an
// eligible signer and the not-before height passed, signs and floods the
// witness. selfOriginated marks handover requests this node built itself;
// they skip the pending index because every honest node rebuilds them from
// the rotation the runtime replays.
func (w *Worker) handleRequest(req *types.ProofRequest, selfOriginated bool) {
	if err := req.ValidateBasic(); err != nil {
		w.logger.Error("dropping invalid proof request", "err", err)
		return
	}
	height := w.Height()
	if !selfOriginated {
		if err := w.index.SaveRequest(req, height); err != nil {
			w.logger.Error("failed to index request", "proof_id", req.ID, "err", err)
		}
	}
	if err := w.tally.NoteRequest(req); err != nil {
		// A request the aggregator refuses (malformed payload, superseded
		// set) is dead on arrival; the aggregator has already surfaced it.
		w.logger.Error("request not accepted for collection",
			"proof_id", req.ID, "kind", req.Kind.String(), "err", err)
		return
	}
	if req.NotBefore > height {
		if len(w.deferred) < maxDeferred {
			w.deferred[deferKey(req)] = deferred{req: req, indexedAt: height}
		} else {
			w.logger.Error("deferred queue full, dropping request until replay",
				"proof_id", req.ID)
		}
		return
	}
	w.signAndFlood(req)
}

func (w *Worker) handleClaim(claim *types.InboundClaim) {
	if err := claim.ValidateBasic(); err != nil {
		w.logger.Error("dropping invalid claim", "err", err)
		return
	}
	if err := w.tally.NoteClaim(claim); err != nil {
		w.logger.Error("claim not accepted for tallying",
			"claim_id", claim.ClaimID, "err", err)
		return
	}
	if w.claims == nil {
		return
	}
	if err := w.claims.Submit(claim); err != nil {
		w.logger.Error("claim observation not scheduled",
			"claim_id", claim.ClaimID, "err", err)
	}
}

// handleSetChange installs the new active view and originates the handover
// proofs the outgoing set signs: the Ethereum bridge contract learns the
// incoming signer addresses, the XRPL door account rotates its signer list.
func (w *Worker) handleSetChange(sc SetChange) {
	if sc.View == nil {
		w.logger.Error("dropping set change without a view")
		return
	}
	prev, _ := w.sets.Active()

	if err := w.sets.Update(sc.View); err != nil {
		w.logger.Error("rejected validator set update",
			"set_id", sc.View.SetID, "err", err)
		return
	}
	w.logger.Info("validator set changed", "set_id", sc.View.SetID,
		"members", sc.View.Size())

	w.gossip.HandleSetChange(sc.View.SetID)
	if err := w.tally.HandleSetChange(sc.View.SetID); err != nil {
		w.logger.Error("aggregator set change failed", "err", err)
	}

	if held := w.replayHeld; len(held) > 0 {
		w.replayHeld = nil
		for _, req := range held {
			w.handleRequest(req, false)
		}
	}

	// Handover proofs are signed under the outgoing set: the external
	// chains only trust signers they already know.
	if prev == nil {
		return
	}
	if sc.EthProofID != 0 {
		w.originateSetChangeProof(sc.EthProofID, types.KindEthereumValidatorSetChange, prev, sc.View)
	}
	if sc.XrplProofID != 0 {
		if prev.SignerListEqual(sc.View) {
			w.logger.Debug("xrpl signer list unchanged, skipping handover proof",
				"set_id", sc.View.SetID)
		} else {
			w.originateSetChangeProof(sc.XrplProofID, types.KindXrplValidatorSetChange, prev, sc.View)
		}
	}
}

func (w *Worker) originateSetChangeProof(id uint64, kind types.ProofKind, prev, next *types.ValidatorSetView) {
	c, err := codec.ForKind(kind)
	if err != nil {
		w.logger.Error("no codec for handover proof", "kind", kind.String(), "err", err)
		return
	}
	payload, err := c.SetChangePayload(next)
	if err != nil {
		w.logger.Error("failed to build handover payload",
			"kind", kind.String(), "set_id", next.SetID, "err", err)
		return
	}
	req := &types.ProofRequest{
		ID:      id,
		Kind:    kind,
		Payload: payload,
		SetID:   prev.SetID,
		TTL:     w.setChangeTTL,
	}
	w.logger.Info("originating handover proof", "proof_id", id,
		"kind", kind.String(), "signing_set", prev.SetID, "next_set", next.SetID)
	w.handleRequest(req, true)
}

func (w *Worker) handleHeight(h int64) {
	atomic.StoreInt64(&w.height, h)
	if err := w.tally.Tick(h); err != nil {
		w.logger.Error("aggregator tick failed", "height", h, "err", err)
	}
	for key, d := range w.deferred {
		switch {
		case h >= d.req.NotBefore:
			delete(w.deferred, key)
			w.signAndFlood(d.req)
		case h > d.indexedAt+d.req.TTL:
			// expired before it ever became signable
			delete(w.deferred, key)
		}
	}
}

// signAndFlood produces the local witness for req, counts it, and floods
// it. Nodes outside the signer set (or its XRPL subset) stay silent;
// duplicate counts after a restart are expected and ignored.
func (w *Worker) signAndFlood(req *types.ProofRequest) {
	wit, err := w.signer.SignRequest(req)
	switch {
	case err == nil:
	case errors.Is(err, signer.ErrNotInSet):
		return
	case errors.Is(err, signer.ErrUnknownSet):
		w.logger.Error("cannot sign request, set view missing",
			"proof_id", req.ID, "set_id", req.SetID)
		return
	default:
		w.logger.Error("failed to sign request", "proof_id", req.ID, "err", err)
		return
	}

	if err := w.tally.AddWitness(wit); err != nil &&
		!errors.Is(err, aggregator.ErrDuplicateWitness) &&
		!errors.Is(err, aggregator.ErrStaleWitness) &&
		!errors.Is(err, aggregator.ErrProofComplete) {
		w.logger.Error("local witness not counted", "proof_id", req.ID, "err", err)
	}
	if err := w.gossip.BroadcastWitness(wit); err != nil {
		w.logger.Error("local witness not broadcast", "proof_id", req.ID, "err", err)
	}
}

// deferKey disambiguates deferred requests across chains sharing id space.
func deferKey(req *types.ProofRequest) uint64 {
	return req.ID<<8 | uint64(req.Kind.ChainID())
}
