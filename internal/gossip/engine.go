// Package gossip moves witnesses and votes between validator nodes and
// repairs gaps with periodic anti-entropy announcements. The engine is
// transport-agnostic: the host transport calls AddPeer, RemovePeer, and
// Receive, and the engine talks back through the narrow Peer interface.
//
// Inbound messages pass a cheap gate on the receive path (duplicate,
// stale-set, and completed-proof drops) before signature verification runs
// on a bounded worker pool; only verified messages reach the aggregator and
// are relayed onward. Messages for validator sets the node has not activated
// yet are held and released by HandleSetChange.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	lru "github.com/hashicorp/golang-lru"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/types"
)

// ErrNotRunning is returned by broadcast calls on a stopped engine.
var ErrNotRunning = errors.New("gossip engine is not running")

const (
	defaultVerifyWorkers    = 4
	defaultVerifyQueueDepth = 1024
	defaultSeenCacheSize    = 65536
	defaultMaxHeld          = 1024
	defaultAnnounceInterval = 10 * time.Second
	defaultRebroadcastAfter = 30 * time.Second
	defaultLiveWindow       = 1 << 16 // announced ids this far past our progress are ignored

	// rebroadcastBudget bounds how many stuck proofs and claims have their
	// messages re-flooded in one announce round.
	rebroadcastBudget = 16
)

// Peer is the slice of a transport peer the engine sends through. Send
// reports whether the message was accepted for delivery; the engine never
// retries a failed send, anti-entropy repairs the loss.
type Peer interface {
	ID() string
	Send(chID byte, msgBytes []byte) bool
}

// PeerErrorFunc is called when a peer sends a message no honest node would
// relay. The host transport should disconnect the peer.
type PeerErrorFunc func(peerID string, err error)

// ProofSource serves finalized proofs for peer catch-up. The proof store
// implements it.
type ProofSource interface {
	GetProof(chain types.ChainID, id uint64) (*types.FinalizedProof, error)
}

// Option configures the engine at construction.
type Option func(*Engine)

// WithMetrics replaces the no-op metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPeerError sets the callback for misbehaving peers.
func WithPeerError(f PeerErrorFunc) Option {
	return func(e *Engine) { e.peerErr = f }
}

// WithVerifyWorkers sets the size of the signature verification pool.
func WithVerifyWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.verifyWorkers = n
		}
	}
}

// WithAnnounceInterval sets how often progress announcements go out.
func WithAnnounceInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.announceEvery = d
		}
	}
}

// WithRebroadcastAfter sets how long a proof or claim may sit unchanged
// before its known messages are re-flooded.
func WithRebroadcastAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.rebroadcastAfter = d
		}
	}
}

// WithLiveWindow bounds how far past our own progress announced ids may
// point before they are ignored.
func WithLiveWindow(n uint64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.liveWindow = n
		}
	}
}

// WithMaxHeld bounds the buffer of messages held for future validator sets.
func WithMaxHeld(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHeld = n
		}
	}
}

// inboundMsg is one decoded message moving through the verify pool. raw
// keeps the original bytes so relaying preserves them exactly.
type inboundMsg struct {
	src string
	raw []byte
	msg Message
}

type heldMsg struct {
	in    inboundMsg
	setID uint64
}

// Engine relays witnesses and votes between peers and keeps lagging peers
// supplied through announcements, retransmission requests, and whole
// finalized proofs.
type Engine struct {
	service.BaseService
	logger log.Logger

	agg     *aggregator.Aggregator
	sets    *session.Tracker
	proofs  ProofSource
	metrics *Metrics
	peerErr PeerErrorFunc

	verifyWorkers    int
	announceEvery    time.Duration
	rebroadcastAfter time.Duration
	liveWindow       uint64
	maxHeld          int

	mtx   sync.Mutex
	peers map[string]Peer
	held  []heldMsg

	seen     *lru.Cache
	verifyCh chan inboundMsg

	tasks  *taskgroup.Group
	cancel context.CancelFunc
	quitCh chan struct{}
}

// New builds an engine over the aggregator, set tracker, and proof source.
// Call Start before use.
func New(logger log.Logger, agg *aggregator.Aggregator, sets *session.Tracker, proofs ProofSource, opts ...Option) *Engine {
	seen, err := lru.New(defaultSeenCacheSize)
	if err != nil {
		panic(err)
	}
	e := &Engine{
		logger:           logger.With("module", "gossip"),
		agg:              agg,
		sets:             sets,
		proofs:           proofs,
		metrics:          NopMetrics(),
		verifyWorkers:    defaultVerifyWorkers,
		announceEvery:    defaultAnnounceInterval,
		rebroadcastAfter: defaultRebroadcastAfter,
		liveWindow:       defaultLiveWindow,
		maxHeld:          defaultMaxHeld,
		peers:            make(map[string]Peer),
		seen:             seen,
		verifyCh:         make(chan inboundMsg, defaultVerifyQueueDepth),
		quitCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.BaseService = *service.NewBaseService(e.logger, "GossipEngine", e)
	return e
}

// OnStart implements service.Implementation, launching the verify pool and
// the announce loop.
func (e *Engine) OnStart(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.tasks = taskgroup.New(taskgroup.Trigger(cancel))
	for i := 0; i < e.verifyWorkers; i++ {
		e.tasks.Go(func() error {
			e.verifyLoop(rctx)
			return nil
		})
	}
	e.tasks.Go(func() error {
		e.announceLoop(rctx)
		return nil
	})
	return nil
}

// OnStop implements service.Implementation.
func (e *Engine) OnStop() {
	e.cancel()
	_ = e.tasks.Wait()
	close(e.quitCh)
}

// AddPeer registers a peer for relays and announcements.
func (e *Engine) AddPeer(peer Peer) {
	e.mtx.Lock()
	e.peers[peer.ID()] = peer
	n := len(e.peers)
	e.mtx.Unlock()
	e.metrics.Peers.Set(float64(n))
	e.logger.Debug("peer added", "peer", peer.ID())
}

// RemovePeer forgets a peer. In-flight sends to it may still fail silently.
func (e *Engine) RemovePeer(peer Peer) {
	e.mtx.Lock()
	delete(e.peers, peer.ID())
	n := len(e.peers)
	e.mtx.Unlock()
	e.metrics.Peers.Set(float64(n))
	e.logger.Debug("peer removed", "peer", peer.ID())
}

// Receive handles one raw message from the transport. It never blocks on
// shard work: expensive verification is queued to the worker pool and over-
// flow is dropped, relying on redelivery.
func (e *Engine) Receive(chID byte, src Peer, msgBytes []byte) {
	if !e.IsRunning() {
		return
	}
	msg, err := decodeMsg(msgBytes)
	if err != nil {
		e.punish(src.ID(), fmt.Errorf("decoding message on channel %X: %w", chID, err))
		return
	}
	if err := msg.ValidateBasic(); err != nil {
		e.punish(src.ID(), fmt.Errorf("invalid message: %w", err))
		return
	}

	switch chID {
	case WitnessChannel:
		m, ok := msg.(*WitnessMessage)
		if !ok {
			e.logger.Error("unexpected message type on witness channel",
				"type", fmt.Sprintf("%T", msg), "peer", src.ID())
			return
		}
		e.receiveWitness(src.ID(), msgBytes, m)
	case VoteChannel:
		m, ok := msg.(*VoteMessage)
		if !ok {
			e.logger.Error("unexpected message type on vote channel",
				"type", fmt.Sprintf("%T", msg), "peer", src.ID())
			return
		}
		e.receiveVote(src.ID(), msgBytes, m)
	case AnnounceChannel:
		switch m := msg.(type) {
		case *AnnounceMessage:
			e.handleAnnounce(src, m)
		case *WantMessage:
			e.handleWant(src, m)
		case *ProofMessage:
			e.receiveProof(src.ID(), msgBytes, m)
		default:
			e.logger.Error("unexpected message type on announce channel",
				"type", fmt.Sprintf("%T", msg), "peer", src.ID())
		}
	default:
		e.logger.Error("message on unknown channel", "channel", chID, "peer", src.ID())
	}
}

// BroadcastWitness floods the local node's own witness to every peer.
func (e *Engine) BroadcastWitness(w *types.Witness) error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	bz := cdc.MustMarshalBinaryBare(&WitnessMessage{Witness: w})
	e.markSeen(bz)
	e.broadcast(WitnessChannel, bz)
	return nil
}

// BroadcastVote floods the local node's own vote to every peer.
func (e *Engine) BroadcastVote(v *types.Vote) error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	bz := cdc.MustMarshalBinaryBare(&VoteMessage{Vote: v})
	e.markSeen(bz)
	e.broadcast(VoteChannel, bz)
	return nil
}

// HandleSetChange releases messages held for sets that have activated and
// drops those the rotation made stale. Call it after the session tracker
// and the aggregator have observed the change.
func (e *Engine) HandleSetChange(activeID uint64) {
	e.mtx.Lock()
	var keep, release []heldMsg
	for _, h := range e.held {
		switch {
		case e.sets.IsFuture(h.setID):
			keep = append(keep, h)
		case e.sets.IsStale(h.setID):
			// rotation outran the message
		default:
			release = append(release, h)
		}
	}
	e.held = keep
	e.metrics.HeldMessages.Set(float64(len(keep)))
	e.mtx.Unlock()

	for _, h := range release {
		e.enqueueVerify(h.in)
	}
	if len(release) > 0 {
		e.logger.Debug("released held messages", "set_id", activeID, "count", len(release))
	}
}

//-------------------------------------
// receive fast paths

func (e *Engine) receiveWitness(srcID string, raw []byte, m *WitnessMessage) {
	if e.isDuplicate(raw) {
		e.metrics.DuplicatesDropped.Add(1)
		return
	}
	w := m.Witness
	if e.agg.IsComplete(w.Kind, w.ProofID) || e.sets.IsStale(w.SetID) {
		e.metrics.StaleDropped.Add(1)
		return
	}
	in := inboundMsg{src: srcID, raw: raw, msg: m}
	if e.sets.IsFuture(w.SetID) {
		e.hold(in, w.SetID)
		return
	}
	e.enqueueVerify(in)
}

func (e *Engine) receiveVote(srcID string, raw []byte, m *VoteMessage) {
	if e.isDuplicate(raw) {
		e.metrics.DuplicatesDropped.Add(1)
		return
	}
	v := m.Vote
	if e.sets.IsStale(v.SetID) {
		e.metrics.StaleDropped.Add(1)
		return
	}
	in := inboundMsg{src: srcID, raw: raw, msg: m}
	if e.sets.IsFuture(v.SetID) {
		e.hold(in, v.SetID)
		return
	}
	e.enqueueVerify(in)
}

func (e *Engine) receiveProof(srcID string, raw []byte, m *ProofMessage) {
	if e.isDuplicate(raw) {
		e.metrics.DuplicatesDropped.Add(1)
		return
	}
	p := m.Proof
	if e.agg.IsComplete(p.Kind, p.ProofID) || e.sets.IsStale(p.SetID) {
		e.metrics.StaleDropped.Add(1)
		return
	}
	// Whole proofs for sets we have not activated are dropped, not held;
	// the peer's next announcement offers them again.
	if e.sets.IsFuture(p.SetID) {
		e.metrics.StaleDropped.Add(1)
		return
	}
	e.enqueueVerify(inboundMsg{src: srcID, raw: raw, msg: m})
}

//-------------------------------------
// verify pool

func (e *Engine) verifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-e.verifyCh:
			switch m := in.msg.(type) {
			case *WitnessMessage:
				e.verifyWitness(in, m)
			case *VoteMessage:
				e.verifyVote(in, m)
			case *ProofMessage:
				e.verifyProof(in, m)
			}
		}
	}
}

func (e *Engine) verifyWitness(in inboundMsg, m *WitnessMessage) {
	w := m.Witness
	view, ok := e.sets.View(w.SetID)
	if !ok {
		// a rotation landed between the fast path and here
		if e.sets.IsFuture(w.SetID) {
			e.hold(in, w.SetID)
		} else {
			e.metrics.StaleDropped.Add(1)
		}
		return
	}
	if err := w.Verify(view); err != nil {
		e.metrics.VerifyFailures.Add(1)
		e.punish(in.src, fmt.Errorf("witness for proof %d does not verify: %w", w.ProofID, err))
		return
	}

	err := e.agg.AddWitness(w)
	switch {
	case err == nil:
		e.metrics.WitnessesRelayed.Add(1)
		e.relay(in.src, WitnessChannel, in.raw)
	case errors.Is(err, aggregator.ErrQueueFull):
		e.metrics.QueueDrops.Add(1)
	default:
		// duplicates, stale sets, and witnesses over the wrong content all
		// stop here; none of them implicate the relaying peer
		e.logger.Debug("witness not counted",
			"proof_id", w.ProofID, "validator_index", w.ValidatorIndex, "err", err.Error())
	}
}

func (e *Engine) verifyVote(in inboundMsg, m *VoteMessage) {
	v := m.Vote
	view, ok := e.sets.View(v.SetID)
	if !ok {
		if e.sets.IsFuture(v.SetID) {
			e.hold(in, v.SetID)
		} else {
			e.metrics.StaleDropped.Add(1)
		}
		return
	}
	if err := v.Verify(view); err != nil {
		e.metrics.VerifyFailures.Add(1)
		e.punish(in.src, fmt.Errorf("vote for claim %d does not verify: %w", v.ClaimID, err))
		return
	}

	err := e.agg.AddVote(v)
	switch {
	case err == nil:
		e.metrics.VotesRelayed.Add(1)
		e.relay(in.src, VoteChannel, in.raw)
	case errors.Is(err, aggregator.ErrQueueFull):
		e.metrics.QueueDrops.Add(1)
	default:
		e.logger.Debug("vote not counted",
			"claim_id", v.ClaimID, "validator_index", v.ValidatorIndex, "err", err.Error())
	}
}

// verifyProof expands a finalized proof from a peer into witnesses and
// counts them through the aggregator, which owns the real request and its
// quorum math. The proof is content-checked first so a forged payload
// punishes the sender instead of littering the shards.
func (e *Engine) verifyProof(in inboundMsg, m *ProofMessage) {
	p := m.Proof
	view, ok := e.sets.View(p.SetID)
	if !ok {
		e.metrics.StaleDropped.Add(1)
		return
	}
	ws, err := expandProof(p, view)
	if err != nil {
		e.metrics.VerifyFailures.Add(1)
		e.punish(in.src, err)
		return
	}
	for _, w := range ws {
		if err := e.agg.AddWitness(w); err != nil && errors.Is(err, aggregator.ErrQueueFull) {
			e.metrics.QueueDrops.Add(1)
			return
		}
	}
	e.logger.Debug("expanded peer proof",
		"proof_id", p.ProofID, "kind", p.Kind.String(), "witnesses", len(ws))
}

//-------------------------------------
// anti-entropy

func (e *Engine) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.announceEvery)
	defer ticker.Stop()
	proofSince := make(map[aggregator.ProofRef]time.Time)
	claimSince := make(map[uint64]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.announceOnce(proofSince, claimSince)
		}
	}
}

// announceOnce sends one progress announcement and re-floods messages for
// work that sat unchanged past the rebroadcast interval.
func (e *Engine) announceOnce(proofSince map[aggregator.ProofRef]time.Time, claimSince map[uint64]time.Time) {
	proofs, claims, err := e.agg.InFlight(maxRefs)
	if err != nil {
		return
	}

	msg := &AnnounceMessage{Height: e.agg.Status().Height, Claims: claims}
	for _, chain := range []types.ChainID{types.ChainEthereum, types.ChainXrpl} {
		cur := ChainCursor{Chain: chain}
		if wm, ok := e.agg.Watermark(chain); ok {
			cur.Watermark = wm
		}
		for _, ref := range proofs {
			if ref.Kind.ChainID() == chain {
				cur.Pending = append(cur.Pending, ProofPoint{Kind: ref.Kind, ID: ref.ID})
			}
		}
		msg.Chains = append(msg.Chains, cur)
	}
	e.broadcast(AnnounceChannel, cdc.MustMarshalBinaryBare(msg))
	e.metrics.Announces.Add(1)

	e.rebroadcast(proofs, claims, proofSince, claimSince)
}

// rebroadcast re-floods the counted messages of proofs and claims that have
// been in flight longer than the rebroadcast interval, within a per-round
// budget. Receivers drop what they already know.
func (e *Engine) rebroadcast(proofs []aggregator.ProofRef, claims []uint64,
	proofSince map[aggregator.ProofRef]time.Time, claimSince map[uint64]time.Time) {

	now := time.Now()
	live := make(map[aggregator.ProofRef]struct{}, len(proofs))
	budget := rebroadcastBudget
	for _, ref := range proofs {
		live[ref] = struct{}{}
		since, ok := proofSince[ref]
		if !ok {
			proofSince[ref] = now
			continue
		}
		if budget == 0 || now.Sub(since) < e.rebroadcastAfter {
			continue
		}
		proofSince[ref] = now
		budget--
		ws, err := e.agg.Witnesses(ref.Kind, ref.ID)
		if err != nil {
			continue
		}
		for _, w := range ws {
			e.broadcast(WitnessChannel, cdc.MustMarshalBinaryBare(&WitnessMessage{Witness: w}))
		}
		if len(ws) > 0 {
			e.metrics.Rebroadcasts.Add(1)
			e.logger.Debug("rebroadcast stuck proof",
				"proof_id", ref.ID, "kind", ref.Kind.String(), "witnesses", len(ws))
		}
	}
	for ref := range proofSince {
		if _, ok := live[ref]; !ok {
			delete(proofSince, ref)
		}
	}

	liveClaims := make(map[uint64]struct{}, len(claims))
	budget = rebroadcastBudget
	for _, id := range claims {
		liveClaims[id] = struct{}{}
		since, ok := claimSince[id]
		if !ok {
			claimSince[id] = now
			continue
		}
		if budget == 0 || now.Sub(since) < e.rebroadcastAfter {
			continue
		}
		claimSince[id] = now
		budget--
		vs, err := e.agg.Votes(id)
		if err != nil {
			continue
		}
		for _, v := range vs {
			e.broadcast(VoteChannel, cdc.MustMarshalBinaryBare(&VoteMessage{Vote: v}))
		}
		if len(vs) > 0 {
			e.metrics.Rebroadcasts.Add(1)
			e.logger.Debug("rebroadcast stuck claim", "claim_id", id, "votes", len(vs))
		}
	}
	for id := range claimSince {
		if _, ok := liveClaims[id]; !ok {
			delete(claimSince, id)
		}
	}
}

// handleAnnounce compares a peer's progress to ours. Proofs the peer still
// collects but we completed are served back whole; proofs the peer's
// announcement implies it finished but we still collect are requested.
func (e *Engine) handleAnnounce(src Peer, msg *AnnounceMessage) {
	proofs, claims, err := e.agg.InFlight(maxRefs)
	if err != nil {
		return
	}

	want := &WantMessage{}
	for _, cur := range msg.Chains {
		announced := make(map[uint64]struct{}, len(cur.Pending))
		ceiling := cur.Watermark
		for _, p := range cur.Pending {
			announced[p.ID] = struct{}{}
			if p.ID > ceiling {
				ceiling = p.ID
			}
		}

		// ids inside the peer's announced range that it no longer lists are
		// complete on its side
		for _, ref := range proofs {
			if ref.Kind.ChainID() != cur.Chain || ref.ID > ceiling {
				continue
			}
			if _, ok := announced[ref.ID]; ok {
				continue
			}
			if len(want.Proofs) < maxRefs {
				want.Proofs = append(want.Proofs, ProofPoint{Kind: ref.Kind, ID: ref.ID})
			}
		}

		// ids the peer still collects that we already completed
		ourWM, _ := e.agg.Watermark(cur.Chain)
		served := 0
		for _, p := range cur.Pending {
			if p.ID <= cur.Watermark || p.ID > ourWM+e.liveWindow || served >= maxRefs {
				continue
			}
			if !e.agg.IsComplete(p.Kind, p.ID) {
				continue
			}
			proof, err := e.proofs.GetProof(cur.Chain, p.ID)
			if err != nil {
				continue
			}
			if src.Send(AnnounceChannel, cdc.MustMarshalBinaryBare(&ProofMessage{Proof: proof})) {
				served++
				e.metrics.ProofsServed.Add(1)
			}
		}
	}

	// claims the peer stopped announcing resolved on its side, but only a
	// peer at our runtime height or past it has indexed the same claims
	if msg.Height >= e.agg.Status().Height {
		announced := make(map[uint64]struct{}, len(msg.Claims))
		for _, id := range msg.Claims {
			announced[id] = struct{}{}
		}
		for _, id := range claims {
			if _, ok := announced[id]; ok {
				continue
			}
			if len(want.Claims) < maxRefs {
				want.Claims = append(want.Claims, id)
			}
		}
	}

	if len(want.Proofs) == 0 && len(want.Claims) == 0 {
		return
	}
	src.Send(AnnounceChannel, cdc.MustMarshalBinaryBare(want))
}

// handleWant retransmits what we hold for the requested ids: the whole
// finalized proof when complete, otherwise every witness or vote counted so
// far.
func (e *Engine) handleWant(src Peer, msg *WantMessage) {
	for _, p := range msg.Proofs {
		if e.agg.IsComplete(p.Kind, p.ID) {
			if proof, err := e.proofs.GetProof(p.Kind.ChainID(), p.ID); err == nil {
				src.Send(AnnounceChannel, cdc.MustMarshalBinaryBare(&ProofMessage{Proof: proof}))
				e.metrics.ProofsServed.Add(1)
				continue
			}
		}
		ws, err := e.agg.Witnesses(p.Kind, p.ID)
		if err != nil {
			continue
		}
		for _, w := range ws {
			src.Send(WitnessChannel, cdc.MustMarshalBinaryBare(&WitnessMessage{Witness: w}))
		}
	}
	for _, id := range msg.Claims {
		vs, err := e.agg.Votes(id)
		if err != nil {
			continue
		}
		for _, v := range vs {
			src.Send(VoteChannel, cdc.MustMarshalBinaryBare(&VoteMessage{Vote: v}))
		}
	}
}

//-------------------------------------
// plumbing

func (e *Engine) isDuplicate(raw []byte) bool {
	ok, _ := e.seen.ContainsOrAdd(seenKey(raw), nil)
	return ok
}

func (e *Engine) markSeen(raw []byte) {
	e.seen.Add(seenKey(raw), nil)
}

func seenKey(raw []byte) [crypto.HashSize]byte {
	var key [crypto.HashSize]byte
	copy(key[:], crypto.Sha256(raw))
	return key
}

func (e *Engine) enqueueVerify(in inboundMsg) {
	select {
	case e.verifyCh <- in:
	case <-e.quitCh:
	default:
		e.metrics.QueueDrops.Add(1)
	}
}

func (e *Engine) hold(in inboundMsg, setID uint64) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if len(e.held) >= e.maxHeld {
		e.metrics.QueueDrops.Add(1)
		return
	}
	e.held = append(e.held, heldMsg{in: in, setID: setID})
	e.metrics.HeldMessages.Set(float64(len(e.held)))
}

func (e *Engine) peerList() []Peer {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make([]Peer, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out
}

// relay sends raw bytes to every peer except the one they came from.
func (e *Engine) relay(excludeID string, chID byte, raw []byte) {
	for _, p := range e.peerList() {
		if p.ID() == excludeID {
			continue
		}
		p.Send(chID, raw)
	}
}

func (e *Engine) broadcast(chID byte, raw []byte) {
	for _, p := range e.peerList() {
		p.Send(chID, raw)
	}
}

func (e *Engine) punish(peerID string, err error) {
	e.metrics.PeerErrors.Add(1)
	e.logger.Error("peer sent an invalid message", "peer", peerID, "err", err.Error())
	if e.peerErr != nil {
		e.peerErr(peerID, err)
	}
}
