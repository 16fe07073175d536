// Package inbound implements a validator's half of the inbound claim
// protocol: independently observe the queried fact on the external chain,
// hash the canonical observation, and submit the hash as a signed vote. The
// aggregator tallies votes; this package only produces the local one.
//
// Observation outcomes split two ways. Deterministic outcomes (the value
// itself, or a failure every honest validator reproduces, like a missing
// transaction) are voted immediately. Transient outcomes (provider errors,
// confirmations still accruing, a target block the head has not reached)
// are retried until the claim resolves or expires, so a flaky RPC endpoint
// never pollutes the tally.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/types"
)

var (
	// ErrNotRunning is returned when claims are submitted to a stopped
	// verifier.
	ErrNotRunning = errors.New("inbound verifier is not running")

	// ErrQueueFull is returned when the observation queue is saturated.
	ErrQueueFull = errors.New("observation queue is full")

	errAwaitingConfirmations = errors.New("awaiting confirmations")
	errBlockNotFinal         = errors.New("target block not yet available")
)

const (
	defaultQueueDepth    = 256
	defaultMaxConcurrent = 8

	defaultMinConfirmations   = 6
	defaultMaxBlockLookBehind = 64

	defaultRetryInterval  = 15 * time.Second
	defaultObserveTimeout = 10 * time.Second
)

// ClaimTally is the aggregator surface the verifier needs: count the local
// vote and report claim progress so finished claims stop being observed.
type ClaimTally interface {
	AddVote(v *types.Vote) error
	ClaimState(id uint64) (*types.ClaimState, error)
}

// VoteBroadcaster floods the local vote to peers.
type VoteBroadcaster interface {
	BroadcastVote(v *types.Vote) error
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithMetrics sets the metrics sink. Defaults to NopMetrics.
func WithMetrics(m *Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithMinConfirmations sets the confirmation depth a transaction needs
// before its observation is voted.
func WithMinConfirmations(n uint64) Option {
	return func(v *Verifier) { v.minConfirmations = n }
}

// WithMaxBlockLookBehind sets how far the chain head may move past a
// ReturnDataAt target block before the observation reports outdated.
func WithMaxBlockLookBehind(n uint64) Option {
	return func(v *Verifier) { v.maxBlockLookBehind = n }
}

// WithRetryInterval sets the pause between observation attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(v *Verifier) { v.retryInterval = d }
}

// WithMaxConcurrent bounds how many observations may query chain providers
// at once.
func WithMaxConcurrent(n int64) Option {
	return func(v *Verifier) { v.maxConcurrent = n }
}

// WithObserveTimeout bounds a single observation attempt.
func WithObserveTimeout(d time.Duration) Option {
	return func(v *Verifier) { v.observeTimeout = d }
}

// Verifier runs claim observations and votes on their outcomes.
type Verifier struct {
	service.BaseService
	logger log.Logger

	signer  *signer.Signer
	tally   ClaimTally
	gossip  VoteBroadcaster
	clients map[types.ChainID]ChainClient
	metrics *Metrics

	minConfirmations   uint64
	maxBlockLookBehind uint64
	retryInterval      time.Duration
	observeTimeout     time.Duration
	maxConcurrent      int64

	queue  chan *types.InboundClaim
	sem    *semaphore.Weighted
	tasks  *taskgroup.Group
	cancel context.CancelFunc
	quitCh chan struct{}
}

// NewVerifier returns a Verifier voting with sgn's key, counting through
// tally, and flooding votes through gossip. Claims whose target chain has
// no entry in clients are left to the rest of the set.
func NewVerifier(
	logger log.Logger,
	sgn *signer.Signer,
	tally ClaimTally,
	gossip VoteBroadcaster,
	clients map[types.ChainID]ChainClient,
	opts ...Option,
) *Verifier {
	v := &Verifier{
		logger:             logger.With("module", "inbound"),
		signer:             sgn,
		tally:              tally,
		gossip:             gossip,
		clients:            clients,
		metrics:            NopMetrics(),
		minConfirmations:   defaultMinConfirmations,
		maxBlockLookBehind: defaultMaxBlockLookBehind,
		retryInterval:      defaultRetryInterval,
		observeTimeout:     defaultObserveTimeout,
		maxConcurrent:      defaultMaxConcurrent,
		queue:              make(chan *types.InboundClaim, defaultQueueDepth),
		quitCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.sem = semaphore.NewWeighted(v.maxConcurrent)
	v.BaseService = *service.NewBaseService(v.logger, "InboundVerifier", v)
	return v
}

// OnStart implements service.Service.
func (v *Verifier) OnStart(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.tasks = taskgroup.New(taskgroup.Trigger(cancel))
	v.tasks.Go(func() error {
		v.dispatchLoop(rctx)
		return nil
	})
	return nil
}

// OnStop implements service.Service.
func (v *Verifier) OnStop() {
	v.cancel()
	_ = v.tasks.Wait()
	close(v.quitCh)
}

// Submit queues a claim for observation. Claims whose set does not include
// the local key are skipped: a non-validator relays and tallies but never
// votes. Submit never blocks; on a full queue the claim is dropped and the
// tally proceeds on other validators' votes alone.
func (v *Verifier) Submit(claim *types.InboundClaim) error {
	if !v.IsRunning() {
		return ErrNotRunning
	}
	if err := claim.ValidateBasic(); err != nil {
		return err
	}
	if _, ok := v.signer.Eligible(claim.SetID); !ok {
		v.logger.Debug("not eligible to vote, skipping observation", "claim_id", claim.ClaimID,
			"set_id", claim.SetID)
		return nil
	}

	select {
	case v.queue <- claim:
		return nil
	case <-v.quitCh:
		return ErrNotRunning
	default:
		return ErrQueueFull
	}
}

// dispatchLoop fans claims out to per-claim observation goroutines. The
// loop returns only after every observer finished, so tasks.Wait covers
// them all.
func (v *Verifier) dispatchLoop(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case claim := <-v.queue:
			c := claim
			wg.Add(1)
			v.metrics.PendingObservations.Add(1)
			go func() {
				defer wg.Done()
				defer v.metrics.PendingObservations.Add(-1)
				v.observeClaim(ctx, c)
			}()
		}
	}
}

// observeClaim retries the claim query until it produces a vote, the claim
// resolves without us, or the verifier stops.
func (v *Verifier) observeClaim(ctx context.Context, claim *types.InboundClaim) {
	client, ok := v.clients[claim.TargetChain]
	if !ok {
		v.logger.Error("no chain client configured for claim target",
			"claim_id", claim.ClaimID, "chain", claim.TargetChain.String())
		return
	}

	for {
		st, err := v.tally.ClaimState(claim.ClaimID)
		if err != nil || st.Status != types.ClaimStatusPending {
			v.logger.Debug("claim no longer pending, dropping observation",
				"claim_id", claim.ClaimID)
			return
		}

		obs, err := v.observe(ctx, client, claim)
		if err == nil {
			v.metrics.Observations.With("code", obs.Code.String()).Add(1)
			if v.submitVote(claim, obs) {
				return
			}
		} else if ctx.Err() != nil {
			return
		} else {
			v.metrics.ObservationRetries.Add(1)
			v.logger.Debug("observation not ready", "claim_id", claim.ClaimID, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(v.retryInterval):
		}
	}
}

// observe runs one bounded, time-limited query attempt.
func (v *Verifier) observe(ctx context.Context, client ChainClient, claim *types.InboundClaim) (Observation, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return Observation{}, err
	}
	defer v.sem.Release(1)

	octx, cancel := context.WithTimeout(ctx, v.observeTimeout)
	defer cancel()

	switch q := claim.Query.(type) {
	case *types.TxExists:
		return v.observeTxExists(octx, client, q)
	case *types.ReturnDataAt:
		return v.observeReturnData(octx, client, q)
	default:
		return Observation{}, fmt.Errorf("unsupported claim query %T", claim.Query)
	}
}

// observeTxExists checks that the transaction exists, succeeded, carries a
// log matching the filter, and sits deep enough to be reorg-safe. The
// receipt and the head are fetched in parallel.
func (v *Verifier) observeTxExists(ctx context.Context, client ChainClient, q *types.TxExists) (Observation, error) {
	var (
		receipt *TxReceipt
		latest  uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := client.TransactionReceipt(gctx, q.TxHash)
		if err != nil {
			return fmt.Errorf("transaction receipt: %w", err)
		}
		receipt = r
		return nil
	})
	g.Go(func() error {
		n, err := client.LatestBlock(gctx)
		if err != nil {
			return fmt.Errorf("latest block: %w", err)
		}
		latest = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return Observation{}, err
	}

	if receipt == nil {
		return failObservation(ObservationNoTx), nil
	}
	if receipt.Status == 0 {
		return failObservation(ObservationTxFailed), nil
	}

	var value []byte
	if len(q.LogFilter) > 0 {
		matched := matchLog(receipt.Logs, q.LogFilter)
		if matched == nil {
			return failObservation(ObservationNoMatchingLog), nil
		}
		value = canonicalLog(matched)
	}

	if latest < receipt.BlockNumber+v.minConfirmations {
		var confs uint64
		if latest > receipt.BlockNumber {
			confs = latest - receipt.BlockNumber
		}
		return Observation{}, fmt.Errorf("%w: %d of %d",
			errAwaitingConfirmations, confs, v.minConfirmations)
	}
	return okObservation(value, receipt.BlockNumber), nil
}

// observeReturnData executes the call at the requested block. The head
// having moved past the look-behind window is a deterministic failure every
// honest validator converges on; the head not having reached the target yet
// is merely a retry.
func (v *Verifier) observeReturnData(ctx context.Context, client ChainClient, q *types.ReturnDataAt) (Observation, error) {
	latest, err := client.LatestBlock(ctx)
	if err != nil {
		return Observation{}, fmt.Errorf("latest block: %w", err)
	}
	if latest < q.Block {
		return Observation{}, fmt.Errorf("%w: head at %d, target %d",
			errBlockNotFinal, latest, q.Block)
	}
	if latest-q.Block > v.maxBlockLookBehind {
		return failObservation(ObservationOutdated), nil
	}

	data, err := client.Call(ctx, q.Contract, q.CallData, q.Block)
	if err != nil {
		return Observation{}, fmt.Errorf("call at block %d: %w", q.Block, err)
	}
	if len(data) == 0 {
		return failObservation(ObservationEmptyReturnData), nil
	}
	if len(data) > MaxReturnDataSize {
		return failObservation(ObservationReturnDataTooLarge), nil
	}
	return okObservation(data, q.Block), nil
}

// submitVote signs the observation hash, counts it locally, and floods it.
// It reports false only when counting should be retried.
func (v *Verifier) submitVote(claim *types.InboundClaim, obs Observation) bool {
	vote, err := v.signer.SignVote(claim, obs.Hash(claim.ClaimID))
	if err != nil {
		v.logger.Error("failed to sign vote", "claim_id", claim.ClaimID, "err", err)
		return true
	}

	switch err := v.tally.AddVote(vote); {
	case err == nil:
	case errors.Is(err, aggregator.ErrDuplicateVote):
		// deterministic signing makes a replayed own vote byte-identical
		v.logger.Debug("own vote already counted", "claim_id", claim.ClaimID)
		return true
	case errors.Is(err, aggregator.ErrQueueFull):
		return false
	default:
		v.logger.Error("own vote not counted", "claim_id", claim.ClaimID, "err", err)
		return true
	}

	if err := v.gossip.BroadcastVote(vote); err != nil {
		v.logger.Error("failed to broadcast vote", "claim_id", claim.ClaimID, "err", err)
	}
	v.metrics.VotesSubmitted.Add(1)
	v.logger.Info("voted on claim", "claim_id", claim.ClaimID,
		"code", obs.Code.String(), "block", obs.Block)
	return true
}
