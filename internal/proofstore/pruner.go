package proofstore

import (
	"context"
	"time"

	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
)

const (
	// DefaultRetainBlocks keeps completed proofs addressable long past any
	// relayer's submission window.
	DefaultRetainBlocks = 100000

	// DefaultPruneInterval spaces pruning sweeps.
	DefaultPruneInterval = 5 * time.Minute
)

// HeightSource reports the latest finalized runtime height.
type HeightSource func() int64

// PrunerOption configures the pruner at construction.
type PrunerOption func(*Pruner)

// WithRetainBlocks sets how many blocks a completed proof stays stored.
func WithRetainBlocks(n int64) PrunerOption {
	return func(p *Pruner) {
		if n > 0 {
			p.retain = n
		}
	}
}

// WithPruneInterval sets the time between pruning sweeps.
func WithPruneInterval(d time.Duration) PrunerOption {
	return func(p *Pruner) {
		if d > 0 {
			p.interval = d
		}
	}
}

// Pruner periodically evicts finalized proofs older than the retention
// window. Heights come from the aggregator's view of the runtime, so
// retention follows finality rather than wall time.
type Pruner struct {
	service.BaseService
	logger log.Logger

	store    *Store
	height   HeightSource
	retain   int64
	interval time.Duration

	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewPruner builds a pruner sweeping store on a timer. Call Start to begin.
func NewPruner(logger log.Logger, store *Store, height HeightSource, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		logger:   logger.With("module", "proofstore"),
		store:    store,
		height:   height,
		retain:   DefaultRetainBlocks,
		interval: DefaultPruneInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.BaseService = *service.NewBaseService(p.logger, "Pruner", p)
	return p
}

// OnStart implements service.Implementation.
func (p *Pruner) OnStart(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})
	go p.loop(rctx)
	return nil
}

// OnStop implements service.Implementation.
func (p *Pruner) OnStop() {
	p.cancel()
	<-p.stopped
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneOnce()
		}
	}
}

func (p *Pruner) pruneOnce() {
	cutoff := p.height() - p.retain
	if cutoff <= 0 {
		return
	}
	n, err := p.store.Prune(cutoff)
	if err != nil {
		p.logger.Error("failed to prune proof store", "below_height", cutoff, "err", err.Error())
		return
	}
	if n > 0 {
		p.logger.Info("pruned finalized proofs", "below_height", cutoff, "pruned", n)
	}
}
