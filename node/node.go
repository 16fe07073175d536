// Package node assembles a running notary from its configuration: storage,
// keystore, session tracking, aggregation, gossip, inbound observation, the
// orchestrating worker, pruning, RPC, and metrics, started and stopped as
// one service.
//
// Two seams stay external by design: the runtime notification source is
// supplied by whatever hosts the node (the chain client in production, a
// ChannelSource in tests), and the gossip engine is exposed for the host's
// transport to drive, since the mesh fabric itself is not built here.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/gossip"
	"github.com/notarynet/notary/internal/inbound"
	"github.com/notarynet/notary/internal/keystore"
	"github.com/notarynet/notary/internal/notary"
	"github.com/notarynet/notary/internal/proofstore"
	"github.com/notarynet/notary/internal/pubsub"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/internal/signer"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/rpc"
	"github.com/notarynet/notary/types"
)

// Node wires every notarization service together.
type Node struct {
	service.BaseService
	logger log.Logger

	cfg    *config.Config
	source notary.RuntimeSource

	key    *keystore.BridgeKey
	sets   *session.Tracker
	bus    *pubsub.Bus
	store  *proofstore.Store
	agg    *aggregator.Aggregator
	engine *gossip.Engine
	verif  *inbound.Verifier
	worker *notary.Worker
	pruner *proofstore.Pruner
	rpcSrv *rpc.Server

	// chainClients is shared with the verifier; entries are added during
	// OnStart, before the verifier begins dispatching.
	chainClients map[types.ChainID]inbound.ChainClient
	ethClient    *inbound.EthChainClient
	promSrv      *http.Server
}

// New builds a node from cfg. The runtime source is the host chain's
// notification feed; dbProvider opens the proof store's database (nil
// selects config.DefaultDBProvider).
func New(logger log.Logger, cfg *config.Config, source notary.RuntimeSource, dbProvider config.DBProvider) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dbProvider == nil {
		dbProvider = config.DefaultDBProvider
	}

	key, err := keystore.LoadOrGenBridgeKey(cfg.BridgeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("loading bridge key: %w", err)
	}

	db, err := dbProvider(&config.DBContext{ID: "proofstore", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("opening proof store database: %w", err)
	}

	n := &Node{
		logger:       logger,
		cfg:          cfg,
		source:       source,
		key:          key,
		sets:         session.NewTracker(cfg.RetainSetViews),
		bus:          pubsub.NewBus(logger),
		chainClients: map[types.ChainID]inbound.ChainClient{},
	}

	promOn := cfg.Instrumentation.Prometheus
	ns := cfg.Instrumentation.Namespace

	storeOpts := []proofstore.Option{}
	if promOn {
		storeOpts = append(storeOpts, proofstore.WithMetrics(proofstore.PrometheusMetrics(ns)))
	}
	n.store, err = proofstore.New(logger, db, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening proof store: %w", err)
	}

	aggOpts := []aggregator.Option{
		aggregator.WithShards(cfg.Aggregator.Shards),
		aggregator.WithQueueDepth(cfg.Aggregator.QueueDepth),
		aggregator.WithRecordGrace(cfg.Aggregator.RecordGrace),
	}
	if promOn {
		aggOpts = append(aggOpts, aggregator.WithMetrics(aggregator.PrometheusMetrics(ns)))
	}
	n.agg = aggregator.New(logger, n.sets, n.store, n.bus, aggOpts...)

	gossipOpts := []gossip.Option{
		gossip.WithVerifyWorkers(cfg.Gossip.VerifyWorkers),
		gossip.WithAnnounceInterval(cfg.Gossip.AnnounceInterval),
		gossip.WithRebroadcastAfter(cfg.Gossip.RebroadcastAfter),
	}
	if promOn {
		gossipOpts = append(gossipOpts, gossip.WithMetrics(gossip.PrometheusMetrics(ns)))
	}
	n.engine = gossip.New(logger, n.agg, n.sets, n.store, gossipOpts...)

	sgn := signer.New(logger, key, n.sets)

	inboundOpts := []inbound.Option{
		inbound.WithMinConfirmations(cfg.Inbound.MinConfirmations),
		inbound.WithMaxBlockLookBehind(cfg.Inbound.MaxBlockLookBehind),
		inbound.WithRetryInterval(cfg.Inbound.RetryInterval),
		inbound.WithObserveTimeout(cfg.Inbound.ObserveTimeout),
		inbound.WithMaxConcurrent(cfg.Inbound.MaxConcurrent),
	}
	if promOn {
		inboundOpts = append(inboundOpts, inbound.WithMetrics(inbound.PrometheusMetrics(ns)))
	}
	// Clients dial at start; the verifier reads the map it shares with us.
	n.verif = inbound.NewVerifier(logger, sgn, n.agg, n.engine, n.chainClients, inboundOpts...)

	n.worker = notary.NewWorker(logger, source, sgn, n.sets,
		n.agg, n.engine, n.store, n.verif,
		notary.WithSetChangeTTL(cfg.SetChangeProofTTL))

	n.pruner = proofstore.NewPruner(logger, n.store, n.worker.Height,
		proofstore.WithRetainBlocks(cfg.Store.RetainBlocks),
		proofstore.WithPruneInterval(cfg.Store.PruneInterval))

	n.rpcSrv = rpc.NewServer(logger, cfg.RPC.ListenAddress, rpc.Env{
		Moniker: cfg.Moniker,
		Store:   n.store,
		Tally:   n.agg,
		Sets:    n.sets,
		Bus:     n.bus,
		Heights: n.worker.Height,
	},
		rpc.WithWriteTimeout(cfg.RPC.WebsocketWriteTimeout),
		rpc.WithSubscriptionBuffer(cfg.RPC.SubscriptionBufferSize),
		rpc.WithMaxOpenConnections(cfg.RPC.MaxOpenConnections),
	)

	n.BaseService = *service.NewBaseService(logger.With("module", "node"), "Node", n)
	return n, nil
}

// stoppable narrows a service to the lifecycle calls the node drives.
type stoppable interface {
	service.Service
	Stop() error
}

// OnStart implements service.Implementation, starting services leaves
// first so every consumer's dependency is accepting work before the first
// notification flows.
func (n *Node) OnStart(ctx context.Context) error {
	if addr := n.cfg.Inbound.EthereumRPC; addr != "" {
		client, err := inbound.DialEthereum(ctx, addr)
		if err != nil {
			return fmt.Errorf("dialing ethereum endpoint: %w", err)
		}
		n.ethClient = client
		n.chainClients[types.ChainEthereum] = client
	}

	services := []stoppable{n.agg, n.engine, n.verif, n.worker, n.pruner, n.rpcSrv}
	for i, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = services[j].Stop()
			}
			return fmt.Errorf("starting %s: %w", svc.String(), err)
		}
	}

	if n.cfg.Instrumentation.Prometheus {
		n.startPrometheus()
	}
	return nil
}

// OnStop implements service.Implementation, stopping in reverse start
// order so producers quiesce before their consumers.
func (n *Node) OnStop() {
	if n.promSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.promSrv.Shutdown(sctx)
	}

	stop := func(svc stoppable) {
		if err := svc.Stop(); err != nil &&
			!errors.Is(err, service.ErrAlreadyStopped) && !errors.Is(err, service.ErrNotStarted) {
			n.logger.Error("error stopping service", "service", svc.String(), "err", err)
		}
		svc.Wait()
	}
	stop(n.rpcSrv)
	stop(n.pruner)
	stop(n.worker)
	stop(n.verif)
	stop(n.engine)
	stop(n.agg)

	if n.ethClient != nil {
		n.ethClient.Close()
	}
	n.bus.Close()
	if err := n.store.Close(); err != nil {
		n.logger.Error("error closing proof store", "err", err)
	}
}

func (n *Node) startPrometheus() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{MaxRequestsInFlight: n.cfg.Instrumentation.MaxOpenConnections},
	))
	n.promSrv = &http.Server{
		Addr:              n.cfg.Instrumentation.PrometheusListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := n.promSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("prometheus server terminated", "err", err)
		}
	}()
}

// GossipEngine exposes the engine for the host transport to drive: the
// transport calls AddPeer/RemovePeer/Receive as its mesh changes.
func (n *Node) GossipEngine() *gossip.Engine { return n.engine }

// EventBus exposes the bus the runtime hook subscribes to for
// ProofFinalized and ClaimResolved notifications.
func (n *Node) EventBus() *pubsub.Bus { return n.bus }

// Worker exposes the orchestrator for operator pause/resume control.
func (n *Node) Worker() *notary.Worker { return n.worker }

// ProofStore exposes the persistence layer, mainly for inspection tools.
func (n *Node) ProofStore() *proofstore.Store { return n.store }

// RPCAddr returns the RPC server's bound address once started.
func (n *Node) RPCAddr() string { return n.rpcSrv.Addr() }

// PubKey returns the node's bridge public key.
func (n *Node) PubKey() secp256k1.PubKey { return n.key.PubKey() }
