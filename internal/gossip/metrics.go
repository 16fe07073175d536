package gossip

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "gossip"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of connected peers.
	Peers metrics.Gauge
	// Number of witnesses verified and relayed.
	WitnessesRelayed metrics.Counter
	// Number of votes verified and relayed.
	VotesRelayed metrics.Counter
	// Number of messages dropped as exact duplicates.
	DuplicatesDropped metrics.Counter
	// Number of messages dropped for stale sets or completed proofs.
	StaleDropped metrics.Counter
	// Number of messages that failed signature verification.
	VerifyFailures metrics.Counter
	// Number of messages that earned their sender a peer error.
	PeerErrors metrics.Counter
	// Number of messages dropped because a queue or buffer was full.
	QueueDrops metrics.Counter
	// Number of messages held for a future validator set.
	HeldMessages metrics.Gauge
	// Number of progress announcements sent.
	Announces metrics.Counter
	// Number of stuck proofs or claims re-flooded.
	Rebroadcasts metrics.Counter
	// Number of finalized proofs served to lagging peers.
	ProofsServed metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of connected peers.",
		}, labels).With(labelsAndValues...),
		WitnessesRelayed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "witnesses_relayed",
			Help:      "Number of witnesses verified and relayed.",
		}, labels).With(labelsAndValues...),
		VotesRelayed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_relayed",
			Help:      "Number of votes verified and relayed.",
		}, labels).With(labelsAndValues...),
		DuplicatesDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "duplicates_dropped",
			Help:      "Number of messages dropped as exact duplicates.",
		}, labels).With(labelsAndValues...),
		StaleDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stale_dropped",
			Help:      "Number of messages dropped for stale sets or completed proofs.",
		}, labels).With(labelsAndValues...),
		VerifyFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "verify_failures",
			Help:      "Number of messages that failed signature verification.",
		}, labels).With(labelsAndValues...),
		PeerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peer_errors",
			Help:      "Number of messages that earned their sender a peer error.",
		}, labels).With(labelsAndValues...),
		QueueDrops: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queue_drops",
			Help:      "Number of messages dropped because a queue or buffer was full.",
		}, labels).With(labelsAndValues...),
		HeldMessages: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "held_messages",
			Help:      "Number of messages held for a future validator set.",
		}, labels).With(labelsAndValues...),
		Announces: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "announces",
			Help:      "Number of progress announcements sent.",
		}, labels).With(labelsAndValues...),
		Rebroadcasts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rebroadcasts",
			Help:      "Number of stuck proofs or claims re-flooded.",
		}, labels).With(labelsAndValues...),
		ProofsServed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_served",
			Help:      "Number of finalized proofs served to lagging peers.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:             discard.NewGauge(),
		WitnessesRelayed:  discard.NewCounter(),
		VotesRelayed:      discard.NewCounter(),
		DuplicatesDropped: discard.NewCounter(),
		StaleDropped:      discard.NewCounter(),
		VerifyFailures:    discard.NewCounter(),
		PeerErrors:        discard.NewCounter(),
		QueueDrops:        discard.NewCounter(),
		HeldMessages:      discard.NewGauge(),
		Announces:         discard.NewCounter(),
		Rebroadcasts:      discard.NewCounter(),
		ProofsServed:      discard.NewCounter(),
	}
}
