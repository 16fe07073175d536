package aggregator

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "aggregator"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of witnesses counted toward a proof.
	WitnessesCounted metrics.Counter
	// Number of witnesses dropped as duplicates.
	DuplicateWitnesses metrics.Counter
	// Number of equivocations detected.
	Equivocations metrics.Counter
	// Number of proofs that reached their signature threshold.
	ProofsCompleted metrics.Counter
	// Number of proofs that expired before reaching their threshold.
	ProofsExpired metrics.Counter
	// Number of votes counted toward a claim.
	VotesCounted metrics.Counter
	// Number of claims accepted.
	ClaimsAccepted metrics.Counter
	// Number of claims rejected.
	ClaimsRejected metrics.Counter
	// Number of proofs currently collecting witnesses.
	PendingProofs metrics.Gauge
	// Number of claims currently collecting votes.
	PendingClaims metrics.Gauge
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
		WitnessesCounted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "witnesses_counted",
			Help:      "Number of witnesses counted toward a proof.",
		}, labels).With(labelsAndValues...),
		DuplicateWitnesses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "duplicate_witnesses",
			Help:      "Number of witnesses dropped as duplicates.",
		}, labels).With(labelsAndValues...),
		Equivocations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "equivocations",
			Help:      "Number of equivocations detected.",
		}, labels).With(labelsAndValues...),
		ProofsCompleted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_completed",
			Help:      "Number of proofs that reached their signature threshold.",
		}, labels).With(labelsAndValues...),
		ProofsExpired: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_expired",
			Help:      "Number of proofs that expired before reaching their threshold.",
		}, labels).With(labelsAndValues...),
		VotesCounted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_counted",
			Help:      "Number of votes counted toward a claim.",
		}, labels).With(labelsAndValues...),
		ClaimsAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "claims_accepted",
			Help:      "Number of claims accepted.",
		}, labels).With(labelsAndValues...),
		ClaimsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "claims_rejected",
			Help:      "Number of claims rejected.",
		}, labels).With(labelsAndValues...),
		PendingProofs: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_proofs",
			Help:      "Number of proofs currently collecting witnesses.",
		}, labels).With(labelsAndValues...),
		PendingClaims: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_claims",
			Help:      "Number of claims currently collecting votes.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		WitnessesCounted:   discard.NewCounter(),
		DuplicateWitnesses: discard.NewCounter(),
		Equivocations:      discard.NewCounter(),
		ProofsCompleted:    discard.NewCounter(),
		ProofsExpired:      discard.NewCounter(),
		VotesCounted:       discard.NewCounter(),
		ClaimsAccepted:     discard.NewCounter(),
		ClaimsRejected:     discard.NewCounter(),
		PendingProofs:      discard.NewGauge(),
		PendingClaims:      discard.NewGauge(),
	}
}
