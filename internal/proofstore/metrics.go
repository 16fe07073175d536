package proofstore

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "proofstore"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of finalized proofs currently stored.
	Proofs metrics.Gauge
	// Number of requests in the pending index.
	PendingRequests metrics.Gauge
	// Number of equivocation evidence records stored.
	Evidence metrics.Gauge
	// Number of proofs removed by pruning.
	PrunedProofs metrics.Counter
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
		Proofs: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs",
			Help:      "Number of finalized proofs currently stored.",
		}, labels).With(labelsAndValues...),
		PendingRequests: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_requests",
			Help:      "Number of requests in the pending index.",
		}, labels).With(labelsAndValues...),
		Evidence: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "evidence",
			Help:      "Number of equivocation evidence records stored.",
		}, labels).With(labelsAndValues...),
		PrunedProofs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pruned_proofs",
			Help:      "Number of proofs removed by pruning.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Proofs:          discard.NewGauge(),
		PendingRequests: discard.NewGauge(),
		Evidence:        discard.NewGauge(),
		PrunedProofs:    discard.NewCounter(),
	}
}
