package inbound

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "inbound"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of claims currently being observed.
	PendingObservations metrics.Gauge
	// Number of completed observations, labeled by result code.
	Observations metrics.Counter
	// Number of observation attempts deferred for retry.
	ObservationRetries metrics.Counter
	// Number of votes signed and submitted.
	VotesSubmitted metrics.Counter
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
		PendingObservations: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_observations",
			Help:      "Number of claims currently being observed.",
		}, labels).With(labelsAndValues...),
		Observations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "observations",
			Help:      "Number of completed observations, labeled by result code.",
		}, append(labels, "code")).With(labelsAndValues...),
		ObservationRetries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "observation_retries",
			Help:      "Number of observation attempts deferred for retry.",
		}, labels).With(labelsAndValues...),
		VotesSubmitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_submitted",
			Help:      "Number of votes signed and submitted.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		PendingObservations: discard.NewGauge(),
		Observations:        discard.NewCounter(),
		ObservationRetries:  discard.NewCounter(),
		VotesSubmitted:      discard.NewCounter(),
	}
}
