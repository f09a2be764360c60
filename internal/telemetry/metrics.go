// Package telemetry exposes the engine's Prometheus instrumentation.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the arbitration engine and the
// subscription manager report into.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Cooldowns        *prometheus.CounterVec
	FallbackDepth    prometheus.Histogram
	Merges           *prometheus.CounterVec
	ActiveSubs       prometheus.Gauge
	ActiveConns      prometheus.Gauge
	StreamMessages   *prometheus.CounterVec
	DroppedTicks     prometheus.Counter
}

// New registers the collectors on reg and returns the bundle. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry so parallel packages do not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiml_provider_requests_total",
			Help: "Provider fetch attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fiml_provider_latency_seconds",
			Help:    "Provider fetch latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"provider"}),
		Cooldowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiml_provider_cooldowns_total",
			Help: "Cooldowns applied after rate-limit observations.",
		}, []string{"provider"}),
		FallbackDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiml_fallback_depth",
			Help:    "Attempts consumed before a plan produced a response.",
			Buckets: []float64{1, 2, 3},
		}),
		Merges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiml_merges_total",
			Help: "Multi-source merges by strategy.",
		}, []string{"strategy"}),
		ActiveSubs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fiml_active_subscriptions",
			Help: "Live subscriptions across all connections.",
		}),
		ActiveConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fiml_active_connections",
			Help: "Live websocket connections.",
		}),
		StreamMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiml_stream_messages_total",
			Help: "Messages emitted to clients by type.",
		}, []string{"type"}),
		DroppedTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fiml_stream_dropped_ticks_total",
			Help: "Stream ticks dropped because the client send buffer was full.",
		}),
	}
}

// NewNop returns a bundle backed by a throwaway registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
