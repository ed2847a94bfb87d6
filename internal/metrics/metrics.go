// Package metrics registers the analyzer's Prometheus instrumentation:
// counters and histograms for fractal detection, zone lifecycle, bar
// processing latency, and confluence queries, exposed on the dashboard's
// /metrics endpoint (A7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the analyzer reports. A single instance is
// constructed at cmd/analyzer startup and handed to the analyzer facade;
// every measurement, including fractal, zone and transition counts, is
// recorded at the pipeline/facade layer (C10).
type Metrics struct {
	FractalsDetected      prometheus.Counter
	ZonesCreated          *prometheus.CounterVec
	ZoneStateTransitions  *prometheus.CounterVec
	BarProcessingDuration prometheus.Histogram
	ConfluenceQueries     prometheus.Counter
}

// New registers every collector against reg and returns the Metrics handle.
// Passing prometheus.NewRegistry() keeps registration isolated per test;
// cmd/analyzer uses prometheus.DefaultRegisterer in production via
// NewDefault.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FractalsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fractals_detected_total",
			Help: "Total number of confirmed n-bar pivot fractals.",
		}),
		ZonesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_created_total",
			Help: "Total number of supply/demand zones created, by type.",
		}, []string{"type"}),
		ZoneStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zone_state_transitions_total",
			Help: "Total number of zone lifecycle transitions, by reason.",
		}, []string{"reason"}),
		BarProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bar_processing_seconds",
			Help:    "Time spent running one bar through a pipeline's full detector chain.",
			Buckets: prometheus.DefBuckets,
		}),
		ConfluenceQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "confluence_queries_total",
			Help: "Total number of confluence queries served.",
		}),
	}
}

// NewDefault registers against prometheus.DefaultRegisterer, the registry
// the dashboard's /metrics handler serves from.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
