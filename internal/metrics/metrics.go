// Package metrics holds the prometheus collectors shared by the routing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolverPicks counts resolved aggregators by the selection stage that picked them.
	ResolverPicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_resolver_picks_total",
		Help: "Aggregators chosen by the resolver, by aggregator and selection stage",
	}, []string{"aggregator", "stage"})

	// ResolverMisses counts resolutions that found no candidate aggregator.
	ResolverMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_resolver_misses_total",
		Help: "Resolutions with no aggregator able to serve the requested job types",
	})

	ResilienceActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_resilience_active_sessions",
		Help: "Resilience sessions currently registered with the poller",
	})

	ResiliencePollerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_resilience_poller_running",
		Help: "1 while the resilience poller is running",
	})

	// ResiliencePolls counts per-session poll outcomes.
	ResiliencePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_resilience_polls_total",
		Help: "Resilience session polls by outcome",
	}, []string{"outcome"})

	// CleanupResults counts cleanup deletes by aggregator and result.
	CleanupResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_cleanup_results_total",
		Help: "Connection cleanup attempts by aggregator and result",
	}, []string{"aggregator", "result"})

	CleanupSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "router_cleanup_sweep_duration_seconds",
		Help:    "Connection cleanup sweep duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// BoolGauge converts a flag to a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
