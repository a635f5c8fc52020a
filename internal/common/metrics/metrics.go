package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maps_provider_calls_total",
			Help: "Total number of routing provider API calls",
		},
		[]string{"kind", "status"},
	)

	ProviderLegs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maps_provider_legs_total",
			Help: "Total number of individual matrix legs returned by the provider",
		},
		[]string{"kind", "status"},
	)

	RouteCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_cache_lookups_total",
			Help: "Route cache lookups by result",
		},
		[]string{"result"},
	)

	PrecalcRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "precalc_runs_total",
			Help: "Precalculation runs by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)

	PrecalcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "precalc_run_duration_seconds",
			Help: "Duration of precalculation runs in seconds",
		},
		[]string{"scope"},
	)

	PrecalcJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "precalc_jobs_active",
			Help: "Number of active precalculation jobs",
		},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "search_duration_seconds",
			Help: "Duration of ranking queries in seconds",
		},
	)

	SearchVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_verdicts_total",
			Help: "Ranking query verdicts by outcome",
		},
		[]string{"outcome"},
	)
)
