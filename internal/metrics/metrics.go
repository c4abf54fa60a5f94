package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_tvl",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chain_tvl",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_tvl",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})

	HTTPPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_tvl",
		Subsystem: "http",
		Name:      "panics_total",
		Help:      "Total number of recovered handler panics.",
	})
)

// ── Upstream API metrics ───────────────────────────────────────────────

var (
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_tvl",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total upstream API calls per endpoint.",
	}, []string{"endpoint", "status"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chain_tvl",
		Subsystem: "upstream",
		Name:      "duration_seconds",
		Help:      "Upstream API call latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// ── Refresh metrics ────────────────────────────────────────────────────

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_tvl",
		Subsystem: "refresh",
		Name:      "total",
		Help:      "Total number of rollup refreshes.",
	}, []string{"status"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chain_tvl",
		Subsystem: "refresh",
		Name:      "duration_seconds",
		Help:      "Duration of a full fetch and rollup in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	RefreshLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_tvl",
		Subsystem: "refresh",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful refresh.",
	})

	SideEffectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_tvl",
		Subsystem: "refresh",
		Name:      "side_effect_failures_total",
		Help:      "Cache or store writes that failed after a successful rollup.",
	}, []string{"target"})
)

// ── Cache metrics ──────────────────────────────────────────────────────

var CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chain_tvl",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Redis cache lookups by result.",
}, []string{"result"})

// ── Business metrics ───────────────────────────────────────────────────

var (
	ChainTVL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chain_tvl",
		Subsystem: "business",
		Name:      "chain_tvl_usd",
		Help:      "Latest TVL per chain in USD.",
	}, []string{"chain"})

	ChainsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_tvl",
		Subsystem: "business",
		Name:      "chains_tracked",
		Help:      "Number of chains in the latest rollup.",
	})
)
