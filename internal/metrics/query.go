package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query pipeline Prometheus metrics.
var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "RAG queries by outcome (success or error kind)",
		},
		[]string{"outcome"},
	)

	MaterializationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Collection builds by result",
		},
		[]string{"result"}, // "success" / "error" / "shared"
	)

	MaterializationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "materialization_duration_seconds",
			Help:      "Time to decrypt, chunk and index one file",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	CollectionCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cache_total",
			Help:      "Collection existence lookups served from memory or the index",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	SettlementChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_charges_total",
			Help:      "Pay-per-query settlement attempts by result",
		},
		[]string{"result"},
	)
)
