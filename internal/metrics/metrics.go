// Package metrics holds the node's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "querynode"

var registerOnce sync.Once

// Register adds every collector to the default registry. Later calls do nothing.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestDuration,
			httpRequestsTotal,
			EmbeddingRequestsTotal,
			EmbeddingDuration,
			EmbeddingTokensTotal,
			EmbeddingBudgetRemaining,
			EmbeddingCacheTotal,
			QueriesTotal,
			MaterializationsTotal,
			MaterializationDuration,
			CollectionCacheTotal,
			SettlementChargesTotal,
		)
	})
}
