package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics: external provider calls, cache outcomes and
// the spending ledger.
var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "provider_requests_total",
			Help:      "Total number of external provider requests",
		},
		[]string{"operation", "model", "status"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "librarian",
			Name:      "provider_request_duration_seconds",
			Help:      "External provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "model"},
	)

	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "provider_tokens_total",
			Help:      "Total provider tokens consumed",
		},
		[]string{"operation", "model", "type"},
	)

	QueryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "query_cache_total",
			Help:      "Query response cache lookups by result",
		},
		[]string{"result"},
	)

	LedgerSpendUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "librarian",
			Name:      "ledger_spend_usd",
			Help:      "Cumulative spend recorded by the cost ledger",
		},
	)

	LedgerChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "ledger_charges_total",
			Help:      "Cost ledger charge attempts by outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// RegisterPipelineMetrics registers pipeline metrics with the default
// registry. Explicit call from the composition root, no init().
func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderTokensTotal,
		QueryCacheTotal,
		LedgerSpendUSD,
		LedgerChargesTotal,
	)
}
