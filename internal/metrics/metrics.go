package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes used as the "outcome" label of QueryPagesTotal.
const (
	OutcomeSuccess      = "success"
	OutcomeSyntaxError  = "syntax_error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeTransport    = "transport_error"
)

// Query executor metrics
var (
	QueryPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_query_pages_total",
			Help: "Total number of query page fetches by outcome.",
		},
		[]string{"outcome"},
	)

	QueryDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "twinquery_query_documents_total",
			Help: "Total number of twin documents received from query pages.",
		},
	)

	QueryPageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "twinquery_query_page_duration_seconds",
			Help:    "Latency of a single query page round-trip.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Twin service metrics
var (
	TwinRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinquery_twin_requests_total",
			Help: "Total number of twin read/update requests by operation and status.",
		},
		[]string{"operation", "status"},
	)

	TransportRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "twinquery_transport_retries_total",
			Help: "Total number of HTTP requests retried by the transport.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueryPagesTotal,
		QueryDocumentsTotal,
		QueryPageDuration,
		TwinRequestsTotal,
		TransportRetriesTotal,
	)
}
