package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered on the default registry through promauto.

var (
	// 1. HTTP Requests Total (Counter)
	// Labeled by method, route pattern and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cigraph_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// 2. HTTP Request Duration (Histogram)
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cigraph_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// 3. Expansions (Counter)
	// direction is child, parent or root; outcome is ok or error.
	ExpansionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cigraph_expansions_total",
			Help: "Node instance expansions by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// 4. Expansion Duration (Histogram)
	// Backend fetch plus merge, per expansion.
	ExpansionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cigraph_expansion_duration_seconds",
			Help:    "Duration of node instance expansions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// 5. Backend Requests (Counter)
	// status is the HTTP status code, or "error" when no response arrived.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cigraph_backend_requests_total",
			Help: "Requests sent to the CMDB backend",
		},
		[]string{"op", "status"},
	)

	// 6. Active Sessions (Gauge)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cigraph_active_sessions",
			Help: "Number of open explorer sessions",
		},
	)

	// 7. Graph Size (Gauge)
	// Node instances and connections summed over open sessions.
	GraphElements = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cigraph_graph_elements",
			Help: "Node instances and connections held by open sessions",
		},
		[]string{"kind"},
	)
)
