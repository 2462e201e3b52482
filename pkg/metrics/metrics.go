package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaveflow_runs_total",
			Help: "Total number of finalized runs",
		},
		[]string{"scope", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaveflow_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"scope"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weaveflow_runs_active",
			Help: "Number of runs currently executing",
		},
	)

	// Node metrics
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaveflow_node_executions_total",
			Help: "Total number of node executions by terminal status",
		},
		[]string{"node_type", "status"},
	)

	NodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaveflow_node_execution_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	NodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weaveflow_nodes_in_flight",
			Help: "Number of node executions currently running",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaveflow_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type", "result"},
	)

	// Model provider metrics
	ModelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaveflow_model_requests_total",
			Help: "Total number of model provider calls",
		},
		[]string{"model", "status"},
	)
)

// RecordHTTPRequest records an HTTP request metric
func RecordHTTPRequest(service, method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(service, method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func RecordHTTPDuration(service, method, path string, duration float64) {
	HTTPRequestDuration.WithLabelValues(service, method, path).Observe(duration)
}

// RecordRun records a finalized run and its duration
func RecordRun(scope, status string, duration float64) {
	RunsTotal.WithLabelValues(scope, status).Inc()
	RunDuration.WithLabelValues(scope).Observe(duration)
}

// RecordNodeExecution records a node reaching a terminal status
func RecordNodeExecution(nodeType, status string) {
	NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
}

// RecordNodeDuration records node execution duration
func RecordNodeDuration(nodeType string, duration float64) {
	NodeExecutionDuration.WithLabelValues(nodeType).Observe(duration)
}

func RecordEventPublished(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(eventType, result).Inc()
}

func RecordModelRequest(model, status string) {
	ModelRequestsTotal.WithLabelValues(model, status).Inc()
}
