package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the server's prometheus metrics.
//
// Tracked:
//   - LLM request latency, counts and token consumption per model
//   - run and block-run outcomes
//   - HTTP request latency and counts
//   - database query latency
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// RunCounter counts finished runs. Labels: status (completed|failed)
	RunCounter *prometheus.CounterVec

	// BlockRunCounter counts finished block runs.
	// Labels: block_type, status (completed|failed)
	BlockRunCounter *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	RunDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with a dedicated registry.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptseq_llm_request_duration_seconds",
			Help:    "LLM API call latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}, []string{"model"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptseq_llm_requests_total",
			Help: "Total LLM requests by model and status.",
		}, []string{"model", "status"}),
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptseq_llm_tokens_total",
			Help: "Token consumption by model and type.",
		}, []string{"model", "type"}),
		RunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptseq_runs_total",
			Help: "Finished runs by terminal status.",
		}, []string{"status"}),
		BlockRunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptseq_block_runs_total",
			Help: "Finished block runs by block type and status.",
		}, []string{"block_type", "status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptseq_run_duration_seconds",
			Help:    "End-to-end run latency in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptseq_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),
		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promptseq_http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),
		DatabaseQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptseq_db_query_duration_seconds",
			Help:    "Database query latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation", "table"}),
	}

	return m, registry
}
