package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentuity_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentuity_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Agent invocation metrics
	agentInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentuity_agent_invocations_total",
			Help: "Total number of agent invocations",
		},
		[]string{"agent", "trigger", "status"},
	)

	agentInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentuity_agent_invocation_duration_seconds",
			Help:    "Agent invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	// Reply correlation metrics
	repliesCorrelatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentuity_replies_correlated_total",
			Help: "Total number of reply callbacks, by outcome",
		},
		[]string{"outcome"},
	)

	// Deferred work metrics
	pendingTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentuity_pending_tasks",
			Help: "Number of outstanding deferred tasks",
		},
	)

	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentuity_session_duration_seconds",
			Help:    "Wall-clock session duration from first deferred task to drain",
			Buckets: prometheus.DefBuckets,
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the runtime's Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			agentInvocationsTotal,
			agentInvocationDuration,
			repliesCorrelatedTotal,
			pendingTasks,
			sessionDuration,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAgentInvocation records agent invocation metrics.
func RecordAgentInvocation(agent, trigger, status string, duration time.Duration) {
	agentInvocationsTotal.WithLabelValues(agent, trigger, status).Inc()
	agentInvocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordReplyCorrelation records the outcome of a reply callback:
// "delivered", "unknown", or "expired".
func RecordReplyCorrelation(outcome string) {
	repliesCorrelatedTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionDuration records a completed session's wall-clock duration.
func RecordSessionDuration(d time.Duration) {
	sessionDuration.Observe(d.Seconds())
}
