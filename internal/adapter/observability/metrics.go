package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	WorkflowRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_requests_total",
			Help: "Total number of workflow service calls by workflow and operation",
		},
		[]string{"workflow", "operation"},
	)
	WorkflowRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_request_duration_seconds",
			Help:    "Workflow service call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow", "operation"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflow_circuit_breaker_state",
			Help: "Circuit breaker state per workflow (0 closed, 1 open, 2 half-open)",
		},
		[]string{"workflow"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed by error kind",
		},
		[]string{"type", "kind"},
	)

	// Normalization outcomes
	PayloadShapeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_payload_shape_total",
			Help: "Upstream payload shapes by unwrap strategy",
		},
		[]string{"kind", "strategy"},
	)
	FieldRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_field_recovered_total",
			Help: "Fields rebuilt by the tolerant repair path",
		},
		[]string{"field"},
	)
	DimensionScoreHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "correction_dimension_score",
			Help:    "Distribution of reconciled dimension scores ([0,20])",
			Buckets: []float64{0, 4, 8, 10, 12, 14, 16, 18, 20},
		},
		[]string{"dimension"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			WorkflowRequestsTotal,
			WorkflowRequestDuration,
			CircuitBreakerState,
			JobsEnqueuedTotal,
			JobsProcessing,
			JobsCompletedTotal,
			JobsFailedTotal,
			PayloadShapeTotal,
			FieldRecoveredTotal,
			DimensionScoreHistogram,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType, kind).Inc()
}

// RecordPayloadShape counts which unwrap strategy matched an upstream response.
func RecordPayloadShape(kind, strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	PayloadShapeTotal.WithLabelValues(kind, strategy).Inc()
}

// RecordFieldRecovered counts a field whose content came from the repair path.
func RecordFieldRecovered(field string) {
	FieldRecoveredTotal.WithLabelValues(field).Inc()
}

// ObserveScores records reconciled dimension scores of a completed correction.
func ObserveScores(scores map[string]float64) {
	for dim, v := range scores {
		if v >= 0 && v <= 20 {
			DimensionScoreHistogram.WithLabelValues(dim).Observe(v)
		}
	}
}
