package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	qaRequestsTotal *prometheus.CounterVec
	qaSources       *prometheus.HistogramVec
	qaConfidence    *prometheus.HistogramVec
	qaDuration      *prometheus.HistogramVec
	qaDegradedTotal *prometheus.CounterVec
	extractionItems *prometheus.HistogramVec
	auditFailures   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clinicqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	qaRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicqa",
			Subsystem: "qa",
			Name:      "requests_total",
			Help:      "Total QA pipeline requests by endpoint and outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	qaSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "qa",
			Name:      "sources",
			Help:      "Distribution of cited sources per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	qaConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "qa",
			Name:      "confidence",
			Help:      "Distribution of heuristic answer confidence.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95},
		},
		[]string{"service"},
	)
	qaDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "qa",
			Name:      "duration_seconds",
			Help:      "QA pipeline duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "endpoint"},
	)
	qaDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicqa",
			Subsystem: "qa",
			Name:      "degraded_total",
			Help:      "Total answers built from fallback documents.",
		},
		[]string{"service"},
	)
	extractionItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "extraction",
			Name:      "items",
			Help:      "Distribution of extracted items per request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "extraction_type"},
	)
	auditFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicqa",
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Total audit events dropped or not delivered.",
		},
		[]string{"service", "reason"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clinicqa",
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		qaRequestsTotal,
		qaSources,
		qaConfidence,
		qaDuration,
		qaDegradedTotal,
		extractionItems,
		auditFailures,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		qaRequestsTotal: qaRequestsTotal,
		qaSources:       qaSources,
		qaConfidence:    qaConfidence,
		qaDuration:      qaDuration,
		qaDegradedTotal: qaDegradedTotal,
		extractionItems: extractionItems,
		auditFailures:   auditFailures,
		breakerState:    breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests by route pattern so path parameters do not
// explode cardinality.
func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordAnswer(service string, sources int, confidence float64, degraded bool, duration time.Duration) {
	m.qaRequestsTotal.WithLabelValues(service, "ask", "success").Inc()
	m.qaSources.WithLabelValues(service).Observe(float64(sources))
	m.qaConfidence.WithLabelValues(service).Observe(confidence)
	m.qaDuration.WithLabelValues(service, "ask").Observe(duration.Seconds())
	if degraded {
		m.qaDegradedTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordExtraction(service, extractionType string, items int, duration time.Duration) {
	m.qaRequestsTotal.WithLabelValues(service, "extract", "success").Inc()
	m.extractionItems.WithLabelValues(service, extractionType).Observe(float64(items))
	m.qaDuration.WithLabelValues(service, "extract").Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordFailure(service, endpoint, outcome string) {
	if outcome == "" {
		outcome = "error"
	}
	m.qaRequestsTotal.WithLabelValues(service, endpoint, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordAuditFailure(service, reason string) {
	m.auditFailures.WithLabelValues(service, reason).Inc()
}

// RecordBreakerState takes the state names the resilience executor reports.
func (m *HTTPServerMetrics) RecordBreakerState(service, operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(service, operation).Set(value)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
