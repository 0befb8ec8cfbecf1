package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the audit worker that persists events from NATS.
type WorkerMetrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	eventLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicqa",
			Subsystem: "audit_worker",
			Name:      "events_total",
			Help:      "Total audit events handled by status.",
		},
		[]string{"service", "status"},
	)
	persistDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "audit_worker",
			Name:      "persist_duration_seconds",
			Help:      "Audit event persistence duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clinicqa",
			Subsystem: "audit_worker",
			Name:      "in_flight",
			Help:      "Number of audit events being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicqa",
			Subsystem: "audit_worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between event timestamp and persistence start.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	registry.MustRegister(eventsTotal, persistDuration, inFlight, eventLag)

	return &WorkerMetrics{
		registry:        registry,
		eventsTotal:     eventsTotal,
		persistDuration: persistDuration,
		inFlight:        inFlight,
		eventLag:        eventLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(service string, duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventsTotal.WithLabelValues(service, status).Inc()
	m.persistDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// RejectEvent closes an event started with StartEvent that failed validation.
func (m *WorkerMetrics) RejectEvent(service string) {
	m.inFlight.Dec()
	m.RecordRejected(service)
}

func (m *WorkerMetrics) RecordRejected(service string) {
	m.eventsTotal.WithLabelValues(service, "rejected").Inc()
}

func (m *WorkerMetrics) ObserveEventLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(service).Observe(lag.Seconds())
}
