package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gazette_radar"

// WorkerMetrics are the counters exported by the pipeline workers.
type WorkerMetrics struct {
	registry *prometheus.Registry

	gazettesTotal    *prometheus.CounterVec
	gazetteDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	segmentsTotal    prometheus.Counter
	documentsIndexed prometheus.Counter
	excerptsWritten  *prometheus.CounterVec
	dlqTotal         prometheus.Counter
}

// NewWorkerMetrics registers the worker collectors on a private registry.
func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	gazettesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "gazettes_processed_total",
			Help:        "Processed gazettes by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	gazetteDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "gazette_process_duration_seconds",
			Help:        "Gazette processing duration in seconds by status.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "gazettes_in_flight",
		Help:        "Gazettes currently being processed.",
		ConstLabels: constLabels,
	})
	segmentsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "segments_produced_total",
		Help:        "Territory segments cut from aggregated gazettes.",
		ConstLabels: constLabels,
	})
	documentsIndexed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "documents_indexed_total",
		Help:        "Gazettes and segments written to the search index.",
		ConstLabels: constLabels,
	})
	excerptsWritten := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "excerpts_written_total",
			Help:        "Themed excerpts written by theme.",
			ConstLabels: constLabels,
		},
		[]string{"theme"},
	)
	dlqTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "dlq_messages_total",
		Help:        "Jobs sent to the dead letter topic.",
		ConstLabels: constLabels,
	})

	registry.MustRegister(gazettesTotal, gazetteDuration, inFlight, segmentsTotal, documentsIndexed, excerptsWritten, dlqTotal)

	return &WorkerMetrics{
		registry:         registry,
		gazettesTotal:    gazettesTotal,
		gazetteDuration:  gazetteDuration,
		inFlight:         inFlight,
		segmentsTotal:    segmentsTotal,
		documentsIndexed: documentsIndexed,
		excerptsWritten:  excerptsWritten,
		dlqTotal:         dlqTotal,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartGazette() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishGazette(duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.gazettesTotal.WithLabelValues(status).Inc()
	m.gazetteDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddSegments(n int) {
	m.segmentsTotal.Add(float64(n))
}

func (m *WorkerMetrics) AddIndexed(n int) {
	m.documentsIndexed.Add(float64(n))
}

func (m *WorkerMetrics) AddExcerpts(theme string, n int) {
	m.excerptsWritten.WithLabelValues(theme).Add(float64(n))
}

func (m *WorkerMetrics) IncDLQ() {
	m.dlqTotal.Inc()
}
