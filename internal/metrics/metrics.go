package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxscribe"

// Metrics holds the bot's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Jobs *prometheus.CounterVec

	QueueDepth prometheus.Gauge
	InFlight   prometheus.Gauge

	TranscriptionDuration prometheus.Histogram
	TranscriptionFailures prometheus.Counter

	CacheHits prometheus.Counter
	Reports   prometheus.Counter
}

// NewMetrics creates collectors on a private registry, so several instances
// can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Voice messages handled, by terminal outcome",
		}, []string{"outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queue_depth",
			Help:      "Jobs waiting for a free transcription worker",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_flight",
			Help:      "Transcriptions currently executing",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Engine time per transcription",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Transcriptions that ended in a fail-soft error text",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Voice messages answered from the transcript cache",
		}),
		Reports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_reports_total",
			Help:      "Failures forwarded to the operator",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) WorkerFinished(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.TranscriptionDuration.Observe(d.Seconds())
	if failed {
		m.TranscriptionFailures.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) ErrorReported() {
	if m == nil {
		return
	}
	m.Reports.Inc()
}
