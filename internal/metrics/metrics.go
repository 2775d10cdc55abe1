package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voltassist"

// Metrics implements the observer hooks of the index, chat and forms
// packages on top of Prometheus collectors.
type Metrics struct {
	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	formLinks      *prometheus.CounterVec
	indexBuilds    *prometheus.CounterVec
	buildDuration  prometheus.Histogram
	indexedChunks  prometheus.Gauge
	sessionsActive prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Time spent per turn stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		formLinks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_links_total",
			Help:      "Presigned form links by outcome.",
		}, []string{"outcome"}),
		indexBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index resolutions by result (built, loaded, failed).",
		}, []string{"result"}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Time to load or build the index.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		indexedChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks in the most recently resolved index.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open chat sessions.",
		}),
	}
}

func (m *Metrics) ObserveBuild(result string, chunks int, elapsed time.Duration) {
	m.indexBuilds.WithLabelValues(result).Inc()
	m.buildDuration.Observe(elapsed.Seconds())
	if result != "failed" {
		m.indexedChunks.Set(float64(chunks))
	}
}

func (m *Metrics) ObserveLink(outcome string) {
	m.formLinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTurn(outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.turnDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionOpened() { m.sessionsActive.Inc() }

func (m *Metrics) SessionClosed() { m.sessionsActive.Dec() }
