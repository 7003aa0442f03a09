package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActivePanels       prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	GatewayErrors      *prometheus.CounterVec
	OneShotLatency     *prometheus.HistogramVec
	LiveConnectLatency prometheus.Histogram
	TranscriptEntries  *prometheus.CounterVec
	PlaybackInterrupts prometheus.Counter
	StateTransitions   *prometheus.CounterVec
	ArchiveFailures    prometheus.Counter

	latency  *latencyWindow
	gatherer prometheus.Gatherer
}

// NewMetrics registers on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, namespace)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActivePanels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_panels",
			Help:      "Number of open assistant panels.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Assistant session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Assistant gateway errors by operation and kind.",
		}, []string{"op", "kind"}),
		OneShotLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "one_shot_latency_ms",
			Help:      "Latency of one-shot gateway replies in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"op"}),
		LiveConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_connect_latency_ms",
			Help:      "Latency from voice switch to live session open in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
		TranscriptEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries appended by speaker.",
		}, []string{"speaker"}),
		PlaybackInterrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interrupts_total",
			Help:      "Live playback interruptions.",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Assistant session state transitions by target state.",
		}, []string{"state"}),
		ArchiveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Transcript entries that could not be archived.",
		}),
		latency:  newLatencyWindow(256),
		gatherer: gatherer,
	}
}

// ObserveOneShot records a finished one-shot call. Failed calls count as
// gateway errors and still feed the latency window.
func (m *Metrics) ObserveOneShot(op string, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.OneShotLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	m.latency.Observe("one_shot_"+op, float64(d.Milliseconds()))
	if errKind != "" {
		m.GatewayErrors.WithLabelValues(op, errKind).Inc()
		m.latency.ObserveIndicator("gateway_error_" + errKind)
	}
}

func (m *Metrics) ObserveLiveConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.LiveConnectLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe("live_connect", float64(d.Milliseconds()))
}

// ObserveStage feeds the rolling latency window only.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.Snapshot()
}

func (m *Metrics) ResetLatency() {
	m.latency.Reset()
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
