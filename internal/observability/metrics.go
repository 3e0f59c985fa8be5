package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	CarrierMessages   *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec
	OutboundChunks    prometheus.Counter
	FirstAudioLatency prometheus.Histogram
	StatusDropped     prometheus.Counter

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of live carrier media streams.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Call session lifecycle events by type.",
		}, []string{"event"}),
		CarrierMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_messages_total",
			Help:      "Carrier socket messages by direction and event.",
		}, []string{"direction", "event"}),
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by stage and class.",
		}, []string{"stage", "class"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 1500, 2500, 4000, 6000, 10000},
		}, []string{"stage"}),
		OutboundChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_audio_chunks_total",
			Help:      "Audio chunks written to carrier sockets.",
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from buffer flush to first reply audio chunk in milliseconds.",
			Buckets:   []float64{500, 1000, 1500, 2000, 3000, 4000, 6000, 10000},
		}),
		StatusDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_dropped_total",
			Help:      "Status events dropped because an observer was slow.",
		}),
		stages: newStageWindow(512),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CarrierMessage(direction, event string) {
	if m == nil {
		return
	}
	m.CarrierMessages.WithLabelValues(direction, event).Inc()
}

func (m *Metrics) PipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProviderError(stage, class string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(stage, class).Inc()
}

// ObserveStage records a stage latency in both the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) AddOutboundChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboundChunks.Add(float64(n))
}

func (m *Metrics) StatusEventDropped() {
	if m == nil {
		return
	}
	m.StatusDropped.Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return newStageWindow(1).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
