package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowcraft"

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Recording       prometheus.Gauge
	RawEventsTotal  *prometheus.CounterVec
	BroadcastsTotal *prometheus.CounterVec
	Playing         prometheus.Gauge
	PlaybacksTotal  *prometheus.CounterVec
	StepsTotal      *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	ResolveAttempts prometheus.Histogram
	ScheduledRuns   *prometheus.CounterVec
	HubClients      prometheus.Gauge
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while a recording is active",
		}),
		RawEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_events_total",
			Help:      "Raw events appended to the session buffer",
		}, []string{"kind"}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_broadcasts_total",
			Help:      "Workflow recomputations, by whether they were broadcast",
		}, []string{"result"}),
		Playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "1 while a playback is running",
		}),
		PlaybacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Finished playbacks by result",
		}, []string{"result"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by type and result",
		}, []string{"type", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution time",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"type"}),
		ResolveAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_attempts",
			Help:      "Attempts needed to resolve an element",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		ScheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_runs_total",
			Help:      "Cron-triggered playbacks by result",
		}, []string{"result"}),
		HubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
	r.MustRegister(
		m.Recording, m.RawEventsTotal, m.BroadcastsTotal,
		m.Playing, m.PlaybacksTotal, m.StepsTotal, m.StepDuration, m.ResolveAttempts,
		m.ScheduledRuns, m.HubClients,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func bool01(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (m *Metrics) SetRecording(on bool) {
	if m == nil {
		return
	}
	m.Recording.Set(bool01(on))
}

func (m *Metrics) RawEvent(kind string) {
	if m == nil {
		return
	}
	m.RawEventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Broadcast(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.BroadcastsTotal.WithLabelValues("sent").Inc()
	} else {
		m.BroadcastsTotal.WithLabelValues("suppressed").Inc()
	}
}

func (m *Metrics) SetPlaying(on bool) {
	if m == nil {
		return
	}
	m.Playing.Set(bool01(on))
}

func (m *Metrics) Playback(result string) {
	if m == nil {
		return
	}
	m.PlaybacksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Step(stepType, result string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(stepType, result).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(seconds)
}

func (m *Metrics) Resolved(attempts int) {
	if m == nil {
		return
	}
	m.ResolveAttempts.Observe(float64(attempts))
}

func (m *Metrics) ScheduledRun(result string) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) AddHubClients(delta int) {
	if m == nil {
		return
	}
	m.HubClients.Add(float64(delta))
}
