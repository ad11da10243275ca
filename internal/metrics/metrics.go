package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the sync engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	payloadsTotal       prometheus.Counter
	snapshotsTotal      prometheus.Counter
	reconnectsTotal     prometheus.Counter
	channelFailures     prometheus.Counter
	softErrorsTotal     prometheus.Counter
	heartbeatsSentTotal prometheus.Counter
	pullErrorsTotal     prometheus.Counter
	activeChannels      prometheus.Gauge
	snapshotVersion     prometheus.Gauge
}

// New creates and registers the engine's metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		payloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_payloads_received_total",
			Help: "Entity payloads received on live channels",
		}),
		snapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_snapshots_published_total",
			Help: "Snapshots published to the rendering surface",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_channel_reconnects_total",
			Help: "Reconnections scheduled after an abnormal channel close",
		}),
		channelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_channel_failures_total",
			Help: "Channels that exhausted their reconnection attempts",
		}),
		softErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_soft_errors_total",
			Help: "In-band soft errors reported by the backend",
		}),
		heartbeatsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_heartbeats_sent_total",
			Help: "Keep-alive frames sent on ready channels",
		}),
		pullErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redash_pull_errors_total",
			Help: "Historical pulls that failed",
		}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redash_active_channels",
			Help: "Channels currently owned by the live session",
		}),
		snapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redash_snapshot_version",
			Help: "Version of the most recently published snapshot",
		}),
	}

	registry.MustRegister(
		m.payloadsTotal,
		m.snapshotsTotal,
		m.reconnectsTotal,
		m.channelFailures,
		m.softErrorsTotal,
		m.heartbeatsSentTotal,
		m.pullErrorsTotal,
		m.activeChannels,
		m.snapshotVersion,
	)

	return m
}

func (m *Metrics) IncPayloads() {
	if m != nil {
		m.payloadsTotal.Inc()
	}
}

func (m *Metrics) IncReconnects() {
	if m != nil {
		m.reconnectsTotal.Inc()
	}
}

func (m *Metrics) IncChannelFailures() {
	if m != nil {
		m.channelFailures.Inc()
	}
}

func (m *Metrics) IncSoftErrors() {
	if m != nil {
		m.softErrorsTotal.Inc()
	}
}

func (m *Metrics) IncHeartbeats() {
	if m != nil {
		m.heartbeatsSentTotal.Inc()
	}
}

func (m *Metrics) IncPullErrors() {
	if m != nil {
		m.pullErrorsTotal.Inc()
	}
}

// ObservePublish records a published snapshot and its version.
func (m *Metrics) ObservePublish(version uint64) {
	if m != nil {
		m.snapshotsTotal.Inc()
		m.snapshotVersion.Set(float64(version))
	}
}

// SetActiveChannels sets the active channel gauge.
func (m *Metrics) SetActiveChannels(n int) {
	if m != nil {
		m.activeChannels.Set(float64(n))
	}
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
