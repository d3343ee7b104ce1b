// Package observability — metrics.go
//
// Prometheus metrics for the headend control plane.
//
// Endpoint: GET /metrics, served alongside the operator HTTP API.
// Format: Prometheus text exposition format (OpenMetrics compatible).
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Metric naming convention: headend_<subsystem>_<name>_<unit>.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metric descriptors for the headend.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ingest ──────────────────────────────────────────────────────────────

	// TelemetryReceivedTotal counts accepted Telemetry frames.
	TelemetryReceivedTotal prometheus.Counter

	// HeartbeatsReceivedTotal counts accepted Heartbeat frames.
	HeartbeatsReceivedTotal prometheus.Counter

	// DispatchAcksReceivedTotal counts accepted DispatchAck frames.
	// Labels: status (applied, rejected)
	DispatchAcksReceivedTotal *prometheus.CounterVec

	// SOCEventsEmittedTotal counts SOC boundary-crossing events emitted.
	// Labels: event_type (MIN_SOC_REACHED, MAX_SOC_REACHED)
	SOCEventsEmittedTotal *prometheus.CounterVec

	// ─── Connections ─────────────────────────────────────────────────────────

	// ConnectedAgents is the current number of assets with a live stream.
	ConnectedAgents prometheus.Gauge

	// RegistrationsTotal counts successful asset registrations.
	RegistrationsTotal prometheus.Counter

	// DisconnectsTotal counts asset stream teardowns.
	DisconnectsTotal prometheus.Counter

	// ─── Dispatch ────────────────────────────────────────────────────────────

	// DispatchSubmittedTotal counts dispatch submissions, by outcome.
	// Labels: kind (asset, site), outcome (accepted, rejected)
	DispatchSubmittedTotal *prometheus.CounterVec

	// DispatchPendingGauge is the current number of parked dispatches
	// waiting for their asset to reconnect.
	DispatchPendingGauge prometheus.Gauge

	// SiteAllocationClampedTotal counts accepted per-asset site
	// allocations whose final MW differs from their capacity-weighted
	// share, whether clamped to a limit or adjusted by residual repair.
	SiteAllocationClampedTotal prometheus.Counter

	// ─── Journal ─────────────────────────────────────────────────────────────

	// JournalWriteLatency records journal append transaction latency.
	// Labels: op (telemetry, dispatch, heartbeat, event, session)
	JournalWriteLatency *prometheus.HistogramVec

	// JournalWriteFailuresTotal counts failed best-effort journal writes.
	JournalWriteFailuresTotal *prometheus.CounterVec

	// ─── Bootstrap ───────────────────────────────────────────────────────────

	// BootstrapRequestsTotal counts Bootstrap RPC calls.
	BootstrapRequestsTotal prometheus.Counter

	// BootstrapAssetsTotal counts individual per-asset answers assembled,
	// by the source tier that satisfied them.
	// Labels: source (cache, journal, synthetic)
	BootstrapAssetsTotal *prometheus.CounterVec

	// ─── Process ─────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the process started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// New creates and registers all headend Prometheus metrics on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TelemetryReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "ingest", Name: "telemetry_received_total",
			Help: "Total Telemetry frames accepted from agent connections.",
		}),
		HeartbeatsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "ingest", Name: "heartbeats_received_total",
			Help: "Total Heartbeat frames accepted from agent connections.",
		}),
		DispatchAcksReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "ingest", Name: "dispatch_acks_received_total",
			Help: "Total DispatchAck frames accepted, by ack status.",
		}, []string{"status"}),
		SOCEventsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "ingest", Name: "soc_events_emitted_total",
			Help: "Total SOC boundary-crossing events emitted, by event type.",
		}, []string{"event_type"}),

		ConnectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headend", Subsystem: "registry", Name: "connected_agents",
			Help: "Current number of assets with a live outbound stream.",
		}),
		RegistrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "registry", Name: "registrations_total",
			Help: "Total successful asset registrations across all connections.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "registry", Name: "disconnects_total",
			Help: "Total asset stream teardowns.",
		}),

		DispatchSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "dispatch", Name: "submitted_total",
			Help: "Total dispatch submissions, by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		DispatchPendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headend", Subsystem: "dispatch", Name: "pending_gauge",
			Help: "Current number of dispatches parked awaiting agent reconnect.",
		}),
		SiteAllocationClampedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "dispatch", Name: "site_allocation_clamped_total",
			Help: "Total per-asset site allocations that required residual repair.",
		}),

		JournalWriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "headend", Subsystem: "journal", Name: "write_latency_seconds",
			Help:    "Journal append transaction latency in seconds, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		JournalWriteFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "journal", Name: "write_failures_total",
			Help: "Total best-effort journal writes that failed, by operation.",
		}, []string{"op"}),

		BootstrapRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "bootstrap", Name: "requests_total",
			Help: "Total Bootstrap RPC calls served.",
		}),
		BootstrapAssetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headend", Subsystem: "bootstrap", Name: "assets_total",
			Help: "Total per-asset Bootstrap answers assembled, by source tier.",
		}, []string{"source"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headend", Subsystem: "process", Name: "uptime_seconds",
			Help: "Seconds since the headend process started.",
		}),
	}

	reg.MustRegister(
		m.TelemetryReceivedTotal, m.HeartbeatsReceivedTotal, m.DispatchAcksReceivedTotal, m.SOCEventsEmittedTotal,
		m.ConnectedAgents, m.RegistrationsTotal, m.DisconnectsTotal,
		m.DispatchSubmittedTotal, m.DispatchPendingGauge, m.SiteAllocationClampedTotal,
		m.JournalWriteLatency, m.JournalWriteFailuresTotal,
		m.BootstrapRequestsTotal, m.BootstrapAssetsTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry for promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// TickUptime updates UptimeSeconds from the recorded start time. Called
// every 15s by a background goroutine in cmd/headend.
func (m *Metrics) TickUptime() {
	m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
}
