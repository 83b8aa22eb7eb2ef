// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame results used as the "result" label of hostmon_frames_total.
const (
	ResultRecorded         = "recorded"
	ResultNonIP            = "non_ip"
	ResultUnknownDirection = "unknown_direction"
	ResultMalformed        = "malformed"
	ResultUnresolved       = "unresolved"
)

// Metrics holds the collectors of one hostmon instance, registered on a
// private registry. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// FramesTotal counts handled frames by outcome
	FramesTotal *prometheus.CounterVec

	// BytesTotal counts recorded wire bytes by direction
	BytesTotal *prometheus.CounterVec

	// Hosts tracks the number of distinct hosts in the registry
	Hosts prometheus.Gauge

	// ResolveSeconds measures reverse lookup latency
	ResolveSeconds prometheus.Histogram

	// CaptureDropsTotal counts frames dropped before reaching the handler
	CaptureDropsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostmon_frames_total",
				Help: "Total number of captured frames handled, by result",
			},
			[]string{"result"},
		),
		BytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostmon_bytes_total",
				Help: "Total wire bytes attributed to remote hosts, by direction",
			},
			[]string{"direction"},
		),
		Hosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostmon_hosts",
				Help: "Number of distinct remote hosts tracked",
			},
		),
		ResolveSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hostmon_resolve_duration_seconds",
				Help:    "Latency of reverse hostname lookups in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
			},
		),
		CaptureDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostmon_capture_drops_total",
				Help: "Total number of frames dropped before handling, by stage",
			},
			[]string{"stage"},
		),
	}
	m.registry.MustRegister(
		m.FramesTotal,
		m.BytesTotal,
		m.Hosts,
		m.ResolveSeconds,
		m.CaptureDropsTotal,
	)
	return m
}

// Gatherer exposes the private registry for the HTTP server.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Frame records one handled frame.
func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(result).Inc()
}

// Bytes adds n wire bytes in direction (e.g. "inbound").
func (m *Metrics) Bytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
}

// SetHosts sets the current host count.
func (m *Metrics) SetHosts(n int) {
	if m == nil {
		return
	}
	m.Hosts.Set(float64(n))
}

// ObserveResolve records the duration of one lookup.
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.ResolveSeconds.Observe(d.Seconds())
}

// Drop records n frames dropped at stage (e.g. "queue", "kernel").
func (m *Metrics) Drop(stage string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.CaptureDropsTotal.WithLabelValues(stage).Add(float64(n))
}
