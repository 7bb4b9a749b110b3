package metrics

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exposes a Collector to Prometheus. It implements
// prometheus.Collector and reads a fresh Snapshot on every scrape.
type PrometheusExporter struct {
	collector *Collector
	namespace string
	registry  *prometheus.Registry

	counters   []promCounter
	gauges     []promGauge
	histograms []promHistogram
}

type promCounter struct {
	desc  *prometheus.Desc
	value func(Snapshot) uint64
}

type promGauge struct {
	desc  *prometheus.Desc
	value func(Snapshot) float64
}

type promHistogram struct {
	desc  *prometheus.Desc
	value func(Snapshot) HistogramSummary
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates a new Prometheus exporter for the given collector.
// The namespace is prepended to all metric names (e.g., "httq").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	if c == nil {
		c = Global()
	}
	labels := prometheus.Labels(c.labels)

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	e := &PrometheusExporter{
		collector: c,
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	e.counters = []promCounter{
		{desc("sessions_total", "Total number of sessions established"), func(s Snapshot) uint64 { return s.SessionsTotal }},
		{desc("sessions_failed_total", "Total number of failed handshakes"), func(s Snapshot) uint64 { return s.SessionsFailed }},
		{desc("bytes_sent_total", "Total plaintext bytes sealed"), func(s Snapshot) uint64 { return s.BytesSent }},
		{desc("bytes_received_total", "Total ciphertext bytes opened"), func(s Snapshot) uint64 { return s.BytesReceived }},
		{desc("packets_sent_total", "Total sealed messages sent"), func(s Snapshot) uint64 { return s.PacketsSent }},
		{desc("packets_received_total", "Total sealed messages opened"), func(s Snapshot) uint64 { return s.PacketsRecv }},
		{desc("replay_attacks_blocked_total", "Total replayed messages rejected"), func(s Snapshot) uint64 { return s.ReplayAttacksBlocked }},
		{desc("auth_failures_total", "Total authentication failures"), func(s Snapshot) uint64 { return s.AuthFailures }},
		{desc("requests_quantum_safe_total", "Requests served over a quantum-safe session"), func(s Snapshot) uint64 { return s.RequestsQuantumSafe }},
		{desc("requests_fallback_total", "Requests served by the classical fallback"), func(s Snapshot) uint64 { return s.RequestsFallback }},
		{desc("requests_failed_total", "Requests that returned an error"), func(s Snapshot) uint64 { return s.RequestsFailed }},
		{desc("session_cache_hits_total", "Requests that reused a cached session"), func(s Snapshot) uint64 { return s.CacheHits }},
		{desc("session_cache_misses_total", "Requests that needed a new handshake"), func(s Snapshot) uint64 { return s.CacheMisses }},
		{desc("rehandshakes_total", "Bounded re-handshakes after a session failure"), func(s Snapshot) uint64 { return s.Rehandshakes }},
		{desc("connection_rate_limits_total", "Connections rejected by per-IP limits"), func(s Snapshot) uint64 { return s.ConnectionRateLimits }},
		{desc("handshake_rate_limits_total", "Handshakes rejected by the rate limiter"), func(s Snapshot) uint64 { return s.HandshakeRateLimits }},
		{desc("encrypt_errors_total", "Total seal errors"), func(s Snapshot) uint64 { return s.EncryptErrors }},
		{desc("decrypt_errors_total", "Total open errors"), func(s Snapshot) uint64 { return s.DecryptErrors }},
		{desc("protocol_errors_total", "Total protocol errors"), func(s Snapshot) uint64 { return s.ProtocolErrors }},
	}

	e.gauges = []promGauge{
		{desc("sessions_active", "Number of currently active sessions"), func(s Snapshot) float64 { return float64(s.SessionsActive) }},
		{desc("uptime_seconds", "Time since the collector was created"), func(s Snapshot) float64 { return s.Uptime.Seconds() }},
	}

	e.histograms = []promHistogram{
		{desc("handshake_duration_milliseconds", "Handshake duration in milliseconds"), func(s Snapshot) HistogramSummary { return s.HandshakeLatency }},
		{desc("request_duration_milliseconds", "Request duration in milliseconds"), func(s Snapshot) HistogramSummary { return s.RequestLatency }},
		{desc("encrypt_duration_microseconds", "Seal duration in microseconds"), func(s Snapshot) HistogramSummary { return s.EncryptLatency }},
		{desc("decrypt_duration_microseconds", "Open duration in microseconds"), func(s Snapshot) HistogramSummary { return s.DecryptLatency }},
	}

	e.registry.MustRegister(e)
	return e
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range e.counters {
		ch <- m.desc
	}
	for _, m := range e.gauges {
		ch <- m.desc
	}
	for _, m := range e.histograms {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	for _, m := range e.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(snap)))
	}
	for _, m := range e.gauges {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.GaugeValue, m.value(snap))
	}
	for _, m := range e.histograms {
		h := m.value(snap)
		ch <- prometheus.MustNewConstHistogram(m.desc, h.Count, h.Sum, promBuckets(h))
	}
}

// Registry returns the registry the exporter is registered with. Callers may
// register additional collectors on it.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// promBuckets converts cumulative bucket counts, dropping the +Inf bucket
// which Prometheus derives from the total count.
func promBuckets(h HistogramSummary) map[float64]uint64 {
	out := make(map[float64]uint64, len(h.Buckets))
	for _, b := range h.Buckets {
		if math.IsInf(b.UpperBound, 1) {
			continue
		}
		out[b.UpperBound] = b.Count
	}
	return out
}
