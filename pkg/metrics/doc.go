// Package metrics carries the ambient observability of httq: a Collector of
// counters and latency histograms, a slog-based Logger that redacts key
// material, a Tracer with OpenTelemetry and in-memory implementations, and
// an HTTP server exposing Prometheus metrics and health probes.
//
// The client and the responder report into a Collector directly and
// through a TunnelObserver attached to every handshake:
//
//	collector := metrics.NewCollector(metrics.Labels{"service": "httq-server"})
//	factory := metrics.ObserverFactory(collector, metrics.GetTracer(), metrics.GetLogger())
//
//	cfg := tunnel.DefaultHandshakeConfig()
//	cfg.Observer = factory(tunnel.RoleResponder)
//
// A Server exposes the same collector to scrapers and orchestrators:
//
//	srv := metrics.NewServer(metrics.ServerConfig{
//		Collector:        collector,
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//	srv.AddHealthCheck("selftest", selftest.Check)
//	go srv.ListenAndServe(":9090")
//
// /metrics is the Prometheus text format. /health reports every registered
// check plus indicators derived from the collector; it is "degraded" when
// the record error rate or the share of requests that fell back to
// classical TLS crosses its threshold, and "down" (503) when a check fails.
// /healthz always answers 200 and /readyz answers 503 only when down.
//
// Log fields named after key material (seed, tx_key, rx_key, shared_secret,
// anything containing "secret" or "private") are written as "[REDACTED]".
package metrics
