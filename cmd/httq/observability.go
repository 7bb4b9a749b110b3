package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/sara-star-quant/httq-go/pkg/config"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
)

// observability bundles the collector, tracer and logger shared by a
// command's client or server.
type observability struct {
	collector *metrics.Collector
	tracer    metrics.Tracer
	logger    *metrics.Logger
}

func setupObservability(c *config.Config, service string) *observability {
	logger := c.Logger(os.Stderr).With(metrics.Fields{"app": service})
	metrics.SetLogger(logger)

	tracer := c.Tracer()
	metrics.SetTracer(tracer)

	collector := metrics.NewCollector(metrics.Labels{"service": service})
	metrics.SetGlobal(collector)

	return &observability{collector: collector, tracer: tracer, logger: logger}
}

// startMetricsServer serves /metrics and the health endpoints on addr in
// the background. It returns nil when addr is empty.
func (o *observability) startMetricsServer(addr, namespace string, checks map[string]metrics.CheckFunc) *metrics.Server {
	if addr == "" {
		return nil
	}
	srv := metrics.NewServer(metrics.ServerConfig{
		Collector:        o.collector,
		Version:          getVersion(),
		Namespace:        namespace,
		EnablePrometheus: true,
		EnableHealth:     true,
	})
	for name, check := range checks {
		srv.AddHealthCheck(name, check)
	}

	go func() {
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("observability server error", metrics.Fields{"error": err.Error()})
		}
	}()
	o.logger.Info("observability server started", metrics.Fields{"addr": addr})
	return srv
}
