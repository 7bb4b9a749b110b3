package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ServerConfig configures the observability server.
type ServerConfig struct {
	Collector        *Collector // defaults to Global()
	Version          string
	Namespace        string // Prometheus namespace, "httq" when empty
	EnablePrometheus bool   // serve /metrics
	EnableHealth     bool   // serve /health, /healthz and /readyz
}

// Server exposes a Collector over HTTP for scrapers and orchestrators.
type Server struct {
	mux    *http.ServeMux
	health *Health

	mu  sync.Mutex
	srv *http.Server
}

// NewServer builds the observability endpoints selected by cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "httq"
	}

	s := &Server{mux: http.NewServeMux()}
	if cfg.EnablePrometheus {
		s.mux.Handle("/metrics", NewPrometheusExporter(cfg.Collector, cfg.Namespace).Handler())
	}
	if cfg.EnableHealth {
		s.health = NewHealth(cfg.Collector, cfg.Version)
		s.mux.Handle("/health", s.health)
		s.mux.Handle("/healthz", s.health.Live())
		s.mux.Handle("/readyz", s.health.Ready())
	}
	return s
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// AddHealthCheck registers a check on /health and /readyz. It is a no-op
// when health endpoints are disabled.
func (s *Server) AddHealthCheck(name string, check CheckFunc) {
	if s.health != nil {
		s.health.AddCheck(name, check)
	}
}

// ListenAndServe serves the endpoints on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
