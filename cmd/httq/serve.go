package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/selftest"
	"github.com/sara-star-quant/httq-go/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		listen        string
		metricsListen string
		dir           string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an httq responder",
		Long: `Run an httq responder.

Without --dir the responder echoes each request: GET returns "METHOD PATH"
and POST returns the request body. With --dir it serves static files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("metrics-listen") {
				cfg.MetricsListen = metricsListen
			}
			return runServe(cmd, dir)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "responder address (default from config, :8443)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "observability server address; empty disables")
	cmd.Flags().StringVar(&dir, "dir", "", "serve static files from this directory")
	return cmd
}

func runServe(cmd *cobra.Command, dir string) error {
	obs := setupObservability(cfg, "httq-server")

	scfg := cfg.Server
	scfg.Logger = obs.logger
	scfg.Collector = obs.collector
	scfg.Tracer = obs.tracer

	srv, err := server.New(scfg, server.FromHTTP(newServeMux(dir)))
	if err != nil {
		return err
	}

	obsrv := obs.startMetricsServer(cfg.MetricsListen, cfg.MetricsNamespace, map[string]metrics.CheckFunc{
		"responder": srv.HealthCheck(),
		"selftest":  selftest.Check,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(cfg.Listen) }()

	fmt.Fprintf(cmd.ErrOrStderr(), "httq responder on %s (%s, hybrid=%v)\n",
		cfg.Listen, scfg.Level, scfg.Hybrid)

	select {
	case err := <-errc:
		_ = srv.Close()
		return err
	case <-ctx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "shutting down")
		_ = srv.Close()
		if obsrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = obsrv.Shutdown(sctx)
			cancel()
		}
		if err := <-errc; err != nil && !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newServeMux(dir string) http.Handler {
	if dir != "" {
		return http.FileServer(http.Dir(dir))
	}
	return http.HandlerFunc(echo)
}

func echo(w http.ResponseWriter, r *http.Request) {
	if p, ok := server.PeerFromContext(r.Context()); ok {
		w.Header().Set("X-Httq-Level", p.Level)
		w.Header().Set("X-Httq-Cipher-Suite", p.CipherSuite)
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		fmt.Fprintf(w, "%s %s\n", r.Method, r.URL.Path)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	_, _ = io.Copy(w, r.Body)
}
