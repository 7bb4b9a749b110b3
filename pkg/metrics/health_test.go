package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func getJSON(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s: Content-Type = %q", path, ct)
	}
	if v != nil {
		if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
			t.Fatalf("%s: invalid JSON %q: %v", path, w.Body.String(), err)
		}
	}
	return w.Code
}

func TestHealthEvaluateChecks(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   Status
	}{
		{"none", nil, StatusOK},
		{"passing", map[string]CheckFunc{"selftest": func() error { return nil }}, StatusOK},
		{"one failing", map[string]CheckFunc{
			"selftest":  func() error { return nil },
			"responder": func() error { return errors.New("closed") },
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth(nil, "0.1.0")
			for name, check := range tt.checks {
				h.AddCheck(name, check)
			}
			r := h.Evaluate()
			if r.Status != tt.want {
				t.Errorf("Status = %s, want %s", r.Status, tt.want)
			}
			if r.Version != "0.1.0" || r.Uptime == "" {
				t.Errorf("Version = %q Uptime = %q", r.Version, r.Uptime)
			}
			if len(r.Checks) != len(tt.checks) {
				t.Fatalf("got %d check reports, want %d", len(r.Checks), len(tt.checks))
			}
			if r.Indicators != nil {
				t.Error("indicators reported without a collector")
			}
		})
	}
}

func TestHealthCheckReportsError(t *testing.T) {
	h := NewHealth(nil, "")
	h.AddCheck("responder", func() error { return errors.New("server closed") })

	cr := h.Evaluate().Checks["responder"]
	if cr.OK || cr.Error != "server closed" || cr.Took == "" {
		t.Errorf("check report = %+v", cr)
	}
}

func TestHealthAddCheckReplaces(t *testing.T) {
	h := NewHealth(nil, "")
	h.AddCheck("selftest", func() error { return errors.New("kat mismatch") })
	h.AddCheck("selftest", func() error { return nil })

	if r := h.Evaluate(); r.Status != StatusOK || len(r.Checks) != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestHealthChecksRunConcurrently(t *testing.T) {
	h := NewHealth(nil, "")
	var running, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		h.AddCheck(name, func() error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	h.Evaluate()
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want at least 2", peak.Load())
	}
}

func TestHealthIndicators(t *testing.T) {
	tests := []struct {
		name     string
		record   func(c *Collector)
		want     Status
		warnings int
	}{
		{"idle", func(c *Collector) {}, StatusOK, 0},
		{"clean traffic", func(c *Collector) {
			for i := 0; i < 100; i++ {
				c.RecordPacketSent()
				c.RecordPacketReceived()
			}
			c.RecordRequest(true, time.Millisecond)
		}, StatusOK, 0},
		{"auth failures", func(c *Collector) {
			for i := 0; i < 10; i++ {
				c.RecordPacketReceived()
			}
			c.RecordAuthFailure()
			c.RecordReplayBlocked()
		}, StatusDegraded, 1},
		{"mostly fallback", func(c *Collector) {
			c.RecordRequest(true, time.Millisecond)
			c.RecordRequest(false, time.Millisecond)
			c.RecordRequest(false, time.Millisecond)
		}, StatusDegraded, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(nil)
			tt.record(c)
			r := NewHealth(c, "").Evaluate()
			if r.Status != tt.want || len(r.Warnings) != tt.warnings {
				t.Errorf("Status = %s warnings = %v, want %s with %d", r.Status, r.Warnings, tt.want, tt.warnings)
			}
			if r.Indicators == nil {
				t.Fatal("expected indicators")
			}
		})
	}
}

func TestHealthIndicatorValues(t *testing.T) {
	c := NewCollector(nil)
	c.SessionStarted()
	c.SessionFailed()
	c.RecordHandshakeRateLimit()
	c.RecordConnectionRateLimit()
	c.RecordRequest(true, time.Millisecond)
	c.RecordRequest(false, time.Millisecond)

	in := NewHealth(c, "").Evaluate().Indicators
	if in.ActiveSessions != 1 || in.Sessions != 1 || in.FailedHandshakes != 1 {
		t.Errorf("session indicators = %+v", in)
	}
	if in.RateLimited != 2 || in.QuantumSafe != 1 || in.Fallback != 1 || in.FallbackShare != 0.5 {
		t.Errorf("request indicators = %+v", in)
	}
}

func TestHealthThresholdsDisable(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRequest(false, time.Millisecond)

	h := NewHealth(c, "")
	h.SetThresholds(Thresholds{})
	if r := h.Evaluate(); r.Status != StatusOK {
		t.Errorf("Status = %s with thresholds disabled", r.Status)
	}
}

func TestHealthHandlers(t *testing.T) {
	h := NewHealth(NewCollector(nil), "0.1.0")
	var failing atomic.Bool
	h.AddCheck("responder", func() error {
		if failing.Load() {
			return errors.New("closed")
		}
		return nil
	})

	var r Report
	if code := getJSON(t, h, "/health", &r); code != http.StatusOK || r.Status != StatusOK {
		t.Errorf("/health = %d %s", code, r.Status)
	}
	var ready map[string]any
	if code := getJSON(t, h.Ready(), "/readyz", &ready); code != http.StatusOK || ready["ready"] != true {
		t.Errorf("/readyz = %d %v", code, ready)
	}

	failing.Store(true)
	if code := getJSON(t, h, "/health", &r); code != http.StatusServiceUnavailable || r.Status != StatusDown {
		t.Errorf("/health = %d %s", code, r.Status)
	}
	if code := getJSON(t, h.Ready(), "/readyz", &ready); code != http.StatusServiceUnavailable || ready["ready"] != false {
		t.Errorf("/readyz = %d %v", code, ready)
	}
	var live map[string]string
	if code := getJSON(t, h.Live(), "/healthz", &live); code != http.StatusOK || live["status"] != "ok" {
		t.Errorf("/healthz = %d %v", code, live)
	}
}

func TestHealthDegradedStaysReady(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRequest(false, time.Millisecond)
	h := NewHealth(c, "")

	var ready map[string]any
	if code := getJSON(t, h.Ready(), "/readyz", &ready); code != http.StatusOK || ready["status"] != string(StatusDegraded) {
		t.Errorf("/readyz = %d %v", code, ready)
	}
}

func TestServerEndpoints(t *testing.T) {
	c := NewCollector(nil)
	c.SessionStarted()
	srv := NewServer(ServerConfig{
		Collector:        c,
		Version:          "0.1.0",
		EnablePrometheus: true,
		EnableHealth:     true,
	})
	srv.AddHealthCheck("selftest", func() error { return nil })

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "httq_sessions_total") {
		t.Errorf("/metrics = %d:\n%s", w.Code, w.Body.String())
	}

	var r Report
	getJSON(t, srv.Handler(), "/health", &r)
	if _, ok := r.Checks["selftest"]; !ok || r.Version != "0.1.0" {
		t.Errorf("/health = %+v", r)
	}
	for _, path := range []string{"/healthz", "/readyz"} {
		if code := getJSON(t, srv.Handler(), path, nil); code != http.StatusOK {
			t.Errorf("%s = %d", path, code)
		}
	}
}

func TestServerDisabledEndpoints(t *testing.T) {
	srv := NewServer(ServerConfig{Collector: NewCollector(nil)})
	srv.AddHealthCheck("ignored", func() error { return errors.New("x") })

	for _, path := range []string{"/metrics", "/health", "/readyz"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, w.Code)
		}
	}
}

func TestServerShutdownBeforeListen(t *testing.T) {
	srv := NewServer(ServerConfig{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
}
