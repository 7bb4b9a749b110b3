package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a health evaluation.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // serving, but an indicator crossed its threshold
	StatusDown     Status = "down"     // a registered check failed
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func() error

// Thresholds bound the collector indicators before a report is degraded.
// A zero field disables that indicator.
type Thresholds struct {
	// MaxErrorRate is the tolerated share of sealed records that failed
	// authentication, replayed, or broke framing.
	MaxErrorRate float64
	// MaxFallbackShare is the tolerated share of client requests that
	// left over classical TLS instead of an httq session.
	MaxFallbackShare float64
}

// DefaultThresholds returns the thresholds used by NewHealth.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxErrorRate: 0.01, MaxFallbackShare: 0.5}
}

// Health evaluates named checks together with indicators read from a
// Collector.
type Health struct {
	mu         sync.RWMutex
	checks     map[string]CheckFunc
	collector  *Collector
	thresholds Thresholds
	version    string
	started    time.Time
}

// NewHealth returns a Health reporting on c, which may be nil.
func NewHealth(c *Collector, version string) *Health {
	return &Health{
		checks:     make(map[string]CheckFunc),
		collector:  c,
		thresholds: DefaultThresholds(),
		version:    version,
		started:    time.Now(),
	}
}

// SetThresholds replaces the indicator thresholds.
func (h *Health) SetThresholds(t Thresholds) {
	h.mu.Lock()
	h.thresholds = t
	h.mu.Unlock()
}

// AddCheck registers check under name, replacing any previous one.
func (h *Health) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Report is the body served on /health.
type Report struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime"`
	Checks     map[string]CheckReport `json:"checks,omitempty"`
	Indicators *Indicators            `json:"indicators,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// CheckReport is the result of one registered check.
type CheckReport struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Took  string `json:"took"`
}

// Indicators summarise the collector at the time of the report.
type Indicators struct {
	ActiveSessions   uint64  `json:"active_sessions"`
	Sessions         uint64  `json:"sessions"`
	FailedHandshakes uint64  `json:"failed_handshakes"`
	QuantumSafe      uint64  `json:"requests_quantum_safe"`
	Fallback         uint64  `json:"requests_fallback"`
	RateLimited      uint64  `json:"rate_limited"`
	ErrorRate        float64 `json:"error_rate"`
	FallbackShare    float64 `json:"fallback_share"`
}

// Evaluate runs every registered check concurrently and folds the result
// with the collector indicators.
func (h *Health) Evaluate() Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	thresholds := h.thresholds
	h.mu.RUnlock()

	results := make([]CheckReport, len(checks))
	var g errgroup.Group
	g.SetLimit(4)
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check()
			results[i] = CheckReport{OK: err == nil, Took: time.Since(start).String()}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Status:  StatusOK,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if len(names) > 0 {
		r.Checks = make(map[string]CheckReport, len(names))
	}
	for i, name := range names {
		r.Checks[name] = results[i]
		if !results[i].OK {
			r.Status = StatusDown
		}
	}

	if h.collector != nil {
		r.Indicators, r.Warnings = indicators(h.collector.Snapshot(), thresholds)
		if len(r.Warnings) > 0 && r.Status == StatusOK {
			r.Status = StatusDegraded
		}
	}
	return r
}

func indicators(s Snapshot, t Thresholds) (*Indicators, []string) {
	in := &Indicators{
		ActiveSessions:   s.SessionsActive,
		Sessions:         s.SessionsTotal,
		FailedHandshakes: s.SessionsFailed,
		QuantumSafe:      s.RequestsQuantumSafe,
		Fallback:         s.RequestsFallback,
		RateLimited:      s.ConnectionRateLimits + s.HandshakeRateLimits,
	}
	var warnings []string

	if records := s.PacketsSent + s.PacketsRecv; records > 0 {
		bad := s.AuthFailures + s.ReplayAttacksBlocked + s.ProtocolErrors + s.EncryptErrors
		in.ErrorRate = float64(bad) / float64(records)
		if t.MaxErrorRate > 0 && in.ErrorRate > t.MaxErrorRate {
			warnings = append(warnings, fmt.Sprintf("record error rate %.4f above %.4f", in.ErrorRate, t.MaxErrorRate))
		}
	}
	if requests := s.RequestsQuantumSafe + s.RequestsFallback; requests > 0 {
		in.FallbackShare = float64(s.RequestsFallback) / float64(requests)
		if t.MaxFallbackShare > 0 && in.FallbackShare > t.MaxFallbackShare {
			warnings = append(warnings, fmt.Sprintf("fallback share %.2f above %.2f", in.FallbackShare, t.MaxFallbackShare))
		}
	}
	return in, warnings
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP writes the full report; a down report is answered with 503.
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r := h.Evaluate()
	code := http.StatusOK
	if r.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, r)
}

// Live answers every probe while the process can serve HTTP at all.
func (h *Health) Live() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]Status{"status": StatusOK})
	})
}

// Ready answers 503 while any registered check fails. Indicator warnings
// do not affect readiness.
func (h *Health) Ready() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r := h.Evaluate()
		ready := r.Status != StatusDown
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": r.Status, "ready": ready})
	})
}
