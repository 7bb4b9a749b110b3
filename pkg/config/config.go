// Package config loads httq client and server settings from a YAML file
// and HTTQ_* environment variables. Environment variables take precedence
// over the file, which takes precedence over built-in defaults.
//
// Example file:
//
//	client:
//	  level: L2
//	  hybrid: true
//	  allowFallback: false
//	  handshakeTimeout: 10s
//	  sessionTTL: 10m
//	server:
//	  listen: ":8443"
//	  idleTimeout: 2m
//	  handshakeRate: 50
//	  handshakeBurst: 10
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  listen: ":9090"
//	  tracing: otel
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/client"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
	"github.com/sara-star-quant/httq-go/pkg/server"
)

// DefaultPaths are tried in order when Load is given no path.
var DefaultPaths = []string{"httq.yaml", "configs/httq.yaml"}

// Tracing backends.
const (
	TracingNone = "none"
	TracingOTel = "otel"
)

// Config is the resolved configuration.
type Config struct {
	Client client.Config
	Server server.Config

	// Listen is the responder address.
	Listen string

	LogLevel  metrics.Level
	LogFormat metrics.Format

	// MetricsListen enables the observability server when set.
	MetricsListen    string
	MetricsNamespace string

	// Tracing selects the tracer: "none" or "otel".
	Tracing string
}

// File mirrors the YAML layout. Pointer fields distinguish unset from
// false or zero.
type File struct {
	Client  ClientSection  `yaml:"client"`
	Server  ServerSection  `yaml:"server"`
	Log     LogSection     `yaml:"log"`
	Metrics MetricsSection `yaml:"metrics"`
}

// ClientSection configures the protocol client.
type ClientSection struct {
	Level            string        `yaml:"level"`
	Hybrid           *bool         `yaml:"hybrid"`
	AllowFallback    *bool         `yaml:"allowFallback"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	SessionTTL       time.Duration `yaml:"sessionTTL"`
	MaxRehandshakes  *int          `yaml:"maxRehandshakes"`
	CipherSuites     []string      `yaml:"cipherSuites"`
}

// ServerSection configures the responder.
type ServerSection struct {
	Listen              string        `yaml:"listen"`
	Level               string        `yaml:"level"`
	Hybrid              *bool         `yaml:"hybrid"`
	CipherSuites        []string      `yaml:"cipherSuites"`
	HandshakeTimeout    time.Duration `yaml:"handshakeTimeout"`
	IdleTimeout         time.Duration `yaml:"idleTimeout"`
	MaxConnectionsPerIP int           `yaml:"maxConnectionsPerIP"`
	HandshakeRate       float64       `yaml:"handshakeRate"`
	HandshakeBurst      int           `yaml:"handshakeBurst"`
	HandshakeRatePerIP  float64       `yaml:"handshakeRatePerIP"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsSection configures metrics and tracing.
type MetricsSection struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
	Tracing   string `yaml:"tracing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client:           client.DefaultConfig(),
		Server:           server.DefaultConfig(),
		Listen:           ":" + constants.DefaultPort,
		LogLevel:         metrics.LevelInfo,
		LogFormat:        metrics.FormatText,
		MetricsNamespace: "httq",
		Tracing:          TracingNone,
	}
}

// Load reads the file at path, or the first of DefaultPaths that exists
// when path is empty, then applies environment overrides. A missing
// default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := DefaultPaths
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path == "" && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("config: %s: %w", p, err)
		}
		break
	}

	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from YAML data without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if err := mergeClient(&c.Client, f.Client); err != nil {
		return err
	}
	if err := mergeServer(&c.Server, f.Server); err != nil {
		return err
	}
	if f.Server.Listen != "" {
		c.Listen = f.Server.Listen
	}
	if f.Log.Level != "" {
		c.LogLevel = metrics.ParseLevel(f.Log.Level)
	}
	if f.Log.Format != "" {
		c.LogFormat = metrics.ParseFormat(f.Log.Format)
	}
	if f.Metrics.Listen != "" {
		c.MetricsListen = f.Metrics.Listen
	}
	if f.Metrics.Namespace != "" {
		c.MetricsNamespace = f.Metrics.Namespace
	}
	if f.Metrics.Tracing != "" {
		t, err := parseTracing(f.Metrics.Tracing)
		if err != nil {
			return err
		}
		c.Tracing = t
	}
	return nil
}

func mergeClient(dst *client.Config, src ClientSection) error {
	if src.Level != "" {
		l, err := kem.ParseLevel(src.Level)
		if err != nil {
			return err
		}
		dst.Level = l
	}
	if src.Hybrid != nil {
		dst.Hybrid = *src.Hybrid
	}
	if src.AllowFallback != nil {
		dst.AllowFallback = *src.AllowFallback
	}
	if src.HandshakeTimeout != 0 {
		dst.HandshakeTimeout = src.HandshakeTimeout
	}
	if src.SessionTTL != 0 {
		dst.SessionTTL = src.SessionTTL
	}
	if src.MaxRehandshakes != nil {
		dst.MaxRehandshakes = *src.MaxRehandshakes
	}
	if src.CipherSuites != nil {
		suites, err := parseSuites(src.CipherSuites)
		if err != nil {
			return err
		}
		dst.CipherSuites = suites
	}
	return dst.Validate()
}

func mergeServer(dst *server.Config, src ServerSection) error {
	if src.Level != "" {
		l, err := kem.ParseLevel(src.Level)
		if err != nil {
			return err
		}
		dst.Level = l
	}
	if src.Hybrid != nil {
		dst.Hybrid = *src.Hybrid
	}
	if src.CipherSuites != nil {
		suites, err := parseSuites(src.CipherSuites)
		if err != nil {
			return err
		}
		dst.CipherSuites = suites
	}
	if src.HandshakeTimeout != 0 {
		dst.HandshakeTimeout = src.HandshakeTimeout
	}
	if src.IdleTimeout != 0 {
		dst.IdleTimeout = src.IdleTimeout
	}
	if src.MaxConnectionsPerIP != 0 {
		dst.MaxConnectionsPerIP = src.MaxConnectionsPerIP
	}
	if src.HandshakeRate != 0 {
		dst.HandshakeRate = src.HandshakeRate
	}
	if src.HandshakeBurst != 0 {
		dst.HandshakeBurst = src.HandshakeBurst
	}
	if src.HandshakeRatePerIP != 0 {
		dst.HandshakeRatePerIP = src.HandshakeRatePerIP
	}
	return dst.Validate()
}

// ApplyEnv applies HTTQ_* overrides read through getenv. The level,
// hybrid and cipher suite variables apply to both client and server.
//
//	HTTQ_LEVEL              L1 | L2 | L3 (or an ML-KEM / HTTQ-LATTICE name)
//	HTTQ_HYBRID             true | false
//	HTTQ_CIPHER_SUITES      comma-separated suite names
//	HTTQ_FALLBACK           true | false
//	HTTQ_HANDSHAKE_TIMEOUT  duration
//	HTTQ_SESSION_TTL        duration
//	HTTQ_LISTEN             responder address
//	HTTQ_LOG_LEVEL          debug | info | warn | error | silent
//	HTTQ_LOG_FORMAT         text | json
//	HTTQ_METRICS_LISTEN     observability server address
//	HTTQ_TRACING            none | otel
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	get := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	if v := get("HTTQ_LEVEL"); v != "" {
		l, err := kem.ParseLevel(v)
		if err != nil {
			return envError("HTTQ_LEVEL", err)
		}
		cfg.Client.Level = l
		cfg.Server.Level = l
	}
	if v := get("HTTQ_HYBRID"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("HTTQ_HYBRID", err)
		}
		cfg.Client.Hybrid = b
		cfg.Server.Hybrid = b
	}
	if v := get("HTTQ_CIPHER_SUITES"); v != "" {
		suites, err := parseSuites(strings.Split(v, ","))
		if err != nil {
			return envError("HTTQ_CIPHER_SUITES", err)
		}
		cfg.Client.CipherSuites = suites
		cfg.Server.CipherSuites = suites
	}
	if v := get("HTTQ_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("HTTQ_FALLBACK", err)
		}
		cfg.Client.AllowFallback = b
	}
	if v := get("HTTQ_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return envError("HTTQ_HANDSHAKE_TIMEOUT", fmt.Errorf("invalid duration %q", v))
		}
		cfg.Client.HandshakeTimeout = d
		cfg.Server.HandshakeTimeout = d
	}
	if v := get("HTTQ_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return envError("HTTQ_SESSION_TTL", fmt.Errorf("invalid duration %q", v))
		}
		cfg.Client.SessionTTL = d
	}
	if v := get("HTTQ_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := get("HTTQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = metrics.ParseLevel(v)
	}
	if v := get("HTTQ_LOG_FORMAT"); v != "" {
		cfg.LogFormat = metrics.ParseFormat(v)
	}
	if v := get("HTTQ_METRICS_LISTEN"); v != "" {
		cfg.MetricsListen = v
	}
	if v := get("HTTQ_TRACING"); v != "" {
		t, err := parseTracing(v)
		if err != nil {
			return envError("HTTQ_TRACING", err)
		}
		cfg.Tracing = t
	}
	return nil
}

// Logger builds the logger described by the configuration, writing to w.
func (c *Config) Logger(w io.Writer) *metrics.Logger {
	return metrics.NewLogger(
		metrics.WithOutput(w),
		metrics.WithLevel(c.LogLevel),
		metrics.WithFormat(c.LogFormat),
		metrics.WithName("httq"),
	)
}

// Tracer builds the tracer described by the configuration.
func (c *Config) Tracer() metrics.Tracer {
	if c.Tracing == TracingOTel {
		return metrics.NewOTelTracer(c.MetricsNamespace)
	}
	return metrics.NoOpTracer{}
}

func parseSuites(names []string) ([]constants.CipherSuite, error) {
	suites := make([]constants.CipherSuite, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		cs, err := protocol.ParseCipherSuite(n)
		if err != nil {
			return nil, err
		}
		suites = append(suites, cs)
	}
	return suites, nil
}

func parseTracing(s string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(s)); t {
	case TracingNone, "", "off":
		return TracingNone, nil
	case TracingOTel, "opentelemetry":
		return TracingOTel, nil
	default:
		return "", fmt.Errorf("unknown tracing backend %q", s)
	}
}

func envError(key string, err error) error {
	return fmt.Errorf("config: %s: %w", key, err)
}
