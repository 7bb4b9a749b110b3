package client

import (
	"errors"
	"net/http"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// Config holds configuration for the protocol client.
type Config struct {
	// Level is the KEM security level offered in every handshake.
	// Default: L2
	Level kem.Level

	// Hybrid enables the X25519 component of the key agreement.
	// Default: true
	Hybrid bool

	// AllowFallback permits classical https requests, and rewriting a failed
	// httq request to https. Callers that set RequireQuantumSafe on a
	// request are never downgraded.
	// Default: false
	AllowFallback bool

	// HandshakeTimeout bounds one handshake including the dial.
	// Default: 10 seconds
	HandshakeTimeout time.Duration

	// SessionTTL is how long an established session stays in the cache.
	// Default: 10 minutes
	SessionTTL time.Duration

	// MaxRehandshakes is the default number of re-handshakes a request may
	// perform after a crypto or transport failure on a cached session.
	// Capped at constants.MaxRehandshakeAttempts. Like Hybrid it is used as
	// given: zero means no re-handshake.
	// Default: 1 (DefaultConfig)
	MaxRehandshakes int

	// CipherSuites lists acceptable suites in preference order.
	CipherSuites []constants.CipherSuite

	// Dialer opens the byte stream to the responder.
	// Default: net.Dialer
	Dialer Dialer

	// Fallback performs classical requests.
	// Default: HTTPFallback over http.DefaultClient
	Fallback ClassicalClient

	// Logger receives structured client logs.
	// Default: metrics.GetLogger()
	Logger *metrics.Logger

	// Collector receives client and session metrics.
	// Default: metrics.Global()
	Collector *metrics.Collector

	// Tracer traces requests and handshakes.
	// Default: metrics.GetTracer()
	Tracer metrics.Tracer

	// OnEvent receives structured status events. Optional.
	OnEvent func(Event)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:            kem.DefaultLevel,
		Hybrid:           true,
		HandshakeTimeout: constants.DefaultHandshakeTimeoutSeconds * time.Second,
		SessionTTL:       constants.DefaultSessionTTLSeconds * time.Second,
		MaxRehandshakes:  1,
		CipherSuites:     protocol.SupportedCipherSuites(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Level != 0 && !c.Level.IsSupported() {
		return errors.New("client: unsupported security level")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("client: HandshakeTimeout cannot be negative")
	}
	if c.SessionTTL < 0 {
		return errors.New("client: SessionTTL cannot be negative")
	}
	if c.MaxRehandshakes < 0 {
		return errors.New("client: MaxRehandshakes cannot be negative")
	}
	if c.MaxRehandshakes > constants.MaxRehandshakeAttempts {
		return errors.New("client: MaxRehandshakes exceeds limit")
	}
	for _, cs := range c.CipherSuites {
		if !cs.IsSupported() {
			return errors.New("client: unsupported cipher suite")
		}
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Level == 0 {
		c.Level = defaults.Level
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaults.SessionTTL
	}
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = defaults.CipherSuites
	}
	if c.Dialer == nil {
		c.Dialer = defaultDialer()
	}
	if c.Fallback == nil {
		c.Fallback = NewHTTPFallback(http.DefaultClient)
	}
	if c.Logger == nil {
		c.Logger = metrics.GetLogger()
	}
	if c.Collector == nil {
		c.Collector = metrics.Global()
	}
	if c.Tracer == nil {
		c.Tracer = metrics.GetTracer()
	}
}

// RequestOptions are the recognized per-request options.
type RequestOptions struct {
	// Method is the request method. Default: GET, or POST when a body is set.
	Method string

	// Headers are sent with the request.
	Headers map[string][]string

	// Timeout bounds the whole request including any handshake. Zero means
	// only the caller's context applies.
	Timeout time.Duration

	// Retries overrides Config.MaxRehandshakes. Zero uses the client
	// default; a negative value disables re-handshakes.
	Retries int

	// RequireQuantumSafe forbids any classical fallback for this request.
	RequireQuantumSafe bool
}

// retries resolves the re-handshake budget for a request.
func (o RequestOptions) retries(def int) int {
	n := o.Retries
	switch {
	case n < 0:
		return 0
	case n == 0:
		n = def
	}
	return min(n, constants.MaxRehandshakeAttempts)
}
