package server

import (
	"errors"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// Config holds configuration for the responder.
type Config struct {
	// Level is the KEM security level clients must offer.
	// Default: L2
	Level kem.Level

	// Hybrid requires the X25519 component.
	// Default: true
	Hybrid bool

	// CipherSuites lists acceptable suites in preference order.
	CipherSuites []constants.CipherSuite

	// HandshakeTimeout bounds one handshake.
	// Default: 10 seconds
	HandshakeTimeout time.Duration

	// IdleTimeout closes a session that receives no request for this long.
	// 0 disables the idle timeout.
	// Default: 2 minutes
	IdleTimeout time.Duration

	// MaxConnectionsPerIP caps concurrent connections from one address.
	// 0 disables the limit.
	MaxConnectionsPerIP int

	// HandshakeRate is the global handshake rate per second.
	// 0 disables the limit.
	HandshakeRate float64

	// HandshakeBurst is the burst of the global handshake limiter.
	// Default: 1
	HandshakeBurst int

	// HandshakeRatePerIP additionally limits handshakes per remote address.
	// Requires HandshakeRate. 0 disables the per-IP limit.
	HandshakeRatePerIP float64

	// Logger receives structured server logs.
	// Default: metrics.GetLogger()
	Logger *metrics.Logger

	// Collector receives session and rate limit metrics.
	// Default: metrics.Global()
	Collector *metrics.Collector

	// Tracer traces handshakes and requests.
	// Default: metrics.GetTracer()
	Tracer metrics.Tracer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:            kem.DefaultLevel,
		Hybrid:           true,
		CipherSuites:     protocol.SupportedCipherSuites(),
		HandshakeTimeout: constants.DefaultHandshakeTimeoutSeconds * time.Second,
		IdleTimeout:      2 * time.Minute,
		HandshakeBurst:   1,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Level != 0 && !c.Level.IsSupported() {
		return errors.New("server: unsupported security level")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("server: HandshakeTimeout cannot be negative")
	}
	if c.IdleTimeout < 0 {
		return errors.New("server: IdleTimeout cannot be negative")
	}
	if c.MaxConnectionsPerIP < 0 {
		return errors.New("server: MaxConnectionsPerIP cannot be negative")
	}
	if c.HandshakeRate < 0 || c.HandshakeRatePerIP < 0 {
		return errors.New("server: handshake rates cannot be negative")
	}
	if c.HandshakeBurst < 0 {
		return errors.New("server: HandshakeBurst cannot be negative")
	}
	for _, cs := range c.CipherSuites {
		if !cs.IsSupported() {
			return errors.New("server: unsupported cipher suite")
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
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = defaults.CipherSuites
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.HandshakeBurst == 0 {
		c.HandshakeBurst = defaults.HandshakeBurst
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
