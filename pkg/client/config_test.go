package client

import (
	"testing"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/kem"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero level", func(c *Config) { c.Level = 0 }, false},
		{"bad level", func(c *Config) { c.Level = kem.Level(9) }, true},
		{"negative timeout", func(c *Config) { c.HandshakeTimeout = -time.Second }, true},
		{"negative ttl", func(c *Config) { c.SessionTTL = -time.Second }, true},
		{"negative rehandshakes", func(c *Config) { c.MaxRehandshakes = -1 }, true},
		{"too many rehandshakes", func(c *Config) { c.MaxRehandshakes = constants.MaxRehandshakeAttempts + 1 }, true},
		{"bad suite", func(c *Config) { c.CipherSuites = []constants.CipherSuite{0x99} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.Level != kem.DefaultLevel {
		t.Errorf("Level = %v", cfg.Level)
	}
	if cfg.HandshakeTimeout != constants.DefaultHandshakeTimeoutSeconds*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.SessionTTL != constants.DefaultSessionTTLSeconds*time.Second {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.Dialer == nil || cfg.Fallback == nil || cfg.Logger == nil || cfg.Collector == nil || cfg.Tracer == nil {
		t.Error("collaborators should be defaulted")
	}
	if len(cfg.CipherSuites) == 0 {
		t.Error("cipher suites should be defaulted")
	}
}

func TestRequestOptionsRetries(t *testing.T) {
	tests := []struct {
		retries int
		def     int
		want    int
	}{
		{0, 1, 1},
		{0, 0, 0},
		{2, 1, 2},
		{-1, 3, 0},
		{10, 1, constants.MaxRehandshakeAttempts},
	}
	for _, tt := range tests {
		got := RequestOptions{Retries: tt.retries}.retries(tt.def)
		if got != tt.want {
			t.Errorf("retries(%d, def=%d) = %d, want %d", tt.retries, tt.def, got, tt.want)
		}
	}
}
