package client

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// Scheme constants.
const (
	SchemeQuantumSafe = constants.SchemeQuantumSafe
	SchemeClassical   = constants.SchemeClassical
)

// Target is a parsed request URL.
type Target struct {
	Scheme string
	Host   string // host without port
	Port   string
	Path   string // path and query, always starting with "/"
	raw    *url.URL
}

// Endpoint returns the session cache key: scheme, host and port.
func (t Target) Endpoint() string {
	return t.Scheme + "://" + net.JoinHostPort(t.Host, t.Port)
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// String returns the full URL.
func (t Target) String() string {
	return t.raw.String()
}

// Classical returns the https URL for the same resource. An explicit httq
// port is dropped since it does not speak TLS.
func (t Target) Classical() string {
	u := *t.raw
	u.Scheme = SchemeClassical
	if t.Scheme == SchemeQuantumSafe {
		u.Host = t.raw.Hostname()
		if strings.Contains(u.Host, ":") {
			u.Host = "[" + u.Host + "]"
		}
	}
	return u.String()
}

// ParseTarget parses rawURL and fills in the default port of its scheme.
// Schemes other than httq and https fail with ErrUnsupportedScheme.
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, qerrors.NewInputError("url", fmt.Errorf("%w: %w", qerrors.ErrInvalidURL, err))
	}

	scheme := strings.ToLower(u.Scheme)
	var defaultPort string
	switch scheme {
	case SchemeQuantumSafe:
		defaultPort = constants.DefaultPort
	case SchemeClassical:
		defaultPort = "443"
	default:
		return Target{}, qerrors.NewInputError("url", fmt.Errorf("%w: %q", qerrors.ErrUnsupportedScheme, u.Scheme))
	}
	if u.Hostname() == "" {
		return Target{}, qerrors.NewInputError("url", fmt.Errorf("%w: missing host", qerrors.ErrInvalidURL))
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	path := u.RequestURI()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Scheme = scheme

	return Target{
		Scheme: scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
		raw:    u,
	}, nil
}
