// Package client implements the httq protocol client.
//
// A Client dispatches on the URL scheme. httq:// requests run over a
// post-quantum session: the client performs at most one handshake per
// endpoint at a time, caches the resulting session until its TTL expires,
// and seals each request into it. https:// requests, and httq:// requests
// whose transport fails, go to a classical client only when fallback is
// enabled. Every Result reports the path that was actually taken.
//
//	c, err := client.New(client.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	res, err := c.Get(ctx, "httq://api.example.com/status")
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.Status, res.QuantumSafe, res.Algorithm)
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
	"github.com/sara-star-quant/httq-go/pkg/selftest"
	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// Client performs httq requests with classical fallback. It is safe for
// concurrent use.
type Client struct {
	config    Config
	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer

	sessions *sessionCache
	inflight singleflight.Group

	closed atomic.Bool
}

// New creates a client. Zero fields of cfg take the values of
// DefaultConfig, except Hybrid and MaxRehandshakes, which are used as given.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, qerrors.NewInputError("config", err)
	}
	cfg.applyDefaults()
	if err := selftest.Check(); err != nil {
		return nil, qerrors.NewCryptoError("selftest", err)
	}

	c := &Client{
		config:    cfg,
		logger:    cfg.Logger.Named("client"),
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
	}
	c.sessions = newSessionCache(cfg.SessionTTL, c.sessionEvicted)
	return c, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*Result, error) {
	return c.Do(ctx, rawURL, nil, RequestOptions{Method: http.MethodGet})
}

// Post performs a POST request with body.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte) (*Result, error) {
	return c.Do(ctx, rawURL, body, RequestOptions{Method: http.MethodPost})
}

// PostJSON encodes v as JSON and posts it.
func (c *Client) PostJSON(ctx context.Context, rawURL string, v any) (*Result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, qerrors.NewInputError("body", err)
	}
	return c.Do(ctx, rawURL, body, RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string][]string{"Content-Type": {"application/json"}},
	})
}

// Do performs a request.
func (c *Client) Do(ctx context.Context, rawURL string, body []byte, opts RequestOptions) (*Result, error) {
	if c.closed.Load() {
		return nil, qerrors.ErrClientClosed
	}

	target, err := ParseTarget(rawURL)
	if err != nil {
		c.collector.RecordRequestFailed()
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	ctx, end := c.tracer.StartSpan(ctx, metrics.SpanRequest,
		metrics.WithSpanKind(metrics.SpanKindClient),
		metrics.WithAttributes(metrics.AttrEndpoint.String(target.Endpoint())))

	var res *Result
	switch target.Scheme {
	case SchemeClassical:
		if !c.config.AllowFallback || opts.RequireQuantumSafe {
			err = qerrors.NewInputError("url", qerrors.ErrFallbackDisabled)
			break
		}
		res, err = c.classical(ctx, target.String(), method, body, opts)
	case SchemeQuantumSafe:
		res, err = c.quantumSafe(ctx, target, method, body, opts)
		if err != nil && c.mayFallback(err, opts) {
			c.logger.Warn("quantum-safe path failed, using classical fallback", metrics.Fields{
				"endpoint": target.Endpoint(),
				"error":    err.Error(),
			})
			c.emit(EventFallback, target.Endpoint(), err)
			res, err = c.classical(ctx, target.Classical(), method, body, opts)
		}
	}
	end(err)

	if err != nil {
		c.collector.RecordRequestFailed()
		return nil, err
	}
	c.collector.RecordRequest(res.QuantumSafe, time.Since(start))
	return res, nil
}

// mayFallback reports whether a failed httq request may be retried over
// classical TLS. Only transport failures qualify, and never for callers
// that require the quantum-safe path.
func (c *Client) mayFallback(err error, opts RequestOptions) bool {
	return c.config.AllowFallback && !opts.RequireQuantumSafe &&
		qerrors.KindOf(err) == qerrors.KindTransport
}

// quantumSafe runs the request over a cached or new session. A failure of
// the session or its transport evicts it and, within the retry budget,
// re-handshakes. A request too large for one record is refused before any
// session is touched.
func (c *Client) quantumSafe(ctx context.Context, target Target, method string, body []byte, opts RequestOptions) (*Result, error) {
	payload, err := protocol.MarshalRequest(&protocol.Request{
		Method:  method,
		Path:    target.Path,
		Headers: opts.Headers,
		Body:    body,
	})
	if err != nil {
		return nil, qerrors.NewInputError("request", err)
	}
	if len(payload) > constants.MaxPlaintextSize {
		return nil, qerrors.NewInputError("body", qerrors.ErrMessageTooLarge)
	}

	endpoint := target.Endpoint()
	budget := opts.retries(c.config.MaxRehandshakes)

	for attempt := 0; ; attempt++ {
		t, err := c.session(ctx, target)
		if err != nil {
			return nil, err
		}

		reply, err := t.RoundTrip(ctx, payload)
		if err == nil {
			return c.quantumSafeResult(t, reply)
		}

		if qerrors.KindOf(err) != qerrors.KindInput {
			c.sessions.evict(endpoint, t)
		}
		if !retryable(err) || attempt >= budget || ctx.Err() != nil {
			return nil, err
		}

		c.collector.RecordRehandshake()
		c.logger.Warn("session failed, re-handshaking", metrics.Fields{
			"endpoint": endpoint,
			"attempt":  attempt + 1,
			"error":    err.Error(),
		})
		c.emit(EventRehandshake, endpoint, err)
	}
}

func (c *Client) quantumSafeResult(t *tunnel.Transport, reply []byte) (*Result, error) {
	resp, err := protocol.UnmarshalResponse(reply)
	if err != nil {
		return nil, qerrors.NewProtocolError("response", err)
	}

	s := t.Session()
	params, _ := s.Algorithm.Params()
	return &Result{
		Status:       resp.Status,
		Data:         resp.Body,
		Headers:      resp.Headers,
		QuantumSafe:  true,
		SecurityBits: s.SecurityBits,
		Algorithm:    params.Name,
		Hybrid:       s.Hybrid,
		CipherSuite:  s.CipherSuite.String(),
		RequestID:    uuid.New(),
	}, nil
}

// retryable reports whether a round-trip failure warrants a new session.
// Fatal crypto failures never do.
func retryable(err error) bool {
	if qerrors.IsFatal(err) {
		return false
	}
	if errors.Is(err, qerrors.ErrSessionClosed) || errors.Is(err, qerrors.ErrSessionNotReady) {
		return true
	}
	switch qerrors.KindOf(err) {
	case qerrors.KindCrypto, qerrors.KindTransport:
		return true
	}
	return false
}

// session returns the cached transport for target or establishes one.
// Concurrent callers for the same endpoint share a single handshake.
func (c *Client) session(ctx context.Context, target Target) (*tunnel.Transport, error) {
	endpoint := target.Endpoint()
	if t := c.sessions.get(endpoint); t != nil {
		c.collector.RecordCacheHit()
		c.emit(EventSessionReused, endpoint, nil)
		return t, nil
	}
	c.collector.RecordCacheMiss()

	// The handshake outlives any single caller's context so that callers
	// joining it are not failed by the first caller's cancellation. It is
	// still bounded by HandshakeTimeout.
	hctx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(endpoint, func() (interface{}, error) {
		if t := c.sessions.get(endpoint); t != nil {
			return t, nil
		}
		hctx, cancel := context.WithTimeout(hctx, c.config.HandshakeTimeout)
		defer cancel()

		t, err := c.handshake(hctx, target)
		if err != nil {
			return nil, err
		}
		c.sessions.put(endpoint, t)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx, "handshake")
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*tunnel.Transport), nil
	}
}

// handshake dials the endpoint and runs the initiator side.
func (c *Client) handshake(ctx context.Context, target Target) (*tunnel.Transport, error) {
	endpoint := target.Endpoint()
	c.emit(EventHandshakeStarted, endpoint, nil)

	t, err := c.establish(ctx, target)
	if err != nil {
		c.logger.Error("handshake failed", metrics.Fields{
			"endpoint": endpoint,
			"error":    err.Error(),
			"kind":     qerrors.KindOf(err).String(),
		})
		c.emit(EventHandshakeFailed, endpoint, err)
		return nil, err
	}

	s := t.Session()
	c.logger.Info("session established", metrics.Fields{
		"endpoint":     endpoint,
		"session_id":   metrics.SessionID(s.ID),
		"level":        s.Algorithm.String(),
		"hybrid":       s.Hybrid,
		"cipher_suite": s.CipherSuite.String(),
	})
	c.emit(EventHandshakeCompleted, endpoint, nil)
	return t, nil
}

func (c *Client) establish(ctx context.Context, target Target) (*tunnel.Transport, error) {
	raw, err := c.config.Dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, "dial")
		}
		return nil, qerrors.NewTransportError("dial", err)
	}
	conn := tunnel.NewStreamConn(raw)

	hs, err := tunnel.NewInitiator(tunnel.HandshakeConfig{
		Level:        c.config.Level,
		Hybrid:       c.config.Hybrid,
		CipherSuites: c.config.CipherSuites,
		Timeout:      c.config.HandshakeTimeout,
		Observer: metrics.NewTunnelObserver(metrics.TunnelObserverConfig{
			Collector: c.collector,
			Tracer:    c.tracer,
			Logger:    c.config.Logger,
			Endpoint:  target.Endpoint(),
			Role:      tunnel.RoleInitiator,
		}),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	session, err := hs.Run(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	t, err := tunnel.NewTransport(session, conn)
	if err != nil {
		session.Close()
		conn.Close()
		return nil, err
	}
	return t, nil
}

// classical performs the request through the fallback collaborator.
func (c *Client) classical(ctx context.Context, rawURL, method string, body []byte, opts RequestOptions) (*Result, error) {
	ctx, end := c.tracer.StartSpan(ctx, metrics.SpanFallback, metrics.WithSpanKind(metrics.SpanKindClient))
	resp, err := c.config.Fallback.Request(ctx, method, rawURL, body, opts.Headers)
	end(err)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:    resp.Status,
		Data:      resp.Body,
		Headers:   resp.Headers,
		RequestID: uuid.New(),
	}, nil
}

// CachedSessions returns the number of cached sessions.
func (c *Client) CachedSessions() int {
	return c.sessions.len()
}

// Close closes every cached session. In-flight requests fail.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sessions.close()
	c.logger.Debug("client closed")
	return nil
}

func (c *Client) sessionEvicted(endpoint string, reason ttlcache.EvictionReason) {
	c.logger.Debug("session evicted", metrics.Fields{
		"endpoint": endpoint,
		"reason":   evictionReason(reason),
	})
	c.emit(EventSessionEvicted, endpoint, nil)
}

func (c *Client) emit(typ EventType, endpoint string, err error) {
	if c.config.OnEvent == nil {
		return
	}
	c.config.OnEvent(Event{Type: typ, Endpoint: endpoint, Time: time.Now(), Err: err})
}

// contextError converts an ended context into a TransportError.
func contextError(ctx context.Context, op string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return qerrors.NewTransportError(op, fmt.Errorf("%w: %w", qerrors.ErrTimeout, err))
	}
	return qerrors.NewTransportError(op, err)
}
