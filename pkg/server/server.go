// Package server implements the responder side of httq.
//
// A Server accepts byte streams, rate-limits them, runs the responder
// handshake and then answers sealed requests with a Handler until the peer
// closes the session or it sits idle.
//
//	srv, err := server.New(server.DefaultConfig(), server.FromHTTP(mux))
//	if err != nil {
//		return err
//	}
//	go srv.ListenAndServe(":8443")
//	defer srv.Close()
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
	"github.com/sara-star-quant/httq-go/pkg/selftest"
	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed = errors.New("server: closed")

// rejectTimeout bounds the read of a rejected ClientHello and the alert
// sent in reply.
const rejectTimeout = 2 * time.Second

// Server answers httq requests.
type Server struct {
	config  Config
	handler Handler

	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer

	observers        tunnel.ObserverFactory
	ipLimiter        *tunnel.IPRateLimiter
	handshakeLimiter *tunnel.HandshakeLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup

	active atomic.Int64
	closed atomic.Bool
}

// New creates a server answering requests with handler.
func New(cfg Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, qerrors.NewInputError("handler", errors.New("nil handler"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, qerrors.NewInputError("config", err)
	}
	cfg.applyDefaults()
	if err := selftest.Check(); err != nil {
		return nil, qerrors.NewCryptoError("selftest", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:           cfg,
		handler:          handler,
		logger:           cfg.Logger.Named("server"),
		collector:        cfg.Collector,
		tracer:           cfg.Tracer,
		observers:        metrics.ObserverFactory(cfg.Collector, cfg.Tracer, cfg.Logger),
		ipLimiter:        tunnel.NewIPRateLimiter(cfg.MaxConnectionsPerIP),
		handshakeLimiter: tunnel.NewHandshakeLimiter(cfg.HandshakeRate, cfg.HandshakeBurst).WithPerIP(cfg.HandshakeRatePerIP),
		ctx:              ctx,
		cancel:           cancel,
		listeners:        make(map[net.Listener]struct{}),
		conns:            make(map[net.Conn]struct{}),
	}
	return s, nil
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return qerrors.NewTransportError("listen", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and serves each on its own goroutine.
// It always returns a non-nil error; after Close it is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info("listening", metrics.Fields{
		"addr":   ln.Addr().String(),
		"level":  s.config.Level.String(),
		"hybrid": s.config.Hybrid,
	})

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", metrics.Fields{"error": err.Error(), "delay": tempDelay.String()})
				time.Sleep(tempDelay)
				continue
			}
			return qerrors.NewTransportError("accept", err)
		}
		tempDelay = 0

		go func() {
			if err := s.ServeConn(s.ctx, conn); err != nil {
				s.logger.Debug("connection ended", metrics.Fields{
					"remote_addr": conn.RemoteAddr().String(),
					"error":       err.Error(),
				})
			}
		}()
	}
}

// ServeConn serves one connection until the peer closes the session, the
// session idles out, or ctx ends. The connection is always closed.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	if !s.trackConn(conn) {
		conn.Close()
		return ErrServerClosed
	}
	defer s.untrackConn(conn)
	return s.serveConn(ctx, conn)
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	ip := remoteIP(conn)
	if !s.ipLimiter.AllowConnection(ip) {
		s.collector.RecordConnectionRateLimit()
		s.logger.Warn("connection limit exceeded", metrics.Fields{"remote_ip": ip})
		conn.Close()
		return qerrors.NewTransportError("accept", qerrors.ErrRateLimited)
	}
	defer s.ipLimiter.ReleaseConnection(ip)

	sc := tunnel.NewStreamConn(conn)
	defer sc.Close()

	if !s.handshakeLimiter.AllowHandshake(ip) {
		s.collector.RecordHandshakeRateLimit()
		s.logger.Warn("handshake rate limit exceeded", metrics.Fields{"remote_ip": ip})
		s.reject(sc, protocol.AlertCodeRateLimited, "handshake rate limit exceeded")
		return qerrors.NewProtocolError("handshake", qerrors.ErrRateLimited)
	}

	hs, err := tunnel.NewResponder(tunnel.HandshakeConfig{
		Level:        s.config.Level,
		Hybrid:       s.config.Hybrid,
		CipherSuites: s.config.CipherSuites,
		Timeout:      s.config.HandshakeTimeout,
		Observer:     s.observers(tunnel.RoleResponder),
	})
	if err != nil {
		return err
	}
	session, err := hs.Run(ctx, sc)
	if err != nil {
		return err
	}

	t, err := tunnel.NewTransport(session, sc)
	if err != nil {
		session.Close()
		return err
	}
	defer t.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	peer := Peer{
		RemoteAddr:  conn.RemoteAddr().String(),
		SessionID:   metrics.SessionID(session.ID),
		Level:       session.Algorithm.String(),
		Hybrid:      session.Hybrid,
		CipherSuite: session.CipherSuite.String(),
	}
	return s.serveSession(withPeer(ctx, peer), t, peer)
}

// serveSession answers requests in order until the session ends.
func (s *Server) serveSession(ctx context.Context, t *tunnel.Transport, peer Peer) error {
	logger := s.logger.With(metrics.Fields{"session_id": peer.SessionID, "remote_addr": peer.RemoteAddr})

	for {
		msg, err := s.receive(ctx, t)
		switch {
		case err == nil:
		case errors.Is(err, qerrors.ErrSessionClosed), ctx.Err() != nil:
			return nil
		case errors.Is(err, qerrors.ErrTimeout):
			logger.Debug("idle session closed")
			return nil
		case qerrors.KindOf(err) == qerrors.KindCrypto:
			alertCtx, cancel := context.WithTimeout(context.Background(), rejectTimeout)
			_ = t.SendAlert(alertCtx, protocol.AlertLevelFatal, protocol.AlertFor(err), "")
			cancel()
			return err
		default:
			return err
		}

		out, err := protocol.MarshalResponse(s.serve(ctx, msg, logger))
		if err != nil || len(out) > constants.MaxPlaintextSize {
			logger.Error("response dropped", metrics.Fields{"size": len(out)})
			out, _ = protocol.MarshalResponse(errorResponse(http.StatusInternalServerError))
		}
		if err := t.Send(ctx, out); err != nil {
			return err
		}
	}
}

func (s *Server) receive(ctx context.Context, t *tunnel.Transport) ([]byte, error) {
	if s.config.IdleTimeout <= 0 {
		return t.Receive(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.IdleTimeout)
	defer cancel()
	return t.Receive(ctx)
}

// serve decodes one request and runs the handler. Handler panics become
// 500 responses.
func (s *Server) serve(ctx context.Context, msg []byte, logger *metrics.Logger) (resp *protocol.Response) {
	req, err := protocol.UnmarshalRequest(msg)
	if err != nil {
		logger.Warn("malformed request", metrics.Fields{"error": err.Error()})
		return errorResponse(http.StatusBadRequest)
	}

	ctx, end := s.tracer.StartSpan(ctx, metrics.SpanServe, metrics.WithSpanKind(metrics.SpanKindServer),
		metrics.WithAttributes(metrics.AttrMethod.String(req.Method), metrics.AttrPath.String(req.Path)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", metrics.Fields{"panic": fmt.Sprint(r), "path": req.Path})
			resp = errorResponse(http.StatusInternalServerError)
			end(fmt.Errorf("handler panic: %v", r))
			return
		}
		if resp == nil {
			resp = errorResponse(http.StatusInternalServerError)
		}
		logger.Debug("request served", metrics.Fields{
			"method":   req.Method,
			"path":     req.Path,
			"status":   resp.Status,
			"duration": time.Since(start).String(),
		})
		end(nil)
	}()

	return s.handler.ServeHTTQ(ctx, req)
}

// reject reads the ClientHello and answers with a fatal alert.
func (s *Server) reject(conn tunnel.Conn, code protocol.AlertCode, desc string) {
	ctx, cancel := context.WithTimeout(context.Background(), rejectTimeout)
	defer cancel()
	if _, err := conn.Receive(ctx); err != nil {
		return
	}
	_ = conn.Send(ctx, protocol.NewCodec().EncodeAlert(protocol.AlertLevelFatal, code, desc))
}

// ActiveSessions returns the number of sessions being served.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// HealthCheck reports unhealthy once the server is closed.
func (s *Server) HealthCheck() metrics.CheckFunc {
	return func() error {
		if s.closed.Load() {
			return ErrServerClosed
		}
		return nil
	}
}

// Close stops all listeners, closes every connection and waits for the
// connections being served to finish.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("server closed")
	return nil
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	s.wg.Done()
}

// remoteIP extracts the IP address from a connection.
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}
