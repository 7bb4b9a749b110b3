package metrics

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// handshakePair runs a handshake over net.Pipe with observers built by
// factory and returns both sessions.
func handshakePair(t *testing.T, factory tunnel.ObserverFactory) (client, server *tunnel.Session) {
	t.Helper()
	clientCfg := tunnel.DefaultHandshakeConfig()
	clientCfg.Observer = factory(tunnel.RoleInitiator)
	serverCfg := tunnel.DefaultHandshakeConfig()
	serverCfg.Observer = factory(tunnel.RoleResponder)

	ih, err := tunnel.NewInitiator(clientCfg)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}
	rh, err := tunnel.NewResponder(serverCfg)
	if err != nil {
		t.Fatalf("NewResponder failed: %v", err)
	}

	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})

	done := make(chan error, 1)
	go func() {
		var err error
		server, err = rh.Run(context.Background(), tunnel.NewStreamConn(s))
		done <- err
	}()
	client, err = ih.Run(context.Background(), tunnel.NewStreamConn(c))
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake failed: %v", err)
	}
	return client, server
}

func TestTunnelObserverSession(t *testing.T) {
	collector := NewCollector(nil)
	tracer := NewMemoryTracer()
	var buf bytes.Buffer
	client, server := handshakePair(t, ObserverFactory(collector, tracer, TestLogger(&buf)))

	msg, err := client.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := server.Open(msg); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := server.Open(msg); !errors.Is(err, qerrors.ErrReplayDetected) {
		t.Fatalf("expected replay, got %v", err)
	}

	snap := collector.Snapshot()
	if snap.SessionsTotal != 2 || snap.SessionsActive != 2 || snap.SessionsFailed != 0 {
		t.Errorf("sessions total=%d active=%d failed=%d", snap.SessionsTotal, snap.SessionsActive, snap.SessionsFailed)
	}
	if snap.HandshakeLatency.Count != 2 {
		t.Errorf("handshake latency samples = %d, want 2", snap.HandshakeLatency.Count)
	}
	if snap.PacketsSent != 1 || snap.PacketsRecv != 1 || snap.BytesSent != 5 {
		t.Errorf("records sent=%d recv=%d bytes=%d", snap.PacketsSent, snap.PacketsRecv, snap.BytesSent)
	}
	if snap.ReplayAttacksBlocked != 1 || snap.AuthFailures != 0 {
		t.Errorf("replays=%d auth=%d", snap.ReplayAttacksBlocked, snap.AuthFailures)
	}

	spans := tracer.Spans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	kinds := map[string]string{}
	for _, s := range spans {
		kinds[s.Name] = s.Kind.String()
		if role, ok := s.Attr(AttrRole); !ok || role.AsString() == "" {
			t.Errorf("span %s missing role", s.Name)
		}
		if s.Err != nil {
			t.Errorf("span %s failed: %v", s.Name, s.Err)
		}
	}
	if kinds[SpanHandshakeInitiator] != "client" || kinds[SpanHandshakeResponder] != "server" {
		t.Errorf("span kinds = %v", kinds)
	}

	out := buf.String()
	for _, want := range []string{"handshake completed", "session_id=" + SessionID(client.ID), "reason=replay"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestTunnelObserverFailures(t *testing.T) {
	collector := NewCollector(nil)
	tracer := NewMemoryTracer()
	var buf bytes.Buffer
	o := NewTunnelObserver(TunnelObserverConfig{
		Collector: collector,
		Tracer:    tracer,
		Logger:    TestLogger(&buf),
		Endpoint:  "example.com:8443",
		Role:      tunnel.RoleInitiator,
	})

	_, done := o.HandshakeStarted(context.Background())
	done(nil, qerrors.NewProtocolError("handshake", qerrors.ErrAlgorithmMismatch))
	o.Rejected(tunnel.RejectAuthentication)
	o.ProtocolError(qerrors.NewProtocolError("receive", qerrors.ErrInvalidMessage))
	o.Sealed(10, time.Microsecond, qerrors.ErrNonceExhausted)
	o.Opened(10, time.Microsecond, qerrors.ErrAuthenticationFailed)
	o.SessionClosed(&tunnel.Session{})

	snap := collector.Snapshot()
	if snap.SessionsFailed != 1 || snap.AuthFailures != 1 || snap.ProtocolErrors != 1 {
		t.Errorf("failed=%d auth=%d protocol=%d", snap.SessionsFailed, snap.AuthFailures, snap.ProtocolErrors)
	}
	if snap.EncryptErrors != 1 || snap.DecryptErrors != 1 || snap.PacketsSent != 0 {
		t.Errorf("encrypt=%d decrypt=%d sent=%d", snap.EncryptErrors, snap.DecryptErrors, snap.PacketsSent)
	}
	if snap.SessionsActive != 0 {
		t.Error("SessionEnded must not underflow")
	}

	spans := tracer.Spans()
	if len(spans) != 1 || spans[0].Err == nil {
		t.Fatalf("spans = %+v", spans)
	}
	if ep, ok := spans[0].Attr(AttrEndpoint); !ok || ep.AsString() != "example.com:8443" {
		t.Errorf("endpoint attribute = %v", ep)
	}

	out := buf.String()
	for _, want := range []string{"endpoint=example.com:8443", "kind=protocol", "reason=authentication"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSessionID(t *testing.T) {
	id := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if got := SessionID(id); got != "0001020304050607" {
		t.Errorf("SessionID = %q", got)
	}
	if got := SessionID([]byte{0xab}); got != "ab" {
		t.Errorf("SessionID = %q", got)
	}
}
