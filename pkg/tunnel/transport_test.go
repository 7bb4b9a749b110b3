package tunnel_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// recordingConn keeps a copy of every message sent through it.
type recordingConn struct {
	tunnel.Conn
	mu   sync.Mutex
	sent [][]byte
}

func (c *recordingConn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), msg...))
	c.mu.Unlock()
	return c.Conn.Send(ctx, msg)
}

func (c *recordingConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type transportPair struct {
	client, server         *tunnel.Transport
	clientConn, serverConn *recordingConn
}

func newTransportPair(t *testing.T) *transportPair {
	t.Helper()

	c, s := net.Pipe()
	clientConn := &recordingConn{Conn: tunnel.NewStreamConn(c)}
	serverConn := &recordingConn{Conn: tunnel.NewStreamConn(s)}

	cfg := tunnel.DefaultHandshakeConfig()
	ih, err := tunnel.NewInitiator(cfg)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}
	rh, err := tunnel.NewResponder(cfg)
	if err != nil {
		t.Fatalf("NewResponder failed: %v", err)
	}

	var serverSession *tunnel.Session
	var serverErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		serverSession, serverErr = rh.Run(context.Background(), serverConn)
	}()
	clientSession, err := ih.Run(context.Background(), clientConn)
	<-done
	if err != nil || serverErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", err, serverErr)
	}

	client, err := tunnel.NewTransport(clientSession, clientConn)
	if err != nil {
		t.Fatalf("NewTransport (client) failed: %v", err)
	}
	server, err := tunnel.NewTransport(serverSession, serverConn)
	if err != nil {
		t.Fatalf("NewTransport (server) failed: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return &transportPair{client: client, server: server, clientConn: clientConn, serverConn: serverConn}
}

// echo serves one request on the server transport.
func echo(t *testing.T, server *tunnel.Transport) <-chan error {
	errc := make(chan error, 1)
	go func() {
		req, err := server.Receive(context.Background())
		if err != nil {
			errc <- err
			return
		}
		errc <- server.Send(context.Background(), append([]byte("echo:"), req...))
	}()
	return errc
}

func TestTransportRoundTrip(t *testing.T) {
	p := newTransportPair(t)

	for i := 0; i < 3; i++ {
		errc := echo(t, p.server)
		resp, err := p.client.RoundTrip(context.Background(), []byte("ping"))
		if err != nil {
			t.Fatalf("RoundTrip %d failed: %v", i, err)
		}
		if string(resp) != "echo:ping" {
			t.Errorf("response = %q", resp)
		}
		if err := <-errc; err != nil {
			t.Fatalf("server failed: %v", err)
		}
	}

	stats := p.client.Session().Stats()
	if stats.PacketsSent != 3 || stats.PacketsRecv != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTransportReplayedFrameRejected(t *testing.T) {
	p := newTransportPair(t)

	errc := echo(t, p.server)
	if _, err := p.client.RoundTrip(context.Background(), []byte("first")); err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	<-errc

	// Re-inject the client's last Data frame.
	frame := p.clientConn.last()
	go func() { _ = p.clientConn.Conn.Send(context.Background(), frame) }()

	_, err := p.server.Receive(context.Background())
	if !errors.Is(err, qerrors.ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestTransportTamperedFrameRejected(t *testing.T) {
	p := newTransportPair(t)
	codec := protocol.NewCodec()

	sealed, err := p.client.Session().Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	wire := sealed.Bytes()
	wire[len(wire)-1] ^= 0x01
	frame, _ := codec.EncodeData(wire)
	go func() { _ = p.clientConn.Conn.Send(context.Background(), frame) }()

	_, err = p.server.Receive(context.Background())
	if !errors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if qerrors.KindOf(err) != qerrors.KindCrypto {
		t.Errorf("kind = %v, want crypto", qerrors.KindOf(err))
	}
}

func TestTransportClose(t *testing.T) {
	p := newTransportPair(t)

	errc := make(chan error, 1)
	go func() {
		_, err := p.server.Receive(context.Background())
		errc <- err
	}()

	if err := p.client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if p.client.Session().State() != tunnel.SessionStateClosed {
		t.Errorf("client session state = %v", p.client.Session().State())
	}

	if err := <-errc; !errors.Is(err, qerrors.ErrSessionClosed) {
		t.Fatalf("server: expected ErrSessionClosed, got %v", err)
	}
	if !p.server.Closed() || p.server.Session().State() != tunnel.SessionStateClosed {
		t.Error("peer close must close the server side")
	}
	if err := p.client.Send(context.Background(), []byte("late")); !errors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("Send after close: expected ErrSessionClosed, got %v", err)
	}
}

func TestTransportFatalAlert(t *testing.T) {
	p := newTransportPair(t)

	go func() {
		_ = p.server.SendAlert(context.Background(), protocol.AlertLevelFatal, protocol.AlertCodeInternalError, "boom")
	}()

	_, err := p.client.Receive(context.Background())
	if !errors.Is(err, qerrors.ErrPeerAlert) {
		t.Fatalf("expected ErrPeerAlert, got %v", err)
	}
	if p.client.Session().State() != tunnel.SessionStateFailed {
		t.Errorf("state = %v, want Failed", p.client.Session().State())
	}
}

func TestTransportUnexpectedMessage(t *testing.T) {
	p := newTransportPair(t)
	codec := protocol.NewCodec()

	finished, _ := codec.EncodeFinished(protocol.MessageTypeServerFinished, make([]byte, 32))
	go func() { _ = p.serverConn.Conn.Send(context.Background(), finished) }()

	_, err := p.client.Receive(context.Background())
	if !errors.Is(err, qerrors.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestTransportReceiveTimeout(t *testing.T) {
	p := newTransportPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.client.Receive(ctx)
	if !errors.Is(err, qerrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if qerrors.KindOf(err) != qerrors.KindTransport {
		t.Errorf("kind = %v, want transport", qerrors.KindOf(err))
	}
}

func TestTransportMessageTooLarge(t *testing.T) {
	p := newTransportPair(t)
	big := bytes.Repeat([]byte{'x'}, protocol.MaxMessageSize)
	err := p.client.Send(context.Background(), big)
	if !errors.Is(err, qerrors.ErrMessageTooLarge) || qerrors.KindOf(err) != qerrors.KindInput {
		t.Errorf("expected input ErrMessageTooLarge, got %v", err)
	}
	// The session survives a rejected send.
	if err := p.client.Send(context.Background(), []byte("small")); err != nil {
		t.Errorf("Send after oversize failed: %v", err)
	}
}

func TestNewTransportRequiresEstablished(t *testing.T) {
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()

	if _, err := tunnel.NewTransport(nil, tunnel.NewStreamConn(c)); !errors.Is(err, qerrors.ErrSessionNotReady) {
		t.Errorf("expected ErrSessionNotReady, got %v", err)
	}
}

func TestStreamConnPeerClosed(t *testing.T) {
	c, s := net.Pipe()
	conn := tunnel.NewStreamConn(c)
	s.Close()

	_, err := conn.Receive(context.Background())
	if !errors.Is(err, qerrors.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	_ = conn.Close()
}
