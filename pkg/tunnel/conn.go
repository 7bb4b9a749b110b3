package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// Conn is the network byte transport the handshake and the session
// transport run over. Each Send carries one framed protocol message and
// each Receive returns one. Both block until done or until ctx ends.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamConn adapts a stream-oriented net.Conn to Conn using the protocol's
// type-length framing.
type StreamConn struct {
	conn  net.Conn
	codec *protocol.Codec

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps conn.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{conn: conn, codec: protocol.NewCodec()}
}

// Send writes one message.
func (c *StreamConn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := watchDeadline(ctx, c.conn.SetWriteDeadline)
	_, err := c.conn.Write(msg)
	stop()
	if err != nil {
		return transportError(ctx, "send", err)
	}
	return nil
}

// Receive reads one message.
func (c *StreamConn) Receive(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := watchDeadline(ctx, c.conn.SetReadDeadline)
	msg, err := c.codec.ReadMessage(c.conn)
	stop()
	if err != nil {
		if errors.Is(err, qerrors.ErrMessageTooLarge) {
			return nil, qerrors.NewProtocolError("receive", err)
		}
		return nil, transportError(ctx, "receive", err)
	}
	return msg, nil
}

// Close closes the underlying connection. It is safe to call repeatedly.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *StreamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// aLongTimeAgo is a deadline in the past; setting it unblocks pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// watchDeadline maps ctx onto a connection deadline. The returned function
// must be called once the I/O completes.
func watchDeadline(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			_ = set(aLongTimeAgo)
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// transportError classifies an I/O failure. Context expiry and network
// timeouts become ErrTimeout; EOF and closed pipes become ErrConnectionClosed.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return qerrors.NewTransportError(op, fmt.Errorf("%w: %w", qerrors.ErrTimeout, ctxErr))
		}
		return qerrors.NewTransportError(op, ctxErr)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return qerrors.NewTransportError(op, fmt.Errorf("%w: %w", qerrors.ErrTimeout, err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return qerrors.NewTransportError(op, fmt.Errorf("%w: %w", qerrors.ErrConnectionClosed, err))
	}
	return qerrors.NewTransportError(op, err)
}
