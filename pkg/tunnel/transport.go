package tunnel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// Transport exchanges sealed records for one Session over a Conn.
type Transport struct {
	session *Session
	conn    Conn
	codec   *protocol.Codec

	// rt holds RoundTrip callers in line so each reply meets its request.
	rt sync.Mutex

	closed atomic.Bool
}

// NewTransport refuses a session that is not Established.
func NewTransport(session *Session, conn Conn) (*Transport, error) {
	if session == nil || session.State() != SessionStateEstablished {
		return nil, qerrors.ErrSessionNotReady
	}
	return &Transport{
		session: session,
		conn:    conn,
		codec:   protocol.NewCodec(),
	}, nil
}

// Send seals plaintext into one Data record.
func (t *Transport) Send(ctx context.Context, plaintext []byte) error {
	if t.closed.Load() {
		return qerrors.ErrSessionClosed
	}
	if len(plaintext) > constants.MaxPlaintextSize {
		return qerrors.NewInputError("send", qerrors.ErrMessageTooLarge)
	}

	sealed, err := t.session.Seal(plaintext)
	if err != nil {
		return err
	}

	msg, err := t.codec.EncodeData(sealed.Bytes())
	if err != nil {
		t.recordProtocolError(err)
		return err
	}
	return t.conn.Send(ctx, msg)
}

// Receive opens the next Data record. A Close from the peer closes the
// session and a fatal Alert fails it; both return an error.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if t.closed.Load() {
		return nil, qerrors.ErrSessionClosed
	}

	msg, err := t.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}

	msgType, err := t.codec.GetMessageType(msg)
	if err != nil {
		t.recordProtocolError(err)
		return nil, qerrors.NewProtocolError("receive", err)
	}

	switch msgType {
	case protocol.MessageTypeData:
		return t.handleData(msg)
	case protocol.MessageTypeClose:
		return nil, t.handleClose()
	case protocol.MessageTypeAlert:
		return nil, t.handleAlert(msg)
	default:
		err := qerrors.NewProtocolError("receive", qerrors.ErrInvalidMessage)
		t.recordProtocolError(err)
		return nil, err
	}
}

// RoundTrip sends request and returns the next record received. Concurrent
// callers take turns.
func (t *Transport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	t.rt.Lock()
	defer t.rt.Unlock()

	if err := t.Send(ctx, request); err != nil {
		return nil, err
	}
	return t.Receive(ctx)
}

func (t *Transport) handleData(msg []byte) ([]byte, error) {
	payload, err := t.codec.DecodeData(msg)
	if err != nil {
		t.recordProtocolError(err)
		return nil, qerrors.NewProtocolError("receive", err)
	}
	sealed, err := ParseSealedMessage(payload)
	if err != nil {
		return nil, err
	}
	return t.session.Open(sealed)
}

func (t *Transport) handleClose() error {
	t.closed.Store(true)
	t.session.Close()
	return qerrors.ErrSessionClosed
}

// handleAlert treats close_notify as Close; other fatal alerts fail the
// session.
func (t *Transport) handleAlert(msg []byte) error {
	alert, err := t.codec.DecodeAlert(msg)
	if err != nil {
		t.recordProtocolError(err)
		return qerrors.NewProtocolError("alert", err)
	}
	if alert.Code == protocol.AlertCodeCloseNotify {
		return t.handleClose()
	}

	err = qerrors.NewProtocolError("alert", newAlertError(alert))
	if alert.Level == protocol.AlertLevelFatal {
		t.closed.Store(true)
		t.session.Fail(err)
	}
	t.recordProtocolError(err)
	return err
}

// SendAlert tells the peer why the local side is giving up.
func (t *Transport) SendAlert(ctx context.Context, level protocol.AlertLevel, code protocol.AlertCode, desc string) error {
	return t.conn.Send(ctx, t.codec.EncodeAlert(level, code, desc))
}

// Close sends Close if the session is still up, wipes the keys and closes
// the Conn. Only the first call does anything.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if t.session.State() == SessionStateEstablished {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		_ = t.conn.Send(ctx, t.codec.EncodeClose())
		cancel()
	}

	t.session.Close()
	if t.session.observer != nil {
		t.session.observer.SessionClosed(t.session)
	}
	return t.conn.Close()
}

// Closed reports whether either side closed the transport.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

func (t *Transport) Session() *Session {
	return t.session
}

func (t *Transport) recordProtocolError(err error) {
	if err == nil {
		return
	}
	if t.session.observer != nil && isProtocolError(err) {
		t.session.observer.ProtocolError(err)
	}
}
