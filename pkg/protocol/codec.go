// Frame layout: type (1 byte), payload length (uint32 big-endian, header
// excluded), payload. Handshake payload fields, in order:
//
//	ClientHello  version(2) random(32) level(1) flags(1)
//	             x25519<1> kem_public_key<2> suites<2>{suite(2)...}
//	ServerHello  version(2) random(32) session_id<1> level(1) flags(1)
//	             x25519<1> kem_ciphertext<2> suite(2)
//	Finished     verify_data(32)
//	Alert        level(1) code(1) description<1>
//	Data         nonce || ciphertext || tag
//
// <n> is a vector with an n-byte length prefix. Flags bit 0 marks hybrid
// mode; the remaining bits are reserved and must be zero.

package protocol

import (
	"encoding/binary"
	"io"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

const flagHybrid = 0x01

// Codec frames and parses protocol messages. It holds no state.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// EncodeClientHello validates and frames m.
func (c *Codec) EncodeClientHello(m *ClientHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	w := newWriter(MessageTypeClientHello)
	w.bytes(m.Version.Bytes())
	w.bytes(m.Random)
	w.u8(uint8(m.Level))
	w.u8(flags(m.Hybrid))
	w.vec8(m.X25519PublicKey)
	w.vec16(m.KEMPublicKey)
	w.u16(uint16(len(m.CipherSuites)))
	for _, suite := range m.CipherSuites {
		w.u16(uint16(suite))
	}
	return w.finish()
}

// DecodeClientHello parses and validates a framed ClientHello.
func (c *Codec) DecodeClientHello(data []byte) (*ClientHello, error) {
	r, err := newReader(data, MessageTypeClientHello)
	if err != nil {
		return nil, err
	}

	m := &ClientHello{}
	m.Version = ParseVersion(r.bytes(2))
	m.Random = r.bytes(constants.RandomSize)
	m.Level = constants.Level(r.u8())
	m.Hybrid, err = parseFlags(r.u8())
	if err != nil {
		return nil, err
	}
	m.X25519PublicKey = r.vec8()
	m.KEMPublicKey = r.vec16()
	count := int(r.u16())
	for i := 0; i < count && r.err == nil; i++ {
		m.CipherSuites = append(m.CipherSuites, constants.CipherSuite(r.u16()))
	}
	if err := r.done(); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeServerHello validates and frames m.
func (c *Codec) EncodeServerHello(m *ServerHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	w := newWriter(MessageTypeServerHello)
	w.bytes(m.Version.Bytes())
	w.bytes(m.Random)
	w.vec8(m.SessionID)
	w.u8(uint8(m.Level))
	w.u8(flags(m.Hybrid))
	w.vec8(m.X25519Ephemeral)
	w.vec16(m.KEMCiphertext)
	w.u16(uint16(m.CipherSuite))
	return w.finish()
}

// DecodeServerHello parses and validates a framed ServerHello.
func (c *Codec) DecodeServerHello(data []byte) (*ServerHello, error) {
	r, err := newReader(data, MessageTypeServerHello)
	if err != nil {
		return nil, err
	}

	m := &ServerHello{}
	m.Version = ParseVersion(r.bytes(2))
	m.Random = r.bytes(constants.RandomSize)
	m.SessionID = r.vec8()
	m.Level = constants.Level(r.u8())
	m.Hybrid, err = parseFlags(r.u8())
	if err != nil {
		return nil, err
	}
	m.X25519Ephemeral = r.vec8()
	m.KEMCiphertext = r.vec16()
	m.CipherSuite = constants.CipherSuite(r.u16())
	if err := r.done(); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeFinished frames verify data as ClientFinished or ServerFinished.
func (c *Codec) EncodeFinished(msgType MessageType, verifyData []byte) ([]byte, error) {
	if msgType != MessageTypeClientFinished && msgType != MessageTypeServerFinished {
		return nil, qerrors.ErrInvalidMessage
	}
	if len(verifyData) != constants.VerifyDataSize {
		return nil, qerrors.ErrInvalidMessage
	}

	w := newWriter(msgType)
	w.bytes(verifyData)
	return w.finish()
}

// DecodeFinished deserializes a Finished message of the expected type.
func (c *Codec) DecodeFinished(msgType MessageType, data []byte) ([]byte, error) {
	r, err := newReader(data, msgType)
	if err != nil {
		return nil, err
	}
	verifyData := r.bytes(constants.VerifyDataSize)
	if err := r.done(); err != nil {
		return nil, err
	}
	return verifyData, nil
}

// EncodeData frames a sealed payload.
func (c *Codec) EncodeData(sealed []byte) ([]byte, error) {
	if len(sealed) > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	if len(sealed) < constants.MinSealedSize {
		return nil, qerrors.ErrInvalidMessage
	}

	w := newWriter(MessageTypeData)
	w.bytes(sealed)
	return w.finish()
}

// DecodeData returns the sealed payload of a data message.
func (c *Codec) DecodeData(data []byte) ([]byte, error) {
	r, err := newReader(data, MessageTypeData)
	if err != nil {
		return nil, err
	}
	sealed := r.rest()
	if len(sealed) < constants.MinSealedSize {
		return nil, qerrors.ErrInvalidMessage
	}
	return sealed, nil
}

// EncodeClose frames an empty Close.
func (c *Codec) EncodeClose() []byte {
	buf, _ := newWriter(MessageTypeClose).finish()
	return buf
}

// EncodeAlert frames an alert, cutting description to 255 bytes.
func (c *Codec) EncodeAlert(level AlertLevel, code AlertCode, description string) []byte {
	description = description[:min(len(description), 255)]

	w := newWriter(MessageTypeAlert)
	w.u8(uint8(level))
	w.u8(uint8(code))
	w.vec8([]byte(description))
	buf, _ := w.finish()
	return buf
}

// DecodeAlert parses and validates a framed alert.
func (c *Codec) DecodeAlert(data []byte) (*AlertMessage, error) {
	r, err := newReader(data, MessageTypeAlert)
	if err != nil {
		return nil, err
	}

	m := &AlertMessage{
		Level: AlertLevel(r.u8()),
		Code:  AlertCode(r.u8()),
	}
	m.Description = string(r.vec8())
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMessage reads one frame, header included. Payloads over
// MaxMessageSize are refused before they are read.
func (c *Codec) ReadMessage(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	frame := make([]byte, HeaderSize+int(n))
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// GetMessageType returns the type byte of a frame.
func (c *Codec) GetMessageType(data []byte) (MessageType, error) {
	if len(data) < HeaderSize {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(data[0]), nil
}

func flags(hybrid bool) uint8 {
	if hybrid {
		return flagHybrid
	}
	return 0
}

func parseFlags(f uint8) (bool, error) {
	if f&^flagHybrid != 0 {
		return false, qerrors.ErrInvalidMessage
	}
	return f&flagHybrid != 0, nil
}

// writer builds a framed message. The header length is filled in by finish.
type writer struct {
	buf []byte
}

func newWriter(t MessageType) *writer {
	buf := make([]byte, HeaderSize, 256)
	buf[0] = byte(t)
	return &writer{buf: buf}
}

func (w *writer) u8(v uint8)     { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)   { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) vec8(b []byte) {
	w.u8(uint8(len(b)))
	w.bytes(b)
}

func (w *writer) vec16(b []byte) {
	w.u16(uint16(len(b)))
	w.bytes(b)
}

func (w *writer) finish() ([]byte, error) {
	payloadLen := len(w.buf) - HeaderSize
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	binary.BigEndian.PutUint32(w.buf[1:HeaderSize], uint32(payloadLen))
	return w.buf, nil
}

// reader walks a message payload. The first out-of-bounds read latches
// ErrInvalidMessage and every later read returns zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func newReader(data []byte, want MessageType) (*reader, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	if MessageType(data[0]) != want {
		return nil, qerrors.ErrInvalidMessage
	}
	payloadLen := binary.BigEndian.Uint32(data[1:HeaderSize])
	if payloadLen > MaxMessageSize || len(data) != HeaderSize+int(payloadLen) {
		return nil, qerrors.ErrInvalidMessage
	}
	return &reader{data: data[HeaderSize:]}, nil
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = qerrors.ErrInvalidMessage
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) vec8() []byte {
	n := int(r.u8())
	if n == 0 {
		return nil
	}
	return r.bytes(n)
}

func (r *reader) vec16() []byte {
	n := int(r.u16())
	if n == 0 {
		return nil
	}
	return r.bytes(n)
}

func (r *reader) rest() []byte {
	return r.bytes(len(r.data) - r.off)
}

// done reports a latched error or trailing bytes.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return qerrors.ErrInvalidMessage
	}
	return nil
}
