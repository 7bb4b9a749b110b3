// Handshake flow (hybrid mode shown; X25519 shares are absent otherwise):
//
//	initiator                                   responder
//	ClientHello  {random, level, flags,
//	              x25519 pk, ML-KEM pk, suites} ->
//	                                         <- ServerHello {random, session id,
//	                                                         x25519 pk, ML-KEM ct, suite}
//	        seed = KDF(x25519 ss || ML-KEM ss || H(CH || SH))
//	ClientFinished {verify_data}              ->
//	                                         <- ServerFinished {verify_data}
//
// The initiator moves Init, SentClientHello, ReceivedServerHello, Derived,
// Established; the responder Init, ReceivedClientHello, SentServerHello,
// Derived, Established. Any error lands in Aborted, which is terminal and
// wipes every ephemeral key and derived secret. Each handshake uses fresh
// ephemeral keys on both sides.

package tunnel

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
	"github.com/sara-star-quant/httq-go/pkg/hybrid"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// HandshakeState represents the current state of the handshake.
type HandshakeState int32

const (
	HandshakeStateInit HandshakeState = iota
	HandshakeStateSentClientHello
	HandshakeStateReceivedServerHello
	HandshakeStateReceivedClientHello
	HandshakeStateSentServerHello
	HandshakeStateDerived
	HandshakeStateEstablished
	HandshakeStateAborted
)

// String returns a human-readable name for the handshake state.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeStateInit:
		return "Init"
	case HandshakeStateSentClientHello:
		return "SentClientHello"
	case HandshakeStateReceivedServerHello:
		return "ReceivedServerHello"
	case HandshakeStateReceivedClientHello:
		return "ReceivedClientHello"
	case HandshakeStateSentServerHello:
		return "SentServerHello"
	case HandshakeStateDerived:
		return "Derived"
	case HandshakeStateEstablished:
		return "Established"
	case HandshakeStateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// HandshakeConfig holds the parameters of one handshake.
type HandshakeConfig struct {
	// Level is the KEM security level. Both peers must agree.
	Level kem.Level

	// Hybrid enables the X25519 component. Both peers must agree.
	Hybrid bool

	// CipherSuites lists acceptable suites in preference order.
	CipherSuites []constants.CipherSuite

	// Timeout bounds Run. Zero disables the internal timeout; the
	// caller's context still applies.
	Timeout time.Duration

	// NonceLimit caps messages per direction in the resulting session.
	NonceLimit uint64

	// Rand overrides the random source (tests only).
	Rand io.Reader

	// Observer receives handshake and session events.
	Observer Observer
}

// DefaultHandshakeConfig returns sensible defaults.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Level:        kem.DefaultLevel,
		Hybrid:       true,
		CipherSuites: protocol.SupportedCipherSuites(),
		Timeout:      constants.DefaultHandshakeTimeoutSeconds * time.Second,
	}
}

// Handshake drives one handshake. An instance is single-use: after it
// reaches Established or Aborted it cannot be restarted.
type Handshake struct {
	role      Role
	config    HandshakeConfig
	agreement *hybrid.Agreement
	codec     *protocol.Codec
	rand      io.Reader

	state   atomic.Int32
	started atomic.Bool

	mu         sync.Mutex
	transcript crypto.Transcript

	// Initiator
	keyPair *hybrid.KeyPair

	// Responder
	peerShare *hybrid.PublicKey

	suite     constants.CipherSuite
	sessionID []byte
	seed      []byte
	session   *Session
	err       error
}

// NewInitiator creates a client-side handshake.
func NewInitiator(config HandshakeConfig) (*Handshake, error) {
	return newHandshake(RoleInitiator, config)
}

// NewResponder creates a server-side handshake.
func NewResponder(config HandshakeConfig) (*Handshake, error) {
	return newHandshake(RoleResponder, config)
}

func newHandshake(role Role, config HandshakeConfig) (*Handshake, error) {
	if !config.Level.IsSupported() {
		return nil, qerrors.NewInputError("level", qerrors.ErrUnsupportedLevel)
	}
	if len(config.CipherSuites) == 0 {
		config.CipherSuites = protocol.SupportedCipherSuites()
	}
	for _, cs := range config.CipherSuites {
		if !cs.IsSupported() {
			return nil, qerrors.NewInputError("cipher_suites", qerrors.ErrUnsupportedCipherSuite)
		}
	}

	r := config.Rand
	if r == nil {
		r = crypto.Reader
	}
	agreement, err := hybrid.New(config.Level, config.Hybrid, hybrid.WithRand(r))
	if err != nil {
		return nil, err
	}

	return &Handshake{
		role:      role,
		config:    config,
		agreement: agreement,
		codec:     protocol.NewCodec(),
		rand:      r,
	}, nil
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	return HandshakeState(h.state.Load())
}

// Role returns the role of this endpoint.
func (h *Handshake) Role() Role {
	return h.role
}

// IsComplete returns true if the handshake completed successfully.
func (h *Handshake) IsComplete() bool {
	return h.State() == HandshakeStateEstablished
}

// Err returns the error that aborted the handshake, if any.
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Session returns the established session, or nil.
func (h *Handshake) Session() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *Handshake) setState(s HandshakeState) {
	h.state.Store(int32(s))
}

// expect checks the current state under h.mu.
func (h *Handshake) expect(s HandshakeState) error {
	if h.State() != s {
		return qerrors.NewProtocolError("handshake", qerrors.ErrInvalidState)
	}
	return nil
}

// --- Initiator Functions ---

// CreateClientHello generates the ephemeral key pair and the ClientHello.
func (h *Handshake) CreateClientHello() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.role != RoleInitiator {
		return nil, qerrors.NewProtocolError("handshake", qerrors.ErrInvalidState)
	}
	if err := h.expect(HandshakeStateInit); err != nil {
		return nil, err
	}

	kp, err := h.agreement.GenerateKeyPair()
	if err != nil {
		return nil, h.abortLocked(err)
	}
	h.keyPair = kp

	random, err := h.random()
	if err != nil {
		return nil, h.abortLocked(err)
	}

	pub := kp.PublicKey()
	msg := &protocol.ClientHello{
		Version:         protocol.Current,
		Random:          random,
		Level:           pub.Level,
		Hybrid:          pub.Hybrid,
		X25519PublicKey: pub.X25519,
		KEMPublicKey:    pub.KEM,
		CipherSuites:    h.config.CipherSuites,
	}

	data, err := h.codec.EncodeClientHello(msg)
	if err != nil {
		return nil, h.abortLocked(err)
	}

	h.transcript.Append(data)
	h.setState(HandshakeStateSentClientHello)
	return data, nil
}

// ProcessServerHello validates the ServerHello and derives the session seed.
func (h *Handshake) ProcessServerHello(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.expect(HandshakeStateSentClientHello); err != nil {
		return h.abortLocked(err)
	}

	msg, err := h.codec.DecodeServerHello(data)
	if err != nil {
		return h.abortLocked(err)
	}
	if msg.Level != h.config.Level || msg.Hybrid != h.config.Hybrid {
		return h.abortLocked(qerrors.ErrAlgorithmMismatch)
	}
	if !offered(h.config.CipherSuites, msg.CipherSuite) {
		return h.abortLocked(qerrors.ErrUnsupportedCipherSuite)
	}

	h.transcript.Append(data)
	h.suite = msg.CipherSuite
	h.sessionID = msg.SessionID
	h.setState(HandshakeStateReceivedServerHello)

	secrets, err := h.agreement.Decapsulate(&hybrid.Ciphertext{
		X25519Ephemeral: msg.X25519Ephemeral,
		KEM:             msg.KEMCiphertext,
	}, h.keyPair)
	h.keyPair.Zeroize()
	h.keyPair = nil
	if err != nil {
		return h.abortLocked(err)
	}

	h.seed, err = secrets.Combine(h.transcript.Sum())
	if err != nil {
		return h.abortLocked(err)
	}

	h.setState(HandshakeStateDerived)
	return nil
}

// CreateClientFinished generates the ClientFinished message.
func (h *Handshake) CreateClientFinished() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.role != RoleInitiator || h.seed == nil {
		return nil, h.abortLocked(qerrors.ErrInvalidState)
	}
	if err := h.expect(HandshakeStateDerived); err != nil {
		return nil, h.abortLocked(err)
	}

	data, err := h.finished(protocol.MessageTypeClientFinished, constants.DomainSeparatorClientFinished)
	if err != nil {
		return nil, h.abortLocked(err)
	}
	h.transcript.Append(data)
	return data, nil
}

// ProcessServerFinished verifies the ServerFinished message and
// establishes the session.
func (h *Handshake) ProcessServerFinished(data []byte) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.role != RoleInitiator {
		return nil, h.abortLocked(qerrors.ErrInvalidState)
	}
	if err := h.expect(HandshakeStateDerived); err != nil {
		return nil, h.abortLocked(err)
	}
	if err := h.verifyFinished(protocol.MessageTypeServerFinished, constants.DomainSeparatorServerFinished, data); err != nil {
		return nil, h.abortLocked(err)
	}

	session, err := h.establish()
	if err != nil {
		return nil, h.abortLocked(err)
	}
	return session, nil
}

// --- Responder Functions ---

// ProcessClientHello validates the ClientHello and negotiates parameters.
func (h *Handshake) ProcessClientHello(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.role != RoleResponder {
		return h.abortLocked(qerrors.ErrInvalidState)
	}
	if err := h.expect(HandshakeStateInit); err != nil {
		return h.abortLocked(err)
	}

	msg, err := h.codec.DecodeClientHello(data)
	if err != nil {
		return h.abortLocked(err)
	}
	if msg.Level != h.config.Level || msg.Hybrid != h.config.Hybrid {
		return h.abortLocked(qerrors.ErrAlgorithmMismatch)
	}

	suite, ok := protocol.SelectCipherSuite(msg.CipherSuites, h.config.CipherSuites)
	if !ok {
		return h.abortLocked(qerrors.ErrUnsupportedCipherSuite)
	}

	h.transcript.Append(data)
	h.suite = suite
	h.peerShare = &hybrid.PublicKey{
		Level:  msg.Level,
		Hybrid: msg.Hybrid,
		X25519: msg.X25519PublicKey,
		KEM:    msg.KEMPublicKey,
	}
	h.setState(HandshakeStateReceivedClientHello)
	return nil
}

// CreateServerHello encapsulates to the client's share, assigns the
// session id, and derives the session seed.
func (h *Handshake) CreateServerHello() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.expect(HandshakeStateReceivedClientHello); err != nil {
		return nil, h.abortLocked(err)
	}

	ct, secrets, err := h.agreement.Encapsulate(h.peerShare)
	if err != nil {
		return nil, h.abortLocked(err)
	}
	h.peerShare = nil

	random, err := h.random()
	if err != nil {
		secrets.Zeroize()
		return nil, h.abortLocked(err)
	}
	sessionID := make([]byte, constants.SessionIDSize)
	if err := crypto.SecureRandomFrom(h.rand, sessionID); err != nil {
		secrets.Zeroize()
		return nil, h.abortLocked(err)
	}

	msg := &protocol.ServerHello{
		Version:         protocol.Current,
		Random:          random,
		SessionID:       sessionID,
		Level:           h.config.Level,
		Hybrid:          h.config.Hybrid,
		X25519Ephemeral: ct.X25519Ephemeral,
		KEMCiphertext:   ct.KEM,
		CipherSuite:     h.suite,
	}
	data, err := h.codec.EncodeServerHello(msg)
	if err != nil {
		secrets.Zeroize()
		return nil, h.abortLocked(err)
	}

	h.transcript.Append(data)
	h.sessionID = sessionID
	h.seed, err = secrets.Combine(h.transcript.Sum())
	if err != nil {
		return nil, h.abortLocked(err)
	}

	h.setState(HandshakeStateSentServerHello)
	return data, nil
}

// ProcessClientFinished verifies the client's verify_data.
func (h *Handshake) ProcessClientFinished(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.expect(HandshakeStateSentServerHello); err != nil {
		return h.abortLocked(err)
	}
	if err := h.verifyFinished(protocol.MessageTypeClientFinished, constants.DomainSeparatorClientFinished, data); err != nil {
		return h.abortLocked(err)
	}

	h.transcript.Append(data)
	h.setState(HandshakeStateDerived)
	return nil
}

// CreateServerFinished generates the ServerFinished message and
// establishes the session.
func (h *Handshake) CreateServerFinished() ([]byte, *Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.role != RoleResponder {
		return nil, nil, h.abortLocked(qerrors.ErrInvalidState)
	}
	if err := h.expect(HandshakeStateDerived); err != nil {
		return nil, nil, h.abortLocked(err)
	}

	data, err := h.finished(protocol.MessageTypeServerFinished, constants.DomainSeparatorServerFinished)
	if err != nil {
		return nil, nil, h.abortLocked(err)
	}

	session, err := h.establish()
	if err != nil {
		return nil, nil, h.abortLocked(err)
	}
	return data, session, nil
}

// --- Helper Functions ---

func (h *Handshake) random() ([]byte, error) {
	b := make([]byte, constants.RandomSize)
	if err := crypto.SecureRandomFrom(h.rand, b); err != nil {
		return nil, err
	}
	return b, nil
}

// finished computes verify_data over the current transcript and encodes it.
func (h *Handshake) finished(msgType protocol.MessageType, label string) ([]byte, error) {
	verifyData, err := crypto.DeriveVerifyData(label, h.seed, h.transcript.Sum())
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(verifyData)
	return h.codec.EncodeFinished(msgType, verifyData)
}

// verifyFinished checks the peer's verify_data against the current transcript.
func (h *Handshake) verifyFinished(msgType protocol.MessageType, label string, data []byte) error {
	verifyData, err := h.codec.DecodeFinished(msgType, data)
	if err != nil {
		return err
	}
	expected, err := crypto.DeriveVerifyData(label, h.seed, h.transcript.Sum())
	if err != nil {
		return err
	}
	defer crypto.Zeroize(expected)

	if !crypto.ConstantTimeCompare(verifyData, expected) {
		return qerrors.ErrTranscriptMismatch
	}
	return nil
}

// establish builds the session from the seed and wipes handshake secrets.
func (h *Handshake) establish() (*Session, error) {
	params, _ := h.config.Level.Params()
	session, err := NewSession(SessionParams{
		ID:           h.sessionID,
		Role:         h.role,
		Level:        h.config.Level,
		Hybrid:       h.config.Hybrid,
		CipherSuite:  h.suite,
		SecurityBits: params.SecurityBits,
		NonceLimit:   h.config.NonceLimit,
	}, h.seed)
	if err != nil {
		return nil, err
	}
	if h.config.Observer != nil {
		session.SetObserver(h.config.Observer)
	}

	h.cleanupLocked()
	h.session = session
	h.setState(HandshakeStateEstablished)
	return session, nil
}

// abortLocked moves the handshake to Aborted, wipes all secret material,
// and returns err classified for the caller. h.mu must be held.
func (h *Handshake) abortLocked(err error) error {
	err = classifyHandshakeError(err)
	if h.State() != HandshakeStateAborted {
		h.err = err
		h.cleanupLocked()
		h.setState(HandshakeStateAborted)
	}
	return err
}

func (h *Handshake) abort(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abortLocked(err)
}

// cleanupLocked zeroizes sensitive handshake data.
func (h *Handshake) cleanupLocked() {
	if h.keyPair != nil {
		h.keyPair.Zeroize()
		h.keyPair = nil
	}
	if h.seed != nil {
		crypto.Zeroize(h.seed)
		h.seed = nil
	}
	h.peerShare = nil
	h.transcript.Reset()
}

// classifyHandshakeError wraps bare sentinels in the matching typed error so
// callers can branch on qerrors.KindOf.
func classifyHandshakeError(err error) error {
	var (
		ie *qerrors.InputError
		ce *qerrors.CryptoError
		pe *qerrors.ProtocolError
		te *qerrors.TransportError
	)
	if qerrors.As(err, &ie) || qerrors.As(err, &ce) || qerrors.As(err, &pe) || qerrors.As(err, &te) {
		return err
	}
	switch qerrors.KindOf(err) {
	case qerrors.KindInput:
		return qerrors.NewInputError("handshake", err)
	case qerrors.KindCrypto:
		return qerrors.NewCryptoError("handshake", err)
	case qerrors.KindTransport:
		return qerrors.NewTransportError("handshake", err)
	default:
		return qerrors.NewProtocolError("handshake", err)
	}
}

func offered(suites []constants.CipherSuite, cs constants.CipherSuite) bool {
	for _, s := range suites {
		if s == cs {
			return true
		}
	}
	return false
}

// --- High-Level API ---

// Run performs the complete handshake over conn and returns the
// established session. On any failure, including timeout or cancellation,
// the handshake moves to Aborted, all key material is wiped, and a fatal
// alert is sent to the peer when the failure was detected locally.
func (h *Handshake) Run(ctx context.Context, conn Conn) (*Session, error) {
	if !h.started.CompareAndSwap(false, true) {
		return nil, qerrors.NewProtocolError("handshake", qerrors.ErrInvalidState)
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	var done func(*Session, error)
	if h.config.Observer != nil {
		ctx, done = h.config.Observer.HandshakeStarted(ctx)
	}

	var session *Session
	var err error
	if h.role == RoleInitiator {
		session, err = h.runInitiator(ctx, conn)
	} else {
		session, err = h.runResponder(ctx, conn)
	}

	if err != nil {
		err = h.abort(err)
		h.sendAlert(conn, err)
		if h.config.Observer != nil && isProtocolError(err) {
			h.config.Observer.ProtocolError(err)
		}
	}
	if done != nil {
		done(session, err)
	}
	return session, err
}

func (h *Handshake) runInitiator(ctx context.Context, conn Conn) (*Session, error) {
	clientHello, err := h.CreateClientHello()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, clientHello); err != nil {
		return nil, err
	}

	serverHello, err := h.receive(ctx, conn, protocol.MessageTypeServerHello)
	if err != nil {
		return nil, err
	}
	if err := h.ProcessServerHello(serverHello); err != nil {
		return nil, err
	}

	clientFinished, err := h.CreateClientFinished()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, clientFinished); err != nil {
		return nil, err
	}

	serverFinished, err := h.receive(ctx, conn, protocol.MessageTypeServerFinished)
	if err != nil {
		return nil, err
	}
	return h.ProcessServerFinished(serverFinished)
}

func (h *Handshake) runResponder(ctx context.Context, conn Conn) (*Session, error) {
	clientHello, err := h.receive(ctx, conn, protocol.MessageTypeClientHello)
	if err != nil {
		return nil, err
	}
	if err := h.ProcessClientHello(clientHello); err != nil {
		return nil, err
	}

	serverHello, err := h.CreateServerHello()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, serverHello); err != nil {
		return nil, err
	}

	clientFinished, err := h.receive(ctx, conn, protocol.MessageTypeClientFinished)
	if err != nil {
		return nil, err
	}
	if err := h.ProcessClientFinished(clientFinished); err != nil {
		return nil, err
	}

	serverFinished, session, err := h.CreateServerFinished()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, serverFinished); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// receive reads the next message and checks its type. An Alert from the
// peer is returned as an error unwrapping to the alert's sentinel.
func (h *Handshake) receive(ctx context.Context, conn Conn, want protocol.MessageType) ([]byte, error) {
	msg, err := conn.Receive(ctx)
	if err != nil {
		return nil, err
	}

	msgType, err := h.codec.GetMessageType(msg)
	if err != nil {
		return nil, err
	}
	switch msgType {
	case want:
		return msg, nil
	case protocol.MessageTypeAlert:
		alert, err := h.codec.DecodeAlert(msg)
		if err != nil {
			return nil, err
		}
		return nil, qerrors.NewProtocolError("handshake", newAlertError(alert))
	default:
		return nil, qerrors.NewProtocolError("handshake", qerrors.ErrInvalidMessage)
	}
}

// alertTimeout bounds the best-effort alert sent on abort.
const alertTimeout = 500 * time.Millisecond

// sendAlert notifies the peer of a locally detected failure. Transport
// failures and alerts received from the peer are not answered.
func (h *Handshake) sendAlert(conn Conn, err error) {
	if conn == nil || qerrors.KindOf(err) == qerrors.KindTransport || isPeerAlert(err) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	_ = conn.Send(ctx, h.codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertFor(err), ""))
}
