// Package tunnel runs the HTTQ handshake and carries application records
// over the session it produces.
//
// Both peers derive one traffic key per direction from the transcript-bound
// session seed. Records are sealed with AES-256-GCM or ChaCha20-Poly1305
// under counter nonces, and the receiver refuses any counter it has already
// accepted or that fell out of its replay window.
package tunnel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
)

// SessionState is where a session is in its lifecycle. Closed and Failed
// are terminal.
type SessionState int32

const (
	SessionStateHandshaking SessionState = iota
	SessionStateEstablished
	SessionStateClosed
	SessionStateFailed
)

var sessionStateNames = [...]string{"Handshaking", "Established", "Closed", "Failed"}

func (s SessionState) String() string {
	if s >= 0 && int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return "Unknown"
}

// IsTerminal reports whether s is Closed or Failed.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateClosed || s == SessionStateFailed
}

// Role is the side of the handshake an endpoint played.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// SessionParams are the values a completed handshake hands to NewSession.
type SessionParams struct {
	ID           []byte
	Role         Role
	Level        constants.Level
	Hybrid       bool
	CipherSuite  constants.CipherSuite
	SecurityBits int

	// NonceLimit caps the records sealed per direction. Zero selects
	// constants.MaxMessagesPerDirection.
	NonceLimit uint64
}

// direction is the key state of one side of the session.
type direction struct {
	key  []byte
	aead *crypto.AEAD
	aad  []byte // session ID || direction label

	bytes   atomic.Uint64
	records atomic.Uint64
}

func newDirection(suite constants.CipherSuite, key, id []byte, label string, limit uint64) (*direction, error) {
	aead, err := crypto.NewAEADWithLimit(suite, key, limit)
	if err != nil {
		return nil, err
	}
	aad := make([]byte, 0, len(id)+len(label))
	aad = append(append(aad, id...), label...)
	return &direction{key: key, aead: aead, aad: aad}, nil
}

// Session is an established HTTQ session. Its exported fields are fixed at
// creation.
type Session struct {
	ID           []byte // assigned by the responder
	Role         Role
	Algorithm    constants.Level
	Hybrid       bool
	CipherSuite  constants.CipherSuite
	SecurityBits int

	CreatedAt     time.Time
	EstablishedAt time.Time

	state    atomic.Int32
	observer Observer
	replay   *ReplayWindow

	// mu guards tx and rx against wipe, failure and lastSeen.
	mu       sync.RWMutex
	tx, rx   *direction
	failure  error
	lastSeen time.Time
}

// NewSession derives the traffic keys from seed and returns an Established
// session. The initiator seals client-to-server and opens server-to-client;
// the responder the reverse. seed is not retained.
func NewSession(p SessionParams, seed []byte) (*Session, error) {
	if len(p.ID) != constants.SessionIDSize {
		return nil, qerrors.NewInputError("session_id", qerrors.ErrInvalidMessage)
	}
	if !p.CipherSuite.IsSupported() {
		return nil, qerrors.ErrUnsupportedCipherSuite
	}

	c2sKey, s2cKey, err := crypto.DeriveDirectionalKeys(seed, p.ID)
	if err != nil {
		return nil, err
	}
	c2s, err := newDirection(p.CipherSuite, c2sKey, p.ID, constants.DirectionLabelC2S, p.NonceLimit)
	if err != nil {
		crypto.ZeroizeMultiple(c2sKey, s2cKey)
		return nil, err
	}
	s2c, err := newDirection(p.CipherSuite, s2cKey, p.ID, constants.DirectionLabelS2C, p.NonceLimit)
	if err != nil {
		crypto.ZeroizeMultiple(c2sKey, s2cKey)
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:            append([]byte(nil), p.ID...),
		Role:          p.Role,
		Algorithm:     p.Level,
		Hybrid:        p.Hybrid,
		CipherSuite:   p.CipherSuite,
		SecurityBits:  p.SecurityBits,
		CreatedAt:     now,
		EstablishedAt: now,
		replay:        NewReplayWindow(),
		tx:            c2s,
		rx:            s2c,
		lastSeen:      now,
	}
	if p.Role == RoleResponder {
		s.tx, s.rx = s2c, c2s
	}
	s.state.Store(int32(SessionStateEstablished))
	return s, nil
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Usable reports whether the session can still seal and open.
func (s *Session) Usable() bool {
	return s.State() == SessionStateEstablished
}

// Err is the reason the session failed, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// SetObserver attaches o. Call it before the first Seal or Open.
func (s *Session) SetObserver(o Observer) {
	s.observer = o
}

// Expired reports whether ttl has passed since establishment. A
// non-positive ttl never expires.
func (s *Session) Expired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(s.EstablishedAt) >= ttl
}

// LastActivity is the time of the last successful Seal or Open.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// locked runs fn on one direction under the read lock, so end() cannot
// wipe the key while fn uses it. Once the session has left Established fn
// is not run and the result is ErrSessionNotReady.
func (s *Session) locked(outbound bool, fn func(d *direction) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.rx
	if outbound {
		d = s.tx
	}
	if !s.Usable() || d.aead == nil {
		return qerrors.ErrSessionNotReady
	}
	return fn(d)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Seal encrypts plaintext for the peer. Reaching the nonce limit fails the
// session.
func (s *Session) Seal(plaintext []byte) (*SealedMessage, error) {
	if !s.Usable() {
		return nil, qerrors.ErrSessionNotReady
	}
	if len(plaintext) > constants.MaxPlaintextSize {
		return nil, qerrors.ErrMessageTooLarge
	}

	var sealed []byte
	start := time.Now()
	err := s.locked(true, func(tx *direction) (err error) {
		if sealed, err = tx.aead.Seal(plaintext, tx.aad); err == nil {
			tx.bytes.Add(uint64(len(plaintext)))
			tx.records.Add(1)
		}
		return err
	})
	if errors.Is(err, qerrors.ErrSessionNotReady) {
		return nil, err
	}
	if s.observer != nil {
		s.observer.Sealed(len(plaintext), time.Since(start), err)
	}
	if err != nil {
		if errors.Is(err, qerrors.ErrNonceExhausted) {
			s.Fail(err)
		}
		return nil, qerrors.NewCryptoError("Seal", err)
	}

	s.touch()
	return ParseSealedMessage(sealed)
}

// Open authenticates and decrypts a record from the peer. Every
// authentication failure is ErrAuthenticationFailed; a record that
// authenticates under an already accepted counter is ErrReplayDetected.
func (s *Session) Open(msg *SealedMessage) ([]byte, error) {
	var plaintext []byte
	start := time.Now()
	err := s.locked(false, func(rx *direction) (err error) {
		if plaintext, err = s.open(rx.aead, rx.aad, msg); err == nil {
			rx.bytes.Add(uint64(len(plaintext)))
			rx.records.Add(1)
		}
		return err
	})
	if errors.Is(err, qerrors.ErrSessionNotReady) {
		return nil, err
	}
	if s.observer != nil && msg != nil {
		s.observer.Opened(len(msg.Ciphertext)+len(msg.Tag), time.Since(start), err)
	}
	if err != nil {
		if s.observer != nil {
			r := RejectAuthentication
			if errors.Is(err, qerrors.ErrReplayDetected) {
				r = RejectReplay
			}
			s.observer.Rejected(r)
		}
		return nil, qerrors.NewCryptoError("Open", err)
	}

	s.touch()
	return plaintext, nil
}

func (s *Session) open(aead *crypto.AEAD, aad []byte, msg *SealedMessage) ([]byte, error) {
	if msg == nil || len(msg.Tag) != constants.AEADTagSize {
		return nil, qerrors.ErrAuthenticationFailed
	}
	seq, ok := crypto.NonceCounter(msg.Nonce)
	if !ok {
		return nil, qerrors.ErrAuthenticationFailed
	}

	body := make([]byte, 0, len(msg.Ciphertext)+len(msg.Tag))
	body = append(append(body, msg.Ciphertext...), msg.Tag...)
	plaintext, err := aead.OpenWithNonce(msg.Nonce, body, aad)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	// The counter is only trusted once the tag verified.
	if !s.replay.Check(seq) {
		crypto.Zeroize(plaintext)
		return nil, qerrors.ErrReplayDetected
	}
	return plaintext, nil
}

// Fail moves the session to Failed with reason and wipes its keys. It does
// nothing to a session that is already Closed or Failed.
func (s *Session) Fail(reason error) {
	s.end(SessionStateFailed, reason)
}

// Close moves the session to Closed and wipes its keys.
func (s *Session) Close() {
	s.end(SessionStateClosed, nil)
}

// end waits for any Seal or Open in progress, then wipes the derived keys.
// The cipher.AEAD values built from them keep their own copy (the expanded
// AES key schedule, the ChaCha20-Poly1305 key array) that neither
// crypto/cipher nor x/crypto offers a way to clear; dropping the reference
// leaves that memory to the garbage collector.
func (s *Session) end(to SessionState, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State().IsTerminal() {
		return
	}
	s.failure = reason
	s.state.Store(int32(to))
	for _, d := range []*direction{s.tx, s.rx} {
		if d != nil {
			crypto.Zeroize(d.key)
			d.key, d.aead = nil, nil
		}
	}
}

// Stats are the traffic totals of a session.
type Stats struct {
	BytesSent     uint64 // plaintext sealed
	BytesReceived uint64 // plaintext opened
	PacketsSent   uint64
	PacketsRecv   uint64
	Duration      time.Duration
	State         SessionState
}

func (s *Session) Stats() Stats {
	s.mu.RLock()
	tx, rx := s.tx, s.rx
	s.mu.RUnlock()
	return Stats{
		BytesSent:     tx.bytes.Load(),
		BytesReceived: rx.bytes.Load(),
		PacketsSent:   tx.records.Load(),
		PacketsRecv:   rx.records.Load(),
		Duration:      time.Since(s.CreatedAt),
		State:         s.State(),
	}
}

// SealedMessage is one record: nonce, ciphertext and tag held apart.
type SealedMessage struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Bytes is the wire form nonce || ciphertext || tag.
func (m *SealedMessage) Bytes() []byte {
	out := make([]byte, 0, len(m.Nonce)+len(m.Ciphertext)+len(m.Tag))
	out = append(out, m.Nonce...)
	out = append(out, m.Ciphertext...)
	return append(out, m.Tag...)
}

// ParseSealedMessage splits the wire form. Input shorter than a nonce and a
// tag fails authentication.
func ParseSealedMessage(data []byte) (*SealedMessage, error) {
	if len(data) < constants.MinSealedSize {
		return nil, qerrors.NewCryptoError("Open", qerrors.ErrAuthenticationFailed)
	}
	n, t := constants.AEADNonceSize, len(data)-constants.AEADTagSize
	return &SealedMessage{
		Nonce:      append([]byte(nil), data[:n]...),
		Ciphertext: append([]byte(nil), data[n:t]...),
		Tag:        append([]byte(nil), data[t:]...),
	}, nil
}
