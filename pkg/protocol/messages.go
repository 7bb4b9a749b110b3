// Package protocol is the HTTQ wire format: message framing, the four
// handshake messages, alerts and the sealed request envelope.
//
// A session is opened by ClientHello and ServerHello, which carry the key
// shares, and confirmed by ClientFinished and ServerFinished, which carry
// transcript MACs. After that both directions exchange Data records until
// one side sends Close or a fatal Alert. Every frame starts with a one-byte
// type and a four-byte big-endian payload length.
package protocol

import (
	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// MessageType is the first byte of every frame.
type MessageType uint8

const (
	MessageTypeClientHello    MessageType = 0x01
	MessageTypeServerHello    MessageType = 0x02
	MessageTypeClientFinished MessageType = 0x03
	MessageTypeServerFinished MessageType = 0x04
	MessageTypeData           MessageType = 0x10 // sealed envelope
	MessageTypeClose          MessageType = 0x14
	MessageTypeAlert          MessageType = 0xF0
)

var messageTypeNames = map[MessageType]string{
	MessageTypeClientHello:    "ClientHello",
	MessageTypeServerHello:    "ServerHello",
	MessageTypeClientFinished: "ClientFinished",
	MessageTypeServerFinished: "ServerFinished",
	MessageTypeData:           "Data",
	MessageTypeClose:          "Close",
	MessageTypeAlert:          "Alert",
}

func (mt MessageType) String() string {
	if name, ok := messageTypeNames[mt]; ok {
		return name
	}
	return "Unknown"
}

// HeaderSize is the frame header: type plus payload length.
const HeaderSize = 1 + 4

// MaxMessageSize bounds a frame payload.
const MaxMessageSize = constants.MaxMessageSize

// AlertLevel is the severity of an alert. A fatal alert ends the session.
type AlertLevel uint8

const (
	AlertLevelWarning AlertLevel = 0x01
	AlertLevelFatal   AlertLevel = 0x02
)

// AlertCode says why an alert was sent.
type AlertCode uint8

const (
	AlertCodeUnexpectedMessage  AlertCode = 0x01
	AlertCodeBadCiphertext      AlertCode = 0x02 // malformed key share or KEM ciphertext
	AlertCodeHandshakeFailure   AlertCode = 0x03
	AlertCodeUnsupportedVersion AlertCode = 0x04
	AlertCodeUnsupportedCipher  AlertCode = 0x05
	AlertCodeDecryptionFailed   AlertCode = 0x06 // record failed authentication or was replayed
	AlertCodeInternalError      AlertCode = 0x07
	AlertCodeCloseNotify        AlertCode = 0x08
	AlertCodeAlgorithmMismatch  AlertCode = 0x09 // level or hybrid flag differ
	AlertCodeTranscriptMismatch AlertCode = 0x0A // Finished MAC did not verify
	AlertCodeRateLimited        AlertCode = 0x0B
)

// alertCodes pairs each code with its log name and the sentinel a receiver
// reports for it.
var alertCodes = map[AlertCode]struct {
	name string
	err  error
}{
	AlertCodeUnexpectedMessage:  {"unexpected_message", qerrors.ErrPeerAlert},
	AlertCodeBadCiphertext:      {"bad_ciphertext", qerrors.ErrPeerAlert},
	AlertCodeHandshakeFailure:   {"handshake_failure", qerrors.ErrPeerAlert},
	AlertCodeUnsupportedVersion: {"unsupported_version", qerrors.ErrUnsupportedVersion},
	AlertCodeUnsupportedCipher:  {"unsupported_cipher", qerrors.ErrUnsupportedCipherSuite},
	AlertCodeDecryptionFailed:   {"decryption_failed", qerrors.ErrAuthenticationFailed},
	AlertCodeInternalError:      {"internal_error", qerrors.ErrPeerAlert},
	AlertCodeCloseNotify:        {"close_notify", qerrors.ErrSessionClosed},
	AlertCodeAlgorithmMismatch:  {"algorithm_mismatch", qerrors.ErrAlgorithmMismatch},
	AlertCodeTranscriptMismatch: {"transcript_mismatch", qerrors.ErrTranscriptMismatch},
	AlertCodeRateLimited:        {"rate_limited", qerrors.ErrRateLimited},
}

func (c AlertCode) String() string {
	if a, ok := alertCodes[c]; ok {
		return a.name
	}
	return "unknown"
}

// Err is the local sentinel for an alert received from the peer. Codes
// without a closer match become ErrPeerAlert.
func (c AlertCode) Err() error {
	if a, ok := alertCodes[c]; ok {
		return a.err
	}
	return qerrors.ErrPeerAlert
}

// AlertFor picks the code to send for a local failure. The first matching
// sentinel wins; anything unrecognised is an internal error.
func AlertFor(err error) AlertCode {
	for _, m := range alertMatches {
		for _, target := range m.errs {
			if qerrors.Is(err, target) {
				return m.code
			}
		}
	}
	return AlertCodeInternalError
}

var alertMatches = []struct {
	code AlertCode
	errs []error
}{
	{AlertCodeAlgorithmMismatch, []error{qerrors.ErrAlgorithmMismatch}},
	{AlertCodeTranscriptMismatch, []error{qerrors.ErrTranscriptMismatch}},
	{AlertCodeUnsupportedVersion, []error{qerrors.ErrUnsupportedVersion}},
	{AlertCodeUnsupportedCipher, []error{qerrors.ErrUnsupportedCipherSuite}},
	{AlertCodeBadCiphertext, []error{qerrors.ErrMalformedCiphertext, qerrors.ErrInvalidPublicKey}},
	{AlertCodeDecryptionFailed, []error{qerrors.ErrAuthenticationFailed, qerrors.ErrReplayDetected}},
	{AlertCodeUnexpectedMessage, []error{qerrors.ErrInvalidMessage, qerrors.ErrInvalidState}},
	{AlertCodeRateLimited, []error{qerrors.ErrRateLimited}},
	{AlertCodeHandshakeFailure, []error{qerrors.ErrAgreementFailed}},
}

// ClientHello opens a handshake. It names the level and mode the client
// wants and carries its ephemeral public keys.
type ClientHello struct {
	Version Version
	Random  []byte // constants.RandomSize bytes

	Level  constants.Level
	Hybrid bool

	X25519PublicKey []byte // empty unless Hybrid
	KEMPublicKey    []byte // size fixed by Level

	CipherSuites []constants.CipherSuite // client preference order
}

// ServerHello answers a ClientHello with the responder's key shares and the
// chosen cipher suite.
type ServerHello struct {
	Version   Version
	Random    []byte // constants.RandomSize bytes
	SessionID []byte // constants.SessionIDSize bytes

	Level  constants.Level
	Hybrid bool

	X25519Ephemeral []byte // empty unless Hybrid
	KEMCiphertext   []byte // size fixed by Level

	CipherSuite constants.CipherSuite
}

// AlertMessage reports an error or a close to the peer.
type AlertMessage struct {
	Level       AlertLevel
	Code        AlertCode
	Description string // at most 255 bytes
}

// Validate rejects unknown severities and descriptions over 255 bytes.
func (m *AlertMessage) Validate() error {
	switch {
	case m.Level != AlertLevelWarning && m.Level != AlertLevelFatal:
		return qerrors.ErrInvalidMessage
	case len(m.Description) > 255:
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Validate checks sizes against the requested level. It does not check
// whether the responder supports that level.
func (m *ClientHello) Validate() error {
	params, err := checkHello(m.Version, m.Random, m.Level)
	if err != nil {
		return err
	}
	if len(m.KEMPublicKey) != params.PublicKeySize {
		return qerrors.ErrInvalidPublicKey
	}
	if err := checkClassicalShare(m.Hybrid, m.X25519PublicKey); err != nil {
		return err
	}
	if len(m.CipherSuites) == 0 {
		return qerrors.ErrInvalidMessage
	}
	for _, suite := range m.CipherSuites {
		if !suite.IsSupported() {
			return qerrors.ErrUnsupportedCipherSuite
		}
	}
	return nil
}

// Validate checks sizes against the level the server chose.
func (m *ServerHello) Validate() error {
	params, err := checkHello(m.Version, m.Random, m.Level)
	if err != nil {
		return err
	}
	switch {
	case len(m.SessionID) != constants.SessionIDSize:
		return qerrors.ErrInvalidMessage
	case len(m.KEMCiphertext) != params.CiphertextSize:
		return qerrors.ErrMalformedCiphertext
	}
	if err := checkClassicalShare(m.Hybrid, m.X25519Ephemeral); err != nil {
		return err
	}
	if !m.CipherSuite.IsSupported() {
		return qerrors.ErrUnsupportedCipherSuite
	}
	return nil
}

func checkHello(v Version, random []byte, level constants.Level) (constants.LevelParams, error) {
	if !v.IsCompatible(Current) {
		return constants.LevelParams{}, qerrors.ErrUnsupportedVersion
	}
	if len(random) != constants.RandomSize {
		return constants.LevelParams{}, qerrors.ErrInvalidMessage
	}
	params, ok := level.Params()
	if !ok {
		return constants.LevelParams{}, qerrors.ErrAlgorithmMismatch
	}
	return params, nil
}

func checkClassicalShare(hybrid bool, share []byte) error {
	switch {
	case hybrid && len(share) != constants.X25519PublicKeySize:
		return qerrors.ErrInvalidPublicKey
	case !hybrid && len(share) != 0:
		return qerrors.ErrInvalidMessage
	}
	return nil
}
