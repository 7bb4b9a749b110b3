// Package errors holds the sentinel errors and typed wrappers of httq.
// Messages never include key material.
//
// Errors fall into four kinds. Callers classify an error chain with KindOf:
//
//	InputError     bad URL scheme, malformed key or ciphertext lengths
//	CryptoError    authentication, replay, nonce exhaustion, agreement failure
//	ProtocolError  algorithm or transcript mismatch, unexpected messages
//	TransportError network failure or timeout from the byte transport
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for key encapsulation and key agreement
var (
	// ErrInsufficientEntropy indicates the random source could not supply bytes
	ErrInsufficientEntropy = errors.New("kem: insufficient entropy")

	// ErrInvalidPublicKey indicates that a public key has the wrong length or encoding
	ErrInvalidPublicKey = errors.New("kem: invalid public key")

	// ErrInvalidPrivateKey indicates that a private key is invalid
	ErrInvalidPrivateKey = errors.New("kem: invalid private key")

	// ErrMalformedCiphertext indicates a KEM ciphertext of the wrong length
	ErrMalformedCiphertext = errors.New("kem: malformed ciphertext")

	// ErrKeyGenerationFailed indicates that key generation failed its self-test
	ErrKeyGenerationFailed = errors.New("kem: key generation failed")

	// ErrUnsupportedLevel indicates an unknown security level
	ErrUnsupportedLevel = errors.New("kem: unsupported security level")

	// ErrAgreementFailed indicates a hybrid sub-exchange failed
	ErrAgreementFailed = errors.New("hybrid: key agreement failed")
)

// Sentinel errors for AEAD and session operations
var (
	// ErrInvalidKeySize indicates that a symmetric key or secret has an incorrect size
	ErrInvalidKeySize = errors.New("aead: invalid key size")

	// ErrInvalidNonce indicates the nonce size or prefix is incorrect
	ErrInvalidNonce = errors.New("aead: invalid nonce")

	// ErrCiphertextTooShort indicates ciphertext is too short to be valid
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")

	// ErrAuthenticationFailed indicates AEAD authentication/decryption failed
	ErrAuthenticationFailed = errors.New("aead: authentication failed")

	// ErrNonceExhausted indicates nonce space is exhausted for the current key
	ErrNonceExhausted = errors.New("aead: nonce space exhausted")

	// ErrReplayDetected indicates a nonce counter was already accepted
	ErrReplayDetected = errors.New("session: replay detected")

	// ErrSessionNotReady indicates the session is not Established
	ErrSessionNotReady = errors.New("session: not established")

	// ErrSessionClosed indicates the session was closed by either side
	ErrSessionClosed = errors.New("session: closed")
)

// Sentinel errors for protocol operations
var (
	// ErrInvalidMessage indicates a protocol message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnsupportedCipherSuite indicates an unsupported cipher suite
	ErrUnsupportedCipherSuite = errors.New("protocol: unsupported cipher suite")

	// ErrAlgorithmMismatch indicates the peers disagree on level or hybrid mode
	ErrAlgorithmMismatch = errors.New("protocol: algorithm mismatch")

	// ErrTranscriptMismatch indicates Finished verify_data did not match
	ErrTranscriptMismatch = errors.New("protocol: transcript mismatch")

	// ErrHandshakeAborted indicates the handshake engine is in its terminal Aborted state
	ErrHandshakeAborted = errors.New("protocol: handshake aborted")

	// ErrInvalidState indicates an invalid protocol state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrPeerAlert indicates the peer sent an Alert message
	ErrPeerAlert = errors.New("protocol: peer alert")
)

// Sentinel errors for client and transport operations
var (
	// ErrUnsupportedScheme indicates a URL scheme other than httq or https
	ErrUnsupportedScheme = errors.New("client: unsupported scheme")

	// ErrFallbackDisabled indicates a classical request while fallback is off
	ErrFallbackDisabled = errors.New("client: classical fallback disabled")

	// ErrInvalidURL indicates the endpoint URL could not be parsed
	ErrInvalidURL = errors.New("client: invalid url")

	// ErrClientClosed indicates the client has been closed
	ErrClientClosed = errors.New("client: closed")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrConnectionClosed indicates the byte transport was closed
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrRateLimited indicates the responder refused a handshake
	ErrRateLimited = errors.New("transport: rate limited")
)

// Kind classifies an error chain.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindCrypto
	KindProtocol
	KindTransport
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindCrypto:
		return "crypto"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// InputError wraps a rejected caller input. Input errors are never retried.
type InputError struct {
	Field string // Offending input (e.g., "url", "public_key")
	Err   error  // Underlying error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// NewInputError creates a new InputError
func NewInputError(field string, err error) *InputError {
	return &InputError{Field: field, Err: err}
}

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Protocol phase (e.g., "handshake", "transport")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// TransportError wraps a failure of the network byte transport.
type TransportError struct {
	Op  string // "dial", "send", "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// KindOf returns the kind of the outermost typed wrapper in err's chain.
// Untyped sentinel errors are classified by their group.
func KindOf(err error) Kind {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *InputError:
			return KindInput
		case *CryptoError:
			return KindCrypto
		case *ProtocolError:
			return KindProtocol
		case *TransportError:
			return KindTransport
		}
	}
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnsupportedScheme), errors.Is(err, ErrInvalidURL),
		errors.Is(err, ErrInvalidPublicKey), errors.Is(err, ErrMalformedCiphertext),
		errors.Is(err, ErrUnsupportedLevel), errors.Is(err, ErrFallbackDisabled):
		return KindInput
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrReplayDetected),
		errors.Is(err, ErrNonceExhausted), errors.Is(err, ErrAgreementFailed),
		errors.Is(err, ErrInsufficientEntropy), errors.Is(err, ErrKeyGenerationFailed):
		return KindCrypto
	case errors.Is(err, ErrAlgorithmMismatch), errors.Is(err, ErrTranscriptMismatch),
		errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrHandshakeAborted),
		errors.Is(err, ErrMessageTooLarge):
		return KindProtocol
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrConnectionClosed):
		return KindTransport
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the operation without retry
// (entropy failure or nonce exhaustion).
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientEntropy) || errors.Is(err, ErrNonceExhausted)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
