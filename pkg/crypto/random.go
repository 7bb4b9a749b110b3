// Package crypto holds the primitives beneath the handshake: X25519,
// SHAKE-256 key derivation, counter-nonce AEADs and the random source they
// draw from.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// Reader is the default random source. Tests may swap it for a
// deterministic reader.
var Reader io.Reader = rand.Reader

// SecureRandom fills b from Reader.
func SecureRandom(b []byte) error {
	return SecureRandomFrom(Reader, b)
}

// SecureRandomFrom fills b from r, or from Reader when r is nil. A short
// read zeroes b and returns ErrInsufficientEntropy, so partial output never
// becomes key material.
func SecureRandomFrom(r io.Reader, b []byte) error {
	if r == nil {
		r = Reader
	}
	if _, err := io.ReadFull(r, b); err != nil {
		clear(b)
		return qerrors.NewCryptoError("SecureRandom", qerrors.ErrInsufficientEntropy)
	}
	return nil
}

// SecureRandomBytes returns n bytes from Reader.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MustSecureRandomBytes is SecureRandomBytes for callers that cannot
// continue without randomness; it panics on failure.
func MustSecureRandomBytes(n int) []byte {
	b, err := SecureRandomBytes(n)
	if err != nil {
		panic(err)
	}
	return b
}

// ConstantTimeCompare reports whether a and b are equal without leaking
// where they differ.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites b with zeros. Copies the runtime made earlier are out
// of reach.
func Zeroize(b []byte) {
	clear(b)
}

// ZeroizeMultiple zeroes each slice.
func ZeroizeMultiple(bs ...[]byte) {
	for _, b := range bs {
		clear(b)
	}
}
