package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// AEAD seals and opens the records of one session direction under a single
// key. Nonces are a zero prefix followed by a 64-bit big-endian counter
// starting at 0; the counter never wraps and a cipher refuses to seal once
// it reaches its limit.
type AEAD struct {
	aead  cipher.AEAD
	suite constants.CipherSuite
	limit uint64
	next  atomic.Uint64
}

// NewAEAD returns a cipher limited to constants.MaxMessagesPerDirection
// records.
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	return NewAEADWithLimit(suite, key, constants.MaxMessagesPerDirection)
}

// NewAEADWithLimit returns a cipher that seals at most limit records. A zero
// limit selects constants.MaxMessagesPerDirection. Suites not approved in
// this build are refused.
func NewAEADWithLimit(suite constants.CipherSuite, key []byte, limit uint64) (*AEAD, error) {
	if len(key) != constants.AEADKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}
	if !Approved(suite) {
		return nil, qerrors.ErrUnsupportedCipherSuite
	}
	if limit == 0 {
		limit = constants.MaxMessagesPerDirection
	}
	aead, err := newCipher(suite, key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead, suite: suite, limit: limit}, nil
}

func newCipher(suite constants.CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case constants.CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		return gcm, nil
	case constants.CipherSuiteChaCha20Poly1305:
		c, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		return c, nil
	default:
		return nil, qerrors.ErrUnsupportedCipherSuite
	}
}

// Seal returns nonce || ciphertext || tag for plaintext, consuming one
// counter value.
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	seq, err := a.reserve()
	if err != nil {
		return nil, err
	}
	var nonce [constants.AEADNonceSize]byte
	binary.BigEndian.PutUint64(nonce[constants.NoncePrefixSize:], seq)
	out := make([]byte, 0, constants.AEADNonceSize+len(plaintext)+a.aead.Overhead())
	out = append(out, nonce[:]...)
	return a.aead.Seal(out, nonce[:], plaintext, additionalData), nil
}

// reserve claims the next counter value, failing with ErrNonceExhausted at
// the limit.
func (a *AEAD) reserve() (uint64, error) {
	for {
		seq := a.next.Load()
		if seq >= a.limit {
			return 0, qerrors.ErrNonceExhausted
		}
		if a.next.CompareAndSwap(seq, seq+1) {
			return seq, nil
		}
	}
}

// Open verifies and decrypts nonce || ciphertext || tag. Every failure is
// ErrAuthenticationFailed.
func (a *AEAD) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < constants.MinSealedSize {
		return nil, qerrors.ErrAuthenticationFailed
	}
	return a.OpenWithNonce(sealed[:constants.AEADNonceSize], sealed[constants.AEADNonceSize:], additionalData)
}

// OpenWithNonce verifies and decrypts ciphertext || tag under nonce. Bad
// lengths are reported as ErrAuthenticationFailed like a bad tag.
func (a *AEAD) OpenWithNonce(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AEADNonceSize || len(ciphertext) < a.aead.Overhead() {
		return nil, qerrors.ErrAuthenticationFailed
	}
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// NonceCounter returns the counter carried by nonce. ok is false for a nonce
// of the wrong length or with a non-zero prefix.
func NonceCounter(nonce []byte) (counter uint64, ok bool) {
	if len(nonce) != constants.AEADNonceSize {
		return 0, false
	}
	for _, b := range nonce[:constants.NoncePrefixSize] {
		if b != 0 {
			return 0, false
		}
	}
	return binary.BigEndian.Uint64(nonce[constants.NoncePrefixSize:]), true
}

// Counter is the number of records sealed so far.
func (a *AEAD) Counter() uint64 {
	return a.next.Load()
}

// Limit is the number of records the cipher will seal.
func (a *AEAD) Limit() uint64 {
	return a.limit
}

// Suite identifies the algorithm.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead is the nonce and tag bytes added to every record.
func (a *AEAD) Overhead() int {
	return constants.AEADNonceSize + a.aead.Overhead()
}
