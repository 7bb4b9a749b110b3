// Package hybrid implements the hybrid key agreement of the HTTQ handshake.
//
// A hybrid agreement combines an X25519 exchange with a lattice KEM so the
// session stays secure while either component remains unbroken:
//
//	Initiator:  (sk_x, pk_x) <- X25519.KeyGen()      [hybrid only]
//	            (sk_k, pk_k) <- KEM.KeyGen()
//	Responder:  (ct_k, K_k)  <- KEM.Encaps(pk_k)
//	            (e_x, E_x)   <- X25519.KeyGen()      [hybrid only]
//	            K_x          <- X25519(e_x, pk_x)
//	Initiator:  K_k          <- KEM.Decaps(sk_k, ct_k)
//	            K_x          <- X25519(sk_x, E_x)
//	Both:       seed         <- SHAKE-256("HTTQ-v1-SessionSeed", K_x || K_k || transcript_hash)
//
// With hybrid mode off the X25519 legs are skipped and K_x is omitted from
// the derivation. Any failing sub-exchange fails the whole agreement with
// ErrAgreementFailed; no partial secret is ever returned.
package hybrid

import (
	"fmt"
	"io"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
	"github.com/sara-star-quant/httq-go/pkg/kem"
)

// PublicKey is the initiator's public share.
type PublicKey struct {
	Level  kem.Level
	Hybrid bool
	X25519 []byte // nil when Hybrid is false
	KEM    []byte
}

// KeyPair is an ephemeral initiator key pair.
type KeyPair struct {
	x25519 *crypto.X25519KeyPair
	kem    *kem.KeyPair
	hybrid bool
}

// PublicKey returns the public share of the key pair.
func (kp *KeyPair) PublicKey() *PublicKey {
	pub := &PublicKey{
		Level:  kp.kem.Algorithm,
		Hybrid: kp.hybrid,
		KEM:    kp.kem.PublicKey,
	}
	if kp.hybrid {
		pub.X25519 = kp.x25519.PublicKeyBytes()
	}
	return pub
}

// SecurityBits returns the security level of the KEM component.
func (kp *KeyPair) SecurityBits() int {
	return kp.kem.SecurityBits
}

// Zeroize wipes both private keys.
func (kp *KeyPair) Zeroize() {
	if kp == nil {
		return
	}
	kp.x25519.Zeroize()
	kp.kem.Zeroize()
}

// Ciphertext is the responder's reply share.
type Ciphertext struct {
	X25519Ephemeral []byte // nil when hybrid mode is off
	KEM             []byte
}

// SharedSecrets holds the sub-exchange outputs until they are combined.
type SharedSecrets struct {
	classical []byte
	kem       []byte
}

// Combine derives the session seed bound to transcriptHash. The
// sub-exchange secrets are wiped whether or not derivation succeeds, so
// Combine may be called only once.
func (s *SharedSecrets) Combine(transcriptHash []byte) ([]byte, error) {
	defer s.Zeroize()
	if s.kem == nil {
		return nil, qerrors.NewCryptoError("hybrid.Combine", qerrors.ErrAgreementFailed)
	}
	seed, err := crypto.DeriveSessionSeed(s.classical, s.kem, transcriptHash)
	if err != nil {
		return nil, qerrors.NewCryptoError("hybrid.Combine", fmt.Errorf("%w: %w", qerrors.ErrAgreementFailed, err))
	}
	return seed, nil
}

// Zeroize wipes both secrets.
func (s *SharedSecrets) Zeroize() {
	if s == nil {
		return
	}
	crypto.ZeroizeMultiple(s.classical, s.kem)
	s.classical, s.kem = nil, nil
}

// Agreement performs the hybrid exchange for one level and mode.
type Agreement struct {
	scheme kem.Scheme
	hybrid bool
	rand   io.Reader
}

// Option configures an Agreement.
type Option func(*Agreement)

// WithRand sets the random source for both components.
func WithRand(r io.Reader) Option {
	return func(a *Agreement) {
		a.rand = r
	}
}

// WithScheme replaces the KEM implementation.
func WithScheme(s kem.Scheme) Option {
	return func(a *Agreement) {
		a.scheme = s
	}
}

// New returns an Agreement at level. hybrid selects whether the X25519
// component is included.
func New(level kem.Level, hybrid bool, opts ...Option) (*Agreement, error) {
	a := &Agreement{hybrid: hybrid, rand: crypto.Reader}
	for _, opt := range opts {
		opt(a)
	}
	if a.scheme == nil {
		s, err := kem.New(level, kem.WithRand(a.rand))
		if err != nil {
			return nil, err
		}
		a.scheme = s
	}
	return a, nil
}

// Level returns the KEM level.
func (a *Agreement) Level() kem.Level { return a.scheme.Level() }

// Hybrid reports whether the classical component is included.
func (a *Agreement) Hybrid() bool { return a.hybrid }

// Params returns the KEM parameter set.
func (a *Agreement) Params() kem.Params { return a.scheme.Params() }

// GenerateKeyPair creates the initiator's ephemeral key pair.
func (a *Agreement) GenerateKeyPair() (*KeyPair, error) {
	kemKP, err := a.scheme.GenerateKeyPair()
	if err != nil {
		return nil, agreementError("hybrid.GenerateKeyPair", err)
	}

	kp := &KeyPair{kem: kemKP, hybrid: a.hybrid}
	if a.hybrid {
		x, err := crypto.GenerateX25519KeyPairFrom(a.rand)
		if err != nil {
			kemKP.Zeroize()
			return nil, agreementError("hybrid.GenerateKeyPair", err)
		}
		kp.x25519 = x
	}
	return kp, nil
}

// Encapsulate runs the responder side against the initiator's public share.
func (a *Agreement) Encapsulate(peer *PublicKey) (*Ciphertext, *SharedSecrets, error) {
	if err := a.checkPeer(peer); err != nil {
		return nil, nil, agreementError("hybrid.Encapsulate", err)
	}

	es, err := a.scheme.Encapsulate(peer.KEM)
	if err != nil {
		return nil, nil, agreementError("hybrid.Encapsulate", err)
	}

	ct := &Ciphertext{KEM: es.Ciphertext}
	secrets := &SharedSecrets{kem: es.SharedSecret}
	if !a.hybrid {
		return ct, secrets, nil
	}

	peerX, err := crypto.ParseX25519PublicKey(peer.X25519)
	if err != nil {
		secrets.Zeroize()
		return nil, nil, agreementError("hybrid.Encapsulate", err)
	}
	eph, err := crypto.GenerateX25519KeyPairFrom(a.rand)
	if err != nil {
		secrets.Zeroize()
		return nil, nil, agreementError("hybrid.Encapsulate", err)
	}
	defer eph.Zeroize()

	classical, err := crypto.X25519(eph.PrivateKey, peerX)
	if err != nil {
		secrets.Zeroize()
		return nil, nil, agreementError("hybrid.Encapsulate", err)
	}
	ct.X25519Ephemeral = eph.PublicKeyBytes()
	secrets.classical = classical
	return ct, secrets, nil
}

// Decapsulate runs the initiator side. The KEM private key is wiped after
// use; the X25519 key is wiped by KeyPair.Zeroize.
func (a *Agreement) Decapsulate(ct *Ciphertext, kp *KeyPair) (*SharedSecrets, error) {
	if ct == nil || kp == nil || kp.kem == nil {
		return nil, agreementError("hybrid.Decapsulate", qerrors.ErrInvalidState)
	}
	if (ct.X25519Ephemeral != nil) != a.hybrid {
		return nil, agreementError("hybrid.Decapsulate", qerrors.ErrAlgorithmMismatch)
	}

	kemSecret, err := a.scheme.Decapsulate(ct.KEM, kp.kem.PrivateKey)
	kp.kem.Zeroize()
	if err != nil {
		return nil, agreementError("hybrid.Decapsulate", err)
	}

	secrets := &SharedSecrets{kem: kemSecret}
	if !a.hybrid {
		return secrets, nil
	}

	eph, err := crypto.ParseX25519PublicKey(ct.X25519Ephemeral)
	if err != nil {
		secrets.Zeroize()
		return nil, agreementError("hybrid.Decapsulate", err)
	}
	if kp.x25519 == nil {
		secrets.Zeroize()
		return nil, agreementError("hybrid.Decapsulate", qerrors.ErrInvalidPrivateKey)
	}
	classical, err := crypto.X25519(kp.x25519.PrivateKey, eph)
	if err != nil {
		secrets.Zeroize()
		return nil, agreementError("hybrid.Decapsulate", err)
	}
	secrets.classical = classical
	return secrets, nil
}

func (a *Agreement) checkPeer(peer *PublicKey) error {
	if peer == nil {
		return qerrors.ErrInvalidPublicKey
	}
	if peer.Level != a.scheme.Level() || peer.Hybrid != a.hybrid {
		return qerrors.ErrAlgorithmMismatch
	}
	if a.hybrid && len(peer.X25519) != constants.X25519PublicKeySize {
		return qerrors.ErrInvalidPublicKey
	}
	return nil
}

// agreementError tags err with ErrAgreementFailed while keeping the cause
// reachable through errors.Is.
func agreementError(op string, err error) error {
	return qerrors.NewCryptoError(op, fmt.Errorf("%w: %w", qerrors.ErrAgreementFailed, err))
}
