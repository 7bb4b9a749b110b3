// Package kem implements the key encapsulation mechanism used by the HTTQ
// handshake.
//
// The mechanism is ML-KEM (NIST FIPS 203), a module-lattice KEM whose
// security rests on the Module Learning With Errors problem over
// R_q = Z_q[X]/(X^256 + 1), q = 3329. The lattice arithmetic is provided by
// CIRCL; this package fixes the parameter set per security level, validates
// encodings, draws all randomness through an injectable source, and wipes
// private material.
//
// Correctness: ML-KEM is not perfectly correct. Decapsulating an honestly
// generated ciphertext returns a different secret with probability below
// 2^-138 (L1), 2^-164 (L2) and 2^-174 (L3). A mismatch of that kind surfaces
// one layer up as a failed Finished check, never as a KEM error.
//
// Implicit rejection: Decapsulate only errors on a wrong-length ciphertext or
// key. A ciphertext of the right length that was tampered with yields a
// pseudorandom secret derived from the private rejection seed, so callers
// learn nothing from the KEM about why agreement later fails.
package kem

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
)

// Level selects the lattice parameter set. Parameters are never configured
// independently of the level.
type Level = constants.Level

// Supported levels.
const (
	L1 = constants.LevelL1
	L2 = constants.LevelL2
	L3 = constants.LevelL3

	// DefaultLevel is used when no level is configured.
	DefaultLevel = L2
)

// Params is the fixed parameter set of a level.
type Params = constants.LevelParams

// legacyNames maps algorithm names used by earlier HTTQ SDKs onto levels.
var legacyNames = map[string]Level{
	"HTTQ-LATTICE-1024": L1,
	"HTTQ-LATTICE-2048": L2,
	"HTTQ-LATTICE-4096": L3,
}

// ParseLevel parses "L1".."L3", "1".."3", an ML-KEM name, or a legacy
// HTTQ-LATTICE name.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if l, ok := legacyNames[name]; ok {
		return l, nil
	}
	for _, l := range []Level{L1, L2, L3} {
		p, _ := l.Params()
		if name == l.String() || name == strings.ToUpper(p.Name) {
			return l, nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && Level(n).IsSupported() {
		return Level(n), nil
	}
	return 0, qerrors.NewInputError("level", fmt.Errorf("%w: %q", qerrors.ErrUnsupportedLevel, s))
}

// ParamsFor returns the parameter set of level.
func ParamsFor(level Level) (Params, error) {
	p, ok := level.Params()
	if !ok {
		return Params{}, qerrors.NewInputError("level", qerrors.ErrUnsupportedLevel)
	}
	return p, nil
}

// KeyPair is an ephemeral KEM key pair. The private key never leaves the
// process and is wiped by Zeroize.
type KeyPair struct {
	PublicKey    []byte
	PrivateKey   []byte
	Algorithm    Level
	SecurityBits int
}

// Zeroize wipes the private key. The key pair is unusable afterwards.
func (kp *KeyPair) Zeroize() {
	if kp == nil {
		return
	}
	crypto.Zeroize(kp.PrivateKey)
	kp.PrivateKey = nil
}

// EncapsulatedSecret is the output of Encapsulate. SharedSecret is owned by
// the caller, which must Zeroize it once folded into a session key.
type EncapsulatedSecret struct {
	Ciphertext   []byte
	SharedSecret []byte
}

// Zeroize wipes the shared secret.
func (es *EncapsulatedSecret) Zeroize() {
	if es == nil {
		return
	}
	crypto.Zeroize(es.SharedSecret)
	es.SharedSecret = nil
}

// Scheme is a key encapsulation mechanism bound to one level.
type Scheme interface {
	// Level returns the configured level.
	Level() Level

	// Params returns the parameter set of Level.
	Params() Params

	// GenerateKeyPair returns a fresh key pair. Fails with
	// ErrInsufficientEntropy if the random source fails.
	GenerateKeyPair() (*KeyPair, error)

	// Encapsulate produces a ciphertext and shared secret for the peer's
	// public key. Fails with ErrInvalidPublicKey on a wrong-length or
	// non-canonical key.
	Encapsulate(peerPublicKey []byte) (*EncapsulatedSecret, error)

	// Decapsulate recovers the shared secret. Fails with
	// ErrMalformedCiphertext only on a wrong-length ciphertext.
	Decapsulate(ciphertext, privateKey []byte) ([]byte, error)
}

// MLKEM implements Scheme with CIRCL's ML-KEM.
type MLKEM struct {
	level  Level
	params Params
	scheme circlkem.Scheme
	rand   io.Reader
}

// Option configures an MLKEM scheme.
type Option func(*MLKEM)

// WithRand replaces the random source. Used to inject entropy failures in
// tests and deterministic sources in known-answer tests.
func WithRand(r io.Reader) Option {
	return func(m *MLKEM) {
		m.rand = r
	}
}

// New returns the ML-KEM scheme for level.
func New(level Level, opts ...Option) (*MLKEM, error) {
	params, err := ParamsFor(level)
	if err != nil {
		return nil, err
	}

	m := &MLKEM{
		level:  level,
		params: params,
		scheme: circlScheme(level),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func circlScheme(level Level) circlkem.Scheme {
	switch level {
	case L1:
		return mlkem512.Scheme()
	case L3:
		return mlkem1024.Scheme()
	default:
		return mlkem768.Scheme()
	}
}

// Level implements Scheme.
func (m *MLKEM) Level() Level { return m.level }

// Params implements Scheme.
func (m *MLKEM) Params() Params { return m.params }

// GenerateKeyPair implements Scheme.
//
// The key pair is derived from a fresh seed (d || z) and then checked with a
// pairwise encapsulate/decapsulate round trip. A failed check returns
// ErrKeyGenerationFailed and no key material.
func (m *MLKEM) GenerateKeyPair() (*KeyPair, error) {
	seed := make([]byte, m.scheme.SeedSize())
	defer crypto.Zeroize(seed)
	if err := crypto.SecureRandomFrom(m.rand, seed); err != nil {
		return nil, qerrors.NewCryptoError("kem.GenerateKeyPair", err)
	}

	pk, sk := m.scheme.DeriveKeyPair(seed)
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError("kem.GenerateKeyPair", qerrors.ErrKeyGenerationFailed)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError("kem.GenerateKeyPair", qerrors.ErrKeyGenerationFailed)
	}

	kp := &KeyPair{
		PublicKey:    pkBytes,
		PrivateKey:   skBytes,
		Algorithm:    m.level,
		SecurityBits: m.params.SecurityBits,
	}
	if err := m.pairwiseCheck(kp); err != nil {
		kp.Zeroize()
		return nil, err
	}
	return kp, nil
}

// pairwiseCheck runs a conditional self-test on a new key pair.
func (m *MLKEM) pairwiseCheck(kp *KeyPair) error {
	es, err := m.Encapsulate(kp.PublicKey)
	if err != nil {
		if qerrors.Is(err, qerrors.ErrInsufficientEntropy) {
			return err
		}
		return qerrors.NewCryptoError("kem.PairwiseCheck", qerrors.ErrKeyGenerationFailed)
	}
	defer es.Zeroize()

	ss, err := m.Decapsulate(es.Ciphertext, kp.PrivateKey)
	if err != nil {
		return qerrors.NewCryptoError("kem.PairwiseCheck", qerrors.ErrKeyGenerationFailed)
	}
	defer crypto.Zeroize(ss)

	if !crypto.ConstantTimeCompare(ss, es.SharedSecret) {
		return qerrors.NewCryptoError("kem.PairwiseCheck", qerrors.ErrKeyGenerationFailed)
	}
	return nil
}

// Encapsulate implements Scheme.
func (m *MLKEM) Encapsulate(peerPublicKey []byte) (*EncapsulatedSecret, error) {
	if len(peerPublicKey) != m.params.PublicKeySize {
		return nil, qerrors.NewInputError("public_key", qerrors.ErrInvalidPublicKey)
	}
	pk, err := m.scheme.UnmarshalBinaryPublicKey(peerPublicKey)
	if err != nil {
		return nil, qerrors.NewInputError("public_key", qerrors.ErrInvalidPublicKey)
	}

	coins := make([]byte, m.scheme.EncapsulationSeedSize())
	defer crypto.Zeroize(coins)
	if err := crypto.SecureRandomFrom(m.rand, coins); err != nil {
		return nil, qerrors.NewCryptoError("kem.Encapsulate", err)
	}

	ct, ss, err := m.scheme.EncapsulateDeterministically(pk, coins)
	if err != nil {
		return nil, qerrors.NewCryptoError("kem.Encapsulate", err)
	}
	return &EncapsulatedSecret{Ciphertext: ct, SharedSecret: ss}, nil
}

// Decapsulate implements Scheme.
func (m *MLKEM) Decapsulate(ciphertext, privateKey []byte) ([]byte, error) {
	if len(ciphertext) != m.params.CiphertextSize {
		return nil, qerrors.NewInputError("ciphertext", qerrors.ErrMalformedCiphertext)
	}
	if len(privateKey) != m.params.PrivateKeySize {
		return nil, qerrors.NewCryptoError("kem.Decapsulate", qerrors.ErrInvalidPrivateKey)
	}

	sk, err := m.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, qerrors.NewCryptoError("kem.Decapsulate", qerrors.ErrInvalidPrivateKey)
	}

	ss, err := m.scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, qerrors.NewInputError("ciphertext", qerrors.ErrMalformedCiphertext)
	}
	return ss, nil
}

var _ Scheme = (*MLKEM)(nil)
