package crypto

import (
	"crypto/ecdh"
	"io"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// X25519KeyPair is an ephemeral RFC 7748 key pair. It is the classical
// half of hybrid mode and offers no protection against a quantum
// adversary on its own.
type X25519KeyPair struct {
	PublicKey  *ecdh.PublicKey
	PrivateKey *ecdh.PrivateKey

	// scalar keeps the private bytes so Zeroize can wipe them;
	// ecdh.PrivateKey does not expose its storage.
	scalar []byte
}

// GenerateX25519KeyPair draws a key pair from Reader.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	return GenerateX25519KeyPairFrom(Reader)
}

// GenerateX25519KeyPairFrom draws the private scalar from r.
func GenerateX25519KeyPairFrom(r io.Reader) (*X25519KeyPair, error) {
	var scalar [constants.X25519PrivateKeySize]byte
	defer clear(scalar[:])
	if err := SecureRandomFrom(r, scalar[:]); err != nil {
		return nil, err
	}
	return NewX25519KeyPairFromBytes(scalar[:])
}

// NewX25519KeyPairFromBytes derives the key pair for a 32-byte private
// scalar. The scalar is copied.
func NewX25519KeyPairFromBytes(scalar []byte) (*X25519KeyPair, error) {
	if len(scalar) != constants.X25519PrivateKeySize {
		return nil, qerrors.ErrInvalidPrivateKey
	}
	priv, err := ecdh.X25519().NewPrivateKey(scalar)
	if err != nil {
		return nil, qerrors.NewCryptoError("X25519KeyPair", err)
	}
	return &X25519KeyPair{
		PublicKey:  priv.PublicKey(),
		PrivateKey: priv,
		scalar:     append([]byte(nil), scalar...),
	}, nil
}

// X25519 computes the shared secret between priv and peer. A low-order
// peer key, which yields the all-zero secret, is an error. The result is
// input keying material for the KDF, never a key.
func X25519(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	switch {
	case priv == nil:
		return nil, qerrors.ErrInvalidPrivateKey
	case peer == nil:
		return nil, qerrors.ErrInvalidPublicKey
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, qerrors.NewCryptoError("X25519", err)
	}
	return secret, nil
}

// PublicKeyBytes returns the 32-byte public key, or nil after Zeroize.
func (kp *X25519KeyPair) PublicKeyBytes() []byte {
	if kp == nil || kp.PublicKey == nil {
		return nil
	}
	return kp.PublicKey.Bytes()
}

// ParseX25519PublicKey decodes a 32-byte public key.
func ParseX25519PublicKey(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != constants.X25519PublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}
	pub, err := ecdh.X25519().NewPublicKey(b)
	if err != nil {
		return nil, qerrors.NewCryptoError("ParseX25519PublicKey", err)
	}
	return pub, nil
}

// Zeroize wipes the private scalar and drops both keys.
func (kp *X25519KeyPair) Zeroize() {
	if kp == nil {
		return
	}
	clear(kp.scalar)
	*kp = X25519KeyPair{}
}
