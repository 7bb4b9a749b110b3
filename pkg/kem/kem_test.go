package kem_test

import (
	"bytes"
	"errors"
	"testing"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/kem"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("no entropy")
}

var allLevels = []kem.Level{kem.L1, kem.L2, kem.L3}

func TestRoundTrip(t *testing.T) {
	for _, level := range allLevels {
		t.Run(level.String(), func(t *testing.T) {
			s, err := kem.New(level)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			p := s.Params()

			for i := range 5 {
				kp, err := s.GenerateKeyPair()
				if err != nil {
					t.Fatalf("GenerateKeyPair failed: %v", err)
				}
				if len(kp.PublicKey) != p.PublicKeySize {
					t.Errorf("public key size = %d, want %d", len(kp.PublicKey), p.PublicKeySize)
				}
				if len(kp.PrivateKey) != p.PrivateKeySize {
					t.Errorf("private key size = %d, want %d", len(kp.PrivateKey), p.PrivateKeySize)
				}
				if kp.Algorithm != level || kp.SecurityBits != p.SecurityBits {
					t.Errorf("key pair metadata = %v/%d", kp.Algorithm, kp.SecurityBits)
				}

				es, err := s.Encapsulate(kp.PublicKey)
				if err != nil {
					t.Fatalf("Encapsulate failed: %v", err)
				}
				if len(es.Ciphertext) != p.CiphertextSize {
					t.Errorf("ciphertext size = %d, want %d", len(es.Ciphertext), p.CiphertextSize)
				}

				ss, err := s.Decapsulate(es.Ciphertext, kp.PrivateKey)
				if err != nil {
					t.Fatalf("Decapsulate failed: %v", err)
				}
				if !bytes.Equal(ss, es.SharedSecret) {
					t.Errorf("iteration %d: shared secret mismatch", i)
				}
			}
		})
	}
}

func TestImplicitRejection(t *testing.T) {
	s, _ := kem.New(kem.L2)
	kp, err := s.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	es, err := s.Encapsulate(kp.PublicKey)
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}

	tampered := append([]byte(nil), es.Ciphertext...)
	tampered[0] ^= 0xFF

	ss1, err := s.Decapsulate(tampered, kp.PrivateKey)
	if err != nil {
		t.Fatalf("tampered ciphertext must not produce an error, got %v", err)
	}
	if bytes.Equal(ss1, es.SharedSecret) {
		t.Error("tampered ciphertext should not recover the shared secret")
	}

	ss2, _ := s.Decapsulate(tampered, kp.PrivateKey)
	if !bytes.Equal(ss1, ss2) {
		t.Error("implicit rejection output should be deterministic")
	}
}

func TestEncapsulateInvalidPublicKey(t *testing.T) {
	s, _ := kem.New(kem.L1)
	p := s.Params()

	tests := []struct {
		name string
		key  []byte
	}{
		{"empty", nil},
		{"short", make([]byte, p.PublicKeySize-1)},
		{"long", make([]byte, p.PublicKeySize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Encapsulate(tt.key)
			if !errors.Is(err, qerrors.ErrInvalidPublicKey) {
				t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
			}
			if qerrors.KindOf(err) != qerrors.KindInput {
				t.Errorf("KindOf = %v, want input", qerrors.KindOf(err))
			}
		})
	}
}

func TestCrossLevelKeyRejected(t *testing.T) {
	s1, _ := kem.New(kem.L1)
	s3, _ := kem.New(kem.L3)
	kp, err := s1.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if _, err := s3.Encapsulate(kp.PublicKey); !errors.Is(err, qerrors.ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestDecapsulateMalformedCiphertext(t *testing.T) {
	s, _ := kem.New(kem.L3)
	kp, _ := s.GenerateKeyPair()

	for _, n := range []int{0, 1, s.Params().CiphertextSize - 1, s.Params().CiphertextSize + 1} {
		if _, err := s.Decapsulate(make([]byte, n), kp.PrivateKey); !errors.Is(err, qerrors.ErrMalformedCiphertext) {
			t.Errorf("len %d: expected ErrMalformedCiphertext, got %v", n, err)
		}
	}
}

func TestDecapsulateAfterZeroize(t *testing.T) {
	s, _ := kem.New(kem.L2)
	kp, _ := s.GenerateKeyPair()
	es, _ := s.Encapsulate(kp.PublicKey)

	kp.Zeroize()
	if kp.PrivateKey != nil {
		t.Fatal("Zeroize should drop the private key")
	}
	if _, err := s.Decapsulate(es.Ciphertext, kp.PrivateKey); !errors.Is(err, qerrors.ErrInvalidPrivateKey) {
		t.Errorf("expected ErrInvalidPrivateKey, got %v", err)
	}

	es.Zeroize()
	if es.SharedSecret != nil {
		t.Error("EncapsulatedSecret.Zeroize should drop the secret")
	}
}

func TestInsufficientEntropy(t *testing.T) {
	s, err := kem.New(kem.L2, kem.WithRand(failingReader{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	kp, err := s.GenerateKeyPair()
	if !errors.Is(err, qerrors.ErrInsufficientEntropy) {
		t.Fatalf("expected ErrInsufficientEntropy, got %v", err)
	}
	if kp != nil {
		t.Error("no key material may be returned on entropy failure")
	}

	good, _ := kem.New(kem.L2)
	peer, _ := good.GenerateKeyPair()
	if _, err := s.Encapsulate(peer.PublicKey); !errors.Is(err, qerrors.ErrInsufficientEntropy) {
		t.Fatalf("expected ErrInsufficientEntropy, got %v", err)
	}
}

func TestDeterministicWithFixedRand(t *testing.T) {
	seed := bytes.Repeat([]byte{0x5A}, 4096)
	a, _ := kem.New(kem.L1, kem.WithRand(bytes.NewReader(seed)))
	b, _ := kem.New(kem.L1, kem.WithRand(bytes.NewReader(seed)))

	kpA, err := a.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	kpB, _ := b.GenerateKeyPair()
	if !bytes.Equal(kpA.PublicKey, kpB.PublicKey) {
		t.Error("same random stream should derive the same key pair")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want kem.Level
	}{
		{"L1", kem.L1},
		{"l2", kem.L2},
		{"3", kem.L3},
		{"ML-KEM-768", kem.L2},
		{"HTTQ-LATTICE-1024", kem.L1},
		{"HTTQ-LATTICE-2048", kem.L2},
		{"httq-lattice-4096", kem.L3},
	}
	for _, tt := range tests {
		got, err := kem.ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "L4", "0", "HTTQ-LATTICE-8192"} {
		if _, err := kem.ParseLevel(bad); !errors.Is(err, qerrors.ErrUnsupportedLevel) {
			t.Errorf("ParseLevel(%q): expected ErrUnsupportedLevel, got %v", bad, err)
		}
	}
}

func TestNewUnsupportedLevel(t *testing.T) {
	if _, err := kem.New(kem.Level(9)); !errors.Is(err, qerrors.ErrUnsupportedLevel) {
		t.Errorf("expected ErrUnsupportedLevel, got %v", err)
	}
}
