package hybrid_test

import (
	"bytes"
	"errors"
	"testing"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
	"github.com/sara-star-quant/httq-go/pkg/hybrid"
	"github.com/sara-star-quant/httq-go/pkg/kem"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func agree(t *testing.T, level kem.Level, hybridMode bool) (initSeed, respSeed []byte) {
	t.Helper()

	initiator, err := hybrid.New(level, hybridMode)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	responder, _ := hybrid.New(level, hybridMode)

	kp, err := initiator.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	defer kp.Zeroize()

	ct, respSecrets, err := responder.Encapsulate(kp.PublicKey())
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}
	initSecrets, err := initiator.Decapsulate(ct, kp)
	if err != nil {
		t.Fatalf("Decapsulate failed: %v", err)
	}

	th := crypto.TranscriptHash([]byte("client hello"), []byte("server hello"))
	initSeed, err = initSecrets.Combine(th)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	respSeed, err = respSecrets.Combine(th)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	return initSeed, respSeed
}

func TestAgreement(t *testing.T) {
	for _, level := range []kem.Level{kem.L1, kem.L2, kem.L3} {
		for _, mode := range []bool{true, false} {
			name := level.String() + "/kem-only"
			if mode {
				name = level.String() + "/hybrid"
			}
			t.Run(name, func(t *testing.T) {
				a, b := agree(t, level, mode)
				if !bytes.Equal(a, b) {
					t.Fatal("initiator and responder seeds differ")
				}
				if len(a) != 32 {
					t.Errorf("seed length = %d, want 32", len(a))
				}
			})
		}
	}
}

func TestPublicKeyShape(t *testing.T) {
	on, _ := hybrid.New(kem.L2, true)
	off, _ := hybrid.New(kem.L2, false)

	kpOn, _ := on.GenerateKeyPair()
	kpOff, _ := off.GenerateKeyPair()

	if len(kpOn.PublicKey().X25519) != 32 {
		t.Error("hybrid public key should carry an X25519 share")
	}
	if kpOff.PublicKey().X25519 != nil {
		t.Error("KEM-only public key should not carry an X25519 share")
	}
	if kpOn.SecurityBits() != 192 {
		t.Errorf("SecurityBits = %d, want 192", kpOn.SecurityBits())
	}
}

func TestModeMismatch(t *testing.T) {
	on, _ := hybrid.New(kem.L2, true)
	off, _ := hybrid.New(kem.L2, false)

	kp, _ := off.GenerateKeyPair()
	_, _, err := on.Encapsulate(kp.PublicKey())
	if !errors.Is(err, qerrors.ErrAgreementFailed) || !errors.Is(err, qerrors.ErrAlgorithmMismatch) {
		t.Fatalf("expected agreement failure from mode mismatch, got %v", err)
	}
}

func TestLevelMismatch(t *testing.T) {
	l1, _ := hybrid.New(kem.L1, true)
	l3, _ := hybrid.New(kem.L3, true)

	kp, _ := l1.GenerateKeyPair()
	if _, _, err := l3.Encapsulate(kp.PublicKey()); !errors.Is(err, qerrors.ErrAlgorithmMismatch) {
		t.Fatalf("expected ErrAlgorithmMismatch, got %v", err)
	}
}

func TestBadClassicalShare(t *testing.T) {
	a, _ := hybrid.New(kem.L2, true)
	kp, _ := a.GenerateKeyPair()

	pub := kp.PublicKey()
	pub.X25519 = make([]byte, 32) // low-order point

	ct, secrets, err := a.Encapsulate(pub)
	if !errors.Is(err, qerrors.ErrAgreementFailed) {
		t.Fatalf("expected ErrAgreementFailed, got %v", err)
	}
	if ct != nil || secrets != nil {
		t.Error("no partial output may be returned")
	}
}

func TestBadKEMShare(t *testing.T) {
	a, _ := hybrid.New(kem.L2, false)
	kp, _ := a.GenerateKeyPair()

	pub := kp.PublicKey()
	pub.KEM = pub.KEM[:100]

	_, _, err := a.Encapsulate(pub)
	if !errors.Is(err, qerrors.ErrAgreementFailed) || !errors.Is(err, qerrors.ErrInvalidPublicKey) {
		t.Fatalf("expected agreement failure wrapping ErrInvalidPublicKey, got %v", err)
	}
}

func TestMalformedCiphertext(t *testing.T) {
	a, _ := hybrid.New(kem.L1, true)
	kp, _ := a.GenerateKeyPair()

	ct, _, err := a.Encapsulate(kp.PublicKey())
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}
	ct.KEM = ct.KEM[1:]

	if _, err := a.Decapsulate(ct, kp); !errors.Is(err, qerrors.ErrMalformedCiphertext) {
		t.Fatalf("expected ErrMalformedCiphertext, got %v", err)
	}
}

func TestTamperedCiphertextDiverges(t *testing.T) {
	a, _ := hybrid.New(kem.L2, true)
	kp, _ := a.GenerateKeyPair()

	ct, respSecrets, err := a.Encapsulate(kp.PublicKey())
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}
	ct.KEM[10] ^= 0x01

	initSecrets, err := a.Decapsulate(ct, kp)
	if err != nil {
		t.Fatalf("tampered KEM ciphertext should use implicit rejection, got %v", err)
	}

	th := make([]byte, 32)
	s1, _ := initSecrets.Combine(th)
	s2, _ := respSecrets.Combine(th)
	if bytes.Equal(s1, s2) {
		t.Error("tampered ciphertext should produce different seeds")
	}
}

func TestCombineWipesSecrets(t *testing.T) {
	a, _ := hybrid.New(kem.L1, true)
	kp, _ := a.GenerateKeyPair()
	_, secrets, err := a.Encapsulate(kp.PublicKey())
	if err != nil {
		t.Fatalf("Encapsulate failed: %v", err)
	}

	if _, err := secrets.Combine(make([]byte, 32)); err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if _, err := secrets.Combine(make([]byte, 32)); !errors.Is(err, qerrors.ErrAgreementFailed) {
		t.Errorf("second Combine should fail, got %v", err)
	}
}

func TestEntropyFailure(t *testing.T) {
	a, err := hybrid.New(kem.L2, true, hybrid.WithRand(failingReader{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	kp, err := a.GenerateKeyPair()
	if !errors.Is(err, qerrors.ErrInsufficientEntropy) {
		t.Fatalf("expected ErrInsufficientEntropy, got %v", err)
	}
	if !qerrors.IsFatal(err) {
		t.Error("entropy failure should be fatal")
	}
	if kp != nil {
		t.Error("no key pair may be returned")
	}
}
