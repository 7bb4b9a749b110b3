package crypto_test

import (
	"fmt"
	"testing"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
)

func BenchmarkSecureRandom32(b *testing.B) {
	buf := make([]byte, 32)
	for b.Loop() {
		_ = crypto.SecureRandom(buf)
	}
}

func BenchmarkX25519(b *testing.B) {
	alice, _ := crypto.GenerateX25519KeyPair()
	bob, _ := crypto.GenerateX25519KeyPair()
	for b.Loop() {
		if _, err := crypto.X25519(alice.PrivateKey, bob.PublicKey); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeriveKey32(b *testing.B) {
	input := make([]byte, 64)
	for b.Loop() {
		if _, err := crypto.DeriveKey("HTTQ-v1-Bench", input, 32); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTranscriptHash(b *testing.B) {
	hello := make([]byte, 1300)
	for b.Loop() {
		_ = crypto.TranscriptHash(hello, hello)
	}
}

func BenchmarkAEADSeal(b *testing.B) {
	for _, suite := range []constants.CipherSuite{constants.CipherSuiteAES256GCM, constants.CipherSuiteChaCha20Poly1305} {
		for _, size := range []int{64, 1024, 8192, 65536} {
			b.Run(fmt.Sprintf("%s/%d", suite, size), func(b *testing.B) {
				a, err := crypto.NewAEAD(suite, make([]byte, constants.AEADKeySize))
				if err != nil {
					b.Skip(err)
				}
				pt := make([]byte, size)
				b.SetBytes(int64(size))
				b.ReportAllocs()
				for b.Loop() {
					if _, err := a.Seal(pt, nil); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkAEADOpen(b *testing.B) {
	key := make([]byte, constants.AEADKeySize)
	sealer, _ := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	opener, _ := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	sealed, _ := sealer.Seal(make([]byte, 1024), nil)
	b.SetBytes(1024)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := opener.Open(sealed, nil); err != nil {
			b.Fatal(err)
		}
	}
}
