package selftest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/sara-star-quant/httq-go/pkg/kem"
)

func TestRun(t *testing.T) {
	r := Run()
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	if !r.KDF || !r.AESGCM || !r.ChaCha20Poly1305 || !r.Hybrid || !r.RNG {
		t.Errorf("result = %+v", r)
	}
	for _, l := range []kem.Level{kem.L1, kem.L2, kem.L3} {
		if !r.KEM[l] {
			t.Errorf("%s round trip not recorded as passed", l)
		}
	}
	if Run() != r {
		t.Error("Run should cache its result")
	}
	if err := Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestResultErr(t *testing.T) {
	r := &Result{Errors: []string{"KDF KAT: output mismatch", "RNG health: repeated output"}}
	err := r.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "KDF KAT") || !strings.Contains(err.Error(), "RNG health") {
		t.Errorf("Err() = %v", err)
	}
}

func TestKnownAnswers(t *testing.T) {
	if err := kdfKAT(); err != nil {
		t.Errorf("kdf: %v", err)
	}
	if err := aeadKAT(0x0001, katAESExpected); err != nil {
		t.Errorf("aes-gcm: %v", err)
	}
	if err := aeadKAT(0x0001, katChaExpected); err == nil {
		t.Error("AES-GCM matched the ChaCha20-Poly1305 vector")
	}
}

func TestSeedStreamDeterministic(t *testing.T) {
	a := make([]byte, 64)
	b := make([]byte, 64)
	_, _ = seedStream(kem.L2).Read(a)
	_, _ = seedStream(kem.L2).Read(b)
	if !bytes.Equal(a, b) {
		t.Error("seed stream differs between calls")
	}
	_, _ = seedStream(kem.L3).Read(b)
	if bytes.Equal(a, b) {
		t.Error("seed stream does not depend on level")
	}
}

func TestRNGHealth(t *testing.T) {
	tests := []struct {
		name    string
		src     []byte
		wantErr bool
	}{
		{"constant", bytes.Repeat([]byte{0x5a}, 64), true},
		{"zeros", make([]byte, 64), true},
		{"repeated", bytes.Repeat(seq(32), 2), true},
		{"short", seq(40), true},
		{"healthy", append(seq(32), seq(32)[1:]...), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			if tt.name == "healthy" {
				src = append(src, 0xff)
			}
			err := RNGHealth(bytes.NewReader(src))
			if (err != nil) != tt.wantErr {
				t.Errorf("RNGHealth() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := RNGHealth(iotest.ErrReader(errors.New("boom"))); err == nil {
		t.Error("failing reader passed")
	}
}

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
