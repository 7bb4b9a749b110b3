// Package selftest verifies the cryptographic primitives before they are
// used: known-answer tests for SHAKE-256 key derivation and both AEADs, a
// deterministic KEM round trip at every security level, a full hybrid
// agreement, and a health check of the random source.
//
// Run executes the tests once per process and caches the result. In FIPS
// builds a failure panics; otherwise the caller decides, and the server and
// client refuse to start.
package selftest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
	"github.com/sara-star-quant/httq-go/pkg/hybrid"
	"github.com/sara-star-quant/httq-go/pkg/kem"
)

// Domain separates the KDF known-answer test from protocol derivations.
const Domain = "HTTQ-v1-SelfTest"

var (
	katKey, _       = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	katPlaintext    = []byte("HTTQ-SELFTEST")
	katKDFExpected  = mustHex("53192aa915c08630bf6868e9b97f1da5ac113c4a27212ce12b501774ba61f822")
	katAESExpected  = mustHex("4253b4055af31f12e7d6767b8cfb26d439d00ecaee260165901d853038")
	katChaExpected  = mustHex("58b2f8659a4b4d14ffc20e5b7a25b4e8d3934136e88083a7cc1e32d9aa")
	katZeroNonce    = make([]byte, constants.AEADNonceSize)
	katKEMSeedLabel = []byte("HTTQ-v1-SelfTest-KEM")
)

// Result records which tests passed.
type Result struct {
	Passed bool
	KDF    bool
	AESGCM bool
	// ChaCha20Poly1305 is skipped, and reported true, in FIPS builds.
	ChaCha20Poly1305 bool
	KEM              map[kem.Level]bool
	Hybrid           bool
	RNG              bool
	Errors           []string
}

// Err returns nil if every test passed.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("self-test failed: %s", strings.Join(r.Errors, "; "))
}

var (
	result     *Result
	resultOnce sync.Once
)

// Run executes the self-tests on first use and returns the cached result.
func Run() *Result {
	resultOnce.Do(func() {
		result = run()
		if crypto.FIPSMode() && !result.Passed {
			panic("FIPS " + result.Err().Error())
		}
	})
	return result
}

// Check runs the self-tests and returns their error. It suits
// metrics.CheckFunc.
func Check() error {
	return Run().Err()
}

func run() *Result {
	r := &Result{Passed: true, KEM: make(map[kem.Level]bool)}
	record := func(name string, err error) bool {
		if err != nil {
			r.Passed = false
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", name, err))
			return false
		}
		return true
	}

	r.KDF = record("KDF KAT", kdfKAT())
	r.AESGCM = record("AES-256-GCM KAT", aeadKAT(constants.CipherSuiteAES256GCM, katAESExpected))
	r.ChaCha20Poly1305 = true
	if crypto.Approved(constants.CipherSuiteChaCha20Poly1305) {
		r.ChaCha20Poly1305 = record("ChaCha20-Poly1305 KAT", aeadKAT(constants.CipherSuiteChaCha20Poly1305, katChaExpected))
	}
	for _, l := range []kem.Level{kem.L1, kem.L2, kem.L3} {
		r.KEM[l] = record(l.String()+" round trip", kemRoundTrip(l))
	}
	r.Hybrid = record("hybrid agreement", hybridRoundTrip())
	r.RNG = record("RNG health", RNGHealth(crypto.Reader))
	return r
}

func kdfKAT() error {
	out, err := crypto.DeriveKey(Domain, katKey, 32)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, katKDFExpected) {
		return fmt.Errorf("output mismatch: got %x", out)
	}
	return nil
}

// aeadKAT seals under counter nonce zero, which must equal the all-zero
// nonce of the vector.
func aeadKAT(suite constants.CipherSuite, expected []byte) error {
	a, err := crypto.NewAEAD(suite, katKey)
	if err != nil {
		return err
	}
	sealed, err := a.Seal(katPlaintext, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(sealed[:constants.AEADNonceSize], katZeroNonce) {
		return errors.New("first nonce is not zero")
	}
	if !bytes.Equal(sealed[constants.AEADNonceSize:], expected) {
		return fmt.Errorf("ciphertext mismatch: got %x", sealed[constants.AEADNonceSize:])
	}
	opened, err := a.Open(sealed, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(opened, katPlaintext) {
		return errors.New("decrypt mismatch")
	}
	return nil
}

// kemRoundTrip derives the same key pair twice from a fixed seed stream,
// then checks encapsulation against it.
func kemRoundTrip(level kem.Level) error {
	keyPair := func() (*kem.KeyPair, error) {
		m, err := kem.New(level, kem.WithRand(seedStream(level)))
		if err != nil {
			return nil, err
		}
		return m.GenerateKeyPair()
	}

	kp1, err := keyPair()
	if err != nil {
		return err
	}
	defer kp1.Zeroize()
	kp2, err := keyPair()
	if err != nil {
		return err
	}
	defer kp2.Zeroize()
	if !bytes.Equal(kp1.PublicKey, kp2.PublicKey) {
		return errors.New("key generation is not deterministic in its seed")
	}

	m, err := kem.New(level)
	if err != nil {
		return err
	}
	es, err := m.Encapsulate(kp1.PublicKey)
	if err != nil {
		return err
	}
	defer es.Zeroize()
	ss, err := m.Decapsulate(es.Ciphertext, kp1.PrivateKey)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(ss)
	if !crypto.ConstantTimeCompare(ss, es.SharedSecret) {
		return errors.New("shared secret mismatch")
	}
	return nil
}

func hybridRoundTrip() error {
	a, err := hybrid.New(kem.DefaultLevel, true)
	if err != nil {
		return err
	}
	kp, err := a.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer kp.Zeroize()

	ct, sent, err := a.Encapsulate(kp.PublicKey())
	if err != nil {
		return err
	}
	defer sent.Zeroize()
	got, err := a.Decapsulate(ct, kp)
	if err != nil {
		return err
	}
	defer got.Zeroize()

	transcript := crypto.TranscriptHash(katPlaintext)
	s1, err := sent.Combine(transcript)
	if err != nil {
		return err
	}
	s2, err := got.Combine(transcript)
	if err != nil {
		return err
	}
	defer crypto.ZeroizeMultiple(s1, s2)
	if !crypto.ConstantTimeCompare(s1, s2) {
		return errors.New("session seed mismatch")
	}
	return nil
}

// RNGHealth reads two samples from r and rejects short reads, all-zero or
// constant samples, and repeated output.
func RNGHealth(r io.Reader) error {
	var s1, s2 [32]byte
	if err := crypto.SecureRandomFrom(r, s1[:]); err != nil {
		return err
	}
	if err := crypto.SecureRandomFrom(r, s2[:]); err != nil {
		return err
	}
	for i, s := range [][]byte{s1[:], s2[:]} {
		if bytes.Count(s, s[:1]) == len(s) {
			return fmt.Errorf("sample %d has no variation", i+1)
		}
	}
	if bytes.Equal(s1[:], s2[:]) {
		return errors.New("repeated output")
	}
	return nil
}

// seedStream is an endless deterministic byte stream for level.
func seedStream(level kem.Level) io.Reader {
	h := sha3.NewShake256()
	_, _ = h.Write(katKEMSeedLabel)
	_, _ = h.Write([]byte{byte(level)})
	return h
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
