// Package httq provides quantum-safe HTTP-style requests over a hybrid
// ML-KEM + X25519 handshake.
//
// A client resolves an httq:// URL, runs one handshake per endpoint, and
// sends each request as a sealed CBOR envelope over the resulting session.
// Sessions are cached and reused until they expire or fail; a failed session
// is replaced by a fresh handshake within a bounded retry budget. With
// fallback enabled, transport failures and https:// URLs go over classical
// TLS instead, and the result says so.
//
// # Quick Start
//
// Client:
//
//	import "github.com/sara-star-quant/httq-go/pkg/client"
//
//	c, _ := client.New(client.DefaultConfig())
//	defer c.Close()
//	res, _ := c.Get(ctx, "httq://api.example.com:8443/status")
//	fmt.Println(res.Status, res.Algorithm, res.QuantumSafe)
//
// Server, wrapping an ordinary http.Handler:
//
//	import "github.com/sara-star-quant/httq-go/pkg/server"
//
//	srv, _ := server.New(server.DefaultConfig(), server.FromHTTP(mux))
//	log.Fatal(srv.ListenAndServe(":8443"))
//
// # Security Levels
//
//   - L1: ML-KEM-512 (NIST Category 1)
//   - L2: ML-KEM-768 (NIST Category 3, default)
//   - L3: ML-KEM-1024 (NIST Category 5)
//
// Hybrid mode, on by default, adds an X25519 exchange; the session seed is
// derived from both secrets and the handshake transcript, so it stays secret
// while either primitive holds.
//
// # Package Structure
//
//   - pkg/kem: ML-KEM key encapsulation at each level
//   - pkg/hybrid: hybrid ML-KEM + X25519 key agreement
//   - pkg/crypto: X25519, SHAKE-256 key derivation and counter-nonce AEADs
//   - pkg/selftest: power-on known-answer tests for the primitives
//   - pkg/protocol: wire messages, codec and request/response envelopes
//   - pkg/tunnel: handshake engine, sessions and sealed transport
//   - pkg/client: request client with session cache and fallback
//   - pkg/server: responder with rate limits and net/http adaptation
//   - pkg/config: YAML and environment configuration
//   - pkg/metrics: logging, Prometheus metrics, tracing and health checks
//   - cmd/httq: command-line client, responder and benchmarks
//
// # Testing
//
//	go test ./...                                          # All tests
//	go test -fuzz=FuzzDecodeClientHello ./pkg/protocol/    # Fuzz a decoder
//	go test -run TestKnownAnswers ./pkg/selftest           # Known Answer Tests
//	go test -bench=. ./pkg/kem ./pkg/hybrid ./pkg/tunnel   # Benchmarks
//	go test -tags fips ./...                               # FIPS build
//
// # References
//
//   - NIST FIPS 203: Module-Lattice-Based Key-Encapsulation Mechanism Standard
//   - RFC 7748: Elliptic Curves for Security
//   - NIST FIPS 202: SHA-3 Standard (SHAKE-256)
//   - RFC 8439: ChaCha20 and Poly1305
package httq
