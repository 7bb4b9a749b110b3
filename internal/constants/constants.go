// Package constants defines security parameters and protocol constants for the
// HTTQ quantum-safe transport.
//
// Every lattice parameter set is a pure function of the security level; no
// other package carries its own copy of these numbers.
package constants

// Protocol version and identification
const (
	// ProtocolVersion is the current version of the HTTQ handshake protocol
	ProtocolVersion uint16 = 0x0001

	// ProtocolName is used for domain separation in key derivation
	ProtocolName = "HTTQ-v1"

	// SchemeQuantumSafe is the URL scheme routed through the handshake engine
	SchemeQuantumSafe = "httq"

	// SchemeClassical is the URL scheme routed to the classical fallback client
	SchemeClassical = "https"

	// DefaultPort is used when an httq:// URL carries no explicit port
	DefaultPort = "8443"
)

// Level identifies one of the supported security levels.
type Level uint8

// Supported security levels.
const (
	LevelL1 Level = 1
	LevelL2 Level = 2
	LevelL3 Level = 3
)

// LevelParams holds the fixed lattice parameters and encoded sizes of a level.
type LevelParams struct {
	Name           string
	Dimension      int // n, polynomial degree
	Modulus        int // q
	Rank           int // k, module rank
	SecurityBits   int
	PublicKeySize  int
	PrivateKeySize int
	CiphertextSize int
}

// levelTable maps each level onto its ML-KEM (NIST FIPS 203) parameter set.
//
//	L1 = ML-KEM-512  (NIST Category 1)
//	L2 = ML-KEM-768  (NIST Category 3)
//	L3 = ML-KEM-1024 (NIST Category 5)
var levelTable = map[Level]LevelParams{
	LevelL1: {
		Name:           "ML-KEM-512",
		Dimension:      256,
		Modulus:        3329,
		Rank:           2,
		SecurityBits:   128,
		PublicKeySize:  800,
		PrivateKeySize: 1632,
		CiphertextSize: 768,
	},
	LevelL2: {
		Name:           "ML-KEM-768",
		Dimension:      256,
		Modulus:        3329,
		Rank:           3,
		SecurityBits:   192,
		PublicKeySize:  1184,
		PrivateKeySize: 2400,
		CiphertextSize: 1088,
	},
	LevelL3: {
		Name:           "ML-KEM-1024",
		Dimension:      256,
		Modulus:        3329,
		Rank:           4,
		SecurityBits:   256,
		PublicKeySize:  1568,
		PrivateKeySize: 3168,
		CiphertextSize: 1568,
	},
}

// Params returns the parameter set for the level and whether the level is known.
func (l Level) Params() (LevelParams, bool) {
	p, ok := levelTable[l]
	return p, ok
}

// IsSupported returns true if the level has a parameter set.
func (l Level) IsSupported() bool {
	_, ok := levelTable[l]
	return ok
}

// String returns the level name (L1, L2, L3).
func (l Level) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	case LevelL3:
		return "L3"
	default:
		return "Unknown"
	}
}

// KEM shared secret size, identical for all levels
const KEMSharedSecretSize = 32

// X25519 Parameters (RFC 7748)
const (
	// X25519PublicKeySize is the size of X25519 public key in bytes
	X25519PublicKeySize = 32

	// X25519PrivateKeySize is the size of X25519 private key in bytes
	X25519PrivateKeySize = 32

	// X25519SharedSecretSize is the size of the X25519 shared secret in bytes
	X25519SharedSecretSize = 32
)

// Symmetric Encryption Parameters
const (
	// AEADKeySize is the size of AES-256 and ChaCha20 keys in bytes
	AEADKeySize = 32

	// AEADNonceSize is the size of the AEAD nonce in bytes (96 bits)
	AEADNonceSize = 12

	// AEADTagSize is the size of the authentication tag in bytes
	AEADTagSize = 16

	// NoncePrefixSize is the fixed zero prefix ahead of the 64-bit counter
	NoncePrefixSize = 4
)

// Key Derivation Parameters (SHAKE-256)
const (
	// KDFOutputSize is the default output size for key derivation in bytes
	KDFOutputSize = 32

	// TranscriptHashSize is the size of the handshake transcript hash in bytes
	TranscriptHashSize = 32

	// SessionSeedSize is the size of the hybrid agreement output
	SessionSeedSize = 32

	// VerifyDataSize is the size of Finished verify_data
	VerifyDataSize = 32

	// RandomSize is the size of hello randoms
	RandomSize = 32

	DomainSeparatorSessionSeed    = "HTTQ-v1-SessionSeed"
	DomainSeparatorClientToServer = "HTTQ-v1-c2s"
	DomainSeparatorServerToClient = "HTTQ-v1-s2c"
	DomainSeparatorClientFinished = "HTTQ-v1-ClientFinished"
	DomainSeparatorServerFinished = "HTTQ-v1-ServerFinished"
	DomainSeparatorKEMSelfTest    = "HTTQ-v1-KEM-PCT"

	// DirectionLabelC2S and DirectionLabelS2C are bound into each sealed message
	DirectionLabelC2S = "c2s"
	DirectionLabelS2C = "s2c"
)

// Session Parameters
const (
	// SessionIDSize is the size of session identifiers in bytes
	SessionIDSize = 16

	// MaxMessagesPerDirection bounds the nonce counter of one session direction
	MaxMessagesPerDirection = 1 << 32

	// ReplayWindowSize is the number of counters tracked below the highest seen
	ReplayWindowSize = 64

	// DefaultSessionTTLSeconds is the default lifetime of a cached session
	DefaultSessionTTLSeconds = 600

	// DefaultHandshakeTimeoutSeconds bounds one handshake run
	DefaultHandshakeTimeoutSeconds = 10

	// MaxRehandshakeAttempts caps client-side re-handshakes per request
	MaxRehandshakeAttempts = 3
)

// Message Size Limits
const (
	// MaxMessageSize is the maximum size of a single protocol message payload
	MaxMessageSize = 65536

	// MaxPlaintextSize is the largest plaintext that fits a Data message
	MaxPlaintextSize = MaxMessageSize - AEADNonceSize - AEADTagSize

	// MinSealedSize is the minimum size of a valid sealed message
	MinSealedSize = AEADNonceSize + AEADTagSize
)

// CipherSuite identifiers
type CipherSuite uint16

const (
	// CipherSuiteAES256GCM uses AES-256-GCM for symmetric encryption
	CipherSuiteAES256GCM CipherSuite = 0x0001

	// CipherSuiteChaCha20Poly1305 uses ChaCha20-Poly1305 for symmetric encryption
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0002
)

// String returns a human-readable name for the cipher suite
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is supported
func (cs CipherSuite) IsSupported() bool {
	return cs == CipherSuiteAES256GCM || cs == CipherSuiteChaCha20Poly1305
}
