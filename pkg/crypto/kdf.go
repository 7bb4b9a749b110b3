// Every derivation is SHAKE-256 over a domain label followed by its inputs,
// each prefixed with its 4-byte big-endian length, so two different input
// lists never hash the same bytes.
//
//	session_seed = SHAKE-256("HTTQ-v1-SessionSeed", [x25519_secret] || kem_secret || transcript_hash)
//	c2s_key      = SHAKE-256("HTTQ-v1-c2s", session_seed || session_id)
//	s2c_key      = SHAKE-256("HTTQ-v1-s2c", session_seed || session_id)
//	verify_data  = SHAKE-256(finished_label, session_seed || transcript_hash)

package crypto

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// maxDeriveOutput bounds a single derivation.
const maxDeriveOutput = 1 << 20

// DeriveKey derives a key using SHAKE-256 with domain separation.
//
// The derivation follows the construction:
//
//	output = SHAKE-256(
//	    domain_separator_length || domain_separator ||
//	    input_length || input,
//	    output_length
//	)
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDeriveOutput {
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))
	writePrefixed(h, input)

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails
	return output, nil
}

// DeriveKeyMultiple derives a key from multiple inputs with domain separation.
// The number of inputs is absorbed ahead of the inputs themselves.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDeriveOutput {
		return nil, qerrors.NewCryptoError("DeriveKeyMultiple", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inputs)))
	_, _ = h.Write(lenBuf[:])

	for _, input := range inputs {
		writePrefixed(h, input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output)
	return output, nil
}

// TranscriptHash computes a SHA3-256 hash of the handshake transcript.
// Changing, reordering, or re-splitting any component changes the hash.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New256()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(components)))
	h.Write(lenBuf[:])

	for _, component := range components {
		writePrefixed(h, component)
	}

	return h.Sum(nil)
}

// Transcript accumulates handshake messages in order and hashes them on demand.
type Transcript struct {
	messages [][]byte
}

// Append records a copy of msg.
func (t *Transcript) Append(msg []byte) {
	t.messages = append(t.messages, append([]byte(nil), msg...))
}

// Sum returns the hash of all messages appended so far.
func (t *Transcript) Sum() []byte {
	return TranscriptHash(t.messages...)
}

// Reset drops all recorded messages.
func (t *Transcript) Reset() {
	for _, m := range t.messages {
		Zeroize(m)
	}
	t.messages = nil
}

// DeriveSessionSeed combines the agreement secrets into the session seed.
//
// classicalSecret is nil when hybrid mode is off; the seed then depends on
// the KEM secret and transcript only. If either secret is set, it must have
// the exact expected size.
func DeriveSessionSeed(classicalSecret, kemSecret, transcriptHash []byte) ([]byte, error) {
	if classicalSecret != nil && len(classicalSecret) != constants.X25519SharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveSessionSeed", qerrors.ErrInvalidKeySize)
	}
	if len(kemSecret) != constants.KEMSharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveSessionSeed", qerrors.ErrInvalidKeySize)
	}
	if len(transcriptHash) != constants.TranscriptHashSize {
		return nil, qerrors.NewCryptoError("DeriveSessionSeed", qerrors.ErrInvalidKeySize)
	}

	inputs := [][]byte{kemSecret, transcriptHash}
	if classicalSecret != nil {
		inputs = [][]byte{classicalSecret, kemSecret, transcriptHash}
	}
	return DeriveKeyMultiple(constants.DomainSeparatorSessionSeed, inputs, constants.SessionSeedSize)
}

// DeriveDirectionalKeys derives the client-to-server and server-to-client
// traffic keys from the session seed. The two labels guarantee the
// directions never share key material.
func DeriveDirectionalKeys(sessionSeed, sessionID []byte) (c2s, s2c []byte, err error) {
	if len(sessionSeed) != constants.SessionSeedSize {
		return nil, nil, qerrors.NewCryptoError("DeriveDirectionalKeys", qerrors.ErrInvalidKeySize)
	}

	c2s, err = DeriveKeyMultiple(constants.DomainSeparatorClientToServer,
		[][]byte{sessionSeed, sessionID}, constants.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}
	s2c, err = DeriveKeyMultiple(constants.DomainSeparatorServerToClient,
		[][]byte{sessionSeed, sessionID}, constants.AEADKeySize)
	if err != nil {
		Zeroize(c2s)
		return nil, nil, err
	}
	return c2s, s2c, nil
}

// DeriveVerifyData computes Finished verify_data for the given label
// (DomainSeparatorClientFinished or DomainSeparatorServerFinished).
func DeriveVerifyData(label string, sessionSeed, transcriptHash []byte) ([]byte, error) {
	if len(sessionSeed) != constants.SessionSeedSize {
		return nil, qerrors.NewCryptoError("DeriveVerifyData", qerrors.ErrInvalidKeySize)
	}
	return DeriveKeyMultiple(label, [][]byte{sessionSeed, transcriptHash}, constants.VerifyDataSize)
}

// writePrefixed absorbs a 4-byte big-endian length followed by b.
func writePrefixed(w io.Writer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	_, _ = w.Write(lenBuf[:])
	_, _ = w.Write(b)
}
