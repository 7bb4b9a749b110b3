package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

func sizes(t *testing.T, level constants.Level) constants.LevelParams {
	t.Helper()
	p, ok := level.Params()
	if !ok {
		t.Fatalf("no params for %v", level)
	}
	return p
}

func testClientHello(t *testing.T, level constants.Level, hybrid bool) *protocol.ClientHello {
	t.Helper()
	m := &protocol.ClientHello{
		Version:      protocol.Current,
		Random:       crypto.MustSecureRandomBytes(32),
		Level:        level,
		Hybrid:       hybrid,
		KEMPublicKey: crypto.MustSecureRandomBytes(sizes(t, level).PublicKeySize),
		CipherSuites: protocol.SupportedCipherSuites(),
	}
	if hybrid {
		m.X25519PublicKey = crypto.MustSecureRandomBytes(32)
	}
	return m
}

func testServerHello(t *testing.T, level constants.Level, hybrid bool) *protocol.ServerHello {
	t.Helper()
	m := &protocol.ServerHello{
		Version:       protocol.Current,
		Random:        crypto.MustSecureRandomBytes(32),
		SessionID:     crypto.MustSecureRandomBytes(16),
		Level:         level,
		Hybrid:        hybrid,
		KEMCiphertext: crypto.MustSecureRandomBytes(sizes(t, level).CiphertextSize),
		CipherSuite:   constants.CipherSuiteChaCha20Poly1305,
	}
	if hybrid {
		m.X25519Ephemeral = crypto.MustSecureRandomBytes(32)
	}
	return m
}

// --- ClientHello Tests ---

func TestEncodeDecodeClientHello(t *testing.T) {
	codec := protocol.NewCodec()

	for _, level := range []constants.Level{constants.LevelL1, constants.LevelL2, constants.LevelL3} {
		for _, hybrid := range []bool{true, false} {
			original := testClientHello(t, level, hybrid)

			encoded, err := codec.EncodeClientHello(original)
			if err != nil {
				t.Fatalf("EncodeClientHello failed: %v", err)
			}
			if protocol.MessageType(encoded[0]) != protocol.MessageTypeClientHello {
				t.Errorf("wrong message type: got %d", encoded[0])
			}

			decoded, err := codec.DecodeClientHello(encoded)
			if err != nil {
				t.Fatalf("DecodeClientHello failed: %v", err)
			}
			if decoded.Version != original.Version || decoded.Level != level || decoded.Hybrid != hybrid {
				t.Errorf("header fields mismatch: %+v", decoded)
			}
			if !bytes.Equal(decoded.Random, original.Random) {
				t.Error("random mismatch")
			}
			if !bytes.Equal(decoded.KEMPublicKey, original.KEMPublicKey) {
				t.Error("KEM public key mismatch")
			}
			if !bytes.Equal(decoded.X25519PublicKey, original.X25519PublicKey) {
				t.Error("X25519 public key mismatch")
			}
			if len(decoded.CipherSuites) != len(original.CipherSuites) {
				t.Errorf("cipher suites count mismatch: got %d", len(decoded.CipherSuites))
			}
		}
	}
}

func TestClientHelloValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *protocol.ClientHello)
		wantErr error
	}{
		{"valid", func(m *protocol.ClientHello) {}, nil},
		{"bad version", func(m *protocol.ClientHello) { m.Version = protocol.Version{Major: 2} }, qerrors.ErrUnsupportedVersion},
		{"short random", func(m *protocol.ClientHello) { m.Random = m.Random[:16] }, qerrors.ErrInvalidMessage},
		{"unknown level", func(m *protocol.ClientHello) { m.Level = 7 }, qerrors.ErrAlgorithmMismatch},
		{"kem key for other level", func(m *protocol.ClientHello) { m.Level = constants.LevelL3 }, qerrors.ErrInvalidPublicKey},
		{"missing x25519", func(m *protocol.ClientHello) { m.X25519PublicKey = nil }, qerrors.ErrInvalidPublicKey},
		{"x25519 without hybrid", func(m *protocol.ClientHello) { m.Hybrid = false }, qerrors.ErrInvalidMessage},
		{"no suites", func(m *protocol.ClientHello) { m.CipherSuites = nil }, qerrors.ErrInvalidMessage},
		{"unknown suite", func(m *protocol.ClientHello) {
			m.CipherSuites = []constants.CipherSuite{0x9999}
		}, qerrors.ErrUnsupportedCipherSuite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testClientHello(t, constants.LevelL2, true)
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeClientHelloInvalidInputs(t *testing.T) {
	codec := protocol.NewCodec()
	valid, err := codec.EncodeClientHello(testClientHello(t, constants.LevelL1, true))
	if err != nil {
		t.Fatalf("EncodeClientHello failed: %v", err)
	}

	badFlags := append([]byte(nil), valid...)
	badFlags[protocol.HeaderSize+2+32+1] = 0x80

	trailing := append(append([]byte(nil), valid...), 0x00)
	binary.BigEndian.PutUint32(trailing[1:5], uint32(len(trailing)-protocol.HeaderSize))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", valid[:protocol.HeaderSize]},
		{"wrong type", append([]byte{byte(protocol.MessageTypeServerHello)}, valid[1:]...)},
		{"truncated", valid[:len(valid)-3]},
		{"bad flags", badFlags},
		{"trailing bytes", trailing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.DecodeClientHello(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- ServerHello Tests ---

func TestEncodeDecodeServerHello(t *testing.T) {
	codec := protocol.NewCodec()
	original := testServerHello(t, constants.LevelL3, true)

	encoded, err := codec.EncodeServerHello(original)
	if err != nil {
		t.Fatalf("EncodeServerHello failed: %v", err)
	}
	decoded, err := codec.DecodeServerHello(encoded)
	if err != nil {
		t.Fatalf("DecodeServerHello failed: %v", err)
	}

	if !bytes.Equal(decoded.SessionID, original.SessionID) {
		t.Error("session id mismatch")
	}
	if !bytes.Equal(decoded.KEMCiphertext, original.KEMCiphertext) {
		t.Error("ciphertext mismatch")
	}
	if !bytes.Equal(decoded.X25519Ephemeral, original.X25519Ephemeral) {
		t.Error("ephemeral mismatch")
	}
	if decoded.CipherSuite != original.CipherSuite {
		t.Errorf("cipher suite = %v, want %v", decoded.CipherSuite, original.CipherSuite)
	}
}

func TestServerHelloValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *protocol.ServerHello)
		wantErr error
	}{
		{"valid", func(m *protocol.ServerHello) {}, nil},
		{"short session id", func(m *protocol.ServerHello) { m.SessionID = m.SessionID[:8] }, qerrors.ErrInvalidMessage},
		{"short ciphertext", func(m *protocol.ServerHello) { m.KEMCiphertext = m.KEMCiphertext[1:] }, qerrors.ErrMalformedCiphertext},
		{"bad suite", func(m *protocol.ServerHello) { m.CipherSuite = 0 }, qerrors.ErrUnsupportedCipherSuite},
		{"missing ephemeral", func(m *protocol.ServerHello) { m.X25519Ephemeral = nil }, qerrors.ErrInvalidPublicKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testServerHello(t, constants.LevelL2, true)
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// --- Finished Tests ---

func TestEncodeDecodeFinished(t *testing.T) {
	codec := protocol.NewCodec()
	verify := crypto.MustSecureRandomBytes(32)

	for _, mt := range []protocol.MessageType{protocol.MessageTypeClientFinished, protocol.MessageTypeServerFinished} {
		encoded, err := codec.EncodeFinished(mt, verify)
		if err != nil {
			t.Fatalf("EncodeFinished(%v) failed: %v", mt, err)
		}
		decoded, err := codec.DecodeFinished(mt, encoded)
		if err != nil {
			t.Fatalf("DecodeFinished(%v) failed: %v", mt, err)
		}
		if !bytes.Equal(decoded, verify) {
			t.Errorf("%v verify data mismatch", mt)
		}
	}

	cf, _ := codec.EncodeFinished(protocol.MessageTypeClientFinished, verify)
	if _, err := codec.DecodeFinished(protocol.MessageTypeServerFinished, cf); err == nil {
		t.Error("decoding a ClientFinished as ServerFinished should fail")
	}
	if _, err := codec.EncodeFinished(protocol.MessageTypeClientFinished, verify[:31]); err == nil {
		t.Error("short verify data should fail")
	}
	if _, err := codec.EncodeFinished(protocol.MessageTypeData, verify); err == nil {
		t.Error("non-Finished type should fail")
	}
}

// --- Data / Close / Alert Tests ---

func TestEncodeDecodeData(t *testing.T) {
	codec := protocol.NewCodec()
	sealed := crypto.MustSecureRandomBytes(100)

	encoded, err := codec.EncodeData(sealed)
	if err != nil {
		t.Fatalf("EncodeData failed: %v", err)
	}
	decoded, err := codec.DecodeData(encoded)
	if err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if !bytes.Equal(decoded, sealed) {
		t.Error("payload mismatch")
	}

	if _, err := codec.EncodeData(make([]byte, protocol.MaxMessageSize+1)); !errors.Is(err, qerrors.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := codec.EncodeData(make([]byte, constants.MinSealedSize-1)); !errors.Is(err, qerrors.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestEncodeClose(t *testing.T) {
	codec := protocol.NewCodec()
	msg := codec.EncodeClose()
	mt, err := codec.GetMessageType(msg)
	if err != nil || mt != protocol.MessageTypeClose {
		t.Fatalf("GetMessageType = %v, %v", mt, err)
	}
	if len(msg) != protocol.HeaderSize {
		t.Errorf("close length = %d", len(msg))
	}
}

func TestEncodeDecodeAlert(t *testing.T) {
	codec := protocol.NewCodec()
	encoded := codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertCodeTranscriptMismatch, "verify_data mismatch")

	alert, err := codec.DecodeAlert(encoded)
	if err != nil {
		t.Fatalf("DecodeAlert failed: %v", err)
	}
	if alert.Level != protocol.AlertLevelFatal || alert.Code != protocol.AlertCodeTranscriptMismatch {
		t.Errorf("alert = %+v", alert)
	}
	if alert.Description != "verify_data mismatch" {
		t.Errorf("description = %q", alert.Description)
	}
	if !errors.Is(alert.Code.Err(), qerrors.ErrTranscriptMismatch) {
		t.Errorf("Err() = %v", alert.Code.Err())
	}
}

func TestEncodeAlertDescriptionTruncation(t *testing.T) {
	codec := protocol.NewCodec()
	encoded := codec.EncodeAlert(protocol.AlertLevelWarning, protocol.AlertCodeInternalError, string(bytes.Repeat([]byte("x"), 400)))
	alert, err := codec.DecodeAlert(encoded)
	if err != nil {
		t.Fatalf("DecodeAlert failed: %v", err)
	}
	if len(alert.Description) != 255 {
		t.Errorf("description length = %d, want 255", len(alert.Description))
	}
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.AlertCode
	}{
		{qerrors.NewProtocolError("handshake", qerrors.ErrAlgorithmMismatch), protocol.AlertCodeAlgorithmMismatch},
		{qerrors.ErrTranscriptMismatch, protocol.AlertCodeTranscriptMismatch},
		{qerrors.ErrMalformedCiphertext, protocol.AlertCodeBadCiphertext},
		{qerrors.ErrReplayDetected, protocol.AlertCodeDecryptionFailed},
		{qerrors.ErrRateLimited, protocol.AlertCodeRateLimited},
		{errors.New("other"), protocol.AlertCodeInternalError},
	}
	for _, tt := range tests {
		if got := protocol.AlertFor(tt.err); got != tt.want {
			t.Errorf("AlertFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// --- ReadMessage Tests ---

func TestReadMessageMultiple(t *testing.T) {
	codec := protocol.NewCodec()

	var buf bytes.Buffer
	alert := codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertCodeHandshakeFailure, "x")
	closeMsg := codec.EncodeClose()
	buf.Write(alert)
	buf.Write(closeMsg)

	first, err := codec.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !bytes.Equal(first, alert) {
		t.Error("first message mismatch")
	}
	second, err := codec.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !bytes.Equal(second, closeMsg) {
		t.Error("second message mismatch")
	}
	if _, err := codec.ReadMessage(&buf); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	codec := protocol.NewCodec()
	header := make([]byte, protocol.HeaderSize)
	header[0] = byte(protocol.MessageTypeData)
	binary.BigEndian.PutUint32(header[1:], protocol.MaxMessageSize+1)

	if _, err := codec.ReadMessage(bytes.NewReader(header)); !errors.Is(err, qerrors.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	codec := protocol.NewCodec()
	msg := codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertCodeHandshakeFailure, "truncated")
	if _, err := codec.ReadMessage(bytes.NewReader(msg[:len(msg)-2])); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// --- Misc ---

func TestMessageTypeString(t *testing.T) {
	tests := map[protocol.MessageType]string{
		protocol.MessageTypeClientHello: "ClientHello",
		protocol.MessageTypeData:        "Data",
		protocol.MessageTypeAlert:       "Alert",
		protocol.MessageType(0x77):      "Unknown",
	}
	for mt, want := range tests {
		if got := mt.String(); got != want {
			t.Errorf("MessageType(%d).String() = %q, want %q", mt, got, want)
		}
	}
}

func TestVersion(t *testing.T) {
	if protocol.Current.String() != "1.0" {
		t.Errorf("Current.String() = %q", protocol.Current.String())
	}
	if !protocol.Current.IsCompatible(protocol.Version{Major: 1, Minor: 9}) {
		t.Error("same major version should be compatible")
	}
	if got := protocol.ParseVersion([]byte{1}); got != (protocol.Version{}) {
		t.Errorf("ParseVersion(short) = %v", got)
	}
}

func TestSelectCipherSuite(t *testing.T) {
	chacha := constants.CipherSuiteChaCha20Poly1305
	aes := constants.CipherSuiteAES256GCM

	got, ok := protocol.SelectCipherSuite([]constants.CipherSuite{chacha, aes}, []constants.CipherSuite{aes, chacha})
	if !ok || got != aes {
		t.Errorf("SelectCipherSuite = %v, %v, want responder preference %v", got, ok, aes)
	}
	if _, ok := protocol.SelectCipherSuite([]constants.CipherSuite{chacha}, []constants.CipherSuite{aes}); ok {
		t.Error("disjoint lists should not select a suite")
	}
	if protocol.PreferredCipherSuite() != aes {
		t.Error("AES-256-GCM should be preferred")
	}
}
