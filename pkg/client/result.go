package client

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// Result is the outcome of one request.
type Result struct {
	// Status is the response status code.
	Status int

	// Data is the raw response body.
	Data []byte

	// Headers are the response headers.
	Headers map[string][]string

	// QuantumSafe reports whether the response actually travelled over an
	// httq session. It is false for every classical request, including a
	// fallback from an httq URL.
	QuantumSafe bool

	// SecurityBits is the KEM security level in bits, zero for classical.
	SecurityBits int

	// Algorithm names the KEM, e.g. "ML-KEM-768", or is empty for classical.
	Algorithm string

	// Hybrid reports whether X25519 was part of the key agreement.
	Hybrid bool

	// CipherSuite names the AEAD of the session, or is empty for classical.
	CipherSuite string

	// RequestID identifies the request in logs and traces.
	RequestID uuid.UUID
}

// JSON decodes Data into v.
func (r *Result) JSON(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return qerrors.NewInputError("response_body", fmt.Errorf("decode json: %w", err))
	}
	return nil
}
