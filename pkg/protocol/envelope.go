// Requests and responses travel CBOR encoded inside Data records, with
// integer map keys.

package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// Request is the application request sealed by the client.
type Request struct {
	Method  string              `cbor:"1,keyasint"`
	Path    string              `cbor:"2,keyasint"`
	Headers map[string][]string `cbor:"3,keyasint,omitempty"`
	Body    []byte              `cbor:"4,keyasint,omitempty"`
}

// Response is the application response sealed by the server.
type Response struct {
	Status  int                 `cbor:"1,keyasint"`
	Headers map[string][]string `cbor:"2,keyasint,omitempty"`
	Body    []byte              `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 1024,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor dec mode: %v", err))
	}
}

// MarshalRequest encodes a request.
func MarshalRequest(r *Request) ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrInvalidMessage, err)
	}
	return b, nil
}

// UnmarshalRequest decodes a request.
func UnmarshalRequest(data []byte) (*Request, error) {
	var r Request
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrInvalidMessage, err)
	}
	if r.Method == "" {
		return nil, qerrors.ErrInvalidMessage
	}
	return &r, nil
}

// MarshalResponse encodes a response.
func MarshalResponse(r *Response) ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrInvalidMessage, err)
	}
	return b, nil
}

// UnmarshalResponse decodes a response.
func UnmarshalResponse(data []byte) (*Response, error) {
	var r Response
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrInvalidMessage, err)
	}
	return &r, nil
}
