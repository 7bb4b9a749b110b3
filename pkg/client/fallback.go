package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/version"
)

// ClassicalResponse is the reply of a classical request.
type ClassicalResponse struct {
	Status  int
	Body    []byte
	Headers map[string][]string
}

// ClassicalClient performs requests over classical TLS. It is only used
// when fallback is enabled.
type ClassicalClient interface {
	Request(ctx context.Context, method, url string, body []byte, headers map[string][]string) (*ClassicalResponse, error)
}

// HTTPFallback adapts an *http.Client to ClassicalClient.
type HTTPFallback struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPFallback wraps c. A nil client uses http.DefaultClient.
func NewHTTPFallback(c *http.Client) *HTTPFallback {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPFallback{client: c, maxBody: 16 * constants.MaxMessageSize}
}

// Request performs one HTTP request. Network failures, and response bodies
// over the size limit, are TransportErrors.
func (f *HTTPFallback) Request(ctx context.Context, method, url string, body []byte, headers map[string][]string) (*ClassicalResponse, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, qerrors.NewInputError("url", fmt.Errorf("%w: %w", qerrors.ErrInvalidURL, err))
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, qerrors.NewTransportError("fallback", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, qerrors.NewTransportError("fallback", err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, qerrors.NewTransportError("fallback", qerrors.ErrMessageTooLarge)
	}
	return &ClassicalResponse{
		Status:  resp.StatusCode,
		Body:    data,
		Headers: resp.Header,
	}, nil
}
