package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// Handler responds to one request received over an httq session.
type Handler interface {
	ServeHTTQ(ctx context.Context, req *protocol.Request) *protocol.Response
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

// ServeHTTQ calls f(ctx, req).
func (f HandlerFunc) ServeHTTQ(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f(ctx, req)
}

// Peer describes the session a request arrived on.
type Peer struct {
	RemoteAddr  string
	SessionID   string
	Level       string
	Hybrid      bool
	CipherSuite string
}

type peerKey struct{}

// PeerFromContext returns the peer of the request being served.
func PeerFromContext(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(Peer)
	return p, ok
}

func withPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// FromHTTP serves httq requests with an http.Handler. The handler sees the
// request path, headers and body; RemoteAddr is the peer address.
func FromHTTP(h http.Handler) Handler {
	return HandlerFunc(func(ctx context.Context, req *protocol.Request) *protocol.Response {
		r, err := http.NewRequestWithContext(ctx, req.Method, req.Path, bytes.NewReader(req.Body))
		if err != nil {
			return errorResponse(http.StatusBadRequest)
		}
		r.RequestURI = req.Path
		r.Header = http.Header(req.Headers).Clone()
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.ContentLength = int64(len(req.Body))
		if p, ok := PeerFromContext(ctx); ok {
			r.RemoteAddr = p.RemoteAddr
		}

		w := &responseWriter{header: make(http.Header)}
		h.ServeHTTP(w, r)
		if w.status == 0 {
			w.status = http.StatusOK
		}
		return &protocol.Response{
			Status:  w.status,
			Headers: w.header,
			Body:    w.body.Bytes(),
		}
	})
}

// responseWriter buffers an http.Handler's response.
type responseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func errorResponse(status int) *protocol.Response {
	return &protocol.Response{
		Status: status,
		Body:   []byte(http.StatusText(status)),
	}
}
