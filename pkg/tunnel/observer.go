package tunnel

import (
	"context"
	"time"
)

// Rejection classifies an inbound record the session dropped.
type Rejection int

const (
	// RejectAuthentication covers a bad tag, a malformed nonce or a nonce
	// from the wrong direction.
	RejectAuthentication Rejection = iota
	// RejectReplay is a record that authenticated but whose counter was
	// already accepted.
	RejectReplay
)

func (r Rejection) String() string {
	switch r {
	case RejectAuthentication:
		return "authentication"
	case RejectReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Observer receives the events of one handshake and of the session it
// establishes. Callbacks run on the goroutine that caused them and must
// not block.
type Observer interface {
	// HandshakeStarted is called before the first flight. The returned
	// function is called once, with the session or with the error that
	// aborted the handshake.
	HandshakeStarted(ctx context.Context) (context.Context, func(*Session, error))
	// SessionClosed is called when the transport carrying s is closed.
	SessionClosed(s *Session)
	// Sealed reports one outbound record of n plaintext bytes.
	Sealed(n int, took time.Duration, err error)
	// Opened reports one inbound record of n sealed bytes.
	Opened(n int, took time.Duration, err error)
	Rejected(r Rejection)
	ProtocolError(err error)
}

// ObserverFactory builds a per-handshake observer.
type ObserverFactory func(role Role) Observer
