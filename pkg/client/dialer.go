package client

import (
	"context"
	"net"
	"time"
)

// Dialer opens the byte stream a handshake runs over. *net.Dialer
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultDialer() Dialer {
	return &net.Dialer{KeepAlive: 30 * time.Second}
}
