package client

import "time"

// EventType identifies a client status event.
type EventType int

const (
	EventHandshakeStarted EventType = iota + 1
	EventHandshakeCompleted
	EventHandshakeFailed
	EventSessionReused
	EventSessionEvicted
	EventFallback
	EventRehandshake
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventHandshakeStarted:
		return "handshake_started"
	case EventHandshakeCompleted:
		return "handshake_completed"
	case EventHandshakeFailed:
		return "handshake_failed"
	case EventSessionReused:
		return "session_reused"
	case EventSessionEvicted:
		return "session_evicted"
	case EventFallback:
		return "fallback"
	case EventRehandshake:
		return "rehandshake"
	default:
		return "unknown"
	}
}

// Event is a structured status notice delivered to Config.OnEvent.
type Event struct {
	Type     EventType
	Endpoint string
	Time     time.Time
	Err      error // set for failures, fallbacks and re-handshakes
}
