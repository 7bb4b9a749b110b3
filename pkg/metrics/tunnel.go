package metrics

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// TunnelObserver feeds the events of one handshake and its session into a
// Collector, a Tracer and a Logger.
type TunnelObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	endpoint  string
	role      tunnel.Role
}

var _ tunnel.Observer = (*TunnelObserver)(nil)

// TunnelObserverConfig configures a TunnelObserver. Nil fields fall back to
// the process-wide collector, tracer and logger.
type TunnelObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	Endpoint  string
	Role      tunnel.Role
}

// NewTunnelObserver returns an observer for one handshake.
func NewTunnelObserver(cfg TunnelObserverConfig) *TunnelObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	fields := Fields{"role": cfg.Role.String()}
	if cfg.Endpoint != "" {
		fields["endpoint"] = cfg.Endpoint
	}
	return &TunnelObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("tunnel").With(fields),
		endpoint:  cfg.Endpoint,
		role:      cfg.Role,
	}
}

// ObserverFactory builds one TunnelObserver per handshake, all sharing
// collector, tracer and logger.
func ObserverFactory(collector *Collector, tracer Tracer, logger *Logger) tunnel.ObserverFactory {
	return func(role tunnel.Role) tunnel.Observer {
		return NewTunnelObserver(TunnelObserverConfig{
			Collector: collector,
			Tracer:    tracer,
			Logger:    logger,
			Role:      role,
		})
	}
}

// SessionID shortens a session identifier for logs and span attributes.
func SessionID(id []byte) string {
	return hex.EncodeToString(id[:min(8, len(id))])
}

// HandshakeStarted opens the handshake span. The returned function records
// latency, counts the session or the failure, and tags subsequent log lines
// with the session identifier.
func (o *TunnelObserver) HandshakeStarted(ctx context.Context) (context.Context, func(*tunnel.Session, error)) {
	name, kind := SpanHandshakeInitiator, SpanKindClient
	if o.role == tunnel.RoleResponder {
		name, kind = SpanHandshakeResponder, SpanKindServer
	}
	attrs := WithAttributes(AttrRole.String(o.role.String()))
	if o.endpoint != "" {
		attrs = WithAttributes(AttrRole.String(o.role.String()), AttrEndpoint.String(o.endpoint))
	}
	ctx, end := o.tracer.StartSpan(ctx, name, WithSpanKind(kind), attrs)
	start := time.Now()

	return ctx, func(s *tunnel.Session, err error) {
		took := time.Since(start)
		o.collector.RecordHandshakeLatency(took)
		if err != nil {
			o.collector.SessionFailed()
			o.logger.Debug("handshake aborted", Fields{
				"error": err.Error(),
				"kind":  errorKind(err),
				"took":  took.String(),
			})
			end(err)
			return
		}
		o.collector.SessionStarted()
		o.logger = o.logger.With(Fields{"session_id": SessionID(s.ID)})
		o.logger.Debug("handshake completed", Fields{
			"level":        s.Algorithm.String(),
			"hybrid":       s.Hybrid,
			"cipher_suite": s.CipherSuite.String(),
			"took":         took.String(),
		})
		end(nil)
	}
}

// SessionClosed counts the session as ended and logs its traffic totals.
func (o *TunnelObserver) SessionClosed(s *tunnel.Session) {
	o.collector.SessionEnded()
	st := s.Stats()
	o.logger.Debug("session closed", Fields{
		"bytes_sent":     st.BytesSent,
		"bytes_received": st.BytesReceived,
		"records_sent":   st.PacketsSent,
		"records_recv":   st.PacketsRecv,
		"duration":       st.Duration.String(),
	})
}

// Sealed records one outbound record.
func (o *TunnelObserver) Sealed(n int, took time.Duration, err error) {
	o.collector.RecordEncryptLatency(took)
	if err != nil {
		o.collector.RecordEncryptError()
		o.logger.Warn("seal failed", Fields{"error": err.Error()})
		return
	}
	o.collector.RecordBytesSent(uint64(n))
	o.collector.RecordPacketSent()
}

// Opened records one inbound record. Rejections are logged by Rejected.
func (o *TunnelObserver) Opened(n int, took time.Duration, err error) {
	o.collector.RecordDecryptLatency(took)
	if err != nil {
		o.collector.RecordDecryptError()
		return
	}
	o.collector.RecordBytesReceived(uint64(n))
	o.collector.RecordPacketReceived()
}

// Rejected counts a dropped inbound record by reason.
func (o *TunnelObserver) Rejected(r tunnel.Rejection) {
	switch r {
	case tunnel.RejectReplay:
		o.collector.RecordReplayBlocked()
	default:
		o.collector.RecordAuthFailure()
	}
	o.logger.Warn("record rejected", Fields{"reason": r.String()})
}

// ProtocolError counts a framing or negotiation error.
func (o *TunnelObserver) ProtocolError(err error) {
	o.collector.RecordProtocolError()
	o.logger.Warn("protocol error", Fields{"error": err.Error(), "kind": errorKind(err)})
}
