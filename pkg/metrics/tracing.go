package metrics

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
)

// Tracer starts spans around handshakes, requests and fallbacks.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder ends a span; a non-nil error marks it failed.
type SpanEnder func(err error)

// SpanOption configures a span at start.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

func newSpanConfig(opts []SpanOption) spanConfig {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Span kinds used by httq.
const (
	SpanKindInternal = trace.SpanKindInternal
	SpanKindServer   = trace.SpanKindServer
	SpanKindClient   = trace.SpanKindClient
)

// WithSpanKind sets the span kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes adds attributes to the span.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) { c.attrs = append(c.attrs, attrs...) }
}

// Span names.
const (
	SpanHandshakeInitiator = "httq.handshake.initiator"
	SpanHandshakeResponder = "httq.handshake.responder"
	SpanRequest            = "httq.request"
	SpanFallback           = "httq.fallback"
	SpanServe              = "httq.serve"
)

// Attribute keys.
const (
	AttrEndpoint    = attribute.Key("httq.endpoint")
	AttrRole        = attribute.Key("httq.role")
	AttrSessionID   = attribute.Key("httq.session_id")
	AttrLevel       = attribute.Key("httq.level")
	AttrHybrid      = attribute.Key("httq.hybrid")
	AttrCipherSuite = attribute.Key("httq.cipher_suite")
	AttrErrorKind   = attribute.Key("httq.error_kind")
	AttrMethod      = attribute.Key("http.request.method")
	AttrPath        = attribute.Key("url.path")
)

func errorKind(err error) string {
	return qerrors.KindOf(err).String()
}

// NoOpTracer discards every span.
type NoOpTracer struct{}

// StartSpan returns ctx unchanged.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// Span is a finished span kept by a MemoryTracer.
type Span struct {
	Name       string
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
	Start      time.Time
	End        time.Time
	Err        error
	Context    trace.SpanContext
	Parent     trace.SpanID // zero for a root span
}

// Attr returns the value of the last attribute set under key.
func (s Span) Attr(key attribute.Key) (attribute.Value, bool) {
	for i := len(s.Attributes) - 1; i >= 0; i-- {
		if s.Attributes[i].Key == key {
			return s.Attributes[i].Value, true
		}
	}
	return attribute.Value{}, false
}

// MemoryTracer keeps finished spans in memory. Span contexts propagate
// through ctx the same way OpenTelemetry's do, so parents recorded by one
// tracer are visible to the other.
type MemoryTracer struct {
	mu    sync.Mutex
	spans []Span
}

// NewMemoryTracer returns an empty MemoryTracer.
func NewMemoryTracer() *MemoryTracer {
	return &MemoryTracer{}
}

// StartSpan starts a span whose trace ID is inherited from ctx when ctx
// already carries a span.
func (t *MemoryTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)

	scc := trace.SpanContextConfig{TraceFlags: trace.FlagsSampled}
	_, _ = rand.Read(scc.SpanID[:])
	var parentID trace.SpanID
	if parent := trace.SpanContextFromContext(ctx); parent.IsValid() {
		scc.TraceID = parent.TraceID()
		parentID = parent.SpanID()
	} else {
		_, _ = rand.Read(scc.TraceID[:])
	}
	sc := trace.NewSpanContext(scc)

	span := Span{
		Name:       name,
		Kind:       cfg.kind,
		Attributes: cfg.attrs,
		Start:      time.Now(),
		Context:    sc,
		Parent:     parentID,
	}
	var ended atomic.Bool
	return trace.ContextWithSpanContext(ctx, sc), func(err error) {
		if !ended.CompareAndSwap(false, true) {
			return
		}
		span.End = time.Now()
		span.Err = err
		t.mu.Lock()
		t.spans = append(t.spans, span)
		t.mu.Unlock()
	}
}

// Spans returns the finished spans in the order they ended.
func (t *MemoryTracer) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Reset drops every finished span.
func (t *MemoryTracer) Reset() {
	t.mu.Lock()
	t.spans = nil
	t.mu.Unlock()
}

type tracerBox struct{ Tracer }

var globalTracer atomic.Pointer[tracerBox]

func init() {
	globalTracer.Store(&tracerBox{NoOpTracer{}})
}

// SetTracer replaces the process-wide tracer. A nil tracer restores the
// no-op tracer.
func SetTracer(t Tracer) {
	if t == nil {
		t = NoOpTracer{}
	}
	globalTracer.Store(&tracerBox{t})
}

// GetTracer returns the process-wide tracer.
func GetTracer() Tracer {
	return globalTracer.Load().Tracer
}

// StartSpan starts a span on the process-wide tracer.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return GetTracer().StartSpan(ctx, name, opts...)
}
