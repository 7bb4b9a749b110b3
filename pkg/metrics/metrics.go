package metrics

import (
	"sync/atomic"
	"time"
)

// counter indexes Collector.counters.
type counter int

const (
	sessionsActive counter = iota
	sessionsTotal
	sessionsFailed
	bytesSent
	bytesReceived
	recordsSent
	recordsReceived
	replaysBlocked
	authFailures
	requestsQuantumSafe
	requestsFallback
	requestsFailed
	cacheHits
	cacheMisses
	rehandshakes
	connectionRateLimits
	handshakeRateLimits
	encryptErrors
	decryptErrors
	protocolErrors
	numCounters
)

// histogram indexes Collector.histograms.
type histogram int

const (
	handshakeLatency histogram = iota // milliseconds
	requestLatency                    // milliseconds
	encryptLatency                    // microseconds
	decryptLatency                    // microseconds
	numHistograms
)

// Bucket bounds for the collector histograms.
var (
	HandshakeLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}
	LatencyBuckets          = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Labels are constant key-value pairs attached to every exported metric.
type Labels map[string]string

// Collector aggregates counters and latency histograms from handshakes,
// sessions, the request client and the responder. It is safe for
// concurrent use.
type Collector struct {
	counters   [numCounters]atomic.Uint64
	histograms [numHistograms]*Histogram
	since      atomic.Int64 // unix nanoseconds of creation or last Reset
	labels     Labels
}

// NewCollector returns an empty collector. labels may be nil.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = Labels{}
	}
	c := &Collector{labels: labels}
	c.histograms[handshakeLatency] = NewHistogram(HandshakeLatencyBuckets)
	c.histograms[requestLatency] = NewHistogram(HandshakeLatencyBuckets)
	c.histograms[encryptLatency] = NewHistogram(LatencyBuckets)
	c.histograms[decryptLatency] = NewHistogram(LatencyBuckets)
	c.since.Store(time.Now().UnixNano())
	return c
}

func (c *Collector) inc(k counter) { c.counters[k].Add(1) }
func (c *Collector) add(k counter, n uint64) { c.counters[k].Add(n) }
func (c *Collector) load(k counter) uint64 { return c.counters[k].Load() }
func (c *Collector) ms(h histogram, d time.Duration) {
	c.histograms[h].Observe(float64(d) / float64(time.Millisecond))
}
func (c *Collector) us(h histogram, d time.Duration) {
	c.histograms[h].Observe(float64(d) / float64(time.Microsecond))
}

// SessionStarted counts an established session.
func (c *Collector) SessionStarted() {
	c.inc(sessionsActive)
	c.inc(sessionsTotal)
}

// SessionEnded decrements the active sessions, never below zero.
func (c *Collector) SessionEnded() {
	active := &c.counters[sessionsActive]
	for {
		n := active.Load()
		if n == 0 || active.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// SessionFailed counts an aborted handshake.
func (c *Collector) SessionFailed() { c.inc(sessionsFailed) }

// RecordHandshakeLatency observes a handshake duration.
func (c *Collector) RecordHandshakeLatency(d time.Duration) { c.ms(handshakeLatency, d) }

// RecordBytesSent adds n plaintext bytes sealed.
func (c *Collector) RecordBytesSent(n uint64) { c.add(bytesSent, n) }

// RecordBytesReceived adds n sealed bytes opened.
func (c *Collector) RecordBytesReceived(n uint64) { c.add(bytesReceived, n) }

// RecordPacketSent counts one sealed record.
func (c *Collector) RecordPacketSent() { c.inc(recordsSent) }

// RecordPacketReceived counts one opened record.
func (c *Collector) RecordPacketReceived() { c.inc(recordsReceived) }

// RecordReplayBlocked counts a record rejected as a replay.
func (c *Collector) RecordReplayBlocked() { c.inc(replaysBlocked) }

// RecordAuthFailure counts a record that failed authentication.
func (c *Collector) RecordAuthFailure() { c.inc(authFailures) }

// RecordRequest counts a completed request by the path it took and
// observes its latency.
func (c *Collector) RecordRequest(quantumSafe bool, d time.Duration) {
	if quantumSafe {
		c.inc(requestsQuantumSafe)
	} else {
		c.inc(requestsFallback)
	}
	c.ms(requestLatency, d)
}

// RecordRequestFailed counts a request that returned an error.
func (c *Collector) RecordRequestFailed() { c.inc(requestsFailed) }

// RecordCacheHit counts a request served on a cached session.
func (c *Collector) RecordCacheHit() { c.inc(cacheHits) }

// RecordCacheMiss counts a request that needed a handshake.
func (c *Collector) RecordCacheMiss() { c.inc(cacheMisses) }

// RecordRehandshake counts a retry on a fresh session.
func (c *Collector) RecordRehandshake() { c.inc(rehandshakes) }

// RecordConnectionRateLimit counts a connection refused by the per-IP limit.
func (c *Collector) RecordConnectionRateLimit() { c.inc(connectionRateLimits) }

// RecordHandshakeRateLimit counts a handshake refused by the rate limiter.
func (c *Collector) RecordHandshakeRateLimit() { c.inc(handshakeRateLimits) }

// RecordEncryptError counts a failed seal.
func (c *Collector) RecordEncryptError() { c.inc(encryptErrors) }

// RecordDecryptError counts a failed open.
func (c *Collector) RecordDecryptError() { c.inc(decryptErrors) }

// RecordProtocolError counts a framing or negotiation error.
func (c *Collector) RecordProtocolError() { c.inc(protocolErrors) }

// RecordEncryptLatency observes a seal duration.
func (c *Collector) RecordEncryptLatency(d time.Duration) { c.us(encryptLatency, d) }

// RecordDecryptLatency observes an open duration.
func (c *Collector) RecordDecryptLatency(d time.Duration) { c.us(decryptLatency, d) }

// Snapshot is a point-in-time copy of a Collector.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	SessionsActive uint64
	SessionsTotal  uint64
	SessionsFailed uint64

	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	PacketsRecv   uint64

	ReplayAttacksBlocked uint64
	AuthFailures         uint64

	RequestsQuantumSafe uint64
	RequestsFallback    uint64
	RequestsFailed      uint64
	CacheHits           uint64
	CacheMisses         uint64
	Rehandshakes        uint64

	ConnectionRateLimits uint64
	HandshakeRateLimits  uint64

	EncryptErrors  uint64
	DecryptErrors  uint64
	ProtocolErrors uint64

	HandshakeLatency HistogramSummary
	RequestLatency   HistogramSummary
	EncryptLatency   HistogramSummary
	DecryptLatency   HistogramSummary

	Labels Labels
}

// Snapshot copies every counter and summarises every histogram.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()
	return Snapshot{
		Timestamp:            now,
		Uptime:               now.Sub(time.Unix(0, c.since.Load())),
		SessionsActive:       c.load(sessionsActive),
		SessionsTotal:        c.load(sessionsTotal),
		SessionsFailed:       c.load(sessionsFailed),
		BytesSent:            c.load(bytesSent),
		BytesReceived:        c.load(bytesReceived),
		PacketsSent:          c.load(recordsSent),
		PacketsRecv:          c.load(recordsReceived),
		ReplayAttacksBlocked: c.load(replaysBlocked),
		AuthFailures:         c.load(authFailures),
		RequestsQuantumSafe:  c.load(requestsQuantumSafe),
		RequestsFallback:     c.load(requestsFallback),
		RequestsFailed:       c.load(requestsFailed),
		CacheHits:            c.load(cacheHits),
		CacheMisses:          c.load(cacheMisses),
		Rehandshakes:         c.load(rehandshakes),
		ConnectionRateLimits: c.load(connectionRateLimits),
		HandshakeRateLimits:  c.load(handshakeRateLimits),
		EncryptErrors:        c.load(encryptErrors),
		DecryptErrors:        c.load(decryptErrors),
		ProtocolErrors:       c.load(protocolErrors),
		HandshakeLatency:     c.histograms[handshakeLatency].Summary(),
		RequestLatency:       c.histograms[requestLatency].Summary(),
		EncryptLatency:       c.histograms[encryptLatency].Summary(),
		DecryptLatency:       c.histograms[decryptLatency].Summary(),
		Labels:               c.labels,
	}
}

// Reset zeroes every counter and histogram and restarts the uptime clock.
func (c *Collector) Reset() {
	for i := range c.counters {
		c.counters[i].Store(0)
	}
	for _, h := range c.histograms {
		h.Reset()
	}
	c.since.Store(time.Now().UnixNano())
}

var globalCollector atomic.Pointer[Collector]

// Global returns the process-wide collector, creating it on first use.
func Global() *Collector {
	if c := globalCollector.Load(); c != nil {
		return c
	}
	globalCollector.CompareAndSwap(nil, NewCollector(Labels{"instance": "default"}))
	return globalCollector.Load()
}

// SetGlobal replaces the process-wide collector. Call it before anything
// records metrics.
func SetGlobal(c *Collector) {
	globalCollector.Store(c)
}
