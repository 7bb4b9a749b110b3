package tunnel

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// IPRateLimiter caps concurrent connections per remote IP. A nil limiter
// or a non-positive cap admits everything.
type IPRateLimiter struct {
	max int

	mu   sync.Mutex
	open map[string]int
}

func NewIPRateLimiter(maxPerIP int) *IPRateLimiter {
	return &IPRateLimiter{max: maxPerIP, open: make(map[string]int)}
}

func (l *IPRateLimiter) disabled() bool { return l == nil || l.max <= 0 }

// AllowConnection takes a slot for ip, reporting false when ip already
// holds the maximum. Every true result must be paired with
// ReleaseConnection.
func (l *IPRateLimiter) AllowConnection(ip string) bool {
	if l.disabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open[ip] >= l.max {
		return false
	}
	l.open[ip]++
	return true
}

// ReleaseConnection returns a slot taken by AllowConnection.
func (l *IPRateLimiter) ReleaseConnection(ip string) {
	if l.disabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch n := l.open[ip]; {
	case n > 1:
		l.open[ip] = n - 1
	case n == 1:
		delete(l.open, ip)
	}
}

const (
	handshakeBucketIdle = 10 * time.Minute
	handshakeBucketMax  = 1 << 16
	sweepEvery          = 512
)

// HandshakeLimiter is a token bucket over all handshakes, optionally
// paired with one bucket per remote IP. Per-IP buckets idle for ten
// minutes are dropped, and at most 65536 are kept.
type HandshakeLimiter struct {
	global *rate.Limiter
	burst  int

	perIP   rate.Limit
	buckets *ttlcache.Cache[string, *rate.Limiter]

	mu    sync.Mutex
	calls uint64
}

// NewHandshakeLimiter admits rps handshakes per second with the given
// burst. It returns nil, which admits everything, when rps is not positive.
func NewHandshakeLimiter(rps float64, burst int) *HandshakeLimiter {
	if rps <= 0 {
		return nil
	}
	burst = max(burst, 1)
	return &HandshakeLimiter{
		global: rate.NewLimiter(rate.Limit(rps), burst),
		burst:  burst,
	}
}

// WithPerIP adds a limit of rps handshakes per second for each remote IP.
func (l *HandshakeLimiter) WithPerIP(rps float64) *HandshakeLimiter {
	if l == nil || rps <= 0 {
		return l
	}
	l.perIP = rate.Limit(rps)
	l.buckets = ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](handshakeBucketIdle),
		ttlcache.WithCapacity[string, *rate.Limiter](handshakeBucketMax),
	)
	return l
}

// AllowHandshake spends one token from ip's bucket and one from the global
// bucket. An empty ip skips the per-IP check.
func (l *HandshakeLimiter) AllowHandshake(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	if l.buckets != nil && ip != "" && !l.bucket(ip).AllowN(now, 1) {
		return false
	}
	return l.global.AllowN(now, 1)
}

func (l *HandshakeLimiter) bucket(ip string) *rate.Limiter {
	item, _ := l.buckets.GetOrSetFunc(ip, func() *rate.Limiter {
		return rate.NewLimiter(l.perIP, l.burst)
	})

	l.mu.Lock()
	l.calls++
	sweep := l.calls%sweepEvery == 0
	l.mu.Unlock()
	if sweep {
		l.buckets.DeleteExpired()
	}
	return item.Value()
}
