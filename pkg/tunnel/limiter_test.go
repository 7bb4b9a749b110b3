package tunnel

import (
	"sync"
	"testing"
)

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(2)

	if !l.AllowConnection("10.0.0.1") || !l.AllowConnection("10.0.0.1") {
		t.Fatal("first two connections should be allowed")
	}
	if l.AllowConnection("10.0.0.1") {
		t.Error("third connection should be rejected")
	}
	if !l.AllowConnection("10.0.0.2") {
		t.Error("other IPs are tracked separately")
	}

	l.ReleaseConnection("10.0.0.1")
	if !l.AllowConnection("10.0.0.1") {
		t.Error("released slot should be reusable")
	}

	l.ReleaseConnection("10.0.0.2")
	l.mu.Lock()
	_, tracked := l.open["10.0.0.2"]
	l.mu.Unlock()
	if tracked {
		t.Error("IP with no connections should be dropped from the map")
	}
}

func TestIPRateLimiterDisabled(t *testing.T) {
	var nilLimiter *IPRateLimiter
	unlimited := NewIPRateLimiter(0)

	for i := 0; i < 100; i++ {
		if !nilLimiter.AllowConnection("ip") || !unlimited.AllowConnection("ip") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
	nilLimiter.ReleaseConnection("ip")
	unlimited.ReleaseConnection("ip")
}

func TestIPRateLimiterConcurrent(t *testing.T) {
	l := NewIPRateLimiter(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AllowConnection("10.0.0.1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}

func TestHandshakeLimiterGlobal(t *testing.T) {
	l := NewHandshakeLimiter(0.001, 3)

	for i := 0; i < 3; i++ {
		if !l.AllowHandshake("") {
			t.Fatalf("handshake %d within burst rejected", i)
		}
	}
	if l.AllowHandshake("") {
		t.Error("handshake beyond burst should be rejected")
	}
}

func TestHandshakeLimiterPerIP(t *testing.T) {
	l := NewHandshakeLimiter(1e6, 100).WithPerIP(0.001)

	// Per-IP buckets share the global burst size.
	for i := 0; i < 100; i++ {
		if !l.AllowHandshake("10.0.0.1") {
			t.Fatalf("handshake %d within per-IP burst rejected", i)
		}
	}
	if l.AllowHandshake("10.0.0.1") {
		t.Error("per-IP limit should reject the noisy address")
	}
	if !l.AllowHandshake("10.0.0.2") {
		t.Error("a quiet address must not be affected by another IP's bucket")
	}
}

func TestHandshakeLimiterDisabled(t *testing.T) {
	l := NewHandshakeLimiter(0, 10)
	if l != nil {
		t.Fatal("non-positive rate should disable the limiter")
	}
	if l.WithPerIP(5) != nil {
		t.Error("WithPerIP on a nil limiter should stay nil")
	}
	for i := 0; i < 100; i++ {
		if !l.AllowHandshake("10.0.0.1") {
			t.Fatal("nil limiter must allow everything")
		}
	}
}

func TestHandshakeLimiterDefaultsBurst(t *testing.T) {
	l := NewHandshakeLimiter(0.001, 0)
	if l.burst != 1 {
		t.Errorf("burst = %d, want 1", l.burst)
	}
	if !l.AllowHandshake("") {
		t.Error("first handshake should be allowed")
	}
	if l.AllowHandshake("") {
		t.Error("second handshake should be rejected")
	}
}
