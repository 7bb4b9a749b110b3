package client

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

// sessionCache maps endpoints to live transports. Entries expire after the
// session TTL; every eviction closes the transport, which wipes its keys.
type sessionCache struct {
	items *ttlcache.Cache[string, *tunnel.Transport]

	// mu serializes insert and evict; lookups go straight to items.
	mu     sync.Mutex
	closed bool

	// closers tracks background transport closes.
	closers sync.WaitGroup

	onEvict func(endpoint string, reason ttlcache.EvictionReason)
}

func newSessionCache(ttl time.Duration, onEvict func(string, ttlcache.EvictionReason)) *sessionCache {
	c := &sessionCache{
		items: ttlcache.New[string, *tunnel.Transport](
			ttlcache.WithTTL[string, *tunnel.Transport](ttl),
			ttlcache.WithDisableTouchOnHit[string, *tunnel.Transport](),
		),
		onEvict: onEvict,
	}

	// Eviction callbacks run while the cache holds its lock, so the close
	// happens on another goroutine.
	c.items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *tunnel.Transport]) {
		c.release(item.Key(), item.Value(), reason)
	})
	go c.items.Start()
	return c
}

// get returns a usable transport for endpoint, or nil.
func (c *sessionCache) get(endpoint string) *tunnel.Transport {
	item := c.items.Get(endpoint)
	if item == nil {
		// Expired entries are invisible to Get; drop them now so their keys
		// are wiped without waiting for the janitor.
		c.mu.Lock()
		if !c.closed {
			c.items.DeleteExpired()
		}
		c.mu.Unlock()
		return nil
	}
	t := item.Value()
	if t.Closed() || !t.Session().Usable() {
		c.evict(endpoint, t)
		return nil
	}
	return t
}

// put stores t for endpoint, closing any transport it replaces.
func (c *sessionCache) put(endpoint string, t *tunnel.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.release(endpoint, t, ttlcache.EvictionReasonDeleted)
		return
	}
	if old := c.items.Get(endpoint); old != nil && old.Value() != t {
		c.items.Delete(endpoint)
	}
	c.items.Set(endpoint, t, ttlcache.DefaultTTL)
}

// evict removes t if it is still the entry for endpoint. A transport that
// was already replaced is closed directly.
func (c *sessionCache) evict(endpoint string, t *tunnel.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item := c.items.Get(endpoint); item != nil && item.Value() == t {
		c.items.Delete(endpoint)
		return
	}
	if !t.Closed() {
		c.release(endpoint, t, ttlcache.EvictionReasonDeleted)
	}
}

// release closes t in the background and reports the eviction.
func (c *sessionCache) release(endpoint string, t *tunnel.Transport, reason ttlcache.EvictionReason) {
	c.closers.Add(1)
	go func() {
		defer c.closers.Done()
		_ = t.Close()
		if c.onEvict != nil {
			c.onEvict(endpoint, reason)
		}
	}()
}

// len returns the number of cached entries, including expired ones not yet
// collected.
func (c *sessionCache) len() int {
	return c.items.Len()
}

// close evicts every entry and waits for the transports to close.
func (c *sessionCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.items.DeleteAll()
	c.items.Stop()
	c.closers.Wait()
}

func evictionReason(r ttlcache.EvictionReason) string {
	switch r {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	default:
		return "unknown"
	}
}
