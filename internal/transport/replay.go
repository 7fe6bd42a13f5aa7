// ABOUTME: Thread-safe TTL cache of RPC response frames keyed by caller and request id
// ABOUTME: A retried request id is answered from cache instead of re-running the handler

package transport

import (
	"container/list"
	"sync"
	"time"
)

type replayEntry struct {
	frame    []byte
	storedAt time.Time
	element  *list.Element
}

// ReplayCache remembers recent RPC responses so a client retry with the same
// request id is not executed twice. Size-bounded; oldest entries evict first.
type ReplayCache struct {
	mu      sync.Mutex
	entries map[string]*replayEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewReplayCache creates a cache and starts its background sweeper.
func NewReplayCache(ttl time.Duration, maxSize int) *ReplayCache {
	c := &ReplayCache{
		entries: make(map[string]*replayEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// replayKey scopes request ids to their caller.
func replayKey(callerID, requestID string) string {
	return callerID + "\x00" + requestID
}

// Lookup returns the cached response frame for the key if it has not expired.
func (c *ReplayCache) Lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.storedAt) >= c.ttl {
		return nil, false
	}
	return entry.frame, true
}

// Store records the response frame for the key, evicting the oldest entry
// when the cache is full.
func (c *ReplayCache) Store(key string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.frame = frame
		entry.storedAt = c.now()
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, oldest)
		}
	}

	c.entries[key] = &replayEntry{
		frame:    frame,
		storedAt: c.now(),
		element:  c.order.PushBack(key),
	}
}

// Len returns the number of cached entries, expired or not.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ReplayCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *ReplayCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the sweeper. Safe to call multiple times.
func (c *ReplayCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
