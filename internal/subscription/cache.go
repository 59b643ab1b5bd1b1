package subscription

import (
	"container/list"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Entry is a cached subscription response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func cloneEntry(e Entry) Entry {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return Entry{StatusCode: e.StatusCode, Header: e.Header.Clone(), Body: body}
}

type cacheNode struct {
	key       string
	entry     Entry
	size      int
	expiresAt time.Time
}

// Cache is the LRU+TTL subscription response cache: doubly-linked-list
// nodes keyed by an auxiliary map for O(1) MRU updates, bounded by both
// entry count and total bytes. Built on the standard container/list LRU
// idiom.
type Cache struct {
	log        *zap.Logger
	maxEntries int
	maxBytes   int
	ttl        time.Duration

	mu         sync.Mutex
	ll         *list.List
	items      map[string]*list.Element
	totalBytes int
}

// NewCache constructs a Cache with the given entry cap, byte cap, and TTL.
func NewCache(log *zap.Logger, maxEntries, maxBytes int, ttl time.Duration) *Cache {
	return &Cache{
		log:        log,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns a clone of the cached entry for key, moving it to the MRU
// position. Expired entries are purged lazily and reported as a miss.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	n := el.Value.(*cacheNode)
	if time.Now().After(n.expiresAt) {
		c.removeLocked(el)
		return Entry{}, false
	}
	c.ll.MoveToFront(el)
	return cloneEntry(n.entry), true
}

// Set stores entry under key if it is a 200 response and fits within the
// byte cap, evicting LRU entries as needed to stay within both caps.
// Responses larger than the byte cap bypass caching entirely.
func (c *Cache) Set(key string, entry Entry) {
	if entry.StatusCode != http.StatusOK {
		return
	}
	size := len(entry.Body)
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}

	for c.ll.Len() > 0 && (c.totalBytes+size > c.maxBytes || c.ll.Len() >= c.maxEntries) {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
	}

	n := &cacheNode{key: key, entry: cloneEntry(entry), size: size, expiresAt: time.Now().Add(c.ttl)}
	el := c.ll.PushFront(n)
	c.items[key] = el
	c.totalBytes += size
}

// PurgeExpired drops every entry past its TTL, intended for a periodic
// sweep (default 30s cadence).
func (c *Cache) PurgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheNode).expiresAt) {
			c.removeLocked(el)
		}
		el = prev
	}
}

// RunPurger starts a background goroutine calling PurgeExpired every
// interval until stop is closed.
func (c *Cache) RunPurger(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.PurgeExpired()
			}
		}
	}()
}

// removeLocked evicts el from both the list and the index map. Caller must
// hold c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	n := el.Value.(*cacheNode)
	delete(c.items, n.key)
	c.ll.Remove(el)
	c.totalBytes -= n.size
	if c.log != nil {
		c.log.Debug("subscription cache entry evicted",
			zap.String("key", n.key),
			zap.String("size", humanize.Bytes(uint64(n.size))))
	}
}
