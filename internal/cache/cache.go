package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

const (
	defaultCapacity = 50
	defaultTTL      = 7 * time.Second
)

// Options tune the price cache.
type Options struct {
	Capacity int
	TTL      time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters and contents.
type Stats struct {
	Size         int                      `json:"size"`
	Capacity     int                      `json:"capacity"`
	TTL          time.Duration            `json:"ttl"`
	Hits         uint64                   `json:"hits"`
	Misses       uint64                   `json:"misses"`
	Evictions    uint64                   `json:"evictions"`
	Expired      uint64                   `json:"expired"`
	HitRate      float64                  `json:"hit_rate"`
	TTLRemaining map[string]time.Duration `json:"ttl_remaining"`
	StoredAt     map[string]time.Time     `json:"stored_at"`
}

// MarshalJSON reports TTL and remaining TTL in seconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	remaining := make(map[string]float64, len(s.TTLRemaining))
	for k, d := range s.TTLRemaining {
		remaining[k] = d.Seconds()
	}
	return json.Marshal(struct {
		plain
		TTL          float64            `json:"ttl"`
		TTLRemaining map[string]float64 `json:"ttl_remaining"`
	}{
		plain:        plain(s),
		TTL:          s.TTL.Seconds(),
		TTLRemaining: remaining,
	})
}

type entry struct {
	key      string
	price    float64
	storedAt time.Time
	expired  bool
}

// Cache is a fixed-capacity price store with per-entry TTL and strict LRU
// eviction. Get is the fresh read and enforces the TTL; Peek is the stale read
// and only checks existence. Expired entries stay in place until they are
// overwritten or evicted so Peek can still serve them.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	index map[string]*list.Element
	order *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// New constructs a Cache.
func New(opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		now:      opts.Now,
		index:    make(map[string]*list.Element, opts.Capacity),
		order:    list.New(),
	}
}

// Get returns the cached price when it is still fresh.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return 0, false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.storedAt) >= c.ttl {
		if !e.expired {
			e.expired = true
			c.expired++
		}
		c.misses++
		return 0, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return e.price, true
}

// Peek returns the last stored price for key regardless of age. It neither
// updates recency nor touches the hit/miss counters.
func (c *Cache) Peek(key string) (float64, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return 0, time.Time{}, false
	}
	e := el.Value.(*entry)
	return e.price, e.storedAt, true
}

// Put stores price under key. Non-positive prices are rejected.
func (c *Cache) Put(key string, price float64) bool {
	if price <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.price = price
		e.storedAt = now
		e.expired = false
		c.order.MoveToFront(el)
		return true
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&entry{key: key, price: price, storedAt: now})
	c.index[key] = el
	return true
}

// Delete drops key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys lists stored keys from most to least recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Stats returns counters plus remaining TTL per entry.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{
		Size:         c.order.Len(),
		Capacity:     c.capacity,
		TTL:          c.ttl,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Expired:      c.expired,
		TTLRemaining: make(map[string]time.Duration, c.order.Len()),
		StoredAt:     make(map[string]time.Time, c.order.Len()),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}

	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		remaining := c.ttl - now.Sub(e.storedAt)
		if remaining < 0 {
			remaining = 0
		}
		stats.TTLRemaining[e.key] = remaining
		stats.StoredAt[e.key] = e.storedAt
	}
	return stats
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry).key)
	c.evictions++
}
