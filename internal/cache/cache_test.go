package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestPutThenGetWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 4, TTL: 7 * time.Second, Now: clock.Now})

	require.True(t, c.Put("SOL", 150))
	clock.Advance(6 * time.Second)

	price, ok := c.Get("SOL")
	require.True(t, ok)
	assert.Equal(t, 150.0, price)
}

func TestExpiredEntryMissesButRemainsPeekable(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 4, TTL: 7 * time.Second, Now: clock.Now})

	c.Put("SOL", 150)
	clock.Advance(20 * time.Second)

	_, ok := c.Get("SOL")
	require.False(t, ok, "expired entry must not be served as fresh")

	price, storedAt, ok := c.Peek("SOL")
	require.True(t, ok)
	assert.Equal(t, 150.0, price)
	assert.Equal(t, clock.Now().Add(-20*time.Second), storedAt)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, time.Duration(0), stats.TTLRemaining["SOL"])
}

func TestTTLBoundaryIsExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, TTL: 5 * time.Second, Now: clock.Now})

	c.Put("A", 1)
	clock.Advance(5 * time.Second)
	_, ok := c.Get("A")
	assert.False(t, ok)
}

func TestOverwriteRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 2, TTL: 5 * time.Second, Now: clock.Now})

	c.Put("A", 1)
	clock.Advance(4 * time.Second)
	c.Put("A", 2)
	clock.Advance(4 * time.Second)

	price, ok := c.Get("A")
	require.True(t, ok)
	assert.Equal(t, 2.0, price)
	assert.Equal(t, 1, c.Len())
}

func TestRejectsNonPositivePrice(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})

	assert.False(t, c.Put("A", 0))
	assert.False(t, c.Put("A", -3))
	_, _, ok := c.Peek("A")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Options{Capacity: 3, TTL: time.Minute})

	c.Put("A", 1)
	c.Put("B", 2)
	c.Put("C", 3)

	// touch A so that B becomes the oldest
	_, ok := c.Get("A")
	require.True(t, ok)

	c.Put("D", 4)

	_, _, ok = c.Peek("B")
	assert.False(t, ok, "B should have been evicted")
	assert.Equal(t, []string{"D", "A", "C"}, c.Keys())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestEvictionFollowsInsertionOrderWithoutReads(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})

	c.Put("A", 1)
	c.Put("B", 2)
	c.Put("C", 3)
	c.Put("D", 4)

	assert.Equal(t, []string{"D", "C"}, c.Keys())
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}

func TestPeekDoesNotPromote(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})

	c.Put("A", 1)
	c.Put("B", 2)
	_, _, _ = c.Peek("A")
	c.Put("C", 3)

	_, _, ok := c.Peek("A")
	assert.False(t, ok)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(Options{Capacity: 5, TTL: time.Minute})

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), float64(i+1))
		require.LessOrEqual(t, c.Len(), 5)
	}
	assert.Equal(t, []string{"k99", "k98", "k97", "k96", "k95"}, c.Keys())
}

func TestStatsHitRate(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})

	c.Put("A", 1)
	c.Get("A")
	c.Get("A")
	c.Get("A")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 75.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 2, stats.Capacity)
}

func TestDelete(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})
	c.Put("A", 1)
	c.Delete("A")
	c.Delete("A")
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{Capacity: 16, TTL: time.Minute})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (i+w)%32)
				c.Put(key, float64(i+1))
				c.Get(key)
				c.Peek(key)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
	assert.Len(t, c.Keys(), c.Len())
	assert.Len(t, c.Stats().StoredAt, c.Len())
}

func TestStatsJSONReportsSeconds(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Capacity: 4, TTL: 7 * time.Second, Now: clock.Now})
	c.Put("SOL", 150)
	clock.Advance(2500 * time.Millisecond)

	raw, err := json.Marshal(c.Stats())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 7.0, out["ttl"])
	assert.Equal(t, map[string]any{"SOL": 4.5}, out["ttl_remaining"])
	assert.Equal(t, 1.0, out["size"])
	assert.Contains(t, out, "stored_at")
}
