package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the in-process map when no capacity is configured
const DefaultCapacity = 10000

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	index     int // position in the expiry heap
}

// expiryHeap orders entries by expiresAt, soonest first
type expiryHeap []*memoryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*memoryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemoryCache is a bounded in-process TTL map
//
// Expired entries are purged lazily on read and by a background sweep.
// When full, the entry closest to expiry is dropped; an already expired one
// is always dropped before a live one.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]*memoryEntry
	expiry   expiryHeap
	capacity int
	now      func() time.Time

	evictions uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a bounded map and starts its sweeper
// A zero sweepInterval disables the background sweep
func NewMemoryCache(capacity int, sweepInterval time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &MemoryCache{
		items:    make(map[string]*memoryEntry),
		capacity: capacity,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}

	return c
}

// Get implements Cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(entry)
		return nil, false, nil
	}

	return cloneBytes(entry.value), true, nil
}

// Set implements Cache
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if entry, exists := c.items[key]; exists {
		entry.value = cloneBytes(value)
		entry.expiresAt = expiresAt
		heap.Fix(&c.expiry, entry.index)
		return nil
	}

	if len(c.items) >= c.capacity {
		c.makeRoomLocked()
	}

	entry := &memoryEntry{key: key, value: cloneBytes(value), expiresAt: expiresAt}
	heap.Push(&c.expiry, entry)
	c.items[key] = entry
	return nil
}

// Delete implements Cache
func (c *MemoryCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.removeLocked(entry)
	return c.now().Before(entry.expiresAt), nil
}

// Clear implements Cache
func (c *MemoryCache) Clear(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*memoryEntry)
	c.expiry = nil
	return true, nil
}

// Exists implements Cache
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	return ok && c.now().Before(entry.expiresAt), nil
}

// Kind implements Cache
func (c *MemoryCache) Kind() Kind {
	return KindMemory
}

// Len returns the number of stored entries, including not yet purged expired ones
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Evictions returns how many live entries were dropped to respect capacity
func (c *MemoryCache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Close stops the sweeper
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

// makeRoomLocked frees one slot; must be called with mu held
func (c *MemoryCache) makeRoomLocked() {
	if len(c.expiry) == 0 {
		return
	}
	victim := c.expiry[0]
	c.removeLocked(victim)
	if c.now().Before(victim.expiresAt) {
		c.evictions++
	}
}

// purgeExpiredLocked removes expired entries and returns how many were dropped
func (c *MemoryCache) purgeExpiredLocked() int {
	now := c.now()
	removed := 0
	for len(c.expiry) > 0 && !now.Before(c.expiry[0].expiresAt) {
		c.removeLocked(c.expiry[0])
		removed++
	}
	return removed
}

func (c *MemoryCache) removeLocked(entry *memoryEntry) {
	heap.Remove(&c.expiry, entry.index)
	delete(c.items, entry.key)
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.purgeExpiredLocked()
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
