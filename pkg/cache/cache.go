// Package cache provides the in-memory response cache for upstream
// lookups. Entries are grouped in categories with per-category TTLs,
// expire lazily on Get, and are evicted LRU-first once the cache is
// full. Negative results (subscriber not found) are cached with a
// shorter TTL so a typo does not shadow a later correct lookup.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Category namespaces cached entries and selects their default TTL.
type Category string

// Cache categories.
const (
	CategoryClientData     Category = "CLIENT_DATA"
	CategoryContractStatus Category = "CONTRACT_STATUS"
	CategoryServiceData    Category = "SERVICE_DATA"
)

// Default TTLs per category.
const (
	ClientDataTTL     = 30 * time.Minute
	ContractStatusTTL = 4 * time.Hour
	ServiceDataTTL    = time.Hour

	// NegativeTTL bounds how long a not-found result is remembered.
	NegativeTTL = 5 * time.Minute

	// DefaultMaxEntries caps the cache before LRU eviction kicks in.
	DefaultMaxEntries = 1000
)

func defaultTTL(cat Category) time.Duration {
	switch cat {
	case CategoryClientData:
		return ClientDataTTL
	case CategoryContractStatus:
		return ContractStatusTTL
	case CategoryServiceData:
		return ServiceDataTTL
	default:
		return ClientDataTTL
	}
}

type entry struct {
	category  Category
	key       string
	value     any
	negative  bool
	expiresAt time.Time
}

// Stats are the cache counters exposed on the ops surface.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Cache is a thread-safe categorized TTL cache with LRU eviction.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache holding at most maxEntries entries (0 uses the
// default).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func cacheKey(cat Category, key string) string {
	return string(cat) + ":" + key
}

// Get returns the cached value. The second result distinguishes a miss
// from a cached negative result: (nil, true) means "known absent".
func (c *Cache) Get(cat Category, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[cacheKey(cat, key)]
	if !ok {
		c.misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	if e.negative {
		return nil, true
	}
	return e.value, true
}

// Put stores a value with the category's default TTL.
func (c *Cache) Put(cat Category, key string, value any) {
	c.PutTTL(cat, key, value, defaultTTL(cat))
}

// PutTTL stores a value with an explicit TTL override.
func (c *Cache) PutTTL(cat Category, key string, value any, ttl time.Duration) {
	c.put(cat, key, value, false, ttl)
}

// PutNegative remembers that the key resolved to nothing upstream.
func (c *Cache) PutNegative(cat Category, key string) {
	c.put(cat, key, nil, true, NegativeTTL)
}

func (c *Cache) put(cat Category, key string, value any, negative bool, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL(cat)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := cacheKey(cat, key)
	e := &entry{
		category:  cat,
		key:       ck,
		value:     value,
		negative:  negative,
		expiresAt: time.Now().Add(ttl),
	}
	if elem, ok := c.entries[ck]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	c.entries[ck] = c.order.PushFront(e)

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(cat Category, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[cacheKey(cat, key)]; ok {
		c.removeLocked(elem)
	}
}

// InvalidateCategory drops every entry in the category.
func (c *Cache) InvalidateCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry).category == cat {
			c.removeLocked(elem)
		}
		elem = next
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.order.Len(),
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}
