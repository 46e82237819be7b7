package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avelardi/amm-quoter/internal/platform/observability"
)

// entry is a single cached value with its expiry bookkeeping.
type entry struct {
	key      string
	category Category
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
	timer    *time.Timer
}

// expired reports whether the entry is logically absent at now.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// TTLCache is a categorized TTL cache with lazy and proactive expiry.
//
// Expiry is observable without an eviction pass: Get treats a stale entry
// as a miss and removes it, while a per-entry timer removes entries shortly
// after their TTL elapses even when nobody reads them.
//
// Cache operations never fail from the caller's point of view.
type TTLCache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	byCat     map[Category]map[string]*entry
	policies  map[Category]Policy
	evictions map[Category]int64
	logger    *observability.Logger
	metrics   *observability.Metrics
	closed    bool
}

// NewTTLCache creates a cache with the given per-category policies.
// Missing categories fall back to the defaults.
func NewTTLCache(policies map[Category]Policy, logger *observability.Logger, metrics *observability.Metrics) *TTLCache {
	merged := DefaultPolicies()
	for cat, p := range policies {
		if p.TTL > 0 && p.MaxSize > 0 {
			merged[cat] = p
		}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &TTLCache{
		entries:   make(map[string]*entry),
		byCat:     make(map[Category]map[string]*entry),
		policies:  merged,
		evictions: make(map[Category]int64),
		logger:    logger,
		metrics:   metrics,
	}
}

// Key builds the canonical cache key for a category and key parts.
// Parts are lowercased so address casing never splits entries.
func Key(category Category, keyParams ...string) string {
	parts := make([]string, 0, len(keyParams)+1)
	parts = append(parts, string(category))
	for _, p := range keyParams {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// Set stores a value under the category's policy, evicting the oldest
// tenth of the category first when it is full.
func (c *TTLCache) Set(category Category, keyParams []string, value interface{}) {
	key := Key(category, keyParams...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	policy, ok := c.policies[category]
	if !ok {
		// Unknown category; refuse silently rather than cache forever.
		c.logger.Warn("cache: set on unknown category", "category", string(category), "key", key)
		return
	}

	cat := c.byCat[category]
	if cat == nil {
		cat = make(map[string]*entry)
		c.byCat[category] = cat
	}

	// Overwrites do not count against the size bound.
	if _, exists := cat[key]; !exists && len(cat) >= policy.MaxSize {
		c.evictOldestLocked(category, cat)
	}

	if old, exists := cat[key]; exists {
		old.timer.Stop()
	}

	e := &entry{
		key:      key,
		category: category,
		value:    value,
		storedAt: time.Now(),
		ttl:      policy.TTL,
	}
	// Proactive expiry. Removal of an already-removed key is a no-op
	// because the timer only deletes its own generation.
	e.timer = time.AfterFunc(policy.TTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.entries[key]; ok && cur == e {
			c.removeLocked(cur)
		}
	})

	c.entries[key] = e
	cat[key] = e
}

// Get returns the stored value if present and fresh. A stale entry is
// removed and reported as a miss, indistinguishable from never-stored.
func (c *TTLCache) Get(category Category, keyParams ...string) (interface{}, bool) {
	key := Key(category, keyParams...)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.recordMissLocked(category)
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(e)
		c.recordMissLocked(category)
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(context.Background(), string(category))
	}
	return e.value, true
}

// Delete removes a raw key. Unknown keys are a no-op.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// ClearCategory removes every entry in a category.
func (c *TTLCache) ClearCategory(category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.byCat[category] {
		c.removeLocked(e)
	}
}

// ClearAll removes everything.
func (c *TTLCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.timer.Stop()
	}
	c.entries = make(map[string]*entry)
	c.byCat = make(map[Category]map[string]*entry)
}

// Stats returns the current occupancy and eviction counters.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byCat := make(map[Category]int, len(c.byCat))
	for cat, m := range c.byCat {
		if len(m) > 0 {
			byCat[cat] = len(m)
		}
	}
	evictions := make(map[Category]int64, len(c.evictions))
	for cat, n := range c.evictions {
		evictions[cat] = n
	}

	return Stats{
		TotalEntries: len(c.entries),
		ByCategory:   byCat,
		Evictions:    evictions,
	}
}

// Close stops all pending expiry timers. The cache stays usable but empty.
func (c *TTLCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.timer.Stop()
	}
	c.entries = make(map[string]*entry)
	c.byCat = make(map[Category]map[string]*entry)
	c.closed = true
}

// evictOldestLocked evicts the oldest 10% (at least one) of a full
// category, ordered by storedAt ascending. Caller must hold c.mu.
func (c *TTLCache) evictOldestLocked(category Category, cat map[string]*entry) {
	victims := make([]*entry, 0, len(cat))
	for _, e := range cat {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].storedAt.Before(victims[j].storedAt)
	})

	n := len(victims) / 10
	if n < 1 {
		n = 1
	}
	for _, e := range victims[:n] {
		c.removeLocked(e)
	}

	c.evictions[category] += int64(n)
	if c.metrics != nil {
		c.metrics.RecordCacheEvictions(context.Background(), string(category), n)
	}
	c.logger.Debug("cache: evicted oldest entries",
		"category", string(category),
		"count", n,
	)
}

// removeLocked deletes an entry and cancels its expiry timer.
// Caller must hold c.mu.
func (c *TTLCache) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.entries, e.key)
	if cat, ok := c.byCat[e.category]; ok {
		delete(cat, e.key)
	}
}

func (c *TTLCache) recordMissLocked(category Category) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(context.Background(), string(category))
	}
}
