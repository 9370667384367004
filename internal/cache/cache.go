package cache

import (
	"sync"

	"github.com/chatops-tools/matrix-indexer/internal/event"
)

// Recency is a capacity-bounded map of the most recently ingested events,
// keyed by event id. Eviction is FIFO on insertion order; reads never promote
// an entry. It is an observability aid only and never consulted for
// correctness decisions.
//
// Both ingestion drivers may share one instance, so mutation is guarded by a
// mutex.
type Recency struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*event.Record
	order    []string
}

// NewRecency creates a cache holding at most capacity entries. A capacity
// below one is coerced to one.
func NewRecency(capacity int) *Recency {
	if capacity < 1 {
		capacity = 1
	}
	return &Recency{
		capacity: capacity,
		entries:  make(map[string]*event.Record, capacity),
	}
}

// Add inserts or overwrites the record for id. Overwriting keeps the entry's
// original insertion position. If the insert pushes the cache past capacity,
// the single oldest-inserted entry is evicted.
func (c *Recency) Add(id string, rec *event.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		c.entries[id] = rec
		return
	}

	c.entries[id] = rec
	c.order = append(c.order, id)

	if len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Get returns the cached record for id, or nil when absent.
func (c *Recency) Get(id string) *event.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Contains reports whether id is currently cached.
func (c *Recency) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Size returns the current entry count.
func (c *Recency) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
