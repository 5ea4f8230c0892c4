package monitor

import (
	"sort"
	"sync"
)

// Catalog maps host+path identifiers to their entries. Writers may insert
// and remove concurrently; readers work from point-in-time snapshots.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Contains reports whether key is present.
func (c *Catalog) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the entry stored under key, or nil.
func (c *Catalog) Get(key string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// InsertIfAbsent stores entry under key unless the key is already taken.
// It returns the entry that is installed after the call and whether the
// supplied one was inserted. Losers must abort their entry's watchers.
func (c *Catalog) InsertIfAbsent(key string, entry *Entry) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, false
	}
	c.entries[key] = entry
	return entry, true
}

// Remove drops key and returns the removed entry, or nil when absent.
func (c *Catalog) Remove(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[key]
	delete(c.entries, key)
	return entry
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns the current entries ordered by key. Mutations concurrent
// with the call may or may not be reflected.
func (c *Catalog) Snapshot() []*Entry {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.entries[key])
	}
	c.mu.RUnlock()
	return out
}
