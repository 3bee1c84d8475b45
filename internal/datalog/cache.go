package datalog

import (
	"sort"
	"sync"
)

// Cache keeps the most recent reading per sensor.
type Cache struct {
	mu     sync.Mutex
	values map[string]Reading
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{values: make(map[string]Reading)}
}

// Update stores the readings and returns the ones whose value changed (or
// that were seen for the first time).
func (c *Cache) Update(rs []Reading) []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []Reading
	for _, r := range rs {
		prev, ok := c.values[r.Sensor]
		if !ok || prev.Value != r.Value {
			changed = append(changed, r)
		}
		c.values[r.Sensor] = r
	}
	return changed
}

// Snapshot returns all cached readings ordered by sensor name.
func (c *Cache) Snapshot() []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Reading, 0, len(c.values))
	for _, r := range c.values {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}
