// Package quotes holds the last successful quote lookup per fetch group.
package quotes

import (
	"sort"
	"sync"
	"time"

	"kyoto-terminal/internal/models"
)

// entry is one group's table as of its last successful merge.
// Tables are never mutated after they are stored; a merge swaps the pointer.
type entry struct {
	table     models.QuoteTable
	cycle     uint64
	updatedAt time.Time
}

// Cache is the process-lifetime quote store owned by the refresh loop.
//
// A merge replaces one group's entries as a single swap, and only when the fetch
// produced data. Failed or empty fetches leave the group untouched, so the cache
// never regresses to "no data" because of a bad tick. Only Clear resets it.
type Cache struct {
	mu     sync.RWMutex
	groups map[models.FetchGroup]*entry
	now    func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		groups: make(map[models.FetchGroup]*entry),
		now:    time.Now,
	}
}

// Merge stores table as the group's entries and reports whether anything changed.
// A nil or empty table is ignored.
func (c *Cache) Merge(g models.FetchGroup, table models.QuoteTable, cycle uint64) bool {
	if len(table) == 0 {
		return false
	}
	e := &entry{
		table:     table.Clone(),
		cycle:     cycle,
		updatedAt: c.now(),
	}
	c.mu.Lock()
	c.groups[g] = e
	c.mu.Unlock()
	return true
}

// Clear drops every cached group.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.groups = make(map[models.FetchGroup]*entry)
	c.mu.Unlock()
}

// Len returns the number of cached groups.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups)
}

// Snapshot returns a consistent read-only view. Later merges do not affect it.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups := make(map[models.FetchGroup]*entry, len(c.groups))
	for g, e := range c.groups {
		groups[g] = e
	}
	return &Snapshot{groups: groups}
}

// GroupInfo describes one cached group.
type GroupInfo struct {
	Group     models.FetchGroup
	Entries   int
	Cycle     uint64
	UpdatedAt time.Time
}

// Groups lists cached groups sorted by underlying then expiry.
func (c *Cache) Groups() []GroupInfo {
	c.mu.RLock()
	out := make([]GroupInfo, 0, len(c.groups))
	for g, e := range c.groups {
		out = append(out, GroupInfo{Group: g, Entries: len(e.table), Cycle: e.cycle, UpdatedAt: e.updatedAt})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group.Underlying != out[j].Group.Underlying {
			return out[i].Group.Underlying < out[j].Group.Underlying
		}
		return out[i].Group.Expiry < out[j].Group.Expiry
	})
	return out
}

// Snapshot is an immutable view of the cache at one instant.
type Snapshot struct {
	groups map[models.FetchGroup]*entry
}

// LastPrice looks up an identifier within its group.
func (s *Snapshot) LastPrice(g models.FetchGroup, key string) (float64, bool) {
	e, ok := s.groups[g]
	if !ok {
		return 0, false
	}
	p, ok := e.table[key]
	return p, ok
}

// AsOf returns the cycle of the group's last successful merge, or 0.
func (s *Snapshot) AsOf(g models.FetchGroup) uint64 {
	if e, ok := s.groups[g]; ok {
		return e.cycle
	}
	return 0
}
