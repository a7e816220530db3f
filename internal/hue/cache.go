package hue

import (
	"slices"
	"sync"
	"time"
)

// DefaultGroupTTL is how long group membership is trusted before refetching.
const DefaultGroupTTL = 30 * time.Second

type cachedGroup struct {
	lights    []string
	fetchedAt time.Time
}

// GroupCache holds group membership (light ids) keyed by group id.
// It does NOT fetch from the bridge; the client fills it.
type GroupCache struct {
	mu     sync.RWMutex
	groups map[string]cachedGroup
	ttl    time.Duration
	now    func() time.Time
}

// NewGroupCache creates a membership cache. ttl <= 0 uses DefaultGroupTTL.
func NewGroupCache(ttl time.Duration) *GroupCache {
	if ttl <= 0 {
		ttl = DefaultGroupTTL
	}
	return &GroupCache{
		groups: make(map[string]cachedGroup),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns a copy of the cached members, or false if missing or stale.
func (c *GroupCache) Get(id string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.groups[id]
	if !ok || c.now().Sub(cached.fetchedAt) > c.ttl {
		return nil, false
	}
	return slices.Clone(cached.lights), true
}

// Set stores the members of a group.
func (c *GroupCache) Set(id string, lights []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups[id] = cachedGroup{lights: slices.Clone(lights), fetchedAt: c.now()}
}

// Invalidate removes an entry from the cache.
func (c *GroupCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.groups, id)
}

// Clear removes all entries from the cache.
func (c *GroupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups = make(map[string]cachedGroup)
}
