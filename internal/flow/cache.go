package flow

import (
	"sync"
	"time"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/infra/metrics"
)

// Source tells where a resolved flow came from.
type Source string

const (
	SourceStore   Source = "store"
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)

// Resolved is the flow governing a turn.
type Resolved struct {
	Config  *model.FlowConfig
	Status  model.FlowStatus
	Source  Source
	Version int
}

type cacheKey struct {
	session string
	status  model.FlowStatus
}

type cacheEntry struct {
	val     *Resolved
	expires time.Time
}

// Cache is a short-TTL cache of resolved flows keyed by (session, status).
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: map[cacheKey]cacheEntry{}}
}

func (c *Cache) Get(sessionID string, status model.FlowStatus) (*Resolved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey{sessionID, status}
	e, ok := c.entries[k]
	if !ok {
		metrics.IncFlowCacheLookup(string(status), "miss")
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		metrics.IncFlowCacheLookup(string(status), "expired")
		return nil, false
	}
	metrics.IncFlowCacheLookup(string(status), "hit")
	return e.val, true
}

func (c *Cache) Put(sessionID string, status model.FlowStatus, r *Resolved) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{sessionID, status}] = cacheEntry{val: r, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every status of sessionID, or everything when sessionID
// is empty.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID == "" {
		c.entries = map[cacheKey]cacheEntry{}
		return
	}
	for k := range c.entries {
		if k.session == sessionID {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
