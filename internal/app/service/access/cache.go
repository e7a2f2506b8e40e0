package access

import (
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/handbok-org/handbok/pkg/clock"
)

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Cache memoises access results per (user, handbook) for a short TTL. Entries
// are only checked for expiry when read. Results go in and come out as
// copies, so callers may edit the Metadata they get.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
}

func NewCache(ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{ttl: ttl, clock: clk, entries: map[string]cacheEntry{}}
}

func cacheKey(userID, handbookID string) string { return userID + ":" + handbookID }

func (c *Cache) Get(userID, handbookID string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(userID, handbookID)
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result.clone(), true
}

func (r Result) clone() Result {
	if r.Metadata != nil {
		r.Metadata = lo.Assign(r.Metadata)
	}
	return r
}

func (c *Cache) Set(userID, handbookID string, r Result) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(userID, handbookID)] = cacheEntry{result: r.clone(), expiresAt: c.clock.Now().Add(c.ttl)}
}

// ClearCache drops the entries of userID, or every entry when userID is empty.
// It returns the number of entries removed.
func (c *Cache) ClearCache(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID == "" {
		n := len(c.entries)
		c.entries = map[string]cacheEntry{}
		return n
	}
	n := 0
	prefix := userID + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
