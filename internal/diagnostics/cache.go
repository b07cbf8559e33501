package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 300 * time.Second
	DefaultMaxEntries = 10
)

// Key identifies one cached report.
type Key struct {
	WindowHours int
	UserSub     string
	RFPID       string
	ChannelID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%d|%s|%s|%s", k.WindowHours, k.UserSub, k.RFPID, k.ChannelID)
}

type cacheEntry struct {
	report     *Report
	recordedAt time.Time
}

// Cache keeps recent reports for TTL. Over capacity the entry recorded
// earliest is evicted. Concurrent misses on one key share a single compute.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[Key]cacheEntry
	group   singleflight.Group
}

func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    map[Key]cacheEntry{},
	}
}

// Lookup returns the fresh report under key.
func (c *Cache) Lookup(key Key) (*Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.recordedAt) >= c.ttl {
		return nil, false
	}
	return e.report, true
}

// GetOrCompute returns the fresh report under key or computes and stores a
// new one. The bool is false only for the caller whose compute produced the
// report; callers sharing an in-flight computation see a hit.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (*Report, error)) (*Report, bool, error) {
	if r, ok := c.Lookup(key); ok {
		return r, true, nil
	}
	var computed bool
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if r, ok := c.Lookup(key); ok {
			return r, nil
		}
		r, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, r)
		computed = true
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Report), !computed, nil
}

func (c *Cache) store(key Key, r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{report: r, recordedAt: c.now()}
	if len(c.entries) > c.maxEntries {
		var oldest Key
		var oldestAt time.Time
		first := true
		for k, e := range c.entries {
			if first || e.recordedAt.Before(oldestAt) {
				oldest, oldestAt, first = k, e.recordedAt, false
			}
		}
		delete(c.entries, oldest)
	}
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
