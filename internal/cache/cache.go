// Package cache holds the latest upstream payload per movie id for a fixed
// TTL. Failed fetches are cached too, as an explicit error payload, so a
// broken upstream is asked at most once per key per TTL.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/boxoffice_relay/internal/upstream"
)

const (
	DefaultTTL      = 10 * time.Second
	DefaultMaxItems = 1000

	// DefaultFetchTimeout bounds one provider call. The call runs detached
	// from whichever caller started it.
	DefaultFetchTimeout = 30 * time.Second
)

// Entry is one cached payload.
type Entry struct {
	Key       string
	Payload   json.RawMessage
	FetchedAt time.Time
	// Failed marks an error payload stored after an upstream failure.
	Failed bool
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Items       int    `json:"items"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Fetches     uint64 `json:"fetches"`
	FetchErrors uint64 `json:"fetchErrors"`
	Evictions   uint64 `json:"evictions"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Cache is safe for concurrent use.
type Cache struct {
	provider upstream.Provider
	ttl      time.Duration
	maxItems int
	timeout  time.Duration
	now      func() time.Time

	flights singleflight.Group

	mu      sync.Mutex
	entries map[string]Entry
	stats   Stats
}

// New creates a cache in front of provider. ttl <= 0 uses DefaultTTL and
// maxItems <= 0 disables the capacity bound.
func New(provider upstream.Provider, ttl time.Duration, maxItems int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		maxItems: maxItems,
		timeout:  DefaultFetchTimeout,
		now:      time.Now,
		entries:  make(map[string]Entry),
	}
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for key and whether it is still fresh. A missing key
// yields a zero Entry and false.
func (c *Cache) Get(key string) (Entry, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e, c.fresh(e, now)
}

// Put stores payload for key with the current time and returns the entry.
func (c *Cache) Put(key string, payload json.RawMessage) Entry {
	return c.store(key, payload, false)
}

// Load returns a fresh entry for key. When the cached one is missing or
// stale, concurrent callers share a single provider call; hit reports whether
// the cached entry was served without waiting on one. Provider errors are
// stored and returned as a Failed entry. The provider call ignores ctx's
// cancellation; only its own fetch timeout ends it early.
func (c *Cache) Load(ctx context.Context, key string) (Entry, bool) {
	if e, fresh := c.Get(key); fresh {
		c.countHit()
		return e, true
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()

	v, _, shared := c.flights.Do(key, func() (any, error) {
		// A flight that finished between Get and Do already refreshed key.
		if e, fresh := c.Get(key); fresh {
			return e, nil
		}
		return c.fetch(context.WithoutCancel(ctx), key), nil
	})
	if shared {
		slog.Debug("cache joined in-flight fetch", "movie_id", key)
	}
	return v.(Entry), false
}

func (c *Cache) fetch(ctx context.Context, key string) Entry {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	c.stats.Fetches++
	c.mu.Unlock()

	payload, err := c.provider.Fetch(ctx, key)
	if err != nil {
		slog.Warn("upstream fetch failed", "movie_id", key, "error", err)
		c.mu.Lock()
		c.stats.FetchErrors++
		c.mu.Unlock()
		body, _ := json.Marshal(errorPayload{Error: "upstream fetch failed", Message: err.Error()})
		return c.store(key, body, true)
	}
	return c.store(key, payload, false)
}

func (c *Cache) countHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

// Len returns the number of cached keys, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Items = len(c.entries)
	return s
}

func (c *Cache) store(key string, payload json.RawMessage, failed bool) Entry {
	e := Entry{Key: key, Payload: payload, FetchedAt: c.now(), Failed: failed}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.evictLocked()
	return e
}

func (c *Cache) fresh(e Entry, now time.Time) bool {
	return e.Age(now) < c.ttl
}

// evictLocked drops the oldest entries until the cap holds.
func (c *Cache) evictLocked() {
	if c.maxItems <= 0 || len(c.entries) <= c.maxItems {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].FetchedAt.Before(c.entries[keys[j]].FetchedAt)
	})
	excess := len(c.entries) - c.maxItems
	for _, k := range keys[:excess] {
		delete(c.entries, k)
		c.stats.Evictions++
	}
	slog.Debug("cache evicted entries", "count", excess, "items", len(c.entries))
}
