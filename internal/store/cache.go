package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gg/cache"
)

// CacheOptions sets the eviction policy of a Cache.
type CacheOptions struct {
	// StaleAfter is the age after which an entry is served but refreshed
	// in the background. Default: 30s.
	StaleAfter time.Duration
	// ExpireAfter is the age after which an entry is no longer served.
	// Default: 5m.
	ExpireAfter time.Duration
	// Capacity is the number of entries per shard. Default: 64.
	Capacity int
	Now      func() time.Time
}

func (o *CacheOptions) defaults() {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Second
	}
	if o.ExpireAfter <= 0 {
		o.ExpireAfter = 5 * time.Minute
	}
	if o.ExpireAfter < o.StaleAfter {
		o.ExpireAfter = o.StaleAfter
	}
	if o.Capacity <= 0 {
		o.Capacity = 64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type entry struct {
	data    []byte
	fetched time.Time
}

// Freshness classifies a cache lookup.
type Freshness int

const (
	Miss Freshness = iota
	Fresh
	Stale
)

// Cache is a timestamped LRU of document payloads. Each owner creates its
// own; nothing is shared between sessions.
type Cache struct {
	opts    CacheOptions
	entries *cache.ShardedCache[string, entry]
}

func NewCache(opts CacheOptions) *Cache {
	opts.defaults()
	return &Cache{
		opts:    opts,
		entries: cache.NewSharded[string, entry](opts.Capacity, cache.StringHasher),
	}
}

// Get returns a copy of the cached payload and how fresh it is. Expired
// entries are evicted and reported as a miss.
func (c *Cache) Get(key string) ([]byte, Freshness) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, Miss
	}
	age := c.opts.Now().Sub(e.fetched)
	switch {
	case age >= c.opts.ExpireAfter:
		c.entries.Delete(key)
		return nil, Miss
	case age >= c.opts.StaleAfter:
		return bytes.Clone(e.data), Stale
	}
	return bytes.Clone(e.data), Fresh
}

func (c *Cache) Set(key string, data []byte) {
	c.entries.Set(key, entry{data: bytes.Clone(data), fetched: c.opts.Now()})
}

func (c *Cache) Delete(key string) {
	c.entries.Delete(key)
}

// CacheStats are point-in-time counters.
type CacheStats struct {
	Len       int    `json:"len"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

func (c *Cache) Stats() CacheStats {
	s := c.entries.Stats()
	return CacheStats{Len: s.Len, Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
}

// Cached fronts a Store with a Cache. Saves write through; stale loads are
// served immediately and refreshed once in the background.
type Cached struct {
	store  Store
	cache  *Cache
	logger *slog.Logger

	mu         sync.Mutex
	refreshing map[string]bool
	// gen counts writes per document. A load only fills the cache if no
	// write landed while it was reading.
	gen map[string]uint64
	wg  sync.WaitGroup
}

func NewCached(s Store, c *Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		store:      s,
		cache:      c,
		logger:     logger,
		refreshing: make(map[string]bool),
		gen:        make(map[string]uint64),
	}
}

func (c *Cached) Save(ctx context.Context, docID string, data []byte) error {
	err := c.store.Save(ctx, docID, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[docID]++
	if err != nil {
		c.cache.Delete(docID)
		return err
	}
	c.cache.Set(docID, data)
	return nil
}

func (c *Cached) generation(docID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[docID]
}

// fill caches data read at generation gen unless a save has since
// replaced it.
func (c *Cached) fill(docID string, gen uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[docID] == gen {
		c.cache.Set(docID, data)
	}
}

func (c *Cached) Load(ctx context.Context, docID string) ([]byte, error) {
	data, freshness := c.cache.Get(docID)
	switch freshness {
	case Fresh:
		return data, nil
	case Stale:
		c.refresh(docID)
		return data, nil
	}

	gen := c.generation(docID)
	data, err := c.store.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	c.fill(docID, gen, data)
	return data, nil
}

func (c *Cached) refresh(docID string) {
	c.mu.Lock()
	if c.refreshing[docID] {
		c.mu.Unlock()
		return
	}
	c.refreshing[docID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, docID)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gen := c.generation(docID)
		data, err := c.store.Load(ctx, docID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.cache.Delete(docID)
			}
			c.logger.Warn("store: background refresh failed", "doc", docID, "error", err)
			return
		}
		c.fill(docID, gen, data)
	}()
}

// Wait blocks until background refreshes finish.
func (c *Cached) Wait() {
	c.wg.Wait()
}

func (c *Cached) String() string {
	s := c.cache.Stats()
	return fmt.Sprintf("cached store (%d entries, %d hits, %d misses)", s.Len, s.Hits, s.Misses)
}
