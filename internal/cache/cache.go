// Package cache implements the size-bounded fingerprint cache with random eviction.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/logging"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

// Key returns the cache key of a fingerprint computed with alg.
func Key(id string, alg fingerprint.Algorithm) string {
	return id + "_" + alg.String()
}

// MD5Key returns the cache key of an MD5 content hash.
func MD5Key(id string) string {
	return id + "_md5"
}

// Options configures a Cache.
type Options struct {
	// MaxEntries caps the entry count after Flush. Zero or less disables the cache.
	MaxEntries int
	// Namespace is the store namespace the map is persisted under.
	Namespace string
	// Rand drives eviction. Nil uses the global source.
	Rand *rand.Rand
}

// Cache is a string map loaded from a store.Store once and persisted on Flush.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]string
	maxEntries int
	namespace  string
	store      store.Store
	rng        *rand.Rand
	logger     *slog.Logger
	dirty      bool
	pendingErr error
}

// New loads the namespace from st. A disabled cache clears the namespace instead.
// Load failures are logged, leave the cache empty and are returned by the next Flush.
func New(ctx context.Context, st store.Store, opts Options, logger *slog.Logger) *Cache {
	c := &Cache{
		entries:    make(map[string]string),
		maxEntries: max(opts.MaxEntries, 0),
		namespace:  opts.Namespace,
		store:      st,
		rng:        opts.Rand,
		logger:     logging.OrNoop(logger).With("component", "cache", "namespace", opts.Namespace),
	}

	if st == nil {
		return c
	}

	if c.maxEntries == 0 {
		if err := st.Clear(ctx, c.namespace); err != nil {
			c.logger.Warn("failed to clear disabled cache", "error", err)
			c.pendingErr = fmt.Errorf("clearing cache: %w", err)
		}
		return c
	}

	loaded, err := st.Load(ctx, c.namespace)
	if err != nil {
		c.logger.Warn("failed to load cache, starting empty", "error", err)
		c.pendingErr = fmt.Errorf("loading cache: %w", err)
		return c
	}
	c.entries = loaded
	c.logger.Debug("cache loaded", "entries", len(loaded))
	return c
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.maxEntries > 0
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key. Setting an unchanged value does not mark the cache dirty.
func (c *Cache) Set(key, value string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok && old == value {
		return
	}
	c.entries[key] = value
	c.dirty = true
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush evicts random entries until Len() <= MaxEntries and persists the map if it changed.
// It returns the save error joined with any load error not yet reported.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pendingErr
	c.pendingErr = nil

	if !c.Enabled() || c.store == nil {
		return pending
	}

	if evicted := c.evictLocked(); evicted > 0 {
		c.logger.Debug("evicted cache entries", "evicted", evicted, "remaining", len(c.entries))
		c.dirty = true
	}
	if !c.dirty {
		return pending
	}

	if err := c.store.Save(ctx, c.namespace, maps.Clone(c.entries)); err != nil {
		c.logger.Warn("failed to save cache", "error", err)
		return errors.Join(pending, fmt.Errorf("saving cache: %w", err))
	}
	c.dirty = false
	return pending
}

// evictLocked removes uniformly random entries until the cap holds.
// Keys are sorted first so a seeded Rand gives reproducible evictions.
func (c *Cache) evictLocked() int {
	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return 0
	}

	keys := slices.Sorted(maps.Keys(c.entries))
	// Partial Fisher-Yates: the first excess slots become a uniform sample.
	for i := range excess {
		j := i + c.intN(len(keys)-i)
		keys[i], keys[j] = keys[j], keys[i]
		delete(c.entries, keys[i])
	}
	return excess
}

func (c *Cache) intN(n int) int {
	if c.rng != nil {
		return c.rng.IntN(n)
	}
	return rand.IntN(n)
}
