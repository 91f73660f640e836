// Package pipeline computes fingerprints for many images with bounded concurrency.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/kozaktomas/photo-dedup/internal/asset"
	"github.com/kozaktomas/photo-dedup/internal/cache"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

// Computer produces the fingerprint of one image, consulting the cache first.
type Computer struct {
	cache    *cache.Cache
	resolver asset.Resolver
	hasher   fingerprint.Hasher
	logger   *slog.Logger
}

// NewComputer creates a Computer. A nil cache disables caching.
func NewComputer(c *cache.Cache, resolver asset.Resolver, hasher fingerprint.Hasher, logger *slog.Logger) *Computer {
	return &Computer{
		cache:    c,
		resolver: resolver,
		hasher:   hasher,
		logger:   logging.OrNoop(logger),
	}
}

// Cache returns the cache the computer reads and writes.
func (c *Computer) Cache() *cache.Cache {
	return c.cache
}

// Compute returns the fingerprint of id. The boolean is false when the image
// bytes are unavailable or cannot be hashed; that is never an error.
func (c *Computer) Compute(ctx context.Context, id string, alg fingerprint.Algorithm) (fingerprint.Fingerprint, bool) {
	key := cache.Key(id, alg)

	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			f, err := fingerprint.Parse(v)
			if err == nil {
				return f, true
			}
			c.logger.Debug("ignoring malformed cache entry", "key", key, "error", err)
		}
	}

	data, err := c.resolver.Resolve(ctx, id)
	if err != nil {
		c.logger.Debug("image unavailable", "id", id, "error", err)
		return 0, false
	}

	f, err := c.hasher.Hash(data, alg)
	if err != nil {
		c.logger.Debug("hashing failed", "id", id, "algorithm", alg.String(), "error", err)
		return 0, false
	}

	if c.cache != nil {
		c.cache.Set(key, f.String())
	}
	return f, true
}
