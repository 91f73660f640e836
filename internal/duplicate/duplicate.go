// Package duplicate groups images whose bytes are identical.
package duplicate

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-dedup/internal/asset"
	"github.com/kozaktomas/photo-dedup/internal/cache"
	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

// Finder hashes raw image bytes with MD5 and groups equal digests.
type Finder struct {
	cache         *cache.Cache
	resolver      asset.Resolver
	sink          events.Sink
	logger        *slog.Logger
	maxConcurrent int
}

// NewFinder creates a Finder. A nil cache disables caching; maxConcurrent below 1 is an error.
func NewFinder(c *cache.Cache, resolver asset.Resolver, sink events.Sink, maxConcurrent int, logger *slog.Logger) (*Finder, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be at least 1, got %d", maxConcurrent)
	}
	return &Finder{
		cache:         c,
		resolver:      resolver,
		sink:          events.OrDiscard(sink),
		logger:        logging.OrNoop(logger).With("component", "duplicate"),
		maxConcurrent: maxConcurrent,
	}, nil
}

// Digest returns the hex MD5 of id's bytes, consulting the cache first.
// The boolean is false when the bytes are unavailable.
func (f *Finder) Digest(ctx context.Context, id string) (string, bool) {
	key := cache.MD5Key(id)
	if f.cache != nil {
		if v, ok := f.cache.Get(key); ok {
			return v, true
		}
	}

	data, err := f.resolver.Resolve(ctx, id)
	if err != nil {
		f.logger.Debug("image unavailable", "id", id, "error", err)
		return "", false
	}
	sum := md5.Sum(data) //nolint:gosec
	digest := hex.EncodeToString(sum[:])

	if f.cache != nil {
		f.cache.Set(key, digest)
	}
	return digest, true
}

// FindExactDuplicates returns groups of at least two ids with identical bytes.
// Ids keep input order inside a group; groups are ordered by their first member.
// Unavailable ids are skipped. The cache is flushed once at the end; its error is
// logged and does not fail the call.
func (f *Finder) FindExactDuplicates(ctx context.Context, ids []string) ([]cluster.Group, error) {
	runID := uuid.NewString()
	digests := make([]string, len(ids))
	present := make([]bool, len(ids))

	var (
		mu       sync.Mutex
		finished int
	)
	f.sink.Publish(events.MD5Calculated, events.Progress{RunID: runID, Finished: 0, Total: len(ids)})

	sem := semaphore.NewWeighted(int64(f.maxConcurrent))
	var g errgroup.Group
	var runErr error
	for i, id := range ids {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		if runErr = sem.Acquire(ctx, 1); runErr != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			digest, ok := f.Digest(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			digests[i], present[i] = digest, ok
			finished++
			f.sink.Publish(events.MD5Calculated, events.Progress{RunID: runID, Finished: finished, Total: len(ids)})
			return nil
		})
	}
	_ = g.Wait()

	if f.cache != nil {
		if err := f.cache.Flush(context.WithoutCancel(ctx)); err != nil {
			f.logger.Warn("cache persistence failed", "run_id", runID, "error", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	groups := groupByDigest(ids, digests, present)
	f.logger.Info("exact duplicates found", "run_id", runID, "total", len(ids), "groups", len(groups))
	return groups, nil
}

func groupByDigest(ids, digests []string, present []bool) []cluster.Group {
	byDigest := make(map[string]int)
	var groups []cluster.Group
	for i, id := range ids {
		if !present[i] {
			continue
		}
		if gi, ok := byDigest[digests[i]]; ok {
			groups[gi].IDs = append(groups[gi].IDs, id)
			groups[gi].Indexes = append(groups[gi].Indexes, i)
			continue
		}
		byDigest[digests[i]] = len(groups)
		groups = append(groups, cluster.Group{IDs: []string{id}, Indexes: []int{i}})
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.IDs) >= 2 {
			out = append(out, g)
		}
	}
	return out
}
