// Package finder wires configuration, storage, caching, fingerprinting and
// grouping into the operations exposed by the command line.
package finder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/kozaktomas/photo-dedup/internal/asset"
	"github.com/kozaktomas/photo-dedup/internal/cache"
	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/duplicate"
	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/logging"
	"github.com/kozaktomas/photo-dedup/internal/pipeline"
	"github.com/kozaktomas/photo-dedup/internal/store"
	"github.com/kozaktomas/photo-dedup/internal/store/sqlstore"
)

// SQLiteFile is the database file name used when the sqlite backend has no DSN.
const SQLiteFile = "fingerprints.db"

// Finder runs fingerprinting and grouping against one configured store.
// Each call loads its own cache from the store and flushes it once at the end.
type Finder struct {
	cfg      *config.Config
	store    store.Store
	closer   io.Closer
	resolver asset.Resolver
	original asset.Resolver // unmodified bytes for content digests
	hasher   fingerprint.Hasher
	sink     events.Sink
	logger   *slog.Logger
}

// Option customises a Finder.
type Option func(*Finder)

// WithSink publishes progress events to s.
func WithSink(s events.Sink) Option {
	return func(f *Finder) { f.sink = s }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(f *Finder) { f.logger = l }
}

// WithStore uses st instead of opening the configured backend. The caller keeps ownership.
func WithStore(st store.Store) Option {
	return func(f *Finder) { f.store = st }
}

// WithHasher overrides the configured hash primitive.
func WithHasher(h fingerprint.Hasher) Option {
	return func(f *Finder) { f.hasher = h }
}

// New validates cfg and opens its store. Close releases the store.
func New(ctx context.Context, cfg *config.Config, resolver asset.Resolver, opts ...Option) (*Finder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}

	f := &Finder{cfg: cfg, resolver: resolver}
	for _, opt := range opts {
		opt(f)
	}
	f.sink = events.OrDiscard(f.sink)
	f.logger = logging.OrNoop(f.logger)

	if f.hasher == nil {
		h, err := fingerprint.NewHasher(cfg.Hasher)
		if err != nil {
			return nil, err
		}
		f.hasher = h
	}
	f.original = asset.Original(resolver)
	if cfg.Resolver.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Resolver.RateLimit), cfg.Resolver.Burst)
		f.resolver = asset.RateLimited(f.resolver, limiter)
		f.original = asset.RateLimited(f.original, limiter)
	}
	if f.store == nil {
		st, closer, err := OpenStore(ctx, cfg.Store, f.logger)
		if err != nil {
			return nil, err
		}
		f.store, f.closer = st, closer
	}
	return f, nil
}

// OpenStore opens the configured backend. The closer is nil when nothing needs releasing.
func OpenStore(ctx context.Context, sc config.StoreConfig, logger *slog.Logger) (store.Store, io.Closer, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil, nil
	case config.BackendFile:
		c, err := sc.CompressionKind()
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewFile(sc.Dir, c)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}

	dialect, err := sc.Dialect()
	if err != nil {
		return nil, nil, err
	}
	dsn := sc.DSN
	if dsn == "" && dialect == sqlstore.DialectSQLite {
		if err := os.MkdirAll(sc.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = filepath.Join(sc.Dir, SQLiteFile)
	}
	st, err := sqlstore.Open(ctx, dialect, dsn, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

// Close releases the store opened by New.
func (f *Finder) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func (f *Finder) newCache(ctx context.Context) *cache.Cache {
	return cache.New(ctx, f.store, cache.Options{
		MaxEntries: f.cfg.MaxCacheSize,
		Namespace:  f.cfg.StorageIdentifier,
	}, f.logger)
}

// Fingerprints computes one record per id, in input order. With maxConcurrent 1
// the ids are fingerprinted one after another.
func (f *Finder) Fingerprints(ctx context.Context, ids []string) (*pipeline.Result, error) {
	opts, err := f.cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	computer := pipeline.NewComputer(f.newCache(ctx), f.resolver, f.hasher, f.logger)
	p := pipeline.New(computer, f.sink, f.logger)
	if opts.MaxConcurrent == 1 {
		return p.RunIterative(ctx, ids, opts.Algorithm)
	}
	return p.Run(ctx, ids, opts)
}

// FindSimilar fingerprints ids and groups near-duplicates.
func (f *Finder) FindSimilar(ctx context.Context, ids []string) ([]cluster.Group, error) {
	opts, err := f.cfg.ClusterOptions()
	if err != nil {
		return nil, err
	}
	res, err := f.Fingerprints(ctx, ids)
	if err != nil {
		return nil, err
	}
	return cluster.NewBuilder(f.sink, f.logger).BuildGroups(ctx, res.Records, opts)
}

// FindPairs fingerprints ids and lists every pair within the threshold.
func (f *Finder) FindPairs(ctx context.Context, ids []string) ([]cluster.Pair, error) {
	res, err := f.Fingerprints(ctx, ids)
	if err != nil {
		return nil, err
	}
	return cluster.Pairs(res.Records, f.cfg.MaxHammingDistance), nil
}

// FindDuplicates groups ids whose file bytes are identical. The configured image
// quality does not apply: digests are always taken over the original bytes.
func (f *Finder) FindDuplicates(ctx context.Context, ids []string) ([]cluster.Group, error) {
	d, err := duplicate.NewFinder(f.newCache(ctx), f.original, f.sink, f.cfg.MaxConcurrent, f.logger)
	if err != nil {
		return nil, err
	}
	return d.FindExactDuplicates(ctx, ids)
}

// CacheStats describes the persisted cache namespace.
type CacheStats struct {
	Namespace  string `json:"namespace"`
	Entries    int    `json:"entries"`
	MaxEntries int    `json:"maxEntries"`
}

// Stats loads the persisted namespace and counts its entries.
func (f *Finder) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{Namespace: f.cfg.StorageIdentifier, MaxEntries: f.cfg.MaxCacheSize}
	if c, ok := f.store.(interface {
		Count(ctx context.Context, namespace string) (int, error)
	}); ok {
		n, err := c.Count(ctx, stats.Namespace)
		stats.Entries = n
		return stats, err
	}
	entries, err := f.store.Load(ctx, stats.Namespace)
	stats.Entries = len(entries)
	return stats, err
}

// ClearCache removes the persisted namespace.
func (f *Finder) ClearCache(ctx context.Context) error {
	return f.store.Clear(ctx, f.cfg.StorageIdentifier)
}
