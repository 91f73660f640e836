package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-dedup/internal/asset"
	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/index"
	"github.com/kozaktomas/photo-dedup/internal/logging"
	"github.com/kozaktomas/photo-dedup/internal/pipeline"
	"github.com/kozaktomas/photo-dedup/internal/store"
	"github.com/kozaktomas/photo-dedup/internal/store/sqlstore"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

type Config struct {
	Options  `yaml:",inline"`
	Hasher   string         `yaml:"hasher"`
	Store    StoreConfig    `yaml:"store"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      LogConfig      `yaml:"log"`
}

// Options are the fingerprinting options shared by every run.
type Options struct {
	HashAlgorithmName   string `yaml:"hashAlgorithmName"`
	MaxCacheSize        int    `yaml:"maxCacheSize"` // 0 disables the cache and clears its namespace
	StorageIdentifier   string `yaml:"storageIdentifier"`
	ImageQuality        string `yaml:"imageQuality"`
	ConcurrentBatchSize int    `yaml:"concurrentBatchSize"`
	MaxConcurrent       int    `yaml:"maxConcurrent"`
	MaxHammingDistance  int    `yaml:"maxHammingDistance"`
	NearestK            int    `yaml:"nearestK"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
	DSN         string `yaml:"dsn"` // SQL data source; sqlite defaults to a file inside Dir
}

type ClusterConfig struct {
	Strategy  string `yaml:"strategy"`
	Index     string `yaml:"index"`
	Limit     string `yaml:"limit"`
	Reconcile string `yaml:"reconcile"`
	Workers   int    `yaml:"workers"`
	BatchSize int    `yaml:"batchSize"`
}

type ResolverConfig struct {
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Defaults returns the embedded defaults without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the defaults overridden by environment variables.
func Load() (*Config, error) {
	return load(nil)
}

// LoadFile applies the YAML file at path over the defaults, then environment variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return load(data)
}

func load(override []byte) (*Config, error) {
	cfg := Defaults()
	if override != nil {
		dec := yaml.NewDecoder(bytes.NewReader(override))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("PHASH_ALGORITHM", &c.HashAlgorithmName)
	envString("PHASH_STORAGE_ID", &c.StorageIdentifier)
	envString("PHASH_IMAGE_QUALITY", &c.ImageQuality)
	envString("PHASH_HASHER", &c.Hasher)
	envString("PHASH_STORE", &c.Store.Backend)
	envString("PHASH_STORE_DIR", &c.Store.Dir)
	envString("PHASH_STORE_COMPRESSION", &c.Store.Compression)
	envString("DATABASE_URL", &c.Store.DSN)
	envString("PHASH_CLUSTER_STRATEGY", &c.Cluster.Strategy)
	envString("PHASH_INDEX", &c.Cluster.Index)
	envString("PHASH_LIMIT_POLICY", &c.Cluster.Limit)
	envString("PHASH_RECONCILE", &c.Cluster.Reconcile)
	envString("LOG_LEVEL", &c.Log.Level)

	errs := []error{
		envInt("PHASH_MAX_CACHE_SIZE", &c.MaxCacheSize),
		envInt("PHASH_BATCH_SIZE", &c.ConcurrentBatchSize),
		envInt("PHASH_MAX_CONCURRENT", &c.MaxConcurrent),
		envInt("PHASH_MAX_HAMMING_DISTANCE", &c.MaxHammingDistance),
		envInt("PHASH_NEAREST_K", &c.NearestK),
		envInt("PHASH_CLUSTER_WORKERS", &c.Cluster.Workers),
		envInt("PHASH_CLUSTER_BATCH_SIZE", &c.Cluster.BatchSize),
		envInt("PHASH_RESOLVE_BURST", &c.Resolver.Burst),
		envFloat("PHASH_RESOLVE_RATE", &c.Resolver.RateLimit),
		envBool("LOG_JSON", &c.Log.JSON),
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// envString overrides dst when the env var is set and non-empty.
func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envInt overrides dst with the parsed env var. Malformed values are an error, never ignored.
func envInt(key string, dst *int) error {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, s)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, s)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", key, s)
	}
	*dst = b
	return nil
}

// Validate reports every invalid value at once. Nothing is clamped.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := c.Algorithm()
	add(err)
	_, err = c.Quality()
	add(err)
	_, err = fingerprint.NewHasher(c.Hasher)
	add(err)
	add(store.ValidateNamespace(c.StorageIdentifier))

	if c.MaxCacheSize < 0 {
		add(fmt.Errorf("maxCacheSize must not be negative, got %d", c.MaxCacheSize))
	}
	if c.ConcurrentBatchSize < 1 {
		add(fmt.Errorf("concurrentBatchSize must be at least 1, got %d", c.ConcurrentBatchSize))
	}
	if c.MaxConcurrent < 1 {
		add(fmt.Errorf("maxConcurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.MaxHammingDistance < 0 || c.MaxHammingDistance > fingerprint.Bits {
		add(fmt.Errorf("maxHammingDistance must be within 0..%d, got %d", fingerprint.Bits, c.MaxHammingDistance))
	}
	if c.NearestK < 1 {
		add(fmt.Errorf("nearestK must be at least 1, got %d", c.NearestK))
	}

	add(c.Store.validate())
	_, err = c.ClusterOptions()
	add(err)
	if c.Cluster.Workers < 1 || c.Cluster.BatchSize < 1 {
		add(fmt.Errorf("cluster workers and batch size must be at least 1, got %d and %d", c.Cluster.Workers, c.Cluster.BatchSize))
	}
	if c.Resolver.RateLimit < 0 {
		add(fmt.Errorf("resolver rate limit must not be negative, got %g", c.Resolver.RateLimit))
	}
	if c.Resolver.Burst < 1 {
		add(fmt.Errorf("resolver burst must be at least 1, got %d", c.Resolver.Burst))
	}
	_, err = logging.ParseLevel(c.Log.Level)
	add(err)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendFile:
		if s.Dir == "" {
			return errors.New("store dir is required for the file backend")
		}
		_, err := s.CompressionKind()
		return err
	case BackendSQLite:
		if s.DSN == "" && s.Dir == "" {
			return errors.New("store dsn or dir is required for the sqlite backend")
		}
		return nil
	case BackendPostgres, BackendMySQL:
		if s.DSN == "" {
			return fmt.Errorf("store dsn is required for the %s backend", s.Backend)
		}
		return nil
	}
	return fmt.Errorf("unknown store backend %q", s.Backend)
}

// CompressionKind resolves the file store compression name.
func (s StoreConfig) CompressionKind() (store.Compression, error) {
	return store.ParseCompression(s.Compression)
}

// Dialect returns the SQL dialect of a SQL backend.
func (s StoreConfig) Dialect() (sqlstore.Dialect, error) {
	return sqlstore.ParseDialect(s.Backend)
}

// Algorithm resolves HashAlgorithmName.
func (o Options) Algorithm() (fingerprint.Algorithm, error) {
	return fingerprint.ParseAlgorithm(o.HashAlgorithmName)
}

// Quality resolves ImageQuality.
func (o Options) Quality() (asset.Quality, error) {
	return asset.ParseQuality(o.ImageQuality)
}

// PipelineOptions returns the fingerprinting run options.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	alg, err := c.Algorithm()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Algorithm:     alg,
		BatchSize:     c.ConcurrentBatchSize,
		MaxConcurrent: c.MaxConcurrent,
	}, nil
}

// ClusterOptions returns the grouping options.
func (c *Config) ClusterOptions() (cluster.Options, error) {
	strategy, err1 := cluster.ParseStrategy(c.Cluster.Strategy)
	kind, err2 := index.ParseKind(c.Cluster.Index)
	limit, err3 := cluster.ParseLimitPolicy(c.Cluster.Limit)
	reconcile, err4 := cluster.ParseReconcile(c.Cluster.Reconcile)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return cluster.Options{}, err
	}
	return cluster.Options{
		MaxHammingDistance: c.MaxHammingDistance,
		NearestK:           c.NearestK,
		Strategy:           strategy,
		Limit:              limit,
		IndexKind:          kind,
		BatchSize:          c.Cluster.BatchSize,
		Workers:            c.Cluster.Workers,
		Reconcile:          reconcile,
	}, nil
}
