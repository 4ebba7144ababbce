// Package config loads the YAML configuration used by the strata CLI and
// fx modules.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	KindMemory   = "memory"
	KindBolt     = "bolt"
	KindDisk     = "disk"
	KindS3       = "s3"
	KindGCS      = "gcs"
	KindDynamoDB = "dynamodb"
)

// Point cache kinds.
const (
	CacheNone      = "none"
	CacheLRU       = "lru"
	CacheTTL       = "ttl"
	CacheRistretto = "ristretto"
	CacheBigcache  = "bigcache"
	CacheRedis     = "redis"
)

// Config is the top-level configuration.
type Config struct {
	Authoritative    Backend    `yaml:"authoritative"`
	Mirror           Backend    `yaml:"mirror"`
	Points           Backend    `yaml:"points"`
	Concurrency      int        `yaml:"concurrency"`
	FetchParallelism int        `yaml:"fetch_parallelism"`
	LockStripes      int        `yaml:"lock_stripes"`
	PointCache       PointCache `yaml:"point_cache"`
	Metrics          Metrics    `yaml:"metrics"`
	Log              Log        `yaml:"log"`
}

// Backend selects and configures a store.
type Backend struct {
	Kind           string `yaml:"kind"`
	Path           string `yaml:"path,omitempty"`     // bolt file or disk directory
	Bucket         string `yaml:"bucket,omitempty"`   // bolt bucket, s3 or gcs bucket
	Prefix         string `yaml:"prefix,omitempty"`   // object key prefix
	Table          string `yaml:"table,omitempty"`    // dynamodb table
	Region         string `yaml:"region,omitempty"`   // s3
	Endpoint       string `yaml:"endpoint,omitempty"` // s3-compatible services
	Serde          string `yaml:"serde,omitempty"`
	Compression    string `yaml:"compression,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty"`
}

// PointCache configures the cache in front of the point store.
type PointCache struct {
	Kind      string        `yaml:"kind"`
	Size      int           `yaml:"size,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	Addr      string        `yaml:"addr,omitempty"` // redis
	Namespace string        `yaml:"namespace,omitempty"`
	Coalesce  bool          `yaml:"coalesce,omitempty"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `yaml:"addr,omitempty"`
}

// Log configures logging.
type Log struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// Default returns an in-memory configuration.
func Default() *Config {
	return &Config{
		Authoritative:    Backend{Kind: KindMemory},
		Mirror:           Backend{Kind: KindMemory},
		Points:           Backend{Kind: KindMemory},
		FetchParallelism: 4,
		LockStripes:      32,
		PointCache:       PointCache{Kind: CacheLRU, Size: 1024},
		Log:              Log{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if err := c.Authoritative.validate(KindMemory, KindBolt, KindDynamoDB); err != nil {
		return fmt.Errorf("authoritative: %w", err)
	}
	if err := c.Mirror.validate(KindMemory, KindBolt); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	if err := c.Points.validate(KindMemory, KindBolt, KindDisk, KindS3, KindGCS); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.FetchParallelism <= 0 {
		return errors.New("fetch_parallelism must be positive")
	}
	if c.LockStripes <= 0 {
		return errors.New("lock_stripes must be positive")
	}
	if err := c.PointCache.validate(); err != nil {
		return fmt.Errorf("point_cache: %w", err)
	}
	return nil
}

func (b *Backend) validate(allowed ...string) error {
	ok := false
	for _, kind := range allowed {
		if b.Kind == kind {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("kind %q not one of %v", b.Kind, allowed)
	}

	switch b.Kind {
	case KindBolt, KindDisk:
		if b.Path == "" {
			return fmt.Errorf("%s requires path", b.Kind)
		}
	case KindS3, KindGCS:
		if b.Bucket == "" {
			return fmt.Errorf("%s requires bucket", b.Kind)
		}
	case KindDynamoDB:
		if b.Table == "" {
			return errors.New("dynamodb requires table")
		}
	}
	if b.MaxConcurrency < 0 {
		return errors.New("max_concurrency must not be negative")
	}
	return nil
}

func (p *PointCache) validate() error {
	switch p.Kind {
	case "", CacheNone:
		return nil
	case CacheLRU, CacheRistretto, CacheBigcache:
		if p.Size <= 0 {
			return fmt.Errorf("%s requires a positive size", p.Kind)
		}
	case CacheTTL:
		if p.TTL <= 0 {
			return errors.New("ttl requires a positive ttl")
		}
	case CacheRedis:
		if p.Addr == "" {
			return errors.New("redis requires addr")
		}
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	return nil
}
