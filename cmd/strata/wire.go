package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/strata"
	"github.com/discochess/strata/internal/codec/codecs"
	"github.com/discochess/strata/internal/config"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/pointcache"
	"github.com/discochess/strata/internal/pointcache/bytecache"
	"github.com/discochess/strata/internal/pointcache/bytecache/bigcache"
	"github.com/discochess/strata/internal/pointcache/bytecache/redis"
	"github.com/discochess/strata/internal/pointcache/bytecache/ristretto"
	"github.com/discochess/strata/internal/pointcache/lru"
	"github.com/discochess/strata/internal/pointcache/ttl"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/stats"
	promstats "github.com/discochess/strata/internal/stats/prometheus"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/blob"
	"github.com/discochess/strata/internal/store/boltstore"
	"github.com/discochess/strata/internal/store/boundedstore"
	"github.com/discochess/strata/internal/store/cachedstore"
	"github.com/discochess/strata/internal/store/diskstore"
	"github.com/discochess/strata/internal/store/dynamostore"
	"github.com/discochess/strata/internal/store/gcsstore"
	"github.com/discochess/strata/internal/store/memstore"
	"github.com/discochess/strata/internal/store/s3store"
)

// Bucket names used when a bolt backend does not set one.
const (
	authoritativeBucket = "authoritative"
	mirrorBucket        = "mirror"
	pointsBucket        = "points"
)

// bigcacheLife is the entry lifetime of a bigcache point cache without a
// configured TTL.
const bigcacheLife = 10 * time.Minute

type (
	rangedStore = store.RangedStore[key.Name, key.String, []byte]
	pointStore  = store.Store[key.Name, []byte]
	client      = strata.Client[key.Name, key.String, []byte]
)

// env holds everything a command builds from the configuration. Close
// releases it in reverse order of construction.
type env struct {
	cfg       *config.Config
	logger    *zap.Logger
	memory    *stats.Memory
	collector stats.Collector
	registry  *prometheus.Registry

	dbs     map[string]*boltstore.DB
	closers []func(context.Context) error
}

func newEnv() (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		memory: stats.NewMemory(),
		dbs:    make(map[string]*boltstore.DB),
	}
	e.collector = e.memory

	if cfg.Metrics.Addr != "" {
		e.registry = prometheus.NewRegistry()
		e.collector = stats.Multi{e.memory, promstats.New(e.registry)}
		if err := e.serveMetrics(cfg.Metrics.Addr); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func newLogger(c config.Log) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func (e *env) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	e.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	e.onClose(srv.Shutdown)
	return nil
}

func (e *env) onClose(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

// Close runs the registered closers newest first, then closes any bolt
// files still open.
func (e *env) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, db := range e.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

// openDB shares one handle per file, so the authoritative store, the
// mirror and the point store may live in the same bolt file.
func (e *env) openDB(path string) (*boltstore.DB, error) {
	if db, ok := e.dbs[path]; ok {
		return db, nil
	}
	db, err := boltstore.Open(path)
	if err != nil {
		return nil, err
	}
	e.dbs[path] = db
	return db, nil
}

func valueCodec(name string) (serde.Codec[[]byte], error) {
	if name == "" || name == "raw" {
		return serde.Bytes{}, nil
	}
	return serde.ByName[[]byte](name)
}

func bucketOr(b config.Backend, fallback string) string {
	if b.Bucket != "" {
		return b.Bucket
	}
	return fallback
}

// ranged builds a ranged backend. A bolt mirror is emptied first: coverage
// does not survive the process, so leftover entries could be stale.
func (e *env) ranged(ctx context.Context, b config.Backend, bucket string, fresh bool) (rangedStore, error) {
	codec, err := valueCodec(b.Serde)
	if err != nil {
		return nil, err
	}

	switch b.Kind {
	case config.KindMemory:
		var opts []memstore.Option
		if b.MaxConcurrency > 0 {
			opts = append(opts, memstore.WithMaxConcurrency(b.MaxConcurrency))
		}
		return memstore.NewRanged[key.Name, key.String, []byte](opts...), nil

	case config.KindBolt:
		db, err := e.openDB(b.Path)
		if err != nil {
			return nil, err
		}
		bucket = bucketOr(b, bucket)
		if fresh {
			if err := db.DropBucket(bucket); err != nil {
				return nil, err
			}
		}
		return boltstore.NewRanged[key.Name, key.String, []byte](db, bucket, key.ParseString, codec)

	case config.KindDynamoDB:
		opts := []dynamostore.Option{dynamostore.WithLogger(e.logger)}
		if b.MaxConcurrency > 0 {
			opts = append(opts, dynamostore.WithMaxConcurrency(b.MaxConcurrency))
		}
		return dynamostore.Connect[key.Name, key.String, []byte](ctx, b.Table, key.ParseString, codec, opts...)

	default:
		return nil, fmt.Errorf("unsupported ranged backend %q", b.Kind)
	}
}

// openClient builds the two-level client from the authoritative and mirror
// backends.
func (e *env) openClient(ctx context.Context) (*client, error) {
	a, m := e.cfg.Authoritative, e.cfg.Mirror
	if a.Kind == config.KindBolt && m.Kind == config.KindBolt && a.Path == m.Path &&
		bucketOr(a, authoritativeBucket) == bucketOr(m, mirrorBucket) {
		return nil, fmt.Errorf("mirror and authoritative store share bucket %q in %s", bucketOr(m, mirrorBucket), m.Path)
	}

	authoritative, err := e.ranged(ctx, e.cfg.Authoritative, authoritativeBucket, false)
	if err != nil {
		return nil, fmt.Errorf("opening authoritative store: %w", err)
	}
	mirror, err := e.ranged(ctx, e.cfg.Mirror, mirrorBucket, true)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("opening mirror: %w", err), authoritative.Close())
	}

	c, err := strata.New[key.Name, key.String, []byte](
		authoritative,
		mirror,
		strata.WithConcurrency(e.cfg.Concurrency),
		strata.WithFetchParallelism(e.cfg.FetchParallelism),
		strata.WithLockStripes(e.cfg.LockStripes),
		strata.WithStats(e.collector),
		strata.WithLogger(e.logger.Named("strata")),
	)
	if err != nil {
		return nil, errors.Join(err, authoritative.Close(), mirror.Close())
	}
	e.onClose(func(context.Context) error { return c.Close() })
	return c, nil
}

func (e *env) points(ctx context.Context, b config.Backend) (pointStore, error) {
	codec, err := valueCodec(b.Serde)
	if err != nil {
		return nil, err
	}
	compression, err := codecs.ByName(b.Compression)
	if err != nil {
		return nil, err
	}
	format := blob.NewFormat(codec, compression)

	switch b.Kind {
	case config.KindMemory:
		var opts []memstore.Option
		if b.MaxConcurrency > 0 {
			opts = append(opts, memstore.WithMaxConcurrency(b.MaxConcurrency))
		}
		return memstore.New[key.Name, []byte](opts...), nil

	case config.KindBolt:
		db, err := e.openDB(b.Path)
		if err != nil {
			return nil, err
		}
		return boltstore.NewStore[key.Name, []byte](db, bucketOr(b, pointsBucket), codec)

	case config.KindDisk:
		var opts []diskstore.Option
		if b.MaxConcurrency > 0 {
			opts = append(opts, diskstore.WithMaxConcurrency(b.MaxConcurrency))
		}
		return diskstore.New[key.Name, []byte](b.Path, format, opts...)

	case config.KindS3:
		opts := []s3store.Option{s3store.WithPrefix(b.Prefix)}
		if b.Region != "" {
			opts = append(opts, s3store.WithRegion(b.Region))
		}
		if b.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(b.Endpoint))
		}
		if b.MaxConcurrency > 0 {
			opts = append(opts, s3store.WithMaxConcurrency(b.MaxConcurrency))
		}
		return s3store.New[key.Name, []byte](ctx, b.Bucket, format, opts...)

	case config.KindGCS:
		opts := []gcsstore.Option{gcsstore.WithPrefix(b.Prefix)}
		if b.MaxConcurrency > 0 {
			opts = append(opts, gcsstore.WithMaxConcurrency(b.MaxConcurrency))
		}
		return gcsstore.New[key.Name, []byte](ctx, b.Bucket, format, opts...)

	default:
		return nil, fmt.Errorf("unsupported point backend %q", b.Kind)
	}
}

// pointCache builds the configured point cache, or returns nil for none.
func (e *env) pointCache(ctx context.Context, c config.PointCache) (pointcache.Cache[key.Name, []byte], error) {
	logger := e.logger.Named("pointcache")

	var provider bytecache.Provider
	switch c.Kind {
	case "", config.CacheNone:
		return nil, nil

	case config.CacheLRU:
		return lru.New[key.Name, []byte](c.Size)

	case config.CacheTTL:
		entries := memstore.New[key.Name, ttl.Entry[[]byte]]()
		return ttl.New[key.Name, []byte](entries, c.TTL, ttl.WithLogger(logger), ttl.WithStats(e.collector)), nil

	case config.CacheRistretto:
		p, err := ristretto.New(ristretto.DefaultConfig(int64(c.Size)))
		if err != nil {
			return nil, fmt.Errorf("creating ristretto cache: %w", err)
		}
		provider = p

	case config.CacheBigcache:
		life := c.TTL
		if life <= 0 {
			life = bigcacheLife
		}
		p, err := bigcache.New(ctx, bigcache.Config{LifeWindow: life, HardMaxCacheSizeMB: c.Size})
		if err != nil {
			return nil, fmt.Errorf("creating bigcache: %w", err)
		}
		provider = p

	case config.CacheRedis:
		p, err := redis.New(redis.Config{
			Client:      goredis.NewClient(&goredis.Options{Addr: c.Addr}),
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		provider = p

	default:
		return nil, fmt.Errorf("unsupported point cache %q", c.Kind)
	}

	bc := bytecache.New[key.Name, []byte](provider, serde.Bytes{}, c.Namespace,
		bytecache.WithTTL(c.TTL),
		bytecache.WithLogger(logger),
	)
	e.onClose(bc.Close)
	return bc, nil
}

// openPoints builds the point store: backend, then concurrency bound, then
// the read-through cache when one is configured.
func (e *env) openPoints(ctx context.Context) (pointStore, error) {
	backend, err := e.points(ctx, e.cfg.Points)
	if err != nil {
		return nil, fmt.Errorf("opening point store: %w", err)
	}
	var s pointStore = boundedstore.New[key.Name, []byte](backend, e.cfg.Concurrency,
		boundedstore.WithLogger(e.logger),
		boundedstore.WithStats(e.collector),
	)

	cache, err := e.pointCache(ctx, e.cfg.PointCache)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	if cache != nil {
		opts := []cachedstore.Option{
			cachedstore.WithLogger(e.logger),
			cachedstore.WithStats(e.collector),
		}
		if e.cfg.PointCache.Coalesce {
			opts = append(opts, cachedstore.WithCoalescing())
		}
		s = cachedstore.New[key.Name, []byte](s, cache, opts...)
	}
	e.onClose(func(context.Context) error { return s.Close() })
	return s, nil
}
