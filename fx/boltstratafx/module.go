// Package boltstratafx provides an fx module for a strata client backed by a
// bbolt database file.
package boltstratafx

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/strata"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/stats/logger"
	promstats "github.com/discochess/strata/internal/stats/prometheus"
	"github.com/discochess/strata/internal/store/boltstore"
	"github.com/discochess/strata/internal/store/memstore"
)

// DefaultBucket is the root bucket used when Config.Bucket is empty.
const DefaultBucket = "strata"

// Client is the client type provided by this module.
type Client = strata.Client[key.Name, key.String, []byte]

// Config holds configuration for the bolt-backed client.
type Config struct {
	// Path is the database file. Created if missing.
	Path string

	// Bucket is the root bucket holding one sub-bucket per partition.
	// Default is DefaultBucket.
	Bucket string

	// Concurrency caps concurrent reads of the database.
	// Zero means the reader ceiling of the database.
	Concurrency int

	// FetchParallelism caps concurrent sub-range fetches per query.
	FetchParallelism int
}

// Module provides a bolt-backed strata client.
// Requires a Config and a *zap.Logger to be provided. When a
// prometheus.Registerer is also provided, metrics are registered there in
// addition to being logged.
var Module = fx.Module("boltstrata",
	fx.Provide(
		newStatsCollector,
		newClient,
	),
)

// StatsParams holds dependencies for the stats collector.
type StatsParams struct {
	fx.In

	Logger     *zap.Logger
	Registerer prometheus.Registerer `optional:"true"`
}

func newStatsCollector(p StatsParams) stats.Collector {
	logged := logger.New(p.Logger.Named("strata.stats"))
	if p.Registerer == nil {
		return logged
	}
	return stats.Multi{logged, promstats.New(p.Registerer)}
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *Client
}

func newClient(p Params) (Result, error) {
	if p.Config.Path == "" {
		return Result{}, errors.New("boltstratafx: database path is required")
	}
	bucket := p.Config.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	db, err := boltstore.Open(p.Config.Path)
	if err != nil {
		return Result{}, err
	}

	authoritative, err := boltstore.NewRanged[key.Name, key.String, []byte](db, bucket, key.ParseString, serde.Bytes{})
	if err != nil {
		return Result{}, errors.Join(err, db.Close())
	}

	// Closing the client closes the store, which releases the file.
	client, err := strata.New[key.Name, key.String, []byte](
		authoritative,
		memstore.NewRanged[key.Name, key.String, []byte](),
		strata.WithConcurrency(p.Config.Concurrency),
		strata.WithFetchParallelism(p.Config.FetchParallelism),
		strata.WithStats(p.Collector),
		strata.WithLogger(p.Logger.Named("strata")),
	)
	if err != nil {
		return Result{}, errors.Join(err, authoritative.Close())
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
