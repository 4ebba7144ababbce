// Package memorystratafx provides an fx module for an in-memory strata client.
// Useful for testing.
package memorystratafx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/strata"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/stats/logger"
	"github.com/discochess/strata/internal/store/memstore"
)

// Client is the client type provided by this module.
type Client = strata.Client[key.Name, key.String, []byte]

// Authoritative is the in-memory store behind the client.
type Authoritative = memstore.Ranged[key.Name, key.String, []byte]

// Module provides an in-memory strata client for testing.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memorystrata",
	fx.Provide(
		newStatsCollector,
		newAuthoritative,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("strata.stats"))
}

func newAuthoritative() *Authoritative {
	return memstore.NewRanged[key.Name, key.String, []byte]()
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Logger        *zap.Logger
	Collector     stats.Collector
	Authoritative *Authoritative
	Lifecycle     fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *Client
}

func newClient(p Params) (Result, error) {
	mirror := memstore.NewRanged[key.Name, key.String, []byte]()

	client, err := strata.New[key.Name, key.String, []byte](
		p.Authoritative,
		mirror,
		strata.WithStats(p.Collector),
		strata.WithLogger(p.Logger.Named("strata")),
	)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
