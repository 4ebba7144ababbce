package boltstratafx

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/stats"
)

func TestModule_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.db")
	ctx := context.Background()
	p := key.Name("docs")

	var client *Client
	app := fxtest.New(t,
		fx.Supply(zap.NewNop(), Config{Path: path}),
		Module,
		fx.Populate(&client),
	)
	app.RequireStart()
	for _, k := range []string{"a", "b", "c"} {
		if err := client.Put(ctx, p, key.NewString(k), []byte(strings.ToUpper(k))); err != nil {
			t.Fatal(err)
		}
	}
	app.RequireStop()

	// The file lock is released on stop, so a second app can open it.
	var reopened *Client
	app = fxtest.New(t,
		fx.Supply(zap.NewNop(), Config{Path: path, Bucket: DefaultBucket}),
		Module,
		fx.Populate(&reopened),
	)
	app.RequireStart()
	defer app.RequireStop()

	got, err := reopened.ValuesAbove(ctx, p, key.NewString("b"))
	if err != nil {
		t.Fatalf("ValuesAbove: %v", err)
	}
	var keys []string
	for k, v := range got.All() {
		keys = append(keys, k.Value()+"="+string(v))
	}
	if want := "b=B,c=C"; strings.Join(keys, ",") != want {
		t.Errorf("ValuesAbove = %v, want %s", keys, want)
	}
}

func TestModule_RequiresPath(t *testing.T) {
	app := fx.New(
		fx.NopLogger,
		fx.Supply(zap.NewNop(), Config{}),
		Module,
		fx.Invoke(func(*Client) {}),
	)
	if err := app.Err(); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestModule_PrometheusRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()

	var collector stats.Collector
	app := fxtest.New(t,
		fx.Supply(zap.NewNop(), Config{Path: filepath.Join(t.TempDir(), "m.db")}),
		fx.Provide(func() prometheus.Registerer { return reg }),
		Module,
		fx.Populate(&collector),
	)
	app.RequireStart()
	defer app.RequireStop()

	if _, ok := collector.(stats.Multi); !ok {
		t.Fatalf("collector = %T, want stats.Multi", collector)
	}
	collector.IncCounter(stats.MetricAuthoritativeFetches, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == stats.MetricAuthoritativeFetches {
			found = true
		}
	}
	if !found {
		t.Errorf("%s not registered", stats.MetricAuthoritativeFetches)
	}
}
