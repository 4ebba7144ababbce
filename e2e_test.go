//go:build e2e

package strata_test

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/strata"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store/boltstore"
	"github.com/discochess/strata/internal/store/memstore"
)

// TestE2E_BoltBackedClient loads a bbolt file, then checks random range
// reads through the client against direct reads of the file.
func TestE2E_BoltBackedClient(t *testing.T) {
	ctx := context.Background()
	db, err := boltstore.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	authoritative, err := boltstore.NewRanged[key.Name, key.Int64, string](db, "e2e", key.ParseInt64, serde.String{})
	if err != nil {
		t.Fatalf("NewRanged() error = %v", err)
	}

	const partitions, perPartition = 8, 2000
	t.Log("Loading entries...")
	start := time.Now()
	for p := 0; p < partitions; p++ {
		m := ordered.New[key.Int64, string]()
		for i := 0; i < perPartition; i++ {
			k := int64(i * 3)
			m.Put(key.Int64(k), fmt.Sprintf("p%d-%d", p, k))
		}
		if err := authoritative.PutAll(ctx, key.Name(fmt.Sprint(p)), m); err != nil {
			t.Fatalf("PutAll() error = %v", err)
		}
	}
	t.Logf("   Loaded %d entries in %v", partitions*perPartition, time.Since(start))

	client, err := strata.New[key.Name, key.Int64, string](authoritative,
		memstore.NewRanged[key.Name, key.Int64, string](),
		strata.WithConcurrency(4),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	rng := rand.New(rand.NewSource(7))
	var total time.Duration
	const queries = 500
	for i := 0; i < queries; i++ {
		p := key.Name(fmt.Sprint(rng.Intn(partitions)))
		lo := key.Int64(rng.Intn(perPartition * 3))
		hi := lo + key.Int64(rng.Intn(300))

		begin := time.Now()
		got, err := client.ValuesInRange(ctx, p, lo, hi)
		total += time.Since(begin)
		if err != nil {
			t.Fatalf("ValuesInRange() error = %v", err)
		}
		want, err := authoritative.ValuesInRange(ctx, p, lo, hi)
		if err != nil {
			t.Fatalf("direct ValuesInRange() error = %v", err)
		}
		if diff := cmp.Diff(want.Keys(), got.Keys()); diff != "" {
			t.Fatalf("query %d [%d, %d] mismatch (-want +got):\n%s", i, lo, hi, diff)
		}
	}

	t.Logf("Results:")
	t.Logf("   Queries:   %d", queries)
	t.Logf("   Avg time:  %v", total/queries)
	t.Logf("   Peak authoritative concurrency: %d", client.Peak())
}
