package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store"
)

func openDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	opts = append(opts, WithNoSync())
	db, err := Open(filepath.Join(t.TempDir(), "strata.db"), opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newRanged(t *testing.T, db *DB) *Ranged[key.Name, key.Int64, string] {
	t.Helper()
	r, err := NewRanged[key.Name, key.Int64, string](db, "ranged", key.ParseInt64, serde.String{})
	if err != nil {
		t.Fatalf("NewRanged() error = %v", err)
	}
	return r
}

func keysOf[V any](m *ordered.Map[key.Int64, V]) []int64 {
	out := []int64{}
	for _, k := range m.Keys() {
		out = append(out, int64(k))
	}
	return out
}

func TestStore_PointOperations(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := NewStore[key.Name, string](db, "points", serde.String{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if empty, _ := s.IsEmpty(ctx); !empty {
		t.Error("IsEmpty() = false on a new store")
	}
	for _, k := range []key.Name{"b", "a", "c"} {
		if err := s.Put(ctx, k, "v"+string(k)); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}
	got, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || got != "va" {
		t.Errorf("Get(a) = %q, %v, %v, want va", got, ok, err)
	}
	if _, ok, _ := s.Get(ctx, "zz"); ok {
		t.Error("Get(zz) found a value")
	}
	if ok, _ := s.ContainsKey(ctx, "c"); !ok {
		t.Error("ContainsKey(c) = false")
	}

	values, err := s.Values(ctx)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if diff := cmp.Diff([]string{"va", "vb", "vc"}, values); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := s.ContainsKey(ctx, "a"); ok {
		t.Error("ContainsKey(a) = true after Delete")
	}
	if got := s.MaxConcurrency(); got != DefaultMaxReaders {
		t.Errorf("MaxConcurrency() = %d, want %d", got, DefaultMaxReaders)
	}
}

func TestRanged_RangeReads(t *testing.T) {
	ctx := context.Background()
	r := newRanged(t, openDB(t))

	values := ordered.New[key.Int64, string]()
	for _, k := range []int64{-20, -1, 0, 3, 7, 12, 40} {
		values.Put(key.Int64(k), "v")
	}
	if err := r.PutAll(ctx, "p", values); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}
	r.Put(ctx, "other", 5, "x")

	tests := []struct {
		name string
		read func() (*ordered.Map[key.Int64, string], error)
		want []int64
	}{
		{"in range", func() (*ordered.Map[key.Int64, string], error) { return r.ValuesInRange(ctx, "p", -1, 7) }, []int64{-1, 0, 3, 7}},
		{"in range between keys", func() (*ordered.Map[key.Int64, string], error) { return r.ValuesInRange(ctx, "p", 4, 11) }, []int64{7}},
		{"above", func() (*ordered.Map[key.Int64, string], error) { return r.ValuesAbove(ctx, "p", 7) }, []int64{7, 12, 40}},
		{"below", func() (*ordered.Map[key.Int64, string], error) { return r.ValuesBelow(ctx, "p", 0) }, []int64{-20, -1, 0}},
		{"head", func() (*ordered.Map[key.Int64, string], error) { return r.HeadValues(ctx, "p", 2) }, []int64{-20, -1}},
		{"next after key", func() (*ordered.Map[key.Int64, string], error) { return r.NextValues(ctx, "p", 3, 2) }, []int64{7, 12}},
		{"next after gap", func() (*ordered.Map[key.Int64, string], error) { return r.NextValues(ctx, "p", 4, 10) }, []int64{7, 12, 40}},
		{"partition", func() (*ordered.Map[key.Int64, string], error) { return r.Partition(ctx, "p") }, []int64{-20, -1, 0, 3, 7, 12, 40}},
		{"missing partition", func() (*ordered.Map[key.Int64, string], error) { return r.Partition(ctx, "nope") }, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.read()
			if err != nil {
				t.Fatalf("read error = %v", err)
			}
			if diff := cmp.Diff(tt.want, keysOf(got)); diff != "" {
				t.Errorf("keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRanged_PutIfAbsentAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRanged(t, openDB(t))

	stored, err := r.PutIfAbsent(ctx, "p", 1, "first")
	if err != nil || !stored {
		t.Fatalf("PutIfAbsent() = %v, %v, want stored", stored, err)
	}
	stored, err = r.PutIfAbsent(ctx, "p", 1, "second")
	if err != nil || stored {
		t.Fatalf("PutIfAbsent() on existing key = %v, %v, want not stored", stored, err)
	}
	if v, _, _ := r.Get(ctx, "p", 1); v != "first" {
		t.Errorf("Get() = %q, want first", v)
	}

	if empty, _ := r.IsEmpty(ctx); empty {
		t.Error("IsEmpty() = true with a stored key")
	}
	if err := r.Delete(ctx, "p", 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Delete(ctx, "p", 1); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
	if empty, _ := r.IsEmpty(ctx); !empty {
		t.Error("IsEmpty() = false after deleting the only key")
	}
}

func TestRanged_PutIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	r := newRanged(t, openDB(t))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := r.PutIfAbsent(ctx, "p", 9, "v")
			if err != nil {
				t.Errorf("PutIfAbsent() error = %v", err)
				return
			}
			if stored {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("PutIfAbsent stored %d times, want exactly 1", wins)
	}
}

func TestRanged_StringKeys(t *testing.T) {
	ctx := context.Background()
	r, err := NewRanged[key.Name, key.String, []byte](openDB(t), "s", key.ParseString, serde.Bytes{})
	if err != nil {
		t.Fatalf("NewRanged() error = %v", err)
	}
	for _, k := range []string{"m", "a", "ma", "z"} {
		r.Put(ctx, "p", key.NewString(k), []byte(k))
	}
	got, err := r.ValuesInRange(ctx, "p", key.NewString("a"), key.NewString("m"))
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	var keys []string
	for k, v := range got.All() {
		keys = append(keys, k.Value())
		if string(v) != k.Value() {
			t.Errorf("value for %s = %q", k.Value(), v)
		}
	}
	if diff := cmp.Diff([]string{"a", "m"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	above, _ := r.ValuesAbove(ctx, "p", key.NewString("m"))
	if above.Len() != 3 {
		t.Errorf("ValuesAbove(m) returned %d entries, want 3", above.Len())
	}
}

func TestDB_SharedAndClosed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, WithMaxReaders(4))
	points, err := NewStore[key.Name, string](db, "points", serde.String{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	r := newRanged(t, db)
	if got := r.MaxConcurrency(); got != 4 {
		t.Errorf("MaxConcurrency() = %d, want 4", got)
	}

	if err := points.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := points.Put(ctx, "k", "v"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
	// The ranged store still holds the file open.
	if err := r.Put(ctx, "p", 1, "v"); err != nil {
		t.Errorf("Put() on remaining store error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDB_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strata.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r, _ := NewRanged[key.Name, key.Int64, string](db, "ranged", key.ParseInt64, serde.String{})
	r.Put(ctx, "p", 2, "two")
	r.Put(ctx, "q", 1, "one")
	r.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()
	r, _ = NewRanged[key.Name, key.Int64, string](db, "ranged", key.ParseInt64, serde.String{})
	var got []string
	for _, p := range []key.Name{"p", "q"} {
		m, err := r.Partition(ctx, p)
		if err != nil {
			t.Fatalf("Partition() error = %v", err)
		}
		got = append(got, m.Values()...)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"one", "two"}, got); diff != "" {
		t.Errorf("values after reopen mismatch (-want +got):\n%s", diff)
	}
}

func TestDB_DropBucket(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	r := newRanged(t, db)
	if err := r.Put(ctx, "p", 1, "v"); err != nil {
		t.Fatal(err)
	}

	if err := db.DropBucket("ranged"); err != nil {
		t.Fatalf("DropBucket() error = %v", err)
	}
	if err := db.DropBucket("ranged"); err != nil {
		t.Errorf("DropBucket() on missing bucket error = %v", err)
	}

	r = newRanged(t, db)
	empty, err := r.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty() error = %v", err)
	}
	if !empty {
		t.Error("IsEmpty() = false after DropBucket")
	}
}
