package strata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/strata/internal/interval"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/stats"
	"github.com/discochess/strata/internal/store"
	"github.com/discochess/strata/internal/store/memstore"
)

// recordingStore counts range reads and tracks how many run at once.
type recordingStore struct {
	*memstore.Ranged[key.Name, key.Int64, string]
	reads    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	closed   atomic.Bool
}

func newRecording(opts ...memstore.Option) *recordingStore {
	return &recordingStore{Ranged: memstore.NewRanged[key.Name, key.Int64, string](opts...)}
}

func (r *recordingStore) ValuesInRange(ctx context.Context, p key.Name, lo, hi key.Int64) (*ordered.Map[key.Int64, string], error) {
	r.reads.Add(1)
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.Ranged.ValuesInRange(ctx, p, lo, hi)
}

func (r *recordingStore) Close() error {
	r.closed.Store(true)
	return nil
}

func newClient(t *testing.T, auth *recordingStore, opts ...Option) *Client[key.Name, key.Int64, string] {
	t.Helper()
	c, err := New[key.Name, key.Int64, string](auth, memstore.NewRanged[key.Name, key.Int64, string](), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func keysOf(m *ordered.Map[key.Int64, string]) []int64 {
	out := []int64{}
	for _, k := range m.Keys() {
		out = append(out, int64(k))
	}
	return out
}

func TestNew_RequiresStores(t *testing.T) {
	mirror := memstore.NewRanged[key.Name, key.Int64, string]()
	if _, err := New[key.Name, key.Int64, string](nil, mirror); !errors.Is(err, ErrNoStore) {
		t.Errorf("New(nil, mirror) error = %v, want ErrNoStore", err)
	}
	if _, err := New[key.Name, key.Int64, string](mirror, nil); !errors.Is(err, ErrNoStore) {
		t.Errorf("New(store, nil) error = %v, want ErrNoStore", err)
	}
}

func TestClient_RangeReadsAreCached(t *testing.T) {
	ctx := context.Background()
	auth := newRecording()
	c := newClient(t, auth)
	defer c.Close()

	for _, k := range []int64{1, 4, 9, 16, 25} {
		if err := c.Put(ctx, "squares", key.Int64(k), "v"); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	got, err := c.ValuesInRange(ctx, "squares", 0, 10)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 4, 9}, keysOf(got)); diff != "" {
		t.Errorf("ValuesInRange mismatch (-want +got):\n%s", diff)
	}

	got, err = c.ValuesInRange(ctx, "squares", 2, 9)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{4, 9}, keysOf(got)); diff != "" {
		t.Errorf("ValuesInRange mismatch (-want +got):\n%s", diff)
	}
	if n := auth.reads.Load(); n != 1 {
		t.Errorf("authoritative reads = %d, want 1", n)
	}

	want := []interval.Interval[key.Int64]{interval.Closed[key.Int64](0, 10)}
	if diff := cmp.Diff(want, c.Coverage("squares")); diff != "" {
		t.Errorf("Coverage mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_OneSidedReads(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newRecording())
	defer c.Close()
	for _, k := range []int64{-3, 0, 3} {
		c.Put(ctx, "p", key.Int64(k), "v")
	}

	above, err := c.ValuesAbove(ctx, "p", 0)
	if err != nil {
		t.Fatalf("ValuesAbove() error = %v", err)
	}
	if diff := cmp.Diff([]int64{0, 3}, keysOf(above)); diff != "" {
		t.Errorf("ValuesAbove mismatch (-want +got):\n%s", diff)
	}
	below, err := c.ValuesBelow(ctx, "p", -1)
	if err != nil {
		t.Fatalf("ValuesBelow() error = %v", err)
	}
	if diff := cmp.Diff([]int64{-3}, keysOf(below)); diff != "" {
		t.Errorf("ValuesBelow mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_InvalidRange(t *testing.T) {
	c := newClient(t, newRecording())
	defer c.Close()
	if _, err := c.ValuesInRange(context.Background(), "p", 5, 1); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("ValuesInRange(5, 1) error = %v, want ErrInvalidRange", err)
	}
}

func TestClient_ConcurrencyCeiling(t *testing.T) {
	auth := newRecording(memstore.WithMaxConcurrency(3))
	auth.delay = 10 * time.Millisecond
	c := newClient(t, auth, WithConcurrency(8))
	defer c.Close()

	if got := c.MaxConcurrency(); got != 3 {
		t.Fatalf("MaxConcurrency() = %d, want 3", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := key.Name(string(rune('a' + i)))
			if _, err := c.ValuesInRange(context.Background(), p, 0, 100); err != nil {
				t.Errorf("ValuesInRange() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if peak := auth.peak.Load(); peak > 3 {
		t.Errorf("peak concurrent authoritative reads = %d, want <= 3", peak)
	}
	if peak := c.Peak(); peak > 3 {
		t.Errorf("Peak() = %d, want <= 3", peak)
	}
}

func TestClient_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newRecording())
	defer c.Close()
	for _, k := range []int64{1, 2, 3} {
		c.Put(ctx, "p", key.Int64(k), "v")
	}
	c.ValuesInRange(ctx, "p", 1, 3)

	if err := c.Delete(ctx, "p", 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := c.ValuesInRange(ctx, "p", 1, 3)
	if err != nil {
		t.Fatalf("ValuesInRange() error = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, keysOf(got)); diff != "" {
		t.Errorf("ValuesInRange after Delete mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_PutIfAbsentAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newRecording())
	defer c.Close()

	c.ValuesInRange(ctx, "p", 0, 10)
	stored, err := c.PutIfAbsent(ctx, "p", 5, "five")
	if err != nil || !stored {
		t.Fatalf("PutIfAbsent() = %v, %v, want stored", stored, err)
	}
	got, _ := c.ValuesInRange(ctx, "p", 0, 10)
	if got.Len() != 0 {
		t.Errorf("covered range returned %v before invalidation, want the stale empty answer", keysOf(got))
	}
	if err := c.Invalidate(ctx, "p", 5); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	got, _ = c.ValuesInRange(ctx, "p", 0, 10)
	if diff := cmp.Diff([]int64{5}, keysOf(got)); diff != "" {
		t.Errorf("ValuesInRange after Invalidate mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_Stats(t *testing.T) {
	ctx := context.Background()
	mem := stats.NewMemory()
	c := newClient(t, newRecording(), WithStats(mem))
	defer c.Close()

	c.ValuesInRange(ctx, "p", 0, 10)
	c.ValuesInRange(ctx, "p", 0, 5)
	if got := mem.Counter(stats.MetricAuthoritativeFetches); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricAuthoritativeFetches, got)
	}
	if got := mem.Counter(stats.MetricCachedIntervals); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricCachedIntervals, got)
	}
}

func TestClient_Close(t *testing.T) {
	ctx := context.Background()
	auth := newRecording()
	c := newClient(t, auth)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !auth.closed.Load() {
		t.Error("Close() did not close the authoritative store")
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := c.ValuesInRange(ctx, "p", 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("ValuesInRange() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Put(ctx, "p", 0, "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
}

func TestClient_BackendFailure(t *testing.T) {
	ctx := context.Background()
	auth := &failingStore{recordingStore: newRecording()}
	c, err := New[key.Name, key.Int64, string](auth, memstore.NewRanged[key.Name, key.Int64, string]())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	_, err = c.ValuesInRange(ctx, "p", 0, 10)
	if !store.IsBackendFailure(err) {
		t.Errorf("ValuesInRange() error = %v, want backend failure", err)
	}
	if cov := c.Coverage("p"); len(cov) != 0 {
		t.Errorf("Coverage = %v after failure, want empty", cov)
	}
}

type failingStore struct {
	*recordingStore
}

func (f *failingStore) ValuesInRange(ctx context.Context, p key.Name, lo, hi key.Int64) (*ordered.Map[key.Int64, string], error) {
	return nil, store.Wrap("test", "valuesInRange", errors.New("unavailable"))
}

func TestClient_PutIfAbsentVersioned(t *testing.T) {
	type claim = store.Versioned[int]
	c, err := New[key.Name, key.Int64, claim](
		memstore.NewRanged[key.Name, key.Int64, claim](),
		memstore.NewRanged[key.Name, key.Int64, claim](),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	claims := make([]claim, 8)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range claims {
		claims[i] = store.NewVersioned(i)
		wg.Add(1)
		go func(cl claim) {
			defer wg.Done()
			ok, err := c.PutIfAbsent(ctx, "locks", 1, cl)
			if err != nil {
				t.Error(err)
			}
			if ok {
				wins.Add(1)
			}
		}(claims[i])
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d writers won, want 1", got)
	}
	got, ok, err := c.Get(ctx, "locks", 1)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Version != claims[got.Value].Version {
		t.Errorf("stored version %v does not belong to writer %d", got.Version, got.Value)
	}
}
